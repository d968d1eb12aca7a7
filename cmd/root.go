package cmd

import (
	"fmt"

	"github.com/psds-microservice/conversation-router/internal/config"
	"github.com/psds-microservice/conversation-router/internal/handler"
	"github.com/psds-microservice/conversation-router/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "conversation-router",
	Short: "Conversation routing: business hours, auto-replies, assignment and resolution metrics",
	RunE:  runAPI,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, handler.ServiceName)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, log, nil
}
