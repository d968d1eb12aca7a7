package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/psds-microservice/conversation-router/internal/application"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the HTTP ingress and run the deferred-queue worker",
	RunE:  runAPI,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the deferred-queue worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(application.ModeWorker)
	},
}

func runAPI(cmd *cobra.Command, args []string) error {
	return run(application.ModeAPI)
}

func run(mode application.Mode) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := application.New(ctx, cfg, mode, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return err
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		log.Error("service stopped with error", zap.Error(err))
		return err
	}
	log.Info("service stopped")
	return nil
}
