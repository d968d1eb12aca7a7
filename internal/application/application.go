package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/psds-microservice/conversation-router/internal/autoreply"
	"github.com/psds-microservice/conversation-router/internal/config"
	"github.com/psds-microservice/conversation-router/internal/database"
	"github.com/psds-microservice/conversation-router/internal/events"
	"github.com/psds-microservice/conversation-router/internal/handler"
	"github.com/psds-microservice/conversation-router/internal/hours"
	"github.com/psds-microservice/conversation-router/internal/kafka"
	"github.com/psds-microservice/conversation-router/internal/metrics"
	"github.com/psds-microservice/conversation-router/internal/notify"
	"github.com/psds-microservice/conversation-router/internal/queue"
	"github.com/psds-microservice/conversation-router/internal/rabbitmq"
	"github.com/psds-microservice/conversation-router/internal/router"
	"github.com/psds-microservice/conversation-router/internal/routing"
	"github.com/psds-microservice/conversation-router/internal/rules"
	"github.com/psds-microservice/conversation-router/internal/service"
	"github.com/psds-microservice/conversation-router/internal/workload"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	rabbitDialAttempts = 5
	rabbitDialDelay    = time.Second
	shutdownTimeout    = 10 * time.Second
)

type Mode int

const (
	// ModeAPI serves HTTP and, when enabled, runs the queue worker.
	ModeAPI Mode = iota
	// ModeWorker only runs the queue worker.
	ModeWorker
)

// App — собранный сервис маршрутизации.
type App struct {
	cfg    *config.Config
	mode   Mode
	logger *zap.Logger

	db     *gorm.DB
	redis  *redis.Client
	kafka  *kafka.Producer
	rabbit *rabbitmq.Publisher

	Bus          *events.Bus
	Orchestrator *routing.Orchestrator
	worker       *queue.Worker
	httpSrv      *http.Server
}

func New(ctx context.Context, cfg *config.Config, mode Mode, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.DB.Driver == "postgres" {
		if err := database.MigrateUp(cfg.DatabaseURL(), logger); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	db, err := database.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, mode: mode, logger: logger, db: db}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	timeout := cfg.Routing.CollaboratorTimeout
	store := service.NewStore(a.db)

	var queueStore queue.Store
	switch cfg.Queue.Backend {
	case "redis":
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		queueStore = queue.NewRedisStore(a.redis, cfg.Queue.RedisKey)
	default:
		queueStore = service.NewQueueStore(a.db)
	}

	a.Bus = events.NewBus(logger.Named("bus"))

	evaluator := hours.NewEvaluator(store, cfg.Location(), cfg.Routing.ScheduleCacheTTL, timeout, logger.Named("hours"))
	scheduler := queue.NewScheduler(queueStore, evaluator, cfg.Routing.RetryUnassignedAfter, cfg.Routing.MaxRetries, timeout, nil, logger.Named("queue"))

	var src rand.Source
	if seed := cfg.Routing.BalancerSeed; seed != 0 {
		src = rand.NewPCG(seed, seed)
	}
	balancer := workload.NewBalancer(store, src, timeout, logger.Named("workload"))
	dispatcher := notify.NewDispatcher(store, notify.NewWebhookClient(cfg.AgentWebhookURL, logger.Named("webhook")), timeout, nil, logger.Named("notify"))
	engine := rules.NewEngine(rules.Deps{
		Rules:    store,
		Messages: store,
		Assigner: store,
		Balancer: balancer,
		Notifier: dispatcher,
	}, cfg.Routing.RulesCacheTTL, timeout, logger.Named("rules"))

	a.Orchestrator = routing.NewOrchestrator(routing.Deps{
		Store:     store,
		Hours:     evaluator,
		Guard:     autoreply.NewGuard(store, cfg.Routing.AutoReplyWindow, timeout, nil, logger.Named("autoreply")),
		Scheduler: scheduler,
		Assigner:  engine,
		Metrics:   metrics.NewAggregator(store, cfg.Location(), timeout, logger.Named("metrics")),
		Publisher: a.Bus,
	}, timeout, nil, logger.Named("routing"))
	a.Orchestrator.Register(a.Bus)

	a.kafka = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicRouting, logger.Named("kafka"))
	if a.kafka.Enabled() {
		events.Forward(a.Bus, a.kafka, timeout)
	}
	if cfg.RabbitMQURL != "" {
		pub, err := rabbitmq.Dial(ctx, cfg.RabbitMQURL, cfg.RabbitMQExchange, rabbitDialAttempts, rabbitDialDelay, logger.Named("rabbitmq"))
		if err != nil {
			return err
		}
		a.rabbit = pub
		events.Forward(a.Bus, pub, timeout)
	}

	if a.mode == ModeWorker || cfg.Queue.WorkerEnabled {
		a.worker = queue.NewWorker(queueStore, a.Bus, cfg.Queue.PollInterval, cfg.Queue.BatchSize, nil, logger.Named("worker"))
	}

	if a.mode == ModeAPI {
		handlers := router.Handlers{
			Health:  handler.NewHealthHandler(store),
			Events:  handler.NewEventHandler(a.Bus, logger.Named("http")),
			Routing: handler.NewRoutingHandler(evaluator, store, queueStore),
		}
		a.httpSrv = &http.Server{
			Addr:              cfg.Addr(),
			Handler:           router.New(handlers, logger.Named("http")),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}
	return nil
}

// Run запускает HTTP-сервер и воркер, блокируется до отмены ctx или ошибки сервера.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.httpSrv != nil {
		g.Go(func() error {
			a.logger.Info("HTTP server listening", zap.String("addr", a.httpSrv.Addr))
			if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http shutdown: %w", err)
			}
			return nil
		})
	}
	if a.worker != nil {
		g.Go(func() error { return a.worker.Run(gctx) })
	}
	return g.Wait()
}

func (a *App) Close() {
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Warn("kafka close", zap.Error(err))
		}
	}
	if a.rabbit != nil {
		if err := a.rabbit.Close(); err != nil {
			a.logger.Warn("rabbitmq close", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.logger.Warn("database close", zap.Error(err))
		}
	}
}
