package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppHost   string
	HTTPPort  string
	AppEnv    string
	LogLevel  string
	LogFormat string

	DB struct {
		Driver     string
		Host       string
		Port       string
		User       string
		Password   string
		Database   string
		SSLMode    string
		SQLitePath string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	Queue struct {
		// Backend is "db" or "redis".
		Backend       string
		RedisKey      string
		WorkerEnabled bool
		PollInterval  time.Duration
		BatchSize     int
	}

	// KafkaBrokers / KafkaTopicRouting — если заданы оба, все события маршрутизации дублируются в Kafka.
	KafkaBrokers      []string
	KafkaTopicRouting string

	RabbitMQURL      string
	RabbitMQExchange string

	// AgentWebhookURL — если задан, на каждое уведомление о назначении уходит POST (best-effort).
	AgentWebhookURL string

	Routing struct {
		Timezone             string
		CollaboratorTimeout  time.Duration
		ScheduleCacheTTL     time.Duration
		RulesCacheTTL        time.Duration
		AutoReplyWindow      time.Duration
		RetryUnassignedAfter time.Duration
		MaxRetries           int
		BalancerSeed         uint64
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := &Config{
		AppHost:           getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:          firstEnv("APP_PORT", "HTTP_PORT", "8098"),
		AppEnv:            getEnv("APP_ENV", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
		KafkaBrokers:      ParseList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicRouting: getEnv("KAFKA_TOPIC_ROUTING", "conversation-routing"),
		RabbitMQURL:       getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange:  getEnv("RABBITMQ_EXCHANGE", "conversation-routing"),
		AgentWebhookURL:   getEnv("AGENT_WEBHOOK_URL", ""),
	}
	cfg.DB.Driver = getEnv("DB_DRIVER", "postgres")
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "conversation_router")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.DB.SQLitePath = getEnv("SQLITE_PATH", "conversation_router.db")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")

	cfg.Queue.Backend = getEnv("QUEUE_BACKEND", "db")
	cfg.Queue.RedisKey = getEnv("QUEUE_REDIS_KEY", "routing:deferred")
	cfg.Queue.WorkerEnabled = getBool("WORKER_ENABLED", true)
	cfg.Routing.Timezone = getEnv("BUSINESS_TIMEZONE", "UTC")

	var err error
	if cfg.Redis.DB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.Queue.BatchSize, err = getInt("WORKER_BATCH_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.Queue.PollInterval, err = getDuration("WORKER_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Routing.CollaboratorTimeout, err = getDuration("COLLABORATOR_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.Routing.ScheduleCacheTTL, err = getDuration("SCHEDULE_CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Routing.RulesCacheTTL, err = getDuration("RULES_CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Routing.AutoReplyWindow, err = getDuration("AUTO_REPLY_WINDOW", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Routing.RetryUnassignedAfter, err = getDuration("RETRY_UNASSIGNED_AFTER", 0); err != nil {
		return nil, err
	}
	if cfg.Routing.MaxRetries, err = getInt("MAX_ROUTING_RETRIES", 5); err != nil {
		return nil, err
	}
	seed, err := getInt("BALANCER_SEED", 0)
	if err != nil {
		return nil, err
	}
	cfg.Routing.BalancerSeed = uint64(seed)
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "postgres":
		if c.DB.Host == "" || c.DB.Database == "" {
			return errors.New("config: DB_HOST and DB_DATABASE are required")
		}
		if c.AppEnv == "production" && c.DB.Password == "" {
			return errors.New("config: in production DB_PASSWORD is required")
		}
	case "sqlite":
		if c.DB.SQLitePath == "" {
			return errors.New("config: SQLITE_PATH is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.DB.Driver)
	}
	switch c.Queue.Backend {
	case "db":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("config: REDIS_ADDR is required for the redis queue backend")
		}
	default:
		return fmt.Errorf("config: unsupported QUEUE_BACKEND %q", c.Queue.Backend)
	}
	if _, err := time.LoadLocation(c.Routing.Timezone); err != nil {
		return fmt.Errorf("config: BUSINESS_TIMEZONE: %w", err)
	}
	if c.Queue.BatchSize <= 0 {
		return errors.New("config: WORKER_BATCH_SIZE must be positive")
	}
	if c.Queue.PollInterval <= 0 {
		return errors.New("config: WORKER_INTERVAL must be positive")
	}
	return nil
}

// Location возвращает часовой пояс рабочих часов. Вызывать после Validate.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Routing.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

// ParseList разбивает строку "host1:9092,host2:9092" на непустые части.
func ParseList(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	for _, k := range keysAndDef[:len(keysAndDef)-1] {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
