package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pos/internal/service/reconcile"
)

// Драйверы хранилища заказов.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Драйверы каталога товаров.
const (
	CatalogDriverMemory   = "memory"
	CatalogDriverPostgres = "postgres"
	CatalogDriverRedis    = "redis"
)

// Переменные окружения.
const (
	envHTTPAddr                    = "POS_HTTP_ADDR"
	envMetricsAddr                 = "POS_METRICS_ADDR"
	envAllowedOrigins              = "POS_CORS_ALLOWED_ORIGINS"
	envStorageDriver               = "POS_STORAGE_DRIVER"
	envCatalogDriver               = "POS_CATALOG_DRIVER"
	envCatalogSeedPath             = "POS_CATALOG_SEED"
	envPostgresDSN                 = "POS_POSTGRES_DSN"
	envPostgresAutoMigrate         = "POS_POSTGRES_AUTO_MIGRATE"
	envPostgresMaxOpenConns        = "POS_POSTGRES_MAX_OPEN_CONNS"
	envRedisAddr                   = "POS_REDIS_ADDR"
	envRedisPassword               = "POS_REDIS_PASSWORD"
	envRedisDB                     = "POS_REDIS_DB"
	envRedisKeyPrefix              = "POS_REDIS_KEY_PREFIX"
	envKafkaBrokers                = "POS_KAFKA_BROKERS"
	envKafkaClientID               = "POS_KAFKA_CLIENT_ID"
	envKafkaTopic                  = "POS_KAFKA_TOPIC"
	envKafkaDLQTopic               = "POS_KAFKA_DLQ_TOPIC"
	envOutboxPollInterval          = "POS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "POS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "POS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "POS_OUTBOX_RETRY_DELAY"
	envIdempotencyTTL              = "POS_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "POS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "POS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envOrderCodePrefix             = "POS_ORDER_CODE_PREFIX"
	envDeletePolicy                = "POS_DELETE_POLICY"
	envStockRetryAttempts          = "POS_STOCK_RETRY_ATTEMPTS"
	envOTLPEndpoint                = "POS_OTLP_ENDPOINT"
	envOTLPInsecure                = "POS_OTLP_INSECURE"
	envTraceSampleRatio            = "POS_TRACE_SAMPLE_RATIO"
	envShutdownTimeout             = "POS_SHUTDOWN_TIMEOUT"
	envLogLevel                    = "POS_LOG_LEVEL"
)

// Config — настройки запуска сервиса.
type Config struct {
	HTTPAddr       string
	MetricsAddr    string
	AllowedOrigins []string

	StorageDriver   string
	CatalogDriver   string
	CatalogSeedPath string

	PostgresDSN          string
	PostgresAutoMigrate  bool
	PostgresMaxOpenConns int

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	KafkaBrokers  []string
	KafkaClientID string
	KafkaTopic    string
	KafkaDLQTopic string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	OrderCodePrefix    string
	DeletePolicy       reconcile.DeletePolicy
	StockRetryAttempts int

	OTLPEndpoint     string
	OTLPInsecure     bool
	TraceSampleRatio float64

	ShutdownTimeout time.Duration
	LogLevel        string
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver: StorageDriverMemory,
		CatalogDriver: CatalogDriverMemory,

		PostgresAutoMigrate:  true,
		PostgresMaxOpenConns: 20,

		RedisAddr:      "localhost:6379",
		RedisKeyPrefix: "pos:product:",

		KafkaClientID: "pos-service",
		KafkaTopic:    kafka.TopicOrderEvents,
		KafkaDLQTopic: kafka.TopicDeadLetterQueue,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   200 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		OrderCodePrefix:    reconcile.DefaultCodePrefix,
		DeletePolicy:       reconcile.DeleteKeepStock,
		StockRetryAttempts: reconcile.DefaultRetryConfig().MaxAttempts,

		TraceSampleRatio: 1,

		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
	}
}

// EnvLookup совпадает по сигнатуре с os.LookupEnv.
type EnvLookup func(key string) (string, bool)

// LoadConfigFromEnv накладывает переменные POS_* на DefaultConfig.
// Некорректное значение оставляет значение по умолчанию и попадает в warnings.
func LoadConfigFromEnv(lookup EnvLookup) (Config, []string) {
	cfg := DefaultConfig()
	var warnings []string
	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, raw, err))
	}

	str := func(key string, dst *string, normalize func(string) string) {
		if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
			v := strings.TrimSpace(raw)
			if normalize != nil {
				v = normalize(v)
			}
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
			*dst = splitList(raw)
		}
	}
	boolean := func(key string, dst *bool) {
		if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
			v, err := parseBool(raw)
			if err != nil {
				warn(key, raw, err)
				return
			}
			*dst = v
		}
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
			v, err := parseInt(raw, valid, rule)
			if err != nil {
				warn(key, raw, err)
				return
			}
			*dst = v
		}
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
			v, err := parseDuration(raw, valid, rule)
			if err != nil {
				warn(key, raw, err)
				return
			}
			*dst = v
		}
	}

	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	str(envHTTPAddr, &cfg.HTTPAddr, nil)
	str(envMetricsAddr, &cfg.MetricsAddr, nil)
	list(envAllowedOrigins, &cfg.AllowedOrigins)
	str(envStorageDriver, &cfg.StorageDriver, strings.ToLower)
	str(envCatalogDriver, &cfg.CatalogDriver, strings.ToLower)
	str(envCatalogSeedPath, &cfg.CatalogSeedPath, nil)

	str(envPostgresDSN, &cfg.PostgresDSN, nil)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	integer(envPostgresMaxOpenConns, &cfg.PostgresMaxOpenConns, positive, "must be > 0")

	str(envRedisAddr, &cfg.RedisAddr, nil)
	str(envRedisPassword, &cfg.RedisPassword, nil)
	integer(envRedisDB, &cfg.RedisDB, nonNegative, "must be >= 0")
	str(envRedisKeyPrefix, &cfg.RedisKeyPrefix, nil)

	list(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaClientID, &cfg.KafkaClientID, nil)
	str(envKafkaTopic, &cfg.KafkaTopic, nil)
	str(envKafkaDLQTopic, &cfg.KafkaDLQTopic, nil)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")

	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0")

	str(envOrderCodePrefix, &cfg.OrderCodePrefix, nil)
	if raw, ok := lookup(envDeletePolicy); ok && strings.TrimSpace(raw) != "" {
		policy, err := reconcile.ParseDeletePolicy(raw)
		if err != nil {
			warn(envDeletePolicy, raw, err)
		} else {
			cfg.DeletePolicy = policy
		}
	}
	integer(envStockRetryAttempts, &cfg.StockRetryAttempts, positive, "must be > 0")

	str(envOTLPEndpoint, &cfg.OTLPEndpoint, nil)
	boolean(envOTLPInsecure, &cfg.OTLPInsecure)
	if raw, ok := lookup(envTraceSampleRatio); ok && strings.TrimSpace(raw) != "" {
		ratio, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		switch {
		case err != nil:
			warn(envTraceSampleRatio, raw, err)
		case ratio < 0 || ratio > 1:
			warn(envTraceSampleRatio, raw, fmt.Errorf("must be within [0, 1]"))
		default:
			cfg.TraceSampleRatio = ratio
		}
	}

	duration(envShutdownTimeout, &cfg.ShutdownTimeout, positiveDuration, "must be > 0")
	str(envLogLevel, &cfg.LogLevel, strings.ToLower)

	return cfg, warnings
}

// Validate проверяет согласованность настроек перед запуском.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory, StorageDriverPostgres:
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	switch c.CatalogDriver {
	case CatalogDriverMemory, CatalogDriverPostgres, CatalogDriverRedis:
	default:
		return fmt.Errorf("unsupported catalog driver %q", c.CatalogDriver)
	}
	if c.usesPostgres() && strings.TrimSpace(c.PostgresDSN) == "" {
		return fmt.Errorf("%s is required for postgres storage or catalog", envPostgresDSN)
	}
	if c.CatalogDriver == CatalogDriverRedis && strings.TrimSpace(c.RedisAddr) == "" {
		return fmt.Errorf("%s is required for redis catalog", envRedisAddr)
	}
	if len(c.KafkaBrokers) > 0 && strings.TrimSpace(c.KafkaTopic) == "" {
		return fmt.Errorf("%s must not be empty when kafka is enabled", envKafkaTopic)
	}
	return nil
}

func (c Config) usesPostgres() bool {
	return c.StorageDriver == StorageDriverPostgres || c.CatalogDriver == CatalogDriverPostgres
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q: %w", raw, err)
	}
	if valid != nil && !valid(v) {
		return 0, fmt.Errorf("value %d %s", v, rule)
	}
	return v, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q: %w", raw, err)
	}
	if valid != nil && !valid(v) {
		return 0, fmt.Errorf("value %s %s", v, rule)
	}
	return v, nil
}
