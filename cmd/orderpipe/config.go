package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderpipe/internal/app"
)

const (
	envGRPCAddr                    = "ORDERPIPE_GRPC_ADDR"
	envHTTPAddr                    = "ORDERPIPE_HTTP_ADDR"
	envMetricsAddr                 = "ORDERPIPE_METRICS_ADDR"
	envStorageDriver               = "ORDERPIPE_STORAGE_DRIVER"
	envPostgresDSN                 = "ORDERPIPE_POSTGRES_DSN"
	envPostgresAutoMigrate         = "ORDERPIPE_POSTGRES_AUTO_MIGRATE"
	envKafkaBrokers                = "ORDERPIPE_KAFKA_BROKERS"
	envKafkaGroupID                = "ORDERPIPE_KAFKA_GROUP_ID"
	envRedisAddr                   = "ORDERPIPE_REDIS_ADDR"
	envRedisPassword               = "ORDERPIPE_REDIS_PASSWORD"
	envOutboxPollInterval          = "ORDERPIPE_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "ORDERPIPE_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "ORDERPIPE_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "ORDERPIPE_OUTBOX_RETRY_DELAY"
	envIdempotencyTTL              = "ORDERPIPE_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "ORDERPIPE_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "ORDERPIPE_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envWebhookSecrets              = "ORDERPIPE_WEBHOOK_SECRETS"
	envCurrency                    = "ORDERPIPE_CURRENCY"
	envTaxBasisPoints              = "ORDERPIPE_TAX_BASIS_POINTS"
	envShippingRates               = "ORDERPIPE_SHIPPING_RATES"
	envPaymentFees                 = "ORDERPIPE_PAYMENT_FEES"
	envLogLevel                    = "ORDERPIPE_LOG_LEVEL"
)

type envLookup func(string) (string, bool)

func positiveInt(v int) bool { return v > 0 }

func positiveDuration(v time.Duration) bool { return v > 0 }

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не роняют запуск: остаётся значение по умолчанию и возвращается предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("invalid %s=%q: %v, using default", key, raw, err))
	}

	str := func(key string, target *string, normalize func(string) string) {
		if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
			*target = normalize(raw)
		}
	}
	integer := func(key string, target *int) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		value, err := parseInt(raw, positiveInt, "must be > 0")
		if err != nil {
			warn(key, raw, err)
			return
		}
		*target = value
	}
	duration := func(key string, target *time.Duration, valid func(time.Duration) bool, rule string) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		value, err := parseDuration(raw, valid, rule)
		if err != nil {
			warn(key, raw, err)
			return
		}
		*target = value
	}

	str(envGRPCAddr, &cfg.GRPCAddr, strings.TrimSpace)
	str(envHTTPAddr, &cfg.HTTPAddr, strings.TrimSpace)
	str(envMetricsAddr, &cfg.MetricsAddr, strings.TrimSpace)
	str(envStorageDriver, &cfg.StorageDriver, func(v string) string { return strings.ToLower(strings.TrimSpace(v)) })
	str(envPostgresDSN, &cfg.PostgresDSN, strings.TrimSpace)
	str(envKafkaBrokers, &cfg.KafkaBrokers, strings.TrimSpace)
	str(envKafkaGroupID, &cfg.KafkaGroupID, strings.TrimSpace)
	str(envRedisAddr, &cfg.RedisAddr, strings.TrimSpace)
	str(envRedisPassword, &cfg.RedisPassword, func(v string) string { return v })
	str(envWebhookSecrets, &cfg.WebhookSecrets, strings.TrimSpace)
	str(envCurrency, &cfg.Currency, func(v string) string { return strings.ToUpper(strings.TrimSpace(v)) })

	if raw, ok := lookup(envPostgresAutoMigrate); ok && strings.TrimSpace(raw) != "" {
		if value, err := parseBool(raw); err != nil {
			warn(envPostgresAutoMigrate, raw, err)
		} else {
			cfg.PostgresAutoMigrate = value
		}
	}

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize)
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, func(v time.Duration) bool { return v >= 0 }, "must be >= 0")
	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)

	if raw, ok := lookup(envTaxBasisPoints); ok && strings.TrimSpace(raw) != "" {
		if value, err := parseInt(raw, func(v int) bool { return v >= 0 }, "must be >= 0"); err != nil {
			warn(envTaxBasisPoints, raw, err)
		} else {
			cfg.TaxBasisPoints = int64(value)
		}
	}
	amounts := func(key string, target *string) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		if _, err := app.ParseMethodAmounts(raw); err != nil {
			warn(key, raw, err)
			return
		}
		*target = strings.TrimSpace(raw)
	}
	amounts(envShippingRates, &cfg.ShippingRates)
	amounts(envPaymentFees, &cfg.PaymentFees)

	return cfg, warnings
}

// readLogLevel возвращает уровень логирования; по умолчанию info.
func readLogLevel(lookup envLookup) (log.Level, error) {
	raw, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(raw) == "" {
		return log.InfoLevel, nil
	}
	return log.ParseLevel(strings.TrimSpace(raw))
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean")
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(value) {
		return 0, fmt.Errorf("%s", rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(value) {
		return 0, fmt.Errorf("%s", rule)
	}
	return value, nil
}
