package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orderpipe/internal/health"
	"github.com/vladislavdragonenkov/orderpipe/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderpipe/internal/metrics"
	"github.com/vladislavdragonenkov/orderpipe/internal/service/checkout"
	"github.com/vladislavdragonenkov/orderpipe/internal/service/idempotency"
	"github.com/vladislavdragonenkov/orderpipe/internal/service/outbox"
	"github.com/vladislavdragonenkov/orderpipe/internal/service/payment"
	"github.com/vladislavdragonenkov/orderpipe/internal/service/payment/signature"
	"github.com/vladislavdragonenkov/orderpipe/internal/service/pipeline"
	"github.com/vladislavdragonenkov/orderpipe/internal/storage/redisstore"
	"github.com/vladislavdragonenkov/orderpipe/internal/version"
)

// Dependencies — собранный граф компонентов приложения.
// Producer, OutboxWorker и PaymentConsumer равны nil, если Kafka не настроена.
type Dependencies struct {
	Pipeline        *pipeline.Pipeline
	Metrics         *metrics.PipelineMetrics
	Health          *healthcheck.Handler
	CleanupWorker   *idempotency.CleanupWorker
	Producer        *kafka.Producer
	OutboxWorker    *outbox.Worker
	PaymentConsumer *kafka.Consumer
	Logger          *log.Entry

	store   storageBackend
	closers []func()
}

// NewDependencies собирает зависимости по конфигурации.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runtime, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{
		Metrics: metrics.NewPipelineMetrics(),
		Health:  healthcheck.NewHandler(version.GetVersion()),
		Logger:  logger,
		store:   runtime.store,
	}
	deps.addCloser(func() {
		if err := runtime.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	})
	deps.Health.RegisterChecker("storage", runtime.storageChecker)

	nonces := deps.initNonceStore(cfg)
	verifiers, adapters, err := buildWebhookVerifiers(cfg.WebhookSecrets, nonces)
	if err != nil {
		deps.Close()
		return nil, err
	}
	logger.WithField("providers", verifiers.Providers()).Info("webhook verifiers configured")

	pricing, err := cfg.Pricing()
	if err != nil {
		deps.Close()
		return nil, err
	}
	assembler := checkout.NewAssembler(
		checkout.WithPricing(pricing),
		checkout.WithLogger(logger.WithField("component", "checkout-assembler")),
	)
	logger.WithFields(log.Fields{
		"tax_basis_points": cfg.TaxBasisPoints,
		"shipping_rates":   cfg.ShippingRates,
		"payment_fees":     cfg.PaymentFees,
	}).Info("checkout pricing configured")

	idem := idempotency.NewStore(
		idempotency.WithTTL(cfg.IdempotencyTTL),
		idempotency.WithStoreLogger(logger.WithField("component", "idempotency")),
	)
	deps.Pipeline = pipeline.New(runtime.store,
		pipeline.WithVerifier(verifiers),
		pipeline.WithAdapters(adapters),
		pipeline.WithIdempotencyStore(idem),
		pipeline.WithAssembler(assembler),
		pipeline.WithCurrency(cfg.Currency),
		pipeline.WithMetrics(deps.Metrics),
		pipeline.WithLogger(logger.WithField("component", "order-pipeline")),
	)

	deps.CleanupWorker = idempotency.NewCleanupWorker(runtime.store.Idempotency(),
		idempotency.WithCleanupLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithCleanupInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithCleanupBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	deps.initKafka(cfg)
	return deps, nil
}

// initNonceStore выбирает хранилище nonce: Redis, если задан адрес, иначе память процесса.
func (d *Dependencies) initNonceStore(cfg Config) signature.NonceStore {
	if cfg.RedisAddr == "" {
		return signature.NewMemoryNonceStore()
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	store := redisstore.NewNonceStore(client)
	d.Health.RegisterChecker("redis", healthcheck.NewPingChecker("redis", store.Ping, healthcheck.Optional()))
	d.addCloser(func() {
		if err := client.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close redis client")
		}
	})
	d.Logger.WithField("addr", cfg.RedisAddr).Info("webhook nonces stored in redis")
	return store
}

// initKafka поднимает публикацию outbox и чтение платёжных событий.
// Недоступная Kafka не мешает запуску: заказы копятся в outbox.
func (d *Dependencies) initKafka(cfg Config) {
	producer, err := initKafkaProducer(cfg.KafkaBrokerList(), d.Logger)
	if err != nil {
		d.Logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return
	}
	if producer == nil {
		d.Logger.Info("kafka is not configured, outbox messages stay pending")
		return
	}
	d.Producer = producer
	d.addCloser(func() { closeKafkaProducer(producer, d.Logger) })

	publisher := outbox.NewBreakerPublisher("kafka-outbox",
		kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
		outbox.DefaultBreakerSettings(),
		d.Logger.WithField("component", "outbox-breaker"),
	)
	d.OutboxWorker = outbox.NewWorker(d.store.Outbox(), publisher,
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		outbox.WithLogger(d.Logger.WithField("component", "outbox-worker")),
	)

	apply := func(ctx context.Context, event domain.NormalizedEvent) error {
		_, err := d.Pipeline.ApplyNormalizedEvent(ctx, event)
		return err
	}
	consumer, err := initPaymentConsumer(cfg, apply, producer, d.Logger)
	if err != nil {
		d.Logger.WithError(err).Warn("payment events from kafka are disabled")
		return
	}
	d.PaymentConsumer = consumer
}

// Close освобождает ресурсы в обратном порядке создания.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

func (d *Dependencies) addCloser(fn func()) {
	d.closers = append(d.closers, fn)
}

// buildWebhookVerifiers строит проверку подписей и адаптеры по секретам провайдеров.
// Stripe проверяется библиотекой stripe-go, остальные — HMAC с учётом повторных доставок.
func buildWebhookVerifiers(rawSecrets string, nonces signature.NonceStore) (*signature.Registry, payment.Adapters, error) {
	secrets, err := ParseWebhookSecrets(rawSecrets)
	if err != nil {
		return nil, nil, fmt.Errorf("webhook secrets: %w", err)
	}

	registry := signature.NewRegistry()
	adapters := []domain.PaymentAdapter{payment.NewGenericAdapter(payment.ProviderGeneric), payment.NewStripeAdapter()}
	for _, provider := range webhookProviders(secrets) {
		secret := secrets[provider]
		if isStripe(provider) {
			registry.Register(provider, signature.NewStripeVerifier(secret))
			continue
		}
		registry.Register(provider, signature.NewHMACVerifier(provider, secret, nonces))
		if provider != payment.ProviderGeneric {
			adapters = append(adapters, payment.NewGenericAdapter(provider))
		}
	}
	return registry, payment.NewAdapters(adapters...), nil
}
