package app

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orderpipe/internal/service/checkout"
	"github.com/vladislavdragonenkov/orderpipe/internal/service/payment"
	"github.com/vladislavdragonenkov/orderpipe/internal/service/pipeline"
)

const (
	// StorageDriverMemory — хранилище в памяти процесса (разработка, тесты).
	StorageDriverMemory = "memory"
	// StorageDriverPostgres — PostgreSQL.
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// KafkaBrokers — список брокеров через запятую; пусто — без Kafka.
	KafkaBrokers  string
	KafkaGroupID  string
	RedisAddr     string
	RedisPassword string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	// WebhookSecrets — секреты подписи вебхуков в виде provider=secret,provider=secret.
	WebhookSecrets string
	Currency       string

	// TaxBasisPoints — ставка налога с позиции в базисных пунктах (2000 = 20%).
	TaxBasisPoints int64
	// ShippingRates и PaymentFees — суммы в минорных единицах в виде method=amount,method=amount.
	ShippingRates string
	PaymentFees   string
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                    ":50051",
		HTTPAddr:                    ":8080",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		KafkaGroupID:                "orderpipe-payments",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		Currency:                    pipeline.DefaultCurrency,
	}
}

// KafkaBrokerList разбирает KafkaBrokers.
func (c Config) KafkaBrokerList() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// ParseWebhookSecrets разбирает строку provider=secret,... в карту.
// Имена провайдеров приводятся к нижнему регистру.
func ParseWebhookSecrets(raw string) (map[string]string, error) {
	secrets := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		provider, secret, ok := strings.Cut(pair, "=")
		provider = strings.ToLower(strings.TrimSpace(provider))
		secret = strings.TrimSpace(secret)
		if !ok || provider == "" || secret == "" {
			return nil, fmt.Errorf("invalid webhook secret entry %q: want provider=secret", pair)
		}
		if _, dup := secrets[provider]; dup {
			return nil, fmt.Errorf("duplicate webhook secret for provider %q", provider)
		}
		secrets[provider] = secret
	}
	return secrets, nil
}

// ParseMethodAmounts разбирает строку method=amount,... в карту сумм по способу.
func ParseMethodAmounts(raw string) (map[string]int64, error) {
	amounts := make(map[string]int64)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		method, value, ok := strings.Cut(pair, "=")
		method = strings.ToLower(strings.TrimSpace(method))
		if !ok || method == "" {
			return nil, fmt.Errorf("invalid amount entry %q: want method=amount", pair)
		}
		amount, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || amount < 0 {
			return nil, fmt.Errorf("invalid amount for %q: want non-negative integer in minor units", method)
		}
		if _, dup := amounts[method]; dup {
			return nil, fmt.Errorf("duplicate amount for %q", method)
		}
		amounts[method] = amount
	}
	return amounts, nil
}

// Pricing собирает правила ценообразования оформления заказа.
func (c Config) Pricing() (checkout.Pricing, error) {
	if c.TaxBasisPoints < 0 {
		return checkout.Pricing{}, fmt.Errorf("tax basis points must be >= 0, got %d", c.TaxBasisPoints)
	}
	shipping, err := ParseMethodAmounts(c.ShippingRates)
	if err != nil {
		return checkout.Pricing{}, fmt.Errorf("shipping rates: %w", err)
	}
	fees, err := ParseMethodAmounts(c.PaymentFees)
	if err != nil {
		return checkout.Pricing{}, fmt.Errorf("payment fees: %w", err)
	}
	return checkout.Pricing{
		Discount:   checkout.NoDiscount,
		Tax:        checkout.FlatRateTax(c.TaxBasisPoints),
		Shipping:   checkout.FlatShipping(shipping),
		PaymentFee: checkout.FixedPaymentFee(fees),
	}, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case "", StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres storage driver requires dsn")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	if _, err := ParseWebhookSecrets(c.WebhookSecrets); err != nil {
		return err
	}
	if _, err := c.Pricing(); err != nil {
		return err
	}
	return nil
}

// webhookProviders возвращает провайдеров из WebhookSecrets в стабильном порядке.
func webhookProviders(secrets map[string]string) []string {
	providers := make([]string, 0, len(secrets))
	for provider := range secrets {
		providers = append(providers, provider)
	}
	sort.Strings(providers)
	return providers
}

func isStripe(provider string) bool {
	return provider == payment.ProviderStripe
}
