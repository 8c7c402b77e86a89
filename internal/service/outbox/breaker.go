package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

// ErrPublisherUnavailable — брокер временно отключён circuit breaker'ом.
var ErrPublisherUnavailable = errors.New("outbox publisher is unavailable")

// BreakerSettings — параметры circuit breaker вокруг publisher.
type BreakerSettings struct {
	// ConsecutiveFailures — число подряд неудачных публикаций до размыкания.
	ConsecutiveFailures uint32
	// OpenTimeout — сколько breaker остаётся открытым до пробного запроса.
	OpenTimeout time.Duration
	// HalfOpenRequests — число пробных запросов в полуоткрытом состоянии.
	HalfOpenRequests uint32
}

// DefaultBreakerSettings возвращает параметры по умолчанию.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// BreakerPublisher защищает publisher circuit breaker'ом, чтобы не долбить недоступный брокер.
type BreakerPublisher struct {
	next    domain.OutboxPublisher
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerPublisher оборачивает publisher.
func NewBreakerPublisher(name string, next domain.OutboxPublisher, settings BreakerSettings, logger *log.Entry) *BreakerPublisher {
	defaults := DefaultBreakerSettings()
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = defaults.ConsecutiveFailures
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = defaults.OpenTimeout
	}
	if settings.HalfOpenRequests == 0 {
		settings.HalfOpenRequests = defaults.HalfOpenRequests
	}
	if logger == nil {
		logger = log.WithField("component", "outbox-breaker")
	}

	threshold := settings.ConsecutiveFailures
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.HalfOpenRequests,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("outbox publisher circuit breaker state changed")
		},
		// отмена контекста не говорит о здоровье брокера
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &BreakerPublisher{next: next, breaker: breaker}
}

// Publish реализует domain.OutboxPublisher.
func (p *BreakerPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.next.Publish(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrPublisherUnavailable, err)
	}
	return err
}

// State возвращает текущее состояние breaker ("closed", "half-open", "open").
func (p *BreakerPublisher) State() string {
	return p.breaker.State().String()
}

var _ domain.OutboxPublisher = (*BreakerPublisher)(nil)
