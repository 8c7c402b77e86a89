package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

const (
	defaultSweepInterval  = 10 * time.Minute
	defaultSweepBatchSize = 500
)

var (
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderpipe_idempotency_sweep_runs_total",
		Help: "Idempotency sweeps grouped by result (ok, partial, error).",
	}, []string{"result"})
	sweepDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderpipe_idempotency_sweep_deleted_total",
		Help: "Expired idempotency records removed across all namespaces.",
	})
	sweepLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orderpipe_idempotency_sweep_last_deleted",
		Help: "Records removed by the last sweep.",
	})
)

// ExpiredDeleter удаляет записи с истёкшим TTL порциями, независимо от пространства имён и статуса.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// SweepResult — итог одного прохода очистки.
type SweepResult struct {
	Before  time.Time
	Deleted int
	Batches int
}

// CleanupWorker периодически удаляет просроченные ключи заказов и платёжных событий.
// После удаления ключа повтор запроса обрабатывается заново: платёж защищён уникальностью транзакции шлюза.
type CleanupWorker struct {
	repo      ExpiredDeleter
	now       domain.Clock
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

// WithCleanupLogger задаёт logger.
func WithCleanupLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithCleanupInterval задаёт паузу между проходами.
func WithCleanupInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithCleanupBatchSize задаёт размер одной порции удаления.
func WithCleanupBatchSize(size int) CleanupOption {
	return func(w *CleanupWorker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithCleanupClock подменяет часы; граница TTL берётся из них.
func WithCleanupClock(now domain.Clock) CleanupOption {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// NewCleanupWorker создаёт воркер очистки.
func NewCleanupWorker(repo ExpiredDeleter, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:      repo,
		now:       domain.SystemClock,
		logger:    log.WithField("component", "idempotency-cleanup"),
		interval:  defaultSweepInterval,
		batchSize: defaultSweepBatchSize,
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run выполняет проход сразу и затем каждые interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup disabled: no repository")
		return
	}

	w.runSweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runSweep(ctx)
		}
	}
}

func (w *CleanupWorker) runSweep(ctx context.Context) {
	result, err := w.Sweep(ctx)
	sweepLastDeleted.Set(float64(result.Deleted))

	entry := w.logger.WithFields(log.Fields{
		"deleted": result.Deleted,
		"batches": result.Batches,
	})
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		sweepRunsTotal.WithLabelValues("partial").Inc()
		entry.Debug("idempotency sweep interrupted")
	case err != nil:
		sweepRunsTotal.WithLabelValues("error").Inc()
		entry.WithError(err).Warn("idempotency sweep failed")
	default:
		sweepRunsTotal.WithLabelValues("ok").Inc()
		if result.Deleted > 0 {
			entry.Info("expired idempotency keys removed")
		}
	}
}

// Sweep удаляет все записи с TTL не позже текущего момента часов.
// Граница фиксируется в начале прохода; при отмене ctx возвращается уже удалённое количество.
func (w *CleanupWorker) Sweep(ctx context.Context) (SweepResult, error) {
	result := SweepResult{Before: w.now()}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		deleted, err := w.repo.DeleteExpired(ctx, result.Before, w.batchSize)
		if err != nil {
			return result, fmt.Errorf("sweep batch %d: %w", result.Batches+1, err)
		}
		result.Batches++
		result.Deleted += deleted
		sweepDeletedTotal.Add(float64(deleted))

		// неполная порция означает, что просроченных записей больше нет
		if deleted < w.batchSize {
			return result, nil
		}
	}
}
