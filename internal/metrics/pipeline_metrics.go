package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics содержит метрики оформления заказов и сверки платежей.
type PipelineMetrics struct {
	// Счётчики операций
	ordersCreated  *prometheus.CounterVec
	paymentEvents  *prometheus.CounterVec
	stockConflicts *prometheus.CounterVec

	// Гистограмма времени выполнения операций
	operationDuration *prometheus.HistogramVec
}

// NewPipelineMetrics регистрирует метрики в registry по умолчанию.
func NewPipelineMetrics() *PipelineMetrics {
	return NewPipelineMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewPipelineMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewPipelineMetricsWithRegisterer(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PipelineMetrics{
		ordersCreated: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orderpipe_orders_created_total",
			Help: "Order creation attempts by result (created, duplicate or rejection reason)",
		}, []string{"result"}),
		paymentEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orderpipe_payment_events_total",
			Help: "Payment events processed by provider and outcome",
		}, []string{"provider", "outcome"}),
		stockConflicts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orderpipe_stock_conflicts_total",
			Help: "Stock decrements that lost a race for the last units",
		}, []string{"product_id"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "orderpipe_pipeline_duration_seconds",
			Help:    "Duration of pipeline operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
	}
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик попыток создания заказа.
func (m *PipelineMetrics) RecordOrderCreated(result string) {
	m.ordersCreated.WithLabelValues(result).Inc()
}

// RecordPaymentEvent увеличивает счётчик обработанных платёжных событий.
func (m *PipelineMetrics) RecordPaymentEvent(provider, outcome string) {
	m.paymentEvents.WithLabelValues(provider, outcome).Inc()
}

// RecordStockConflict учитывает проигранную гонку за остаток.
func (m *PipelineMetrics) RecordStockConflict(productID int64) {
	m.stockConflicts.WithLabelValues(strconv.FormatInt(productID, 10)).Inc()
}

// ObserveOperation записывает время выполнения операции.
func (m *PipelineMetrics) ObserveOperation(operation string, duration time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
