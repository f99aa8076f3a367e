package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// BillingMetrics интерфейс для метрик биллинга
type BillingMetrics interface {
	IncRenewal(outcome string)
	IncTransition(from, to string)
	IncDebit(currency string)
	IncRollback(currency string)
	IncReminder(kind string)
	ObserveDebitAmount(amount float64, currency string)
	ObserveTickDuration(task string, duration time.Duration)
}

type billingMetrics struct {
	log           *logger.Logger
	renewals      *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	debits        *prometheus.CounterVec
	rollbacks     *prometheus.CounterVec
	reminders     *prometheus.CounterVec
	debitAmounts  *prometheus.HistogramVec
	tickDurations *prometheus.HistogramVec
}

// NewBillingMetrics создает новые метрики биллинга
func NewBillingMetrics(registry *prometheus.Registry, log *logger.Logger) BillingMetrics {
	renewals := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_renewals_total",
			Help: "The total number of renewal attempts by outcome",
		},
		[]string{"outcome"},
	)

	transitions := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_transitions_total",
			Help: "The total number of subscription state transitions",
		},
		[]string{"from", "to"},
	)

	debits := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_wallet_debits_total",
			Help: "The total number of wallet debits",
		},
		[]string{"currency"},
	)

	rollbacks := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_wallet_rollbacks_total",
			Help: "The total number of compensating wallet rollbacks",
		},
		[]string{"currency"},
	)

	reminders := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_reminders_total",
			Help: "The total number of dispatched expiry reminders",
		},
		[]string{"kind"},
	)

	debitAmounts := promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_debit_amount",
			Help:    "Wallet debit amounts distribution",
			Buckets: prometheus.ExponentialBuckets(1, 10, 6), // 1, 10, 100, 1000, 10000, 100000
		},
		[]string{"currency"},
	)

	tickDurations := promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_tick_duration_seconds",
			Help:    "Scheduler tick durations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	return &billingMetrics{
		log:           log,
		renewals:      renewals,
		transitions:   transitions,
		debits:        debits,
		rollbacks:     rollbacks,
		reminders:     reminders,
		debitAmounts:  debitAmounts,
		tickDurations: tickDurations,
	}
}

// IncRenewal увеличивает счетчик попыток продления
func (m *billingMetrics) IncRenewal(outcome string) {
	m.renewals.WithLabelValues(outcome).Inc()
}

// IncTransition увеличивает счетчик переходов состояний
func (m *billingMetrics) IncTransition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

// IncDebit увеличивает счетчик списаний
func (m *billingMetrics) IncDebit(currency string) {
	m.debits.WithLabelValues(currency).Inc()
}

// IncRollback увеличивает счетчик компенсирующих откатов
func (m *billingMetrics) IncRollback(currency string) {
	m.rollbacks.WithLabelValues(currency).Inc()
}

// IncReminder увеличивает счетчик отправленных напоминаний
func (m *billingMetrics) IncReminder(kind string) {
	m.reminders.WithLabelValues(kind).Inc()
}

// ObserveDebitAmount записывает сумму списания
func (m *billingMetrics) ObserveDebitAmount(amount float64, currency string) {
	m.debitAmounts.WithLabelValues(currency).Observe(amount)
}

// ObserveTickDuration записывает длительность тика планировщика
func (m *billingMetrics) ObserveTickDuration(task string, duration time.Duration) {
	m.tickDurations.WithLabelValues(task).Observe(duration.Seconds())
}

// NopMetrics возвращает метрики-заглушку для тестов
func NopMetrics() BillingMetrics {
	return nopMetrics{}
}

type nopMetrics struct{}

func (nopMetrics) IncRenewal(string)                          {}
func (nopMetrics) IncTransition(string, string)               {}
func (nopMetrics) IncDebit(string)                            {}
func (nopMetrics) IncRollback(string)                         {}
func (nopMetrics) IncReminder(string)                         {}
func (nopMetrics) ObserveDebitAmount(float64, string)         {}
func (nopMetrics) ObserveTickDuration(string, time.Duration)  {}
