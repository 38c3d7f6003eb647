package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics groups the collectors the ledger-service exports on /metrics.
type LedgerMetrics struct {
	commissionsCreated  *prometheus.CounterVec
	commissionsSkipped  *prometheus.CounterVec
	commissionAmount    *prometheus.CounterVec
	commissionsSettled  *prometheus.CounterVec
	withdrawals         *prometheus.CounterVec
	referrals           *prometheus.CounterVec
	consumerMessages    *prometheus.CounterVec
	fanoutDuration      prometheus.Histogram
	notificationFailure *prometheus.CounterVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the process-wide metrics registry, registering it on first use.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			commissionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_commissions_created_total",
				Help: "Commission entries written, by cause and initial status.",
			}, []string{"cause", "status"}),
			commissionsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_commissions_skipped_total",
				Help: "Commission inserts skipped because the idempotency key already existed.",
			}, []string{"cause"}),
			commissionAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_commission_amount_fils_total",
				Help: "Sum of newly created commission amounts in fils, by cause.",
			}, []string{"cause"}),
			commissionsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_commissions_settled_total",
				Help: "Pending commission entries settled, by resulting status.",
			}, []string{"status"}),
			withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_withdrawals_total",
				Help: "Withdrawal state changes, by resulting status.",
			}, []string{"status"}),
			referrals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_referral_registrations_total",
				Help: "Referral registration attempts, by outcome.",
			}, []string{"outcome"}),
			consumerMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_consumer_messages_total",
				Help: "Inbound broker messages, by routing key and outcome.",
			}, []string{"routing_key", "outcome"}),
			fanoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "ledger_fanout_duration_seconds",
				Help:    "Time spent fanning out one completed order.",
				Buckets: prometheus.DefBuckets,
			}),
			notificationFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_notification_failures_total",
				Help: "Ledger events that could not be published, by routing key.",
			}, []string{"routing_key"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.commissionsCreated,
			ledgerRegistry.commissionsSkipped,
			ledgerRegistry.commissionAmount,
			ledgerRegistry.commissionsSettled,
			ledgerRegistry.withdrawals,
			ledgerRegistry.referrals,
			ledgerRegistry.consumerMessages,
			ledgerRegistry.fanoutDuration,
			ledgerRegistry.notificationFailure,
		)
	})
	return ledgerRegistry
}

func (m *LedgerMetrics) ObserveCommissionCreated(cause, status string, amount int64) {
	if m == nil {
		return
	}
	m.commissionsCreated.WithLabelValues(cause, status).Inc()
	if amount > 0 {
		m.commissionAmount.WithLabelValues(cause).Add(float64(amount))
	}
}

func (m *LedgerMetrics) ObserveCommissionSkipped(cause string) {
	if m == nil {
		return
	}
	m.commissionsSkipped.WithLabelValues(cause).Inc()
}

func (m *LedgerMetrics) ObserveCommissionSettled(status string) {
	if m == nil {
		return
	}
	m.commissionsSettled.WithLabelValues(status).Inc()
}

func (m *LedgerMetrics) ObserveWithdrawal(status string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(status).Inc()
}

func (m *LedgerMetrics) ObserveReferral(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.referrals.WithLabelValues(outcome).Inc()
}

func (m *LedgerMetrics) ObserveConsumerMessage(routingKey, outcome string) {
	if m == nil {
		return
	}
	m.consumerMessages.WithLabelValues(routingKey, outcome).Inc()
}

func (m *LedgerMetrics) ObserveFanoutDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.fanoutDuration.Observe(d.Seconds())
}

func (m *LedgerMetrics) ObserveNotificationFailure(routingKey string) {
	if m == nil {
		return
	}
	m.notificationFailure.WithLabelValues(routingKey).Inc()
}
