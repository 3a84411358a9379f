package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for billing-level observability.
// All metrics carry an integration_id label so dashboards can segment by
// payment account.
type Metrics struct {
	// Resolution
	ResolutionAttempts *prometheus.CounterVec
	ResolutionFailures *prometheus.CounterVec

	// Customers
	CustomersCreated *prometheus.CounterVec

	// Payments
	PaymentAttempts  *prometheus.CounterVec
	PaymentSucceeded *prometheus.CounterVec
	PaymentFailed    *prometheus.CounterVec
	RefundsIssued    *prometheus.CounterVec
	RefundAmount     *prometheus.CounterVec

	// Products
	ProductsSynced *prometheus.CounterVec

	// Subscriptions
	SubscriptionsCreated  *prometheus.CounterVec
	SubscriptionsCanceled *prometheus.CounterVec
	SubscriptionsResumed  *prometheus.CounterVec
	IncompletePayments    *prometheus.CounterVec

	// External API performance
	ProviderAPILatency *prometheus.HistogramVec
}

// New creates billing metrics registered against the given registerer.
// Pass prometheus.DefaultRegisterer in applications; tests use a fresh
// prometheus.NewRegistry.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "multistripe"
	}

	subsystem := "billing"
	factory := promauto.With(reg)

	return &Metrics{
		ResolutionAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "resolution_attempts_total",
				Help:      "Total integration resolution attempts",
			},
			[]string{"strategy"}, // strategy: explicit, entity, property, accessor, owner
		),
		ResolutionFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "resolution_failures_total",
				Help:      "Total integration resolution failures",
			},
			[]string{"reason"}, // reason: not_found, disabled, provider_mismatch
		),
		CustomersCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "customers_created_total",
				Help:      "Total remote customers created",
			},
			[]string{"integration_id"},
		),
		PaymentAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_attempts_total",
				Help:      "Total payment attempts",
			},
			[]string{"integration_id", "payment_type"}, // payment_type: one_time, subscription
		),
		PaymentSucceeded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_succeeded_total",
				Help:      "Total successful payments",
			},
			[]string{"integration_id", "payment_type"},
		),
		PaymentFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_failed_total",
				Help:      "Total failed payments",
			},
			[]string{"integration_id", "payment_type", "failure_reason"},
		),
		RefundsIssued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "refunds_issued_total",
				Help:      "Total refunds issued",
			},
			[]string{"integration_id", "reason"},
		),
		RefundAmount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "refund_amount_cents",
				Help:      "Total refund amount in cents",
			},
			[]string{"integration_id"},
		),
		ProductsSynced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "products_synced_total",
				Help:      "Total product create/update operations pushed to the provider",
			},
			[]string{"integration_id", "operation"}, // operation: create, update, deactivate
		),
		SubscriptionsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscriptions_created_total",
				Help:      "Total subscriptions created",
			},
			[]string{"integration_id"},
		),
		SubscriptionsCanceled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscriptions_canceled_total",
				Help:      "Total subscriptions canceled",
			},
			[]string{"integration_id", "mode"}, // mode: immediate, period_end, timed
		),
		SubscriptionsResumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscriptions_resumed_total",
				Help:      "Total grace-period subscriptions resumed",
			},
			[]string{"integration_id"},
		),
		IncompletePayments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "incomplete_payments_total",
				Help:      "Total subscription payments left incomplete by the provider",
			},
			[]string{"integration_id", "intent_status"},
		),
		ProviderAPILatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "provider_api_duration_seconds",
				Help:      "Provider API call duration (differentiates app slowness from provider issues)",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"integration_id", "operation"},
		),
	}
}

// NewNoop creates metrics backed by a throwaway registry. Useful for tests
// and callers that do not scrape.
func NewNoop() *Metrics {
	return New(prometheus.NewRegistry(), "")
}
