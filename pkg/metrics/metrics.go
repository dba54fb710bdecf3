// Package metrics exposes Prometheus collectors for the payment listener
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "payment_listener"

var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliation_cycles_total",
		Help:      "Reconciliation cycles by outcome",
	}, []string{"outcome"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reconciliation_cycle_duration_seconds",
		Help:      "Wall time of a reconciliation cycle",
		Buckets:   prometheus.DefBuckets,
	})

	PendingOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_orders",
		Help:      "Pending orders seen at the start of the last cycle",
	})

	TransfersFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfers_fetched_total",
		Help:      "Inbound transfers returned by ledger gateways",
	}, []string{"network"})

	TransfersSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfers_skipped_total",
		Help:      "Transfers not matched, by reason",
	}, []string{"network", "reason"})

	OrdersCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_completed_total",
		Help:      "Orders completed by a matched transfer",
	}, []string{"network"})

	ChainFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chain_failures_total",
		Help:      "Cycles in which every endpoint of a chain failed",
	}, []string{"network"})

	EndpointFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "explorer_endpoint_failures_total",
		Help:      "Explorer endpoint calls that failed after retries",
	}, []string{"network", "endpoint"})

	OrdersExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_expired_total",
		Help:      "Pending orders demoted to expired",
	})

	WriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliation_write_failures_total",
		Help:      "Datastore failures while completing a matched order",
	}, []string{"network", "operation"})

	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_failures_total",
		Help:      "Notification sink failures",
	}, []string{"event"})

	DatabaseConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "database_connections",
		Help:      "Postgres pool connections by state",
	}, []string{"state"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}
