package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_reconciler_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// NotificationsTotal counts reconciled notifications by kind and outcome
	// (processed, ignored, invalid, failed).
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconciler_notifications_total",
		Help: "Gateway notifications by kind and outcome.",
	}, []string{"kind", "outcome"})

	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_reconciler_gateway_request_duration_seconds",
		Help:    "Latency of outbound gateway calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconciler_orders_created_total",
		Help: "Orders materialized from payments, by source.",
	}, []string{"source"})

	DebtsSettledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_reconciler_debts_settled_total",
		Help: "Client debt rows flipped to paid.",
	})

	LedgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconciler_ledger_entries_total",
		Help: "Account transactions recorded on order delivery.",
	}, []string{"transaction_type"})
)
