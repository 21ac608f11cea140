package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parking_sessions_started_total",
		Help: "Total number of parking sessions started",
	})

	SessionsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parking_sessions_completed_total",
		Help: "Total number of parking sessions ended and billed",
	})

	SessionsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parking_sessions_cancelled_total",
		Help: "Total number of parking sessions cancelled",
	})

	SessionTransitionConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_session_transition_conflicts_total",
		Help: "Session transitions rejected because the session was no longer active",
	}, []string{"transition"})

	SessionBilledAmount = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parking_session_cost",
		Help:    "Final cost of completed sessions",
		Buckets: []float64{2.5, 5, 10, 20, 40, 80},
	})

	SpotReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spot_reservations_total",
		Help: "Spot reservation attempts by result",
	}, []string{"result"})

	SpotReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spot_reserve_latency_seconds",
		Help:    "Latency of spot reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	ReservationsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spot_reservations_expired_total",
		Help: "Reservations returned to available by the expiry sweep",
	})

	PaymentIntentsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_intents_created_total",
		Help: "Total number of payment intents created",
	})

	PaymentConfirmationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_confirmations_total",
		Help: "Payment confirmations by result",
	}, []string{"result"})

	PaymentRefundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_refunds_total",
		Help: "Total number of refunded payments",
	})

	PaymentProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_processing_latency_seconds",
		Help:    "Latency of payment confirmation",
		Buckets: prometheus.DefBuckets,
	})

	ReconciliationPendingTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_reconciliation_pending_total",
		Help: "Local writes deferred to reconciliation after gateway success",
	})

	ReconciliationRepairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconciliation_repairs_total",
		Help: "Payments repaired from gateway state by outcome",
	}, []string{"outcome"})

	GatewayCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_call_latency_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	GatewayRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_retries_total",
		Help: "Payment gateway calls retried after a transient failure",
	}, []string{"op"})

	NotificationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Notifications that could not be handed to the sink",
	}, []string{"event_type"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
