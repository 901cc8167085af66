package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicketsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickets_created_total",
		Help: "Total number of support tickets created",
	}, []string{"type"})

	TicketsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickets_closed_total",
		Help: "Total number of support tickets closed",
	})

	MessagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_sent_total",
		Help: "Total number of chat messages sent",
	}, []string{"sender"})

	MessagesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_rejected_total",
		Help: "Total number of chat messages rejected before persisting",
	}, []string{"reason"})

	ProductWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "product_writes_total",
		Help: "Total number of product create/update/delete operations",
	}, []string{"op"})

	PageViewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "page_views_total",
		Help: "Total number of recorded page views",
	}, []string{"page"})

	ProductViewsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "product_views_total",
		Help: "Total number of recorded product views",
	})

	CounterWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "counter_write_failures_total",
		Help: "Total number of swallowed analytics counter write failures",
	})

	SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_subscriptions_active",
		Help: "Number of live store subscriptions currently registered",
	})

	WebsocketSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_sessions_active",
		Help: "Number of websocket watch sessions currently connected",
	})

	SnapshotDeliveryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "snapshot_delivery_latency_seconds",
		Help:    "Latency from store write to subscription snapshot delivery",
		Buckets: prometheus.DefBuckets,
	})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_published_total",
		Help: "Total number of domain events published to the broker",
	}, []string{"type"})

	EventsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_consumed_total",
		Help: "Total number of domain events consumed by the worker",
	}, []string{"type"})

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
