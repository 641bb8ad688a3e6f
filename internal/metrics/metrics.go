// Package metrics defines the Prometheus instrumentation for ObatPing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents counts inbound webhook events by routing outcome.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obatping",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Inbound webhook events by routing outcome.",
	}, []string{"outcome"})

	// IntentClassifications counts AI gateway verdicts by intent.
	IntentClassifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obatping",
		Subsystem: "intent",
		Name:      "classifications_total",
		Help:      "Intent classifications returned by the AI gateway.",
	}, []string{"intent"})

	// OutboundMessages counts outbox delivery attempts by result.
	OutboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obatping",
		Subsystem: "outbound",
		Name:      "messages_total",
		Help:      "Outbound message delivery attempts by result.",
	}, []string{"result"})

	// HTTPDuration observes HTTP handler latency.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "obatping",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route and status code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "code"})
)
