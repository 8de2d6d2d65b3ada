// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carelink_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	OTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_otp_requests_total",
			Help: "One-time codes issued, by outcome",
		},
		[]string{"outcome"},
	)

	OTPVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_otp_verifications_total",
			Help: "One-time code verification attempts, by outcome",
		},
		[]string{"outcome"},
	)

	SessionEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_session_events_total",
			Help: "Session lifecycle events",
		},
		[]string{"event"},
	)

	LinkTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_link_transitions_total",
			Help: "Caregiver link state changes, by resulting status",
		},
		[]string{"status"},
	)

	IntegrityFaultsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "carelink_integrity_faults_total",
			Help: "Data integrity faults detected at read time",
		},
	)
)
