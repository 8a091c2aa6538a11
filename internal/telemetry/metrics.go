/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reruncal"

var (
	// CalendarBuildsTotal counts builds by outcome: built, reused, cached,
	// unsatisfiable, invalid, error.
	CalendarBuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calendar_builds_total",
		Help:      "Calendar builds by outcome.",
	}, []string{"outcome"})

	CalendarBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "calendar_build_duration_seconds",
		Help:      "Time spent computing and storing a calendar.",
		Buckets:   prometheus.DefBuckets,
	})

	CalendarSlotsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calendar_slots_generated_total",
		Help:      "Slots filled from the rotation rather than by an override.",
	})

	// CalendarOverridesDropped counts overrides by reason: shadowed, ignored.
	CalendarOverridesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calendar_overrides_dropped_total",
		Help:      "Overrides that did not take effect.",
	}, []string{"reason"})

	CalendarValidationWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calendar_validation_warnings_total",
		Help:      "Warnings reported when re-walking built calendars.",
	})

	// CacheOperations counts cache lookups by result: hit, miss, error.
	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_operations_total",
		Help:      "Calendar cache lookups by result.",
	}, []string{"result"})

	EventsForwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_forwarded_total",
		Help:      "Events forwarded to the message bus.",
	}, []string{"type", "status"})

	PlanRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "plan_refreshes_total",
		Help:      "Plan file rebuilds by trigger.",
	}, []string{"trigger", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "HTTP requests by method, route, and status.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "api_active_connections",
		Help:      "In-flight HTTP requests.",
	})

	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "database_query_duration_seconds",
		Help:      "Database operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "database_errors_total",
		Help:      "Failed database operations.",
	}, []string{"operation", "table"})

	LeaderElectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "leader_election_status",
		Help:      "1 while this instance holds the refresh lease.",
	})

	// LeaderElectionChanges counts transitions: acquired, lost.
	LeaderElectionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leader_election_changes_total",
		Help:      "Refresh lease transitions.",
	}, []string{"change"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
