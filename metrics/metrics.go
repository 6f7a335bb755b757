// Package metrics holds the prometheus collectors of the portal.
package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ApprovalRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connect_approval_refreshes_total",
			Help: "Permission list refreshes by outcome",
		},
		[]string{"outcome"},
	)

	GuardDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connect_guard_decisions_total",
			Help: "Route guard decisions by result",
		},
		[]string{"result"},
	)

	ActivityEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connect_activity_events_total",
			Help: "Portal activity events by type",
		},
		[]string{"event"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "connect_upstream_request_duration_seconds",
			Help:    "Duration of calls to external collaborators",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"upstream", "operation"},
	)
)

// Handler exposes the default registry on a fiber route
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
