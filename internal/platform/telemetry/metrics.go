// Package telemetry registers the Prometheus metrics for the ingestion
// pipeline. Business counters are updated from the service and transport
// layers; the /metrics endpoint exposes the default registry.
package telemetry

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingestion outcome labels.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeMalformed = "malformed"
	OutcomeStorage   = "storage_error"

	TransportMLLP = "mllp"
	TransportHTTP = "http"
)

var (
	// MessagesTotal counts ingested result messages by transport and outcome.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radrecon_messages_total",
			Help: "Result messages received, by transport and ingestion outcome",
		},
		[]string{"transport", "outcome"},
	)

	// MLLPConnections tracks currently open MLLP peer connections.
	MLLPConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "radrecon_mllp_connections",
			Help: "Currently open MLLP connections",
		},
	)

	// ClassificationsTotal counts human classification submissions by kind.
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radrecon_classifications_total",
			Help: "Classification submissions, by kind",
		},
		[]string{"kind"},
	)
)

// Handler exposes the Prometheus registry for scraping.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
