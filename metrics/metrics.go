// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsTotal counts conversion jobs by terminal state.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "display_pdf_jobs_total",
		Help: "Conversion jobs by terminal state.",
	}, []string{"state"})

	// JobsInFlight tracks jobs currently holding an admission permit.
	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "display_pdf_jobs_in_flight",
		Help: "Conversion jobs currently running.",
	})

	// ImagesFetched counts successfully downloaded cover images.
	ImagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "display_pdf_images_fetched_total",
		Help: "Cover images downloaded successfully.",
	})

	// ImagesFailed counts cover image downloads that were skipped.
	ImagesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "display_pdf_images_failed_total",
		Help: "Cover image downloads that failed and were skipped.",
	})

	// PDFBytes counts bytes of generated PDF output.
	PDFBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "display_pdf_output_bytes_total",
		Help: "Bytes of PDF output produced.",
	})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
