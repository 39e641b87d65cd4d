// Package metrics exposes prometheus collectors for catalog reads and the
// submission lifecycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	selectTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "joke_select_total",
			Help: "Total number of filter evaluations by language and outcome",
		},
		[]string{"lang", "outcome"},
	)

	selectResultSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "joke_select_result_size",
			Help:    "Number of jokes returned per filter evaluation",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
		},
	)

	validationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "joke_validation_total",
			Help: "Total number of validated submissions by result",
		},
		[]string{"valid"},
	)

	submissionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "joke_submission_transitions_total",
			Help: "Submission cache transitions by language and action",
		},
		[]string{"lang", "action"},
	)

	pendingGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "joke_submissions_pending",
			Help: "Number of submissions waiting for moderation",
		},
		[]string{"lang"},
	)

	catalogSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "joke_catalog_size",
			Help: "Number of jokes in the catalog by language",
		},
		[]string{"lang"},
	)
)

// RecordSelect records one filter evaluation. outcome is "ok" or an error code.
func RecordSelect(lang, outcome string, returned int) {
	selectTotal.WithLabelValues(lang, outcome).Inc()
	if outcome == "ok" {
		selectResultSize.Observe(float64(returned))
	}
}

func RecordValidation(valid bool) {
	v := "false"
	if valid {
		v = "true"
	}
	validationTotal.WithLabelValues(v).Inc()
}

// RecordTransition counts a cache action (staged, accepted, rejected).
func RecordTransition(lang, action string) {
	submissionTotal.WithLabelValues(lang, action).Inc()
}

func SetPending(lang string, n int) {
	pendingGauge.WithLabelValues(lang).Set(float64(n))
}

func SetCatalogSize(counts map[string]int) {
	for lang, n := range counts {
		catalogSize.WithLabelValues(lang).Set(float64(n))
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
