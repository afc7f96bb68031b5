// Package metrics holds the Prometheus collectors of the chat pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChatStreams counts finished chat streams by outcome
	// (completed, upstream_failed, client_gone).
	ChatStreams = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dietchat_chat_streams_total",
		Help: "Chat streams by final status.",
	}, []string{"status"})

	// ChatRejections counts chat requests refused before streaming.
	ChatRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dietchat_chat_rejections_total",
		Help: "Chat requests rejected before streaming, by reason.",
	}, []string{"reason"})

	FragmentsRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dietchat_fragments_relayed_total",
		Help: "Model fragments forwarded to clients.",
	})

	StreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dietchat_stream_duration_seconds",
		Help:    "Wall time of a relayed chat stream.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
	})

	// SearchLookups counts augmentation attempts by result
	// (skipped, cached, ok, empty, error).
	SearchLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dietchat_search_lookups_total",
		Help: "Search augmentation attempts by result.",
	}, []string{"result"})

	Classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dietchat_reply_classifications_total",
		Help: "Assistant replies by classified kind.",
	}, []string{"kind"})

	// Extractions counts form extractions by outcome
	// (parsed, unparsed, failed, skipped).
	Extractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dietchat_form_extractions_total",
		Help: "Form field extractions by outcome.",
	}, []string{"outcome"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
