package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	WebhookRequests   *prometheus.CounterVec
	MessagesHandled   *prometheus.CounterVec
	BrainLatency      prometheus.Histogram
	ReportGenerations *prometheus.CounterVec
	NewsPushes        *prometheus.CounterVec
	ActiveTranscripts prometheus.Gauge
}

// NewMetrics registers the instrument set on reg. A nil reg falls back
// to the process-wide default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		WebhookRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Webhook deliveries by outcome.",
		}, []string{"outcome"}),
		MessagesHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_handled_total",
			Help:      "Handled messages by kind.",
		}, []string{"kind"}),
		BrainLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "brain_latency_seconds",
			Help:      "Model completion latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}),
		ReportGenerations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_generations_total",
			Help:      "Report pipeline runs by status.",
		}, []string{"status"}),
		NewsPushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "news_pushes_total",
			Help:      "Daily news pushes by status.",
		}, []string{"status"}),
		ActiveTranscripts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_transcripts",
			Help:      "Users with a live transcript window.",
		}),
	}
}

func (m *Metrics) ObserveBrainLatency(d time.Duration) {
	m.BrainLatency.Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
