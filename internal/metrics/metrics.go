package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/live-translate-lab/internal/logging"
)

// Metrics holds the assistant's Prometheus instruments.
type Metrics struct {
	FramesRead       prometheus.Counter
	ReadFailures     prometheus.Counter
	SegmentsEmitted  prometheus.Counter
	SegmentsDropped  *prometheus.CounterVec // reason: queue_full | busy
	PipelineLatency  prometheus.Histogram
	BackendErrors    *prometheus.CounterVec // backend: transcribe | diarize | translate | tts | embed
	TranslationsFail prometheus.Counter
	TTSSynthesized   prometheus.Counter
	SpeakersEnrolled prometheus.Gauge
}

// New registers the instruments on reg, or the default registerer when reg
// is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		FramesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "translate_frames_read_total",
			Help: "Audio frames consumed from the capture source.",
		}),
		ReadFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "translate_frame_read_failures_total",
			Help: "Frame reads that failed and were retried.",
		}),
		SegmentsEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "translate_segments_emitted_total",
			Help: "Speech segments closed by the voice-activity detector.",
		}),
		SegmentsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "translate_segments_dropped_total",
			Help: "Segments discarded before processing.",
		}, []string{"reason"}),
		PipelineLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "translate_pipeline_duration_seconds",
			Help:    "Wall time to merge one segment end to end.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		BackendErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "translate_backend_errors_total",
			Help: "Failed calls to external speech services.",
		}, []string{"backend"}),
		TranslationsFail: f.NewCounter(prometheus.CounterOpts{
			Name: "translate_span_translation_failures_total",
			Help: "Transcription spans emitted without a translation.",
		}),
		TTSSynthesized: f.NewCounter(prometheus.CounterOpts{
			Name: "translate_tts_synthesized_total",
			Help: "Replies synthesized to speech.",
		}),
		SpeakersEnrolled: f.NewGauge(prometheus.GaugeOpts{
			Name: "translate_speakers_enrolled",
			Help: "Speakers currently in the registry.",
		}),
	}
}

// Serve exposes /metrics on addr. It blocks; run it on its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logging.Infow("metrics: listening", "addr", addr)
	return http.ListenAndServe(addr, mux)
}
