// Package metrics provides the Prometheus collectors for the interpreter server.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/satriahrh/interpreter/domain"
)

const namespace = "interpreter"

// Metrics holds every collector. Create one per registry.
type Metrics struct {
	// sessionsActive is a gauge of currently open sessions.
	sessionsActive prometheus.Gauge

	// sessionsTotal counts finished sessions by outcome.
	sessionsTotal *prometheus.CounterVec

	// sessionDuration is a histogram of session lifetimes.
	sessionDuration prometheus.Histogram

	segmentsSequenced prometheus.Counter
	segmentsReleased  prometheus.Counter
	segmentsDegraded  *prometheus.CounterVec

	// callDuration is a histogram of collaborator call latency.
	callDuration *prometheus.HistogramVec
	callsTotal   *prometheus.CounterVec
	retriesTotal *prometheus.CounterVec

	droppedAudioBytes prometheus.Counter
	backlogPauses     prometheus.Counter
	reconnectsTotal   *prometheus.CounterVec
}

// New registers all collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently open interpreter sessions",
		}),
		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of finished sessions",
		}, []string{"outcome"}), // outcome: closed, errored
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Histogram of session duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}),
		segmentsSequenced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_sequenced_total",
			Help:      "Total number of final transcript segments assigned a sequence number",
		}),
		segmentsReleased: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_released_total",
			Help:      "Total number of segments released to clients in order",
		}),
		segmentsDegraded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_degraded_total",
			Help:      "Total number of segments degraded after exhausting retries",
		}, []string{"stage"}),
		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_call_duration_seconds",
			Help:      "Duration of collaborator calls in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"stage", "provider"}),
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_calls_total",
			Help:      "Total number of collaborator calls",
		}, []string{"stage", "provider", "status"}), // status: success, error, timeout
		retriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_retries_total",
			Help:      "Total number of collaborator call retries",
		}, []string{"stage", "provider"}),
		droppedAudioBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_audio_bytes_total",
			Help:      "Total bytes of inbound audio dropped on buffer overflow",
		}),
		backlogPauses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backlog_pauses_total",
			Help:      "Total number of times audio ingestion was paused for backlog",
		}),
		reconnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_reconnects_total",
			Help:      "Total number of speech-to-text stream reconnects",
		}, []string{"provider"}),
	}
}

// SessionOpened records a new session
func (m *Metrics) SessionOpened() {
	m.sessionsActive.Inc()
}

// SessionClosed records a finished session
func (m *Metrics) SessionClosed(outcome string, lifetime time.Duration) {
	m.sessionsActive.Dec()
	m.sessionsTotal.WithLabelValues(outcome).Inc()
	m.sessionDuration.Observe(lifetime.Seconds())
}

func (m *Metrics) SegmentSequenced() {
	m.segmentsSequenced.Inc()
}

func (m *Metrics) SegmentReleased() {
	m.segmentsReleased.Inc()
}

func (m *Metrics) AudioDropped(bytes int) {
	m.droppedAudioBytes.Add(float64(bytes))
}

func (m *Metrics) BacklogPaused() {
	m.backlogPauses.Inc()
}

// CallFinished records one collaborator attempt
func (m *Metrics) CallFinished(stage, provider string, elapsed time.Duration, err error) {
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrCollaboratorTimeout), errors.Is(err, context.DeadlineExceeded):
		status = "timeout"
	default:
		status = "error"
	}
	m.callDuration.WithLabelValues(stage, provider).Observe(elapsed.Seconds())
	m.callsTotal.WithLabelValues(stage, provider, status).Inc()
}

func (m *Metrics) Retried(stage, provider string) {
	m.retriesTotal.WithLabelValues(stage, provider).Inc()
}

func (m *Metrics) Degraded(stage string) {
	m.segmentsDegraded.WithLabelValues(stage).Inc()
}

func (m *Metrics) Reconnected(provider string) {
	m.reconnectsTotal.WithLabelValues(provider).Inc()
}
