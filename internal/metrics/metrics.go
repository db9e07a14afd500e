// Package metrics exposes Prometheus instrumentation for the capture engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and all
// methods are no-ops, so instrumentation stays optional in tests.
type Metrics struct {
	ticksTotal          prometheus.Counter
	segmentsStarted     prometheus.Counter
	recordingsFinalized prometheus.Counter
	segmentsDiscarded   prometheus.Counter
	silenceTimeouts     prometheus.Counter
	acquireFailures     prometheus.Counter
	webhookDeliveries   prometheus.Counter
	webhookFailures     prometheus.Counter
	currentVolume       prometheus.Gauge
	silenceProgress     prometheus.Gauge
	recordingsStored    prometheus.Gauge
}

// New registers all collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ticksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxcap_analysis_ticks_total",
			Help: "Number of analysis loop ticks processed.",
		}),
		segmentsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxcap_segments_started_total",
			Help: "Number of segments opened on voice onset.",
		}),
		recordingsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxcap_recordings_finalized_total",
			Help: "Number of recordings finalized and stored.",
		}),
		segmentsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxcap_segments_discarded_total",
			Help: "Number of segments discarded for having no encoded bytes.",
		}),
		silenceTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxcap_silence_timeouts_total",
			Help: "Number of segments closed by silence timeout.",
		}),
		acquireFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxcap_acquire_failures_total",
			Help: "Number of failed audio input acquisitions.",
		}),
		webhookDeliveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxcap_webhook_deliveries_total",
			Help: "Number of recordings delivered to the webhook.",
		}),
		webhookFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxcap_webhook_failures_total",
			Help: "Number of webhook deliveries that exhausted retries.",
		}),
		currentVolume: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voxcap_current_volume",
			Help: "Latest analyzer volume in the 0-255 domain.",
		}),
		silenceProgress: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voxcap_silence_progress",
			Help: "Progress toward the silence timeout, 0-1.",
		}),
		recordingsStored: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voxcap_recordings_stored",
			Help: "Number of recordings currently in the store.",
		}),
	}
}

func (m *Metrics) Tick() {
	if m != nil {
		m.ticksTotal.Inc()
	}
}

func (m *Metrics) SegmentStarted() {
	if m != nil {
		m.segmentsStarted.Inc()
	}
}

func (m *Metrics) RecordingFinalized() {
	if m != nil {
		m.recordingsFinalized.Inc()
	}
}

func (m *Metrics) SegmentDiscarded() {
	if m != nil {
		m.segmentsDiscarded.Inc()
	}
}

func (m *Metrics) SilenceTimeout() {
	if m != nil {
		m.silenceTimeouts.Inc()
	}
}

func (m *Metrics) AcquireFailure() {
	if m != nil {
		m.acquireFailures.Inc()
	}
}

func (m *Metrics) WebhookDelivered() {
	if m != nil {
		m.webhookDeliveries.Inc()
	}
}

func (m *Metrics) WebhookFailed() {
	if m != nil {
		m.webhookFailures.Inc()
	}
}

func (m *Metrics) SetVolume(v float64) {
	if m != nil {
		m.currentVolume.Set(v)
	}
}

func (m *Metrics) SetSilenceProgress(p float64) {
	if m != nil {
		m.silenceProgress.Set(p)
	}
}

func (m *Metrics) SetRecordingsStored(n int) {
	if m != nil {
		m.recordingsStored.Set(float64(n))
	}
}
