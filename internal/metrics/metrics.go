// Package metrics exposes the looper's counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jamloop"

// Metrics groups the engine collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	TriggersScheduled   prometheus.Counter
	StepsLate           prometheus.Counter
	RecordingsCompleted prometheus.Counter
	CommandsRejected    *prometheus.CounterVec
	RecorderTransitions *prometheus.CounterVec
	Layers              prometheus.Gauge
	BPM                 prometheus.Gauge
	Playing             prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		TriggersScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_scheduled_total",
			Help:      "Layer triggers handed to the output sink.",
		}),
		StepsLate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_late_total",
			Help:      "Steps skipped because the scheduler reached them after their time.",
		}),
		RecordingsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_completed_total",
			Help:      "Captures finalized into a new layer.",
		}),
		CommandsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_rejected_total",
			Help:      "Commands declined by the engine, by command and error kind.",
		}, []string{"command", "kind"}),
		RecorderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorder_transitions_total",
			Help:      "Recorder state changes by target state.",
		}, []string{"to"}),
		Layers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "layers",
			Help:      "Layers currently in the registry.",
		}),
		BPM: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bpm",
			Help:      "Requested tempo.",
		}),
		Playing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playing",
			Help:      "1 while playback is running.",
		}),
	}

	m.Registry.MustRegister(
		m.TriggersScheduled,
		m.StepsLate,
		m.RecordingsCompleted,
		m.CommandsRejected,
		m.RecorderTransitions,
		m.Layers,
		m.BPM,
		m.Playing,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// SetPlaying records the playback flag.
func (m *Metrics) SetPlaying(on bool) {
	if on {
		m.Playing.Set(1)
	} else {
		m.Playing.Set(0)
	}
}
