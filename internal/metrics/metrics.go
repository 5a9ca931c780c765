// Package metrics holds the engine's Prometheus collectors. Each engine owns
// its own registry so tests and multiple engines never collide.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "supportsync"

// Source labels the origin of a merged batch.
type Source string

const (
	SourceHistory Source = "history"
	SourcePoll    Source = "poll"
	SourcePush    Source = "push"
	SourceSend    Source = "send"
)

// Metrics is the set of collectors for one engine.
type Metrics struct {
	registry *prometheus.Registry

	Merges            *prometheus.CounterVec
	Appended          *prometheus.CounterVec
	Promoted          *prometheus.CounterVec
	Dropped           *prometheus.CounterVec
	PollErrors        prometheus.Counter
	MalformedPayloads prometheus.Counter
	Sends             *prometheus.CounterVec
	Resets            *prometheus.CounterVec
	Reconnects        prometheus.Counter
	PushConnected     prometheus.Gauge
	Messages          prometheus.Gauge
	DroppedUpdates    prometheus.Counter
}

// New builds and registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "merges_total",
			Help: "Batches merged into the message list.",
		}, []string{"source"}),
		Appended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_appended_total",
			Help: "Messages appended by a merge.",
		}, []string{"source"}),
		Promoted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_promoted_total",
			Help: "Pending messages promoted to confirmed.",
		}, []string{"source"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_deduplicated_total",
			Help: "Incoming messages dropped as duplicates.",
		}, []string{"source"}),
		PollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "poll_errors_total",
			Help: "Poll ticks that failed with a transient error.",
		}),
		MalformedPayloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "push_malformed_payloads_total",
			Help: "Push payloads that matched no known shape.",
		}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sends_total",
			Help: "Send attempts by outcome.",
		}, []string{"outcome"}),
		Resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "resets_total",
			Help: "Conversation resets by reason.",
		}, []string{"reason"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "push_reconnects_total",
			Help: "Push connection attempts after a drop.",
		}),
		PushConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "push_connected",
			Help: "1 while the push connection is up.",
		}),
		Messages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "messages",
			Help: "Entries currently in the message list.",
		}),
		DroppedUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "updates_dropped_total",
			Help: "Updates discarded because no consumer kept up.",
		}),
	}
	reg.MustRegister(
		m.Merges, m.Appended, m.Promoted, m.Dropped,
		m.PollErrors, m.MalformedPayloads, m.Sends, m.Resets,
		m.Reconnects, m.PushConnected, m.Messages, m.DroppedUpdates,
	)
	return m
}

// ObserveMerge records the outcome of one merge.
func (m *Metrics) ObserveMerge(src Source, appended, promoted, dropped, total int) {
	if m == nil {
		return
	}
	s := string(src)
	m.Merges.WithLabelValues(s).Inc()
	m.Appended.WithLabelValues(s).Add(float64(appended))
	m.Promoted.WithLabelValues(s).Add(float64(promoted))
	m.Dropped.WithLabelValues(s).Add(float64(dropped))
	m.Messages.Set(float64(total))
}

// SetPushConnected flips the connection gauge.
func (m *Metrics) SetPushConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.PushConnected.Set(1)
	} else {
		m.PushConnected.Set(0)
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
