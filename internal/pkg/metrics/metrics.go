/*
Package metrics bundles the Prometheus collectors exposed by the sync client.

The collectors cover the chat connection lifecycle (state, reconnect attempts),
message flow (sent, received, deduplicated, rejected), and cart synchronization
(mutations by operation, rollbacks, discarded stale fetches).
*/
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors shared by the cart service and chat controller.
// A nil *Metrics is valid and turns every recording method into a no-op, so
// library consumers that do not scrape metrics pay nothing.
type Metrics struct {
	registry *prometheus.Registry

	connState         prometheus.Gauge
	reconnectAttempts prometheus.Counter
	messagesSent      prometheus.Counter
	messagesReceived  prometheus.Counter
	messagesDeduped   prometheus.Counter
	messagesRejected  prometheus.Counter
	fetchesDiscarded  prometheus.Counter
	cartMutations     *prometheus.CounterVec
	cartRollbacks     prometheus.Counter
}

// New creates the collector bundle and registers it on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		connState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shopsync_chat_connected",
			Help: "1 while the chat socket is connected, 0 otherwise.",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopsync_chat_reconnect_attempts_total",
			Help: "Total count of automatic reconnect attempts.",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopsync_chat_messages_sent_total",
			Help: "Total count of chat messages emitted to the backend.",
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopsync_chat_messages_received_total",
			Help: "Total count of inbound chat messages merged into the timeline.",
		}),
		messagesDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopsync_chat_messages_deduplicated_total",
			Help: "Total count of inbound chat messages dropped as duplicates.",
		}),
		messagesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopsync_chat_messages_rejected_total",
			Help: "Total count of inbound chat messages ignored because their conversation id did not match the tracked one.",
		}),
		fetchesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopsync_chat_stale_fetches_discarded_total",
			Help: "Total count of message history responses discarded because a newer fetch had been issued.",
		}),
		cartMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopsync_cart_mutations_total",
			Help: "Total count of optimistic cart mutations, labeled by operation.",
		}, []string{"op"}),
		cartRollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopsync_cart_rollbacks_total",
			Help: "Total count of optimistic cart mutations rolled back after a failed network call.",
		}),
	}

	reg.MustRegister(
		m.connState,
		m.reconnectAttempts,
		m.messagesSent,
		m.messagesReceived,
		m.messagesDeduped,
		m.messagesRejected,
		m.fetchesDiscarded,
		m.cartMutations,
		m.cartRollbacks,
	)

	return m
}

// Handler exposes the bundle's registry for a /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetConnected records the chat connection state gauge.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connState.Set(1)
	} else {
		m.connState.Set(0)
	}
}

// IncReconnectAttempt counts one automatic reconnect attempt.
func (m *Metrics) IncReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

// IncMessageSent counts one outbound chat message.
func (m *Metrics) IncMessageSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

// IncMessageReceived counts one inbound chat message merged into the timeline.
func (m *Metrics) IncMessageReceived() {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
}

// IncMessageDeduped counts one inbound chat message dropped as a duplicate.
func (m *Metrics) IncMessageDeduped() {
	if m == nil {
		return
	}
	m.messagesDeduped.Inc()
}

// IncMessageRejected counts one inbound chat message ignored for belonging to
// a conversation other than the tracked one.
func (m *Metrics) IncMessageRejected() {
	if m == nil {
		return
	}
	m.messagesRejected.Inc()
}

// IncStaleFetchDiscarded counts one discarded out-of-date history response.
func (m *Metrics) IncStaleFetchDiscarded() {
	if m == nil {
		return
	}
	m.fetchesDiscarded.Inc()
}

// IncCartMutation counts one optimistic cart mutation for the given operation
// ("add", "update", "remove", "sync").
func (m *Metrics) IncCartMutation(op string) {
	if m == nil {
		return
	}
	m.cartMutations.WithLabelValues(op).Inc()
}

// IncCartRollback counts one rolled-back optimistic mutation.
func (m *Metrics) IncCartRollback() {
	if m == nil {
		return
	}
	m.cartRollbacks.Inc()
}
