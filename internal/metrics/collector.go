// Package nat64metrics exposes the translator's Prometheus metrics:
// pool4 allocation pressure, live session counts, and joold replication
// health.
package nat64metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "nat64d"
	subsystem = "core"
)

// Label names.
const (
	labelProto    = "proto"
	labelPeerAddr = "peer_addr"
	labelResult   = "result"
)

// -------------------------------------------------------------------------
// Collector — Prometheus NAT64 Metrics
// -------------------------------------------------------------------------

// Collector holds all nat64d Prometheus metrics.
//
//   - Pool4Addresses tracks registered pool4 addresses per protocol.
//   - SessionsActive tracks the live session table size per protocol.
//   - JooldSyncs counts replication sync attempts by outcome.
//   - JooldPeerHealthy exposes each peer's current health as 0/1.
type Collector struct {
	// Pool4Addresses tracks the number of registered pool4 addresses per
	// protocol section.
	Pool4Addresses *prometheus.GaugeVec

	// SessionsActive tracks the number of currently live sessions per
	// protocol.
	SessionsActive *prometheus.GaugeVec

	// JooldSyncs counts joold Sync attempts, labeled by peer and result
	// ("ok" or "error").
	JooldSyncs *prometheus.CounterVec

	// JooldPeerHealthy reports 1 when a joold peer is PeerHealthy, 0 when
	// PeerDegraded.
	JooldPeerHealthy *prometheus.GaugeVec
}

// NewCollector creates a Collector with all metrics registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Pool4Addresses,
		c.SessionsActive,
		c.JooldSyncs,
		c.JooldPeerHealthy,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	protoLabels := []string{labelProto}
	jooldSyncLabels := []string{labelPeerAddr, labelResult}
	peerLabels := []string{labelPeerAddr}

	return &Collector{
		Pool4Addresses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pool4_addresses",
			Help:      "Number of addresses currently registered in pool4.",
		}, protoLabels),

		SessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_active",
			Help:      "Number of currently live NAT64 sessions.",
		}, protoLabels),

		JooldSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "joold_syncs_total",
			Help:      "Total joold Sync attempts by peer and result.",
		}, jooldSyncLabels),

		JooldPeerHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "joold_peer_healthy",
			Help:      "1 if the joold peer is healthy, 0 if degraded.",
		}, peerLabels),
	}
}

// -------------------------------------------------------------------------
// Pool4 / Sessions
// -------------------------------------------------------------------------

// SetPool4Addresses sets the registered-address gauge for proto.
func (c *Collector) SetPool4Addresses(proto string, n int) {
	c.Pool4Addresses.WithLabelValues(proto).Set(float64(n))
}

// SetSessionsActive sets the live-session gauge for proto.
func (c *Collector) SetSessionsActive(proto string, n int) {
	c.SessionsActive.WithLabelValues(proto).Set(float64(n))
}

// -------------------------------------------------------------------------
// Joold
// -------------------------------------------------------------------------

// IncJooldSyncOK records a successful Sync from peer.
func (c *Collector) IncJooldSyncOK(peer string) {
	c.JooldSyncs.WithLabelValues(peer, "ok").Inc()
}

// IncJooldSyncError records a failed Sync from peer.
func (c *Collector) IncJooldSyncError(peer string) {
	c.JooldSyncs.WithLabelValues(peer, "error").Inc()
}

// SetJooldPeerHealthy sets the health gauge for peer.
func (c *Collector) SetJooldPeerHealthy(peer string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.JooldPeerHealthy.WithLabelValues(peer).Set(v)
}
