// Package joold implements the session-table synchronization peer
// registry: the set of translator peers this instance replicates
// session state with, and a consecutive-failure health tracker that
// flags a peer degraded once its sync failures cross a threshold —
// the counter-based cousin of the teacher's RFC 5882 §3.2 BFD flap
// dampener, re-aimed at joold replication health instead of penalty
// decay over wall-clock time.
package joold

import (
	"container/list"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"
)

// PeerState is a replication peer's health classification.
type PeerState int

const (
	// PeerHealthy means the peer has fewer than FailureThreshold
	// consecutive sync failures.
	PeerHealthy PeerState = iota
	// PeerDegraded means the peer has accumulated FailureThreshold or
	// more consecutive sync failures.
	PeerDegraded
)

func (s PeerState) String() string {
	switch s {
	case PeerHealthy:
		return "healthy"
	case PeerDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// peerState tracks one peer's consecutive-failure count, current
// classification, and the pending grace-period timer (if any) that
// decides whether a degradation is reported externally.
type peerState struct {
	addr                netip.AddrPort
	consecutiveFailures int
	state               PeerState
	graceTimer          *time.Timer
	reported            bool
}

// PeerEvent reports a peer's health classification changing, mirroring
// the teacher's bfd.StateChange used to drive BGP actions from session
// transitions. It is only published once a PeerDegraded classification
// has survived the registry's grace period, or once a previously
// reported peer recovers.
type PeerEvent struct {
	Addr  netip.AddrPort
	State PeerState
}

// eventBacklog bounds the Events channel so a slow or absent consumer
// cannot block peer-health bookkeeping; PeerHealthy/Peers remain the
// authoritative source of truth regardless of whether events are drained.
const eventBacklog = 64

var (
	// ErrPeerExists indicates AddPeer was called with an address already
	// enrolled in the registry.
	ErrPeerExists = errors.New("joold: peer already registered")
	// ErrPeerNotFound indicates an operation named a peer address the
	// registry does not know about.
	ErrPeerNotFound = errors.New("joold: peer not found")
)

// Registry holds the configured replication peers and their health
// state, in insertion order. Safe for concurrent use.
type Registry struct {
	mu               sync.Mutex
	order            *list.List // ordered list of *peerState, tail-insertion
	index            map[netip.AddrPort]*list.Element
	failureThreshold int
	gracePeriod      time.Duration
	logger           *slog.Logger
	events           chan PeerEvent
}

// New returns a Registry that degrades a peer after failureThreshold
// consecutive MarkSyncFailed calls. failureThreshold <= 0 is treated as
// 1 (any single failure degrades the peer). A degraded peer is reported
// on Events only after it has remained degraded for gracePeriod; 0 (or
// negative) reports immediately, preserving single-shot semantics for
// callers that don't want the delay.
func New(failureThreshold int, gracePeriod time.Duration, logger *slog.Logger) *Registry {
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	return &Registry{
		order:            list.New(),
		index:            make(map[netip.AddrPort]*list.Element),
		failureThreshold: failureThreshold,
		gracePeriod:      gracePeriod,
		logger:           logger.With(slog.String("component", "joold.registry")),
		events:           make(chan PeerEvent, eventBacklog),
	}
}

// Events returns the channel peer health transitions are published on.
// Consumers (e.g. internal/bgphealth) should drain it in a loop; a full
// backlog drops the oldest-pending event rather than blocking the
// registry.
func (r *Registry) Events() <-chan PeerEvent {
	return r.events
}

// publish delivers ev without blocking, discarding the oldest queued
// event if the backlog is full.
func (r *Registry) publish(ev PeerEvent) {
	select {
	case r.events <- ev:
	default:
		select {
		case <-r.events:
		default:
		}
		select {
		case r.events <- ev:
		default:
		}
	}
}

// AddPeer enrolls addr as a replication peer in PeerHealthy state,
// appending it to the insertion order Peers reports. Returns
// ErrPeerExists if addr is already enrolled.
func (r *Registry) AddPeer(addr netip.AddrPort) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[addr]; ok {
		return fmt.Errorf("%w: %s", ErrPeerExists, addr)
	}
	el := r.order.PushBack(&peerState{addr: addr, state: PeerHealthy})
	r.index[addr] = el
	r.logger.Info("peer added", slog.String("peer", addr.String()))
	return nil
}

// RemovePeer removes addr from the registry. Returns ErrPeerNotFound if
// addr is not enrolled.
func (r *Registry) RemovePeer(addr netip.AddrPort) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	el, ok := r.index[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPeerNotFound, addr)
	}
	if st := el.Value.(*peerState); st.graceTimer != nil {
		st.graceTimer.Stop()
	}
	r.order.Remove(el)
	delete(r.index, addr)
	r.logger.Info("peer removed", slog.String("peer", addr.String()))
	return nil
}

// PeerStatus is one registered peer's address and current health state.
type PeerStatus struct {
	Addr  netip.AddrPort
	State PeerState
}

// Peers returns a snapshot of every registered peer and its state, in
// the order peers were added.
func (r *Registry) Peers() []PeerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PeerStatus, 0, r.order.Len())
	for e := r.order.Front(); e != nil; e = e.Next() {
		st := e.Value.(*peerState)
		out = append(out, PeerStatus{Addr: st.addr, State: st.state})
	}
	return out
}

// PeerHealthy reports whether addr is known and currently healthy.
// Unknown peers report false.
func (r *Registry) PeerHealthy(addr netip.AddrPort) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	el, ok := r.index[addr]
	return ok && el.Value.(*peerState).state == PeerHealthy
}

// MarkSyncOK records a successful sync with addr, resetting its failure
// counter and restoring PeerHealthy immediately — recovery is
// single-shot, matching spec.md's joold.Registry property ("back to
// PeerHealthy on the next MarkSyncOK"). A pending grace-period timer is
// cancelled; a peer whose degradation was already reported publishes a
// recovery event.
func (r *Registry) MarkSyncOK(addr netip.AddrPort) {
	r.mu.Lock()
	defer r.mu.Unlock()

	el, ok := r.index[addr]
	if !ok {
		return
	}
	st := el.Value.(*peerState)
	if st.graceTimer != nil {
		st.graceTimer.Stop()
		st.graceTimer = nil
	}
	wasReported := st.reported
	st.consecutiveFailures = 0
	st.state = PeerHealthy
	st.reported = false
	if wasReported {
		r.logger.Info("peer recovered", slog.String("peer", addr.String()))
		r.publish(PeerEvent{Addr: addr, State: PeerHealthy})
	}
}

// MarkSyncFailed records a failed sync with addr. Once
// failureThreshold consecutive failures have accumulated, the peer
// transitions to PeerDegraded locally; it is only published on Events
// (and so reported to bgphealth) once it has remained degraded for
// gracePeriod, so a peer that recovers within the grace window never
// triggers an external BGP action.
func (r *Registry) MarkSyncFailed(addr netip.AddrPort) {
	r.mu.Lock()
	defer r.mu.Unlock()

	el, ok := r.index[addr]
	if !ok {
		return
	}
	st := el.Value.(*peerState)
	st.consecutiveFailures++
	if st.consecutiveFailures < r.failureThreshold || st.state == PeerDegraded {
		return
	}
	st.state = PeerDegraded
	r.logger.Warn("peer degraded",
		slog.String("peer", addr.String()),
		slog.Int("consecutive_failures", st.consecutiveFailures),
	)

	if r.gracePeriod <= 0 {
		st.reported = true
		r.publish(PeerEvent{Addr: addr, State: PeerDegraded})
		return
	}
	if st.graceTimer != nil {
		st.graceTimer.Stop()
	}
	st.graceTimer = time.AfterFunc(r.gracePeriod, func() { r.reportIfStillDegraded(addr) })
}

// reportIfStillDegraded is the grace-period timer callback. It publishes
// a PeerDegraded event only if addr is still enrolled and still
// classified PeerDegraded when the timer fires; a peer that recovered
// in the meantime (MarkSyncOK having already stopped the timer) never
// reaches here.
func (r *Registry) reportIfStillDegraded(addr netip.AddrPort) {
	r.mu.Lock()
	defer r.mu.Unlock()

	el, ok := r.index[addr]
	if !ok {
		return
	}
	st := el.Value.(*peerState)
	st.graceTimer = nil
	if st.state != PeerDegraded || st.reported {
		return
	}
	st.reported = true
	r.logger.Warn("peer degradation reported after grace period", slog.String("peer", addr.String()))
	r.publish(PeerEvent{Addr: addr, State: PeerDegraded})
}
