package joold

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/n64lab/nat64d/internal/model"
	"github.com/n64lab/nat64d/internal/netaddr"
	"github.com/n64lab/nat64d/internal/sessionwire"
)

// ErrEmptyPayload indicates a Sync payload was empty, where at least one
// session is required.
var ErrEmptyPayload = errors.New("joold: empty replication payload")

// ErrMisalignedPayload indicates a Sync payload's length was not a
// multiple of sessionwire.Size.
var ErrMisalignedPayload = errors.New("joold: replication payload is not a whole multiple of the session wire size")

// SessionStore is the session table this instance's core maintains;
// joold only converts between it and the wire — the table itself is an
// external collaborator (spec.md §1).
type SessionStore interface {
	// ApplySession installs or refreshes se in the table, as if it had
	// just been created or touched locally.
	ApplySession(se model.SessionEntry) error
	// Sessions returns every currently live session, for Advertise.
	Sessions() []model.SessionEntry
}

// SyncMetrics reports Sync outcomes by peer, mirroring the teacher's
// MetricsReporter abstraction (internal/bfd/session.go) so Service need
// not depend on a concrete Prometheus collector.
type SyncMetrics interface {
	IncJooldSyncOK(peer string)
	IncJooldSyncError(peer string)
}

// noopSyncMetrics discards every call; it is the default when no
// WithMetrics option is supplied.
type noopSyncMetrics struct{}

func (noopSyncMetrics) IncJooldSyncOK(string)    {}
func (noopSyncMetrics) IncJooldSyncError(string) {}

// ServiceOption configures optional Service parameters.
type ServiceOption func(*Service)

// WithMetrics attaches a SyncMetrics reporter to the Service. If m is
// nil, the default no-op reporter is used.
func WithMetrics(m SyncMetrics) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Service implements the four joold operations (sync/test/advertise/ack)
// against a SessionStore and a Registry, grounded on nl-joold.c's
// handle_joold_request dispatch (OP_ADD/OP_TEST/OP_ADVERTISE/OP_ACK).
type Service struct {
	store    SessionStore
	registry *Registry
	pool6    netaddr.Prefix6
	timeouts sessionwire.Timeouts
	logger   *slog.Logger
	now      func() time.Time
	metrics  SyncMetrics
}

// NewService returns a Service backed by store and registry. pool6 and
// timeouts configure sessionwire.Decode's dst6-reconstruction and
// timeout-lookup. opts may attach a SyncMetrics reporter via WithMetrics;
// absent that, Sync outcomes are simply not counted.
func NewService(store SessionStore, registry *Registry, pool6 netaddr.Prefix6, timeouts sessionwire.Timeouts, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		registry: registry,
		pool6:    pool6,
		timeouts: timeouts,
		logger:   logger.With(slog.String("component", "joold.service")),
		now:      time.Now,
		metrics:  noopSyncMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync decodes a concatenation of sessionwire-encoded sessions from
// peerAddr and applies each to the session store, mirroring OP_ADD /
// joold_sync. A malformed (misaligned or empty) payload is rejected as a
// whole before any session is applied.
func (s *Service) Sync(peerAddr netip.AddrPort, payload []byte) error {
	if len(payload) == 0 {
		s.metrics.IncJooldSyncError(peerAddr.String())
		return ErrEmptyPayload
	}
	if len(payload)%sessionwire.Size != 0 {
		s.metrics.IncJooldSyncError(peerAddr.String())
		return fmt.Errorf("%w: %d bytes", ErrMisalignedPayload, len(payload))
	}

	now := s.now()
	count := len(payload) / sessionwire.Size
	for i := 0; i < count; i++ {
		chunk := payload[i*sessionwire.Size : (i+1)*sessionwire.Size]
		se, err := sessionwire.Decode(chunk, s.pool6, s.timeouts, now)
		if err != nil {
			s.registry.MarkSyncFailed(peerAddr)
			s.metrics.IncJooldSyncError(peerAddr.String())
			return fmt.Errorf("decoding session %d/%d from %s: %w", i+1, count, peerAddr, err)
		}
		if err := s.store.ApplySession(se); err != nil {
			s.registry.MarkSyncFailed(peerAddr)
			s.metrics.IncJooldSyncError(peerAddr.String())
			return fmt.Errorf("applying session %d/%d from %s: %w", i+1, count, peerAddr, err)
		}
	}

	s.registry.MarkSyncOK(peerAddr)
	s.metrics.IncJooldSyncOK(peerAddr.String())
	s.logger.Debug("synced sessions", slog.String("peer", peerAddr.String()), slog.Int("count", count))
	return nil
}

// Test encodes every live session and returns it, the local half of a
// joold_test exchange used to confirm the replication path works
// end-to-end without waiting on a real session change.
func (s *Service) Test() []byte {
	sessions := s.store.Sessions()
	now := s.now()

	buf := make([]byte, 0, len(sessions)*sessionwire.Size)
	for _, se := range sessions {
		buf = append(buf, sessionwire.Encode(se, now)...)
	}
	return buf
}

// Advertise is Test's peer-facing name: a full session-table dump sent
// to a newly (re)joined peer so it can catch up, mirroring
// joold_advertise.
func (s *Service) Advertise() []byte {
	return s.Test()
}

// Ack records that peerAddr successfully processed a prior
// Sync/Advertise from us, mirroring joold_ack. Per the original's "do
// not ack the ack", Ack never produces a response of its own.
func (s *Service) Ack(peerAddr netip.AddrPort) {
	s.registry.MarkSyncOK(peerAddr)
}
