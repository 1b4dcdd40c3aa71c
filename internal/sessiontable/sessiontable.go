// Package sessiontable implements the in-memory NAT64 session table that
// backs joold.Service as its SessionStore: a map of live sessions keyed
// by their IPv4-side 5-tuple, guarded by a single mutex in the same
// "lock for the whole call" discipline pool4 inherits from the original
// kernel module's session database.
package sessiontable

import (
	"net/netip"
	"sync"

	"github.com/n64lab/nat64d/internal/model"
	"github.com/n64lab/nat64d/internal/netaddr"
)

// Key identifies a session by its IPv4-side 5-tuple: the half of the
// session that is unambiguous regardless of which side initiated it,
// and the half a BIB lookup from the datapath would have on hand.
type Key struct {
	Proto netaddr.L4Proto
	Src4  netip.AddrPort
	Dst4  netip.AddrPort
}

func keyFor(se model.SessionEntry) Key {
	return Key{
		Proto: se.Proto,
		Src4:  netip.AddrPortFrom(se.Src4.Addr, se.Src4.Port),
		Dst4:  netip.AddrPortFrom(se.Dst4.Addr, se.Dst4.Port),
	}
}

// Table is a concurrency-safe NAT64 session table.
type Table struct {
	mu       sync.RWMutex
	sessions map[Key]model.SessionEntry
}

// New returns an empty Table.
func New() *Table {
	return &Table{sessions: make(map[Key]model.SessionEntry)}
}

// ApplySession installs or refreshes se, implementing joold.SessionStore.
func (t *Table) ApplySession(se model.SessionEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[keyFor(se)] = se
	return nil
}

// Sessions returns a snapshot of every currently live session, implementing
// joold.SessionStore.
func (t *Table) Sessions() []model.SessionEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.SessionEntry, 0, len(t.sessions))
	for _, se := range t.sessions {
		out = append(out, se)
	}
	return out
}

// Len returns the number of live sessions, for metrics reporting.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// LenByProto returns the number of live sessions for one protocol.
func (t *Table) LenByProto(proto netaddr.L4Proto) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for k := range t.sessions {
		if k.Proto == proto {
			n++
		}
	}
	return n
}

// Remove deletes the session matching se's 5-tuple, if present.
func (t *Table) Remove(se model.SessionEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, keyFor(se))
}
