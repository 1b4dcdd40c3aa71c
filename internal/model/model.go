// Package model defines the shared data records the NAT64 control plane
// reads from and writes to the wire: pool4 configuration rows, EAM entries,
// BIB entries, session entries, MAP mapping rules, and MTU plateau lists.
//
// These are plain records; the codecs that (de)serialize them live in
// internal/attrs and internal/sessionwire, and the allocator that manages
// live pool4 state lives in internal/pool4.
package model

import (
	"time"

	"github.com/n64lab/nat64d/internal/netaddr"
)

// Pool4Entry is an administrative pool4 configuration row: a range of
// (prefix, port range) reserved for a protocol, used by list/add/remove
// operations. It is distinct from the per-address allocator state in
// internal/pool4.
type Pool4Entry struct {
	// Mark is an opaque routing mark used to select this range for packets
	// carrying a matching fwmark. Defaults to 0.
	Mark uint32

	// Iterations bounds how many addresses from Prefix are enrolled when
	// this entry is applied; 0 means "use the implementation default".
	Iterations uint32

	// Flags holds reserved per-entry option bits.
	Flags uint8

	// Proto is the L4 protocol this range applies to.
	Proto netaddr.L4Proto

	// Prefix is the IPv4 range this entry reserves addresses from.
	Prefix netaddr.Prefix4

	// PortMin and PortMax bound the port range reserved within the prefix.
	PortMin uint16
	PortMax uint16
}

// EamtEntry is an explicit 1:1 address mapping (EAM): a static binding
// between an IPv6 prefix and an IPv4 prefix, independent of pool4/BIB.
type EamtEntry struct {
	Prefix6 netaddr.Prefix6
	Prefix4 netaddr.Prefix4
}

// BibEntry is a Binding Information Base row: the (inside-v6, outside-v4)
// mapping for a given protocol, optionally pinned by static configuration.
type BibEntry struct {
	Addr6    netaddr.TransportAddr6
	Addr4    netaddr.TransportAddr4
	Proto    netaddr.L4Proto
	IsStatic bool
}

// TimerType identifies which of a session's three possible expiry timers
// is currently active.
type TimerType uint8

const (
	// TimerEST is the established-connection timer (TCP) or the
	// steady-state timer (UDP/ICMP).
	TimerEST TimerType = iota
	// TimerTrans is the TCP transitory-state timer.
	TimerTrans
	// TimerSYN4 is the TCP incoming-SYN timer (a fixed constant, not
	// configurable, per spec.md §4.3).
	TimerSYN4
)

// SessionEntry is a single NAT64 session: the 5-tuple derived from a BIB
// binding, its current FSM state, and its expiry bookkeeping.
//
// For ICMP, Dst6.Port mirrors Src6.Port and Dst4.Port mirrors Src4.Port —
// the "port" is really the ICMP identifier (spec.md §3).
type SessionEntry struct {
	Src6 netaddr.TransportAddr6
	Dst6 netaddr.TransportAddr6
	Src4 netaddr.TransportAddr4
	Dst4 netaddr.TransportAddr4

	Proto netaddr.L4Proto
	// State is the session's TCP/UDP/ICMP FSM state, an opaque byte whose
	// interpretation is owned by the (external) session table; the codecs
	// only carry it.
	State byte

	TimerType TimerType
	// UpdateTime is the monotonic timestamp (milliseconds) this session's
	// timer was last reset.
	UpdateTime int64
	// Timeout is the configured lifetime for the active timer.
	Timeout time.Duration

	// HasStored marks whether a datapath-side packet is buffered pending
	// this session becoming fully established (TCP simultaneous open).
	// Always false immediately after SessionWire decode (spec.md §4.3).
	HasStored bool
}

// MappingRule is a MAP-T/MAP-E rule (RFC 7597/7599): the EA-bits mapping
// between an IPv6 prefix, an IPv4 prefix, and a PSID derived from the
// embedded address bits.
type MappingRule struct {
	Prefix6 netaddr.Prefix6
	Prefix4 netaddr.Prefix4
	// O is the EA-bits length (o ≤ 48).
	O uint8
	// A is the PSID offset.
	A uint8
}

// SuffixLen returns the number of IPv4 suffix bits not covered by Prefix4
// (32 - Prefix4.Len), clamped to zero.
func (m MappingRule) SuffixLen() int {
	suffix := 32 - int(m.Prefix4.Len)
	if suffix < 0 {
		return 0
	}
	return suffix
}

// SIDLen returns the Subnet ID length max(0, suffix_len - o), per spec.md §3
// (sid_len = max(0, 32 - prefix4.len - o)): nonzero only while the IPv4
// suffix still has bits left over after the embedded EA bits are removed.
func (m MappingRule) SIDLen() int {
	suffix := m.SuffixLen()
	if suffix <= int(m.O) {
		return 0
	}
	return suffix - int(m.O)
}

// PlateausMax bounds the number of plateaus in an MtuPlateaus list.
const PlateausMax = 16

// MtuPlateaus is an ordered, strictly decreasing, nonzero list of candidate
// MTUs used for ICMPv6 Packet-Too-Big emulation.
type MtuPlateaus struct {
	Values []uint16
}
