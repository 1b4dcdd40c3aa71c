// Package pool4 implements the concurrent IPv4 transport-address
// allocator: a pool of enrolled addresses, each carrying independent
// (protocol, parity, range) port sections with RFC 6056-style 2-step
// parity-preserving allocation and FIFO reuse of returned ports.
//
// The allocator is guarded by a single coarse mutex, grounded directly
// on the original kernel module's single spinlock-guarded address list
// (mod/pool4.c) — every public method takes the lock for its entire
// duration and releases it on every exit path, matching the original's
// "no cooperative suspension inside the guard" discipline even though Go
// has no interrupt context to honor.
package pool4

import (
	"container/list"
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"github.com/n64lab/nat64d/internal/netaddr"
)

// Sentinel errors, mirroring the original's enum error_code taxonomy.
var (
	// ErrNullAddress indicates an invalid (zero-value) address was passed
	// where a concrete address is required.
	ErrNullAddress = errors.New("pool4: null address")
	// ErrDuplicateAddress indicates Register was called with an address
	// already enrolled in the pool.
	ErrDuplicateAddress = errors.New("pool4: address already registered")
	// ErrNotFound indicates the requested address is not enrolled.
	ErrNotFound = errors.New("pool4: address not found")
	// ErrEmpty indicates the pool has no enrolled addresses.
	ErrEmpty = errors.New("pool4: pool is empty")
	// ErrInvalidSection indicates an unsupported L4 protocol was supplied.
	ErrInvalidSection = errors.New("pool4: invalid section")
)

// portLowMax and portHighMax are the upper bounds (inclusive) of the
// low (well-known) and high (ephemeral) port ranges.
const (
	portLowMax  = 1023
	portHighMax = 65535
)

// section is one of the four (parity, range) port buckets within a
// protocol's allocation state for one address.
type section struct {
	nextPort  uint32
	maxPort   uint32
	freePorts *list.List // FIFO queue of uint16, front = oldest return
}

func newSection(next, max uint32) *section {
	return &section{nextPort: next, maxPort: max, freePorts: list.New()}
}

// extract implements Section.extract: FIFO reuse first, else the next
// never-issued port in the 2-step parity ladder.
func (s *section) extract() (uint16, bool) {
	if front := s.freePorts.Front(); front != nil {
		s.freePorts.Remove(front)
		return front.Value.(uint16), true
	}
	if s.nextPort > s.maxPort {
		return 0, false
	}
	port := uint16(s.nextPort)
	s.nextPort += 2
	return port, true
}

// ret appends port to the tail of the free list (FIFO order preserved).
func (s *section) ret(port uint16) {
	s.freePorts.PushBack(port)
}

// protocolSections holds the four sections for one protocol on one
// address.
type protocolSections struct {
	oddLow, evenLow, oddHigh, evenHigh *section
}

func newProtocolSections() *protocolSections {
	return &protocolSections{
		oddLow:   newSection(1, portLowMax),
		evenLow:  newSection(0, portLowMax-1),
		oddHigh:  newSection(1025, portHighMax),
		evenHigh: newSection(1024, portHighMax-1),
	}
}

// sectionFor selects the (parity, range) bucket matching port, per the
// original's get_section.
func (p *protocolSections) sectionFor(port uint16) *section {
	if port < 1024 {
		if port%2 == 0 {
			return p.evenLow
		}
		return p.oddLow
	}
	if port%2 == 0 {
		return p.evenHigh
	}
	return p.oddHigh
}

// poolAddress is one enrolled IPv4 address and its per-protocol port
// sections.
type poolAddress struct {
	addr           netip.Addr
	udp, tcp, icmp *protocolSections
}

func newPoolAddress(addr netip.Addr) *poolAddress {
	return &poolAddress{
		addr: addr,
		udp:  newProtocolSections(),
		tcp:  newProtocolSections(),
		icmp: newProtocolSections(),
	}
}

func (n *poolAddress) sectionsFor(proto netaddr.L4Proto) (*protocolSections, error) {
	switch proto {
	case netaddr.ProtoUDP:
		return n.udp, nil
	case netaddr.ProtoTCP:
		return n.tcp, nil
	case netaddr.ProtoICMP:
		return n.icmp, nil
	default:
		return nil, fmt.Errorf("%w: unsupported protocol %s", ErrInvalidSection, proto)
	}
}

// Pool is the concurrent (address, port) allocator. The zero value is
// not ready for use; construct with New.
type Pool struct {
	mu    sync.Mutex
	addrs *list.List // ordered list of *poolAddress, tail-insertion
}

// New returns an empty Pool.
func New() *Pool {
	return &Pool{addrs: list.New()}
}

// findLocked returns the *list.Element holding addr, or nil. Caller must
// hold p.mu.
func (p *Pool) findLocked(addr netip.Addr) *list.Element {
	for e := p.addrs.Front(); e != nil; e = e.Next() {
		if e.Value.(*poolAddress).addr == addr {
			return e
		}
	}
	return nil
}

// Register enrolls addr at the tail of the pool with all twelve sections
// (3 protocols x 4 sections) freshly initialized. Returns
// ErrDuplicateAddress if addr is already enrolled.
func (p *Pool) Register(addr netip.Addr) error {
	if !addr.IsValid() {
		return ErrNullAddress
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.findLocked(addr) != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateAddress, addr)
	}
	p.addrs.PushBack(newPoolAddress(addr))
	return nil
}

// Unregister removes addr and its sections (and all pending free-list
// entries) from the pool.
func (p *Pool) Unregister(addr netip.Addr) error {
	if !addr.IsValid() {
		return ErrNullAddress
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.findLocked(addr)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	p.addrs.Remove(e)
	return nil
}

// Contains reports whether addr is currently enrolled.
func (p *Pool) Contains(addr netip.Addr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.findLocked(addr) != nil
}

// Snapshot returns the enrolled addresses in insertion order, as of the
// instant the lock was held.
func (p *Pool) Snapshot() []netip.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]netip.Addr, 0, p.addrs.Len())
	for e := p.addrs.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*poolAddress).addr)
	}
	return out
}

// GetAny scans enrolled addresses in insertion order and returns the
// first (address, port) an extract succeeds for, selecting the section
// by (parity, range) of hintPort — hintPort only steers section
// selection, never the port actually returned. ok is false if the pool
// is empty or every address's matching section is exhausted.
func (p *Pool) GetAny(proto netaddr.L4Proto, hintPort uint16) (netaddr.TransportAddr4, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.addrs.Len() == 0 {
		return netaddr.TransportAddr4{}, false, ErrEmpty
	}

	for e := p.addrs.Front(); e != nil; e = e.Next() {
		node := e.Value.(*poolAddress)
		sections, err := node.sectionsFor(proto)
		if err != nil {
			return netaddr.TransportAddr4{}, false, err
		}
		sec := sections.sectionFor(hintPort)
		if port, ok := sec.extract(); ok {
			return netaddr.TransportAddr4{Addr: node.addr, Port: port}, true, nil
		}
	}
	return netaddr.TransportAddr4{}, false, nil
}

// GetSimilar locates the enrolled address equal to taddr.Addr and
// attempts an extract on the section matching taddr.Port, returning a
// new port on the same address.
func (p *Pool) GetSimilar(proto netaddr.L4Proto, taddr netaddr.TransportAddr4) (netaddr.TransportAddr4, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.findLocked(taddr.Addr)
	if e == nil {
		return netaddr.TransportAddr4{}, false, fmt.Errorf("%w: %s", ErrNotFound, taddr.Addr)
	}
	node := e.Value.(*poolAddress)
	sections, err := node.sectionsFor(proto)
	if err != nil {
		return netaddr.TransportAddr4{}, false, err
	}
	sec := sections.sectionFor(taddr.Port)
	port, ok := sec.extract()
	if !ok {
		return netaddr.TransportAddr4{}, false, nil
	}
	return netaddr.TransportAddr4{Addr: node.addr, Port: port}, true, nil
}

// ReturnPort appends taddr.Port to the tail of its section's free list
// for reuse. No deduplication is performed: the caller must not return
// the same (proto, taddr) more than once per allocation.
func (p *Pool) ReturnPort(proto netaddr.L4Proto, taddr netaddr.TransportAddr4) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.findLocked(taddr.Addr)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, taddr.Addr)
	}
	node := e.Value.(*poolAddress)
	sections, err := node.sectionsFor(proto)
	if err != nil {
		return err
	}
	sections.sectionFor(taddr.Port).ret(taddr.Port)
	return nil
}
