// Package netaddr implements address/prefix/transport-address parsing and
// formatting for the NAT64 control plane: IPv4 and IPv6 addresses, CIDR
// prefixes, (address, port) transport addresses, and the L4 protocol
// enumeration used throughout pool4, the attribute codec, and the session
// wire format.
package netaddr

import (
	"errors"
	"fmt"
	"net/netip"
)

// L4Proto identifies the transport protocol a pool4/BIB/session entry
// belongs to. ICMPv4 and ICMPv6 collapse to a single ICMP bucket, matching
// the original kernel module's treatment of IPPROTO_ICMP/IPPROTO_ICMPV6.
type L4Proto uint8

const (
	// ProtoUDP identifies UDP entries.
	ProtoUDP L4Proto = iota
	// ProtoTCP identifies TCP entries.
	ProtoTCP
	// ProtoICMP identifies ICMP entries (both ICMPv4 and ICMPv6).
	ProtoICMP
)

// protoNames maps protocol values to human-readable strings.
var protoNames = [...]string{"UDP", "TCP", "ICMP"}

// String returns the human-readable name for the protocol.
func (p L4Proto) String() string {
	if int(p) < len(protoNames) {
		return protoNames[p]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(p))
}

// ErrInvalidProtocol indicates an L4Proto value outside {UDP, TCP, ICMP}.
var ErrInvalidProtocol = errors.New("invalid L4 protocol")

// Validate reports whether p is one of the three known protocols.
func (p L4Proto) Validate() error {
	switch p {
	case ProtoUDP, ProtoTCP, ProtoICMP:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrInvalidProtocol, uint8(p))
	}
}

// -------------------------------------------------------------------------
// Prefix4 / Prefix6
// -------------------------------------------------------------------------

// Prefix4 is an IPv4 address plus a prefix length (0-32).
type Prefix4 struct {
	Addr netip.Addr
	Len  uint8
}

// Prefix6 is an IPv6 address plus a prefix length (0-128).
type Prefix6 struct {
	Addr netip.Addr
	Len  uint8
}

// ErrNotIPv4 indicates a parsed prefix's address is not an IPv4 address.
var ErrNotIPv4 = errors.New("not an IPv4 prefix")

// ErrNotIPv6 indicates a parsed prefix's address is not an IPv6 address.
var ErrNotIPv6 = errors.New("not an IPv6 prefix")

// ParsePrefix4 parses s (CIDR notation, e.g. "192.0.2.0/24") as a Prefix4.
func ParsePrefix4(s string) (Prefix4, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return Prefix4{}, fmt.Errorf("parse prefix4 %q: %w", s, err)
	}
	if !p.Addr().Is4() {
		return Prefix4{}, fmt.Errorf("parse prefix4 %q: %w", s, ErrNotIPv4)
	}
	return Prefix4{Addr: p.Addr(), Len: uint8(p.Bits())}, nil
}

// ParsePrefix6 parses s (CIDR notation, e.g. "2001:db8::/32") as a Prefix6.
func ParsePrefix6(s string) (Prefix6, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return Prefix6{}, fmt.Errorf("parse prefix6 %q: %w", s, err)
	}
	if !p.Addr().Is6() || p.Addr().Is4In6() {
		return Prefix6{}, fmt.Errorf("parse prefix6 %q: %w", s, ErrNotIPv6)
	}
	return Prefix6{Addr: p.Addr(), Len: uint8(p.Bits())}, nil
}

// String renders the prefix in CIDR notation.
func (p Prefix4) String() string {
	return fmt.Sprintf("%s/%d", p.Addr, p.Len)
}

// String renders the prefix in CIDR notation.
func (p Prefix6) String() string {
	return fmt.Sprintf("%s/%d", p.Addr, p.Len)
}

// Contains reports whether addr falls within the prefix, ignoring any host
// bits set on the prefix's own address (comparison is always against the
// masked network address, per spec.md §3: "host bits below the mask are
// implicitly zero for comparison").
func (p Prefix4) Contains(addr netip.Addr) bool {
	network := maskAddr4(p.Addr, p.Len)
	return maskAddr4(addr, p.Len) == network
}

// Contains reports whether addr falls within the prefix.
func (p Prefix6) Contains(addr netip.Addr) bool {
	network := maskAddr6(p.Addr, p.Len)
	return maskAddr6(addr, p.Len) == network
}

// Equal reports whether two prefixes denote the same masked network.
func (p Prefix4) Equal(o Prefix4) bool {
	return p.Len == o.Len && maskAddr4(p.Addr, p.Len) == maskAddr4(o.Addr, o.Len)
}

// Equal reports whether two prefixes denote the same masked network.
func (p Prefix6) Equal(o Prefix6) bool {
	return p.Len == o.Len && maskAddr6(p.Addr, p.Len) == maskAddr6(o.Addr, o.Len)
}

func maskAddr4(addr netip.Addr, length uint8) netip.Addr {
	if !addr.Is4() {
		return addr
	}
	p, err := addr.Prefix(int(length))
	if err != nil {
		return addr
	}
	return p.Masked().Addr()
}

func maskAddr6(addr netip.Addr, length uint8) netip.Addr {
	if !addr.Is6() && !addr.Is4In6() {
		return addr
	}
	p, err := addr.Prefix(int(length))
	if err != nil {
		return addr
	}
	return p.Masked().Addr()
}

// -------------------------------------------------------------------------
// TransportAddr4 / TransportAddr6
// -------------------------------------------------------------------------

// TransportAddr4 is an IPv4 address plus an L4 port (or ICMP identifier).
type TransportAddr4 struct {
	Addr netip.Addr
	Port uint16
}

// TransportAddr6 is an IPv6 address plus an L4 port (or ICMP identifier).
type TransportAddr6 struct {
	Addr netip.Addr
	Port uint16
}

// String renders the transport address as "addr#port".
func (t TransportAddr4) String() string {
	return fmt.Sprintf("%s#%d", t.Addr, t.Port)
}

// String renders the transport address as "addr#port".
func (t TransportAddr6) String() string {
	return fmt.Sprintf("%s#%d", t.Addr, t.Port)
}
