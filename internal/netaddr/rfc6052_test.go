package netaddr_test

import (
	"net/netip"
	"testing"

	"github.com/n64lab/nat64d/internal/netaddr"
)

func TestRFC6052To6_96(t *testing.T) {
	t.Parallel()

	prefix := netaddr.Prefix6{Addr: netip.MustParseAddr("64:ff9b::"), Len: 96}
	got, err := netaddr.RFC6052To6(prefix, netip.MustParseAddr("203.0.113.1"))
	if err != nil {
		t.Fatalf("RFC6052To6: unexpected error: %v", err)
	}

	want := netip.MustParseAddr("64:ff9b::203.0.113.1")
	if got != want {
		t.Fatalf("RFC6052To6 = %s, want %s", got, want)
	}
}

func TestRFC6052To6_32(t *testing.T) {
	t.Parallel()

	prefix := netaddr.Prefix6{Addr: netip.MustParseAddr("2001:db8::"), Len: 32}
	got, err := netaddr.RFC6052To6(prefix, netip.MustParseAddr("192.0.2.33"))
	if err != nil {
		t.Fatalf("RFC6052To6: unexpected error: %v", err)
	}

	// PL=32: prefix (4 bytes) + v4 (4 bytes) + u(0) + suffix(0).
	want := netip.MustParseAddr("2001:db8:c000:221::")
	if got != want {
		t.Fatalf("RFC6052To6 = %s, want %s", got, want)
	}
}

func TestRFC6052To6_SupportedLength40(t *testing.T) {
	t.Parallel()

	prefix := netaddr.Prefix6{Addr: netip.MustParseAddr("2001:db8::"), Len: 40}
	_, err := netaddr.RFC6052To6(prefix, netip.MustParseAddr("192.0.2.1"))
	if err != nil {
		t.Fatalf("unexpected error for supported length 40: %v", err)
	}
}

func TestRFC6052To6_RejectsNonV4(t *testing.T) {
	t.Parallel()

	prefix := netaddr.Prefix6{Addr: netip.MustParseAddr("64:ff9b::"), Len: 96}
	_, err := netaddr.RFC6052To6(prefix, netip.MustParseAddr("::1"))
	if err == nil {
		t.Fatal("expected error for non-IPv4 address, got nil")
	}
}

func TestPrefix4Contains(t *testing.T) {
	t.Parallel()

	p := netaddr.Prefix4{Addr: netip.MustParseAddr("192.0.2.0"), Len: 24}
	if !p.Contains(netip.MustParseAddr("192.0.2.17")) {
		t.Error("expected 192.0.2.17 to be contained in 192.0.2.0/24")
	}
	if p.Contains(netip.MustParseAddr("192.0.3.1")) {
		t.Error("expected 192.0.3.1 to NOT be contained in 192.0.2.0/24")
	}
}

func TestL4ProtoValidate(t *testing.T) {
	t.Parallel()

	for _, p := range []netaddr.L4Proto{netaddr.ProtoUDP, netaddr.ProtoTCP, netaddr.ProtoICMP} {
		if err := p.Validate(); err != nil {
			t.Errorf("Validate(%s): unexpected error: %v", p, err)
		}
	}

	if err := netaddr.L4Proto(99).Validate(); err == nil {
		t.Error("expected error for invalid protocol value 99")
	}
}
