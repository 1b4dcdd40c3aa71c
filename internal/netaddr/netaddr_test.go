package netaddr_test

import (
	"errors"
	"testing"

	"github.com/n64lab/nat64d/internal/netaddr"
)

func TestParsePrefix4(t *testing.T) {
	t.Parallel()

	p, err := netaddr.ParsePrefix4("192.0.2.0/24")
	if err != nil {
		t.Fatalf("ParsePrefix4: unexpected error: %v", err)
	}
	if got, want := p.String(), "192.0.2.0/24"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestParsePrefix4RejectsIPv6(t *testing.T) {
	t.Parallel()

	_, err := netaddr.ParsePrefix4("2001:db8::/32")
	if !errors.Is(err, netaddr.ErrNotIPv4) {
		t.Fatalf("got %v, want ErrNotIPv4", err)
	}
}

func TestParsePrefix6(t *testing.T) {
	t.Parallel()

	p, err := netaddr.ParsePrefix6("64:ff9b::/96")
	if err != nil {
		t.Fatalf("ParsePrefix6: unexpected error: %v", err)
	}
	if got, want := p.String(), "64:ff9b::/96"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestParsePrefix6RejectsIPv4(t *testing.T) {
	t.Parallel()

	_, err := netaddr.ParsePrefix6("192.0.2.0/24")
	if !errors.Is(err, netaddr.ErrNotIPv6) {
		t.Fatalf("got %v, want ErrNotIPv6", err)
	}
}

func TestPrefix4Equal(t *testing.T) {
	t.Parallel()

	p4, err := netaddr.ParsePrefix4("192.0.2.0/24")
	if err != nil {
		t.Fatalf("ParsePrefix4: %v", err)
	}
	other, err := netaddr.ParsePrefix4("192.0.2.0/24")
	if err != nil {
		t.Fatalf("ParsePrefix4: %v", err)
	}
	if !p4.Equal(other) {
		t.Fatal("expected equal prefixes to compare equal")
	}
}
