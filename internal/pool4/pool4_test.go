package pool4_test

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/n64lab/nat64d/internal/netaddr"
	"github.com/n64lab/nat64d/internal/pool4"
)

func TestRegisterDuplicateRejected(t *testing.T) {
	t.Parallel()

	p := pool4.New()
	addr := netip.MustParseAddr("192.0.2.1")
	if err := p.Register(addr); err != nil {
		t.Fatalf("Register: unexpected error: %v", err)
	}
	if err := p.Register(addr); !errors.Is(err, pool4.ErrDuplicateAddress) {
		t.Fatalf("got %v, want ErrDuplicateAddress", err)
	}
}

func TestGetAnyEmptyPool(t *testing.T) {
	t.Parallel()

	p := pool4.New()
	_, ok, err := p.GetAny(netaddr.ProtoTCP, 1025)
	if ok || !errors.Is(err, pool4.ErrEmpty) {
		t.Fatalf("got ok=%v err=%v, want ok=false ErrEmpty", ok, err)
	}
}

func TestGetAnySectionSelectionByParity(t *testing.T) {
	t.Parallel()

	p := pool4.New()
	addr := netip.MustParseAddr("192.0.2.1")
	if err := p.Register(addr); err != nil {
		t.Fatalf("Register: unexpected error: %v", err)
	}

	got, ok, err := p.GetAny(netaddr.ProtoUDP, 1024) // even_high section, seed 1024
	if err != nil || !ok {
		t.Fatalf("GetAny: ok=%v err=%v", ok, err)
	}
	if got.Addr != addr || got.Port != 1024 {
		t.Fatalf("got %s, want %s#1024", got, addr)
	}

	got2, ok, err := p.GetAny(netaddr.ProtoUDP, 1024)
	if err != nil || !ok {
		t.Fatalf("GetAny second call: ok=%v err=%v", ok, err)
	}
	if got2.Port != 1026 {
		t.Fatalf("second even_high port = %d, want 1026 (2-step parity ladder)", got2.Port)
	}
}

func TestReturnPortFIFOReuse(t *testing.T) {
	t.Parallel()

	p := pool4.New()
	addr := netip.MustParseAddr("192.0.2.1")
	if err := p.Register(addr); err != nil {
		t.Fatalf("Register: unexpected error: %v", err)
	}

	first, _, _ := p.GetAny(netaddr.ProtoTCP, 1) // odd_low, port 1
	second, _, _ := p.GetAny(netaddr.ProtoTCP, 1) // port 3

	if err := p.ReturnPort(netaddr.ProtoTCP, first); err != nil {
		t.Fatalf("ReturnPort(first): unexpected error: %v", err)
	}
	if err := p.ReturnPort(netaddr.ProtoTCP, second); err != nil {
		t.Fatalf("ReturnPort(second): unexpected error: %v", err)
	}

	reuse1, ok, err := p.GetAny(netaddr.ProtoTCP, 1)
	if err != nil || !ok || reuse1 != first {
		t.Fatalf("expected FIFO reuse of first (%s), got %s ok=%v err=%v", first, reuse1, ok, err)
	}
	reuse2, ok, err := p.GetAny(netaddr.ProtoTCP, 1)
	if err != nil || !ok || reuse2 != second {
		t.Fatalf("expected FIFO reuse of second (%s), got %s ok=%v err=%v", second, reuse2, ok, err)
	}
}

func TestGetSimilarNotFound(t *testing.T) {
	t.Parallel()

	p := pool4.New()
	_, ok, err := p.GetSimilar(netaddr.ProtoTCP, netaddr.TransportAddr4{
		Addr: netip.MustParseAddr("192.0.2.1"), Port: 1025,
	})
	if ok || !errors.Is(err, pool4.ErrNotFound) {
		t.Fatalf("got ok=%v err=%v, want ErrNotFound", ok, err)
	}
}

func TestUnregisterReleasesState(t *testing.T) {
	t.Parallel()

	p := pool4.New()
	addr := netip.MustParseAddr("192.0.2.1")
	if err := p.Register(addr); err != nil {
		t.Fatalf("Register: unexpected error: %v", err)
	}
	if err := p.Unregister(addr); err != nil {
		t.Fatalf("Unregister: unexpected error: %v", err)
	}
	if p.Contains(addr) {
		t.Fatal("expected address to be gone after Unregister")
	}
	if err := p.Unregister(addr); !errors.Is(err, pool4.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound on double-unregister", err)
	}
}

func TestSnapshotPreservesInsertionOrder(t *testing.T) {
	t.Parallel()

	p := pool4.New()
	addrs := []netip.Addr{
		netip.MustParseAddr("192.0.2.3"),
		netip.MustParseAddr("192.0.2.1"),
		netip.MustParseAddr("192.0.2.2"),
	}
	for _, a := range addrs {
		if err := p.Register(a); err != nil {
			t.Fatalf("Register(%s): unexpected error: %v", a, err)
		}
	}

	got := p.Snapshot()
	if len(got) != len(addrs) {
		t.Fatalf("got %d addresses, want %d", len(got), len(addrs))
	}
	for i := range addrs {
		if got[i] != addrs[i] {
			t.Fatalf("Snapshot()[%d] = %s, want %s (insertion order)", i, got[i], addrs[i])
		}
	}
}

// TestExhaustionFallsThroughToNextAddress mirrors spec.md's scenario:
// register 192.0.2.1 then 192.0.2.2, exhaust 192.0.2.1's odd_high section
// entirely via 32,256 calls to GetAny(TCP, hint=1025) — the 32,257th call
// must yield (192.0.2.2, 1025).
func TestExhaustionFallsThroughToNextAddress(t *testing.T) {
	t.Parallel()

	p := pool4.New()
	addr1 := netip.MustParseAddr("192.0.2.1")
	addr2 := netip.MustParseAddr("192.0.2.2")
	if err := p.Register(addr1); err != nil {
		t.Fatalf("Register(addr1): unexpected error: %v", err)
	}
	if err := p.Register(addr2); err != nil {
		t.Fatalf("Register(addr2): unexpected error: %v", err)
	}

	const oddHighCount = 32256 // (65535-1025)/2 + 1
	for i := 0; i < oddHighCount; i++ {
		got, ok, err := p.GetAny(netaddr.ProtoTCP, 1025)
		if err != nil || !ok {
			t.Fatalf("call %d: ok=%v err=%v", i+1, ok, err)
		}
		if got.Addr != addr1 {
			t.Fatalf("call %d: got addr %s, want %s (addr1 not yet exhausted)", i+1, got.Addr, addr1)
		}
	}

	got, ok, err := p.GetAny(netaddr.ProtoTCP, 1025)
	if err != nil || !ok {
		t.Fatalf("overflow call: ok=%v err=%v", ok, err)
	}
	if got.Addr != addr2 || got.Port != 1025 {
		t.Fatalf("overflow call = %s, want %s#1025", got, addr2)
	}
}

func TestUnsupportedProtocolRejected(t *testing.T) {
	t.Parallel()

	p := pool4.New()
	addr := netip.MustParseAddr("192.0.2.1")
	if err := p.Register(addr); err != nil {
		t.Fatalf("Register: unexpected error: %v", err)
	}
	_, _, err := p.GetAny(netaddr.L4Proto(99), 1025)
	if !errors.Is(err, pool4.ErrInvalidSection) {
		t.Fatalf("got %v, want ErrInvalidSection", err)
	}
}
