package bgphealth_test

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/n64lab/nat64d/internal/bgphealth"
	"github.com/n64lab/nat64d/internal/joold"
)

var peerA = netip.MustParseAddrPort("10.0.0.1:6081")

func mustAddPeer(t *testing.T, r *joold.Registry, addr netip.AddrPort) {
	t.Helper()
	if err := r.AddPeer(addr); err != nil {
		t.Fatalf("AddPeer(%s): %v", addr, err)
	}
}

const (
	methodDisablePeer = "DisablePeer"
	methodEnablePeer  = "EnablePeer"
)

type mockCall struct {
	method string
	addr   string
}

type mockClient struct {
	mu    sync.Mutex
	calls []mockCall
}

func (m *mockClient) DisablePeer(_ context.Context, addr string, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockCall{method: methodDisablePeer, addr: addr})
	return nil
}

func (m *mockClient) EnablePeer(_ context.Context, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockCall{method: methodEnablePeer, addr: addr})
	return nil
}

func (m *mockClient) Close() error { return nil }

func (m *mockClient) snapshot() []mockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitForCalls(t *testing.T, client *mockClient, n int) []mockCall {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := client.snapshot(); len(calls) >= n {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d client calls, got %d", n, len(client.snapshot()))
	return nil
}

func TestHandlerDisablesBGPPeerOnDegrade(t *testing.T) {
	t.Parallel()

	client := &mockClient{}
	handler := bgphealth.NewHandler(client, map[string]string{peerA.String(): "192.0.2.1"}, discardLogger())

	registry := joold.New(1, 0, discardLogger())
	mustAddPeer(t, registry, peerA)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- handler.Run(ctx, registry.Events()) }()

	registry.MarkSyncFailed(peerA)

	calls := waitForCalls(t, client, 1)
	if calls[0].method != methodDisablePeer || calls[0].addr != "192.0.2.1" {
		t.Fatalf("got %+v, want DisablePeer(192.0.2.1)", calls[0])
	}

	cancel()
	<-done
}

func TestHandlerEnablesBGPPeerOnRecover(t *testing.T) {
	t.Parallel()

	client := &mockClient{}
	handler := bgphealth.NewHandler(client, map[string]string{peerA.String(): "192.0.2.1"}, discardLogger())

	registry := joold.New(1, 0, discardLogger())
	mustAddPeer(t, registry, peerA)
	registry.MarkSyncFailed(peerA) // degrade first, pre-Run
	<-registry.Events()            // consume the degraded event so Run sees only the recovery

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- handler.Run(ctx, registry.Events()) }()

	registry.MarkSyncOK(peerA)

	calls := waitForCalls(t, client, 1)
	if calls[0].method != methodEnablePeer || calls[0].addr != "192.0.2.1" {
		t.Fatalf("got %+v, want EnablePeer(192.0.2.1)", calls[0])
	}

	cancel()
	<-done
}

func TestHandlerIgnoresUnmappedPeer(t *testing.T) {
	t.Parallel()

	client := &mockClient{}
	handler := bgphealth.NewHandler(client, map[string]string{}, discardLogger())

	registry := joold.New(1, 0, discardLogger())
	mustAddPeer(t, registry, peerA)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- handler.Run(ctx, registry.Events()) }()

	registry.MarkSyncFailed(peerA)
	time.Sleep(50 * time.Millisecond)

	if calls := client.snapshot(); len(calls) != 0 {
		t.Fatalf("got %d calls, want 0: %+v", len(calls), calls)
	}

	cancel()
	<-done
}

func TestHandlerStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	client := &mockClient{}
	handler := bgphealth.NewHandler(client, nil, discardLogger())
	registry := joold.New(1, 0, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- handler.Run(ctx, registry.Events()) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not stop after context cancel")
	}
}
