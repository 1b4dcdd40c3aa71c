package transport_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/n64lab/nat64d/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendRecvUnicastRoundTrip(t *testing.T) {
	t.Parallel()

	server, err := transport.New(transport.Config{LocalAddr: netip.MustParseAddr("127.0.0.1")}, discardLogger())
	if err != nil {
		t.Fatalf("New(server): %v", err)
	}
	defer server.Close()

	client, err := transport.New(transport.Config{LocalAddr: netip.MustParseAddr("127.0.0.1")}, discardLogger())
	if err != nil {
		t.Fatalf("New(client): %v", err)
	}
	defer client.Close()

	serverAddr := server.LocalAddr()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	recvCh := make(chan transport.Received, 1)
	errCh := make(chan error, 1)
	go func() {
		r, err := server.Recv(ctx)
		if err != nil {
			errCh <- err
			return
		}
		recvCh <- r
	}()

	if err := client.Send(ctx, []byte("hello"), serverAddr); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case r := <-recvCh:
		if string(r.Data) != "hello" {
			t.Fatalf("got %q, want %q", r.Data, "hello")
		}
	case err := <-errCh:
		t.Fatalf("Recv: %v", err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for datagram")
	}
}

func TestSendMulticastWithoutGroupRejected(t *testing.T) {
	t.Parallel()

	tr, err := transport.New(transport.Config{LocalAddr: netip.MustParseAddr("127.0.0.1")}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tr.Close()

	err = tr.SendMulticast(context.Background(), []byte("x"))
	if !errors.Is(err, transport.ErrNotMulticastCapable) {
		t.Fatalf("got %v, want ErrNotMulticastCapable", err)
	}
}

func TestRejoinWithoutGroupRejected(t *testing.T) {
	t.Parallel()

	tr, err := transport.New(transport.Config{LocalAddr: netip.MustParseAddr("127.0.0.1")}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tr.Close()

	if err := tr.Rejoin(); !errors.Is(err, transport.ErrNotMulticastCapable) {
		t.Fatalf("got %v, want ErrNotMulticastCapable", err)
	}
}

func TestRecvRejectsOversizedDatagram(t *testing.T) {
	t.Parallel()

	server, err := transport.New(transport.Config{LocalAddr: netip.MustParseAddr("127.0.0.1")}, discardLogger())
	if err != nil {
		t.Fatalf("New(server): %v", err)
	}
	defer server.Close()

	client, err := transport.New(transport.Config{LocalAddr: netip.MustParseAddr("127.0.0.1")}, discardLogger())
	if err != nil {
		t.Fatalf("New(client): %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	oversized := make([]byte, transport.MaxFrameSize+1)
	if err := client.Send(ctx, oversized, server.LocalAddr()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	_, err = server.Recv(ctx)
	if !errors.Is(err, transport.ErrFrameTooLarge) {
		t.Fatalf("got %v, want ErrFrameTooLarge", err)
	}
}

func TestOperationsAfterCloseFail(t *testing.T) {
	t.Parallel()

	tr, err := transport.New(transport.Config{LocalAddr: netip.MustParseAddr("127.0.0.1")}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Closing twice is a no-op.
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	err = tr.Send(context.Background(), []byte("x"), netip.MustParseAddrPort("127.0.0.1:9"))
	if !errors.Is(err, transport.ErrSocketClosed) {
		t.Fatalf("got %v, want ErrSocketClosed", err)
	}
}
