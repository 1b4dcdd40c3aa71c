// Package bgphealth integrates the translator with GoBGP via its gRPC
// API: when a joold replication peer degrades, the corresponding BGP
// peer is administratively disabled so routes toward this instance are
// withdrawn before its session table falls out of sync; it is
// re-enabled once replication recovers.
package bgphealth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apipb "github.com/osrg/gobgp/v3/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client abstracts the GoBGP gRPC operations the Handler needs, so tests
// can run without a live GoBGP instance.
type Client interface {
	// DisablePeer administratively disables a BGP peer by address.
	DisablePeer(ctx context.Context, addr string, communication string) error
	// EnablePeer administratively enables a previously disabled BGP peer.
	EnablePeer(ctx context.Context, addr string) error
	// Close releases the underlying gRPC connection.
	Close() error
}

var (
	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("bgphealth: gobgp client is closed")
	// ErrDialFailed indicates the gRPC dial to GoBGP failed.
	ErrDialFailed = errors.New("bgphealth: gobgp gRPC dial failed")
)

// GRPCClient connects to GoBGP's gRPC API and implements Client.
//
// The connection uses insecure credentials because GoBGP's API is
// typically reached on localhost alongside the translator daemon.
type GRPCClient struct {
	conn   *grpc.ClientConn
	api    apipb.GobgpApiClient
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// GRPCClientConfig holds connection parameters for the GoBGP gRPC client.
type GRPCClientConfig struct {
	// Addr is the GoBGP gRPC listen address (e.g. "127.0.0.1:50051").
	Addr string
	// DialTimeout is not read by NewGRPCClient, which connects lazily;
	// each RPC is bounded only by the caller's context deadline.
	DialTimeout time.Duration
}

// NewGRPCClient creates a client and lazily connects to cfg.Addr;
// connectivity is verified on the first RPC, not at construction time.
func NewGRPCClient(cfg GRPCClientConfig, logger *slog.Logger) (*GRPCClient, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("create gobgp client: %w: empty address", ErrDialFailed)
	}

	conn, err := grpc.NewClient(
		cfg.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("create gobgp client to %s: %w: %w", cfg.Addr, ErrDialFailed, err)
	}

	client := &GRPCClient{
		conn: conn,
		api:  apipb.NewGobgpApiClient(conn),
		logger: logger.With(
			slog.String("component", "bgphealth.client"),
			slog.String("addr", cfg.Addr),
		),
	}

	client.logger.Info("gobgp gRPC client created", slog.String("target", cfg.Addr))
	return client, nil
}

// DisablePeer disables a BGP peer by address with an administrative reason.
func (c *GRPCClient) DisablePeer(ctx context.Context, addr string, communication string) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("disable peer %s: %w", addr, ErrClientClosed)
	}
	c.mu.RUnlock()

	_, err := c.api.DisablePeer(ctx, &apipb.DisablePeerRequest{
		Address:       addr,
		Communication: communication,
	})
	if err != nil {
		return fmt.Errorf("disable peer %s: %w", addr, err)
	}

	c.logger.Info("disabled BGP peer", slog.String("peer", addr), slog.String("reason", communication))
	return nil
}

// EnablePeer enables a previously disabled BGP peer by address.
func (c *GRPCClient) EnablePeer(ctx context.Context, addr string) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("enable peer %s: %w", addr, ErrClientClosed)
	}
	c.mu.RUnlock()

	_, err := c.api.EnablePeer(ctx, &apipb.EnablePeerRequest{Address: addr})
	if err != nil {
		return fmt.Errorf("enable peer %s: %w", addr, err)
	}

	c.logger.Info("enabled BGP peer", slog.String("peer", addr))
	return nil
}

// Close releases the underlying gRPC connection. After Close, all
// methods return ErrClientClosed.
func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close gobgp client: %w", err)
	}

	c.logger.Info("gobgp gRPC client closed")
	return nil
}
