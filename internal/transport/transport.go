// Package transport carries control.Frame-encoded bytes (administrative
// operations and joold replication payloads) over UDP, grounded on the
// teacher's internal/netio listener/sender pair. Replication traffic may
// be sent either unicast to a specific peer or multicast to a configured
// joold group, mirroring nl-joold.c's support for both transport modes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// MaxFrameSize bounds a single UDP datagram carrying a control.Frame. It
// comfortably fits the largest expected payload (a full pool4 listing or
// a batch of sessionwire-encoded sessions); on a standard 1500-byte-MTU
// path a datagram this large is fragmented at the IP layer. Recv rejects any datagram
// larger than this before it reaches control.Dispatch.
const MaxFrameSize = 16384

// ErrSocketClosed indicates an operation on a Transport that has already
// been closed.
var ErrSocketClosed = errors.New("transport: socket closed")

// ErrNotMulticastCapable indicates SendMulticast was called on a
// Transport configured without a multicast group.
var ErrNotMulticastCapable = errors.New("transport: no multicast group configured")

// ErrFrameTooLarge indicates a received datagram exceeded MaxFrameSize
// and was discarded before being handed to a caller.
var ErrFrameTooLarge = errors.New("transport: datagram exceeds MaxFrameSize")

// Config configures a Transport's local socket and, optionally, the
// multicast group it joins for joold replication traffic.
type Config struct {
	// LocalAddr is the address to bind the UDP socket to.
	LocalAddr netip.Addr

	// Port is the local UDP port the socket listens on.
	Port uint16

	// IfName is the interface used for multicast group membership; the
	// socket itself is not bound to it. Required when MulticastGroup is set.
	IfName string

	// MulticastGroup is the joold replication multicast group to join.
	// Leave unset (zero Addr) for unicast-only operation.
	MulticastGroup netip.Addr
}

// Received is one inbound datagram and the peer it arrived from.
type Received struct {
	Data []byte
	Peer netip.AddrPort
}

// Transport is a UDP packet pipe for control-frame traffic. It is safe
// for concurrent use: one goroutine typically calls Recv in a loop while
// others call Send/SendMulticast.
type Transport struct {
	conn   *net.UDPConn
	group  netip.Addr
	ifName string
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
	pconn4 *ipv4.PacketConn
	pconn6 *ipv6.PacketConn
	isIPv6 bool
}

// New binds a Transport's UDP socket per cfg and, if cfg.MulticastGroup
// is set, joins that multicast group on cfg.IfName.
func New(cfg Config, logger *slog.Logger) (*Transport, error) {
	laddr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(cfg.LocalAddr, cfg.Port))

	conn, err := net.ListenUDP(udpNetwork(cfg.LocalAddr), laddr)
	if err != nil {
		return nil, fmt.Errorf("listen UDP %s: %w", laddr, err)
	}

	t := &Transport{
		conn:   conn,
		group:  cfg.MulticastGroup,
		ifName: cfg.IfName,
		isIPv6: cfg.LocalAddr.Is6() && !cfg.LocalAddr.Is4In6(),
		logger: logger.With(slog.String("component", "transport"), slog.String("local", laddr.String())),
	}

	if cfg.MulticastGroup.IsValid() {
		if err := t.joinGroup(cfg.MulticastGroup, cfg.IfName); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("join multicast group %s on %s: %w", cfg.MulticastGroup, cfg.IfName, err)
		}
	}

	return t, nil
}

func udpNetwork(addr netip.Addr) string {
	if addr.Is6() && !addr.Is4In6() {
		return "udp6"
	}
	return "udp4"
}

// joinGroup joins the given multicast group on the named interface,
// recording the packet-conn wrapper so Rejoin can repeat this after an
// interface flap.
func (t *Transport) joinGroup(group netip.Addr, ifName string) error {
	iface, err := net.InterfaceByName(ifName)
	if err != nil {
		return fmt.Errorf("lookup interface %s: %w", ifName, err)
	}

	groupAddr := &net.UDPAddr{IP: net.IP(group.AsSlice())}

	if t.isIPv6 {
		pconn := ipv6.NewPacketConn(t.conn)
		if err := pconn.JoinGroup(iface, groupAddr); err != nil {
			return fmt.Errorf("ipv6 join group: %w", err)
		}
		t.pconn6 = pconn
		return nil
	}

	pconn := ipv4.NewPacketConn(t.conn)
	if err := pconn.JoinGroup(iface, groupAddr); err != nil {
		return fmt.Errorf("ipv4 join group: %w", err)
	}
	t.pconn4 = pconn
	return nil
}

// Rejoin re-joins the configured multicast group, intended to be called
// after an InterfaceEvent reports the bound interface came back up
// (adapted from the teacher's ifmon-driven session reset).
func (t *Transport) Rejoin() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrSocketClosed
	}
	if !t.group.IsValid() {
		return ErrNotMulticastCapable
	}
	return t.joinGroup(t.group, t.ifName)
}

// Send transmits buf unicast to dst.
func (t *Transport) Send(_ context.Context, buf []byte, dst netip.AddrPort) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrSocketClosed
	}
	t.mu.Unlock()

	if _, err := t.conn.WriteToUDPAddrPort(buf, dst); err != nil {
		return fmt.Errorf("send to %s: %w", dst, err)
	}
	return nil
}

// SendMulticast transmits buf to the configured multicast group.
func (t *Transport) SendMulticast(_ context.Context, buf []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrSocketClosed
	}
	t.mu.Unlock()

	if !t.group.IsValid() {
		return ErrNotMulticastCapable
	}

	dst := netip.AddrPortFrom(t.group, t.localPort())
	if _, err := t.conn.WriteToUDPAddrPort(buf, dst); err != nil {
		return fmt.Errorf("send to multicast group %s: %w", t.group, err)
	}
	return nil
}

// LocalAddr returns the address and port the Transport's socket is
// bound to.
func (t *Transport) LocalAddr() netip.AddrPort {
	if addr, ok := t.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.AddrPort()
	}
	return netip.AddrPort{}
}

func (t *Transport) localPort() uint16 {
	if addr, ok := t.conn.LocalAddr().(*net.UDPAddr); ok {
		return uint16(addr.Port)
	}
	return 0
}

// Recv blocks until a datagram arrives, ctx is cancelled, or the
// Transport is closed.
func (t *Transport) Recv(ctx context.Context) (Received, error) {
	type result struct {
		r   Received
		err error
	}
	done := make(chan result, 1)

	go func() {
		buf := make([]byte, MaxFrameSize+1)
		n, peer, err := t.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			done <- result{err: fmt.Errorf("recv: %w", err)}
			return
		}
		if n > MaxFrameSize {
			done <- result{err: fmt.Errorf("recv from %s: %w: got %d bytes, want at most %d", peer, ErrFrameTooLarge, n, MaxFrameSize)}
			return
		}
		done <- result{r: Received{Data: buf[:n], Peer: peer}}
	}()

	select {
	case <-ctx.Done():
		return Received{}, ctx.Err()
	case res := <-done:
		return res.r, res.err
	}
}

// Close releases the underlying socket.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if err := t.conn.Close(); err != nil {
		return fmt.Errorf("close transport socket: %w", err)
	}
	return nil
}
