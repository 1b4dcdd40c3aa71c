package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/n64lab/nat64d/internal/config"
	"github.com/n64lab/nat64d/internal/pool4"
	"github.com/n64lab/nat64d/internal/sessionwire"
	"github.com/n64lab/nat64d/internal/transport"
)

// seedPool4 registers every address named by the configured pool4 ranges.
// Iterations bounds how many addresses of each prefix are enrolled; a
// zero value enrolls the whole prefix.
func seedPool4(p4 *pool4.Pool, cfg *config.Config, logger *slog.Logger) error {
	for i, rc := range cfg.Pool4 {
		entry, err := rc.ToModel()
		if err != nil {
			return fmt.Errorf("pool4[%d]: %w", i, err)
		}

		addrs := prefixAddrs(entry.Prefix.Addr, entry.Prefix.Len, entry.Iterations)
		for _, addr := range addrs {
			if err := p4.Register(addr); err != nil && !errors.Is(err, pool4.ErrDuplicateAddress) {
				return fmt.Errorf("pool4[%d]: register %s: %w", i, addr, err)
			}
		}

		logger.Info("pool4 range registered",
			slog.String("prefix", entry.Prefix.String()),
			slog.String("proto", entry.Proto.String()),
			slog.Int("addresses", len(addrs)),
		)
	}
	return nil
}

// prefixAddrs enumerates up to max addresses covered by a prefix (all of
// them when max is 0), used to seed pool4 from a CIDR range.
func prefixAddrs(base netip.Addr, bits uint8, max uint32) []netip.Addr {
	prefix := netip.PrefixFrom(base, int(bits))
	addr := prefix.Masked().Addr()

	var out []netip.Addr
	for prefix.Contains(addr) {
		out = append(out, addr)
		if max != 0 && uint32(len(out)) >= max {
			break
		}
		next, ok := nextAddr(addr)
		if !ok {
			break
		}
		addr = next
	}
	return out
}

// nextAddr returns the IPv4 address one past addr, or ok=false on
// overflow past 255.255.255.255.
func nextAddr(addr netip.Addr) (netip.Addr, bool) {
	b := addr.As4()
	for i := 3; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return netip.AddrFrom4(b), true
		}
		b[i] = 0
	}
	return netip.Addr{}, false
}

// sessionwireTimeouts converts config.JooldConfig's timeout fields to a
// sessionwire.Timeouts, copying each field unchanged (a zero field stays
// zero; defaults come from config.DefaultConfig).
func sessionwireTimeouts(cfg config.JooldConfig) sessionwire.Timeouts {
	return sessionwire.Timeouts{
		TCPEstablished: cfg.TCPEstablished,
		TCPTransitory:  cfg.TCPTransitory,
		UDP:            cfg.UDP,
		ICMP:           cfg.ICMP,
	}
}

// newReplicationTransport builds the joold replication Transport from the
// daemon's transport configuration.
func newReplicationTransport(cfg config.TransportConfig, logger *slog.Logger) (*transport.Transport, error) {
	localAddr, err := netip.ParseAddr(cfg.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("parse transport local_addr %q: %w", cfg.LocalAddr, err)
	}

	tcfg := transport.Config{
		LocalAddr: localAddr,
		Port:      cfg.Port,
		IfName:    cfg.IfName,
	}
	if cfg.MulticastGroup != "" {
		group, err := netip.ParseAddr(cfg.MulticastGroup)
		if err != nil {
			return nil, fmt.Errorf("parse transport multicast_group %q: %w", cfg.MulticastGroup, err)
		}
		tcfg.MulticastGroup = group
	}

	return transport.New(tcfg, logger)
}

// newControlTransport builds the administrative control-frame listener.
// addr is a "host:port" string (e.g. ":7878"); an empty host binds to
// the IPv4 unspecified address, matching net.Listen's convention.
func newControlTransport(addr string, logger *slog.Logger) (*transport.Transport, error) {
	ap, err := netip.ParseAddrPort(withExplicitHost(addr))
	if err != nil {
		return nil, fmt.Errorf("parse control addr %q: %w", addr, err)
	}
	return transport.New(transport.Config{LocalAddr: ap.Addr(), Port: ap.Port()}, logger)
}

// withExplicitHost rewrites a bare ":port" address to "0.0.0.0:port", the
// form netip.ParseAddrPort requires.
func withExplicitHost(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "0.0.0.0" + addr
	}
	return addr
}
