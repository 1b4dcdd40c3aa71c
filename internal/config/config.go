// Package config manages the NAT64 daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/n64lab/nat64d/internal/model"
	"github.com/n64lab/nat64d/internal/netaddr"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete nat64d configuration.
type Config struct {
	Control   ControlConfig       `koanf:"control"`
	Transport TransportConfig     `koanf:"transport"`
	Metrics   MetricsConfig       `koanf:"metrics"`
	Log       LogConfig           `koanf:"log"`
	Pool6     string              `koanf:"pool6"`
	Pool4     []Pool4RangeConfig  `koanf:"pool4"`
	EAM       []EAMConfig         `koanf:"eam"`
	Mapping   []MappingRuleConfig `koanf:"mapping_rules"`
	Plateaus  []uint16            `koanf:"plateaus"`
	Joold     JooldConfig         `koanf:"joold"`
	BGP       BGPConfig           `koanf:"bgp"`
}

// ControlConfig holds the control-frame listener configuration.
type ControlConfig struct {
	// Addr is the UDP listen address for administrative control frames
	// (pool4 add/remove/list, session list).
	Addr string `koanf:"addr"`
}

// TransportConfig holds the joold replication transport configuration.
type TransportConfig struct {
	// LocalAddr is the address the replication socket binds to.
	LocalAddr string `koanf:"local_addr"`
	// Port is the local UDP port for replication traffic.
	Port uint16 `koanf:"port"`
	// IfName is the interface used for multicast group membership.
	IfName string `koanf:"interface"`
	// MulticastGroup is the joold multicast group address. Empty disables
	// multicast and restricts replication to configured unicast peers.
	MulticastGroup string `koanf:"multicast_group"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// Pool4RangeConfig declares one administrative pool4 range.
type Pool4RangeConfig struct {
	Mark       uint32 `koanf:"mark"`
	Iterations uint32 `koanf:"iterations"`
	Proto      string `koanf:"proto"`
	Prefix     string `koanf:"prefix"`
	PortMin    uint16 `koanf:"port_min"`
	PortMax    uint16 `koanf:"port_max"`
}

// ToModel converts c to a model.Pool4Entry, parsing Prefix and Proto.
func (c Pool4RangeConfig) ToModel() (model.Pool4Entry, error) {
	proto, err := parseProto(c.Proto)
	if err != nil {
		return model.Pool4Entry{}, err
	}
	prefix, err := netaddr.ParsePrefix4(c.Prefix)
	if err != nil {
		return model.Pool4Entry{}, fmt.Errorf("pool4 entry prefix %q: %w", c.Prefix, err)
	}
	return model.Pool4Entry{
		Mark:       c.Mark,
		Iterations: c.Iterations,
		Proto:      proto,
		Prefix:     prefix,
		PortMin:    c.PortMin,
		PortMax:    c.PortMax,
	}, nil
}

// EAMConfig declares one explicit address mapping entry.
type EAMConfig struct {
	Prefix6 string `koanf:"prefix6"`
	Prefix4 string `koanf:"prefix4"`
}

// ToModel converts c to a model.EamtEntry.
func (c EAMConfig) ToModel() (model.EamtEntry, error) {
	p6, err := netaddr.ParsePrefix6(c.Prefix6)
	if err != nil {
		return model.EamtEntry{}, fmt.Errorf("eam entry prefix6 %q: %w", c.Prefix6, err)
	}
	p4, err := netaddr.ParsePrefix4(c.Prefix4)
	if err != nil {
		return model.EamtEntry{}, fmt.Errorf("eam entry prefix4 %q: %w", c.Prefix4, err)
	}
	return model.EamtEntry{Prefix6: p6, Prefix4: p4}, nil
}

// MappingRuleConfig declares one MAP-E/MAP-T mapping rule.
type MappingRuleConfig struct {
	Prefix6 string `koanf:"prefix6"`
	Prefix4 string `koanf:"prefix4"`
	O       uint8  `koanf:"o"`
	A       uint8  `koanf:"a"`
}

// ToModel converts c to a model.MappingRule.
func (c MappingRuleConfig) ToModel() (model.MappingRule, error) {
	p6, err := netaddr.ParsePrefix6(c.Prefix6)
	if err != nil {
		return model.MappingRule{}, fmt.Errorf("mapping rule prefix6 %q: %w", c.Prefix6, err)
	}
	p4, err := netaddr.ParsePrefix4(c.Prefix4)
	if err != nil {
		return model.MappingRule{}, fmt.Errorf("mapping rule prefix4 %q: %w", c.Prefix4, err)
	}
	return model.MappingRule{Prefix6: p6, Prefix4: p4, O: c.O, A: c.A}, nil
}

// JooldConfig holds session-replication peer and timeout configuration.
type JooldConfig struct {
	// Peers lists the replication peer addresses to enroll at startup.
	Peers []string `koanf:"peers"`
	// FailureThreshold is the number of consecutive sync failures before
	// a peer is marked degraded.
	FailureThreshold int `koanf:"failure_threshold"`
	// GracePeriod is how long a peer must remain degraded before the
	// degradation is reported to bgphealth for possible BGP withdrawal.
	// Recovering within this window never triggers a BGP action.
	GracePeriod time.Duration `koanf:"grace_period"`

	TCPEstablished time.Duration `koanf:"tcp_established"`
	TCPTransitory  time.Duration `koanf:"tcp_transitory"`
	UDP            time.Duration `koanf:"udp"`
	ICMP           time.Duration `koanf:"icmp"`
}

// BGPConfig holds the optional BGP health-integration configuration.
type BGPConfig struct {
	// Enabled turns on the joold-health-to-BGP-peer bridge.
	Enabled bool `koanf:"enabled"`
	// Addr is the GoBGP gRPC listen address.
	Addr string `koanf:"addr"`
	// PeerMap maps a joold peer address to the BGP peer address GoBGP
	// should disable/enable for it.
	PeerMap map[string]string `koanf:"peer_map"`
}

func parseProto(s string) (netaddr.L4Proto, error) {
	switch strings.ToUpper(s) {
	case "UDP":
		return netaddr.ProtoUDP, nil
	case "TCP":
		return netaddr.ProtoTCP, nil
	case "ICMP":
		return netaddr.ProtoICMP, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidProto, s)
	}
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults, mirroring
// Jool's session-timeout defaults (RFC 6146 Section 4: TCP established
// 2h, TCP transitory 4min, UDP 5min; ICMP default 1min).
func DefaultConfig() *Config {
	return &Config{
		Control: ControlConfig{
			Addr: ":7878",
		},
		Transport: TransportConfig{
			LocalAddr: "0.0.0.0",
			Port:      6146,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Pool6: "64:ff9b::/96",
		Joold: JooldConfig{
			FailureThreshold: 3,
			GracePeriod:      30 * time.Second,
			TCPEstablished:   2 * time.Hour,
			TCPTransitory:    4 * time.Minute,
			UDP:              5 * time.Minute,
			ICMP:             1 * time.Minute,
		},
		Plateaus: []uint16{65535, 32000, 17914, 8166, 1500, 1492, 1006, 508, 296, 68},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for nat64d configuration.
// Variables are named NAT64D_<section>_<key>, e.g. NAT64D_CONTROL_ADDR.
const envPrefix = "NAT64D_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (NAT64D_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms NAT64D_CONTROL_ADDR -> control.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"control.addr":            defaults.Control.Addr,
		"transport.local_addr":    defaults.Transport.LocalAddr,
		"transport.port":          defaults.Transport.Port,
		"metrics.addr":            defaults.Metrics.Addr,
		"metrics.path":            defaults.Metrics.Path,
		"log.level":               defaults.Log.Level,
		"log.format":              defaults.Log.Format,
		"pool6":                   defaults.Pool6,
		"joold.failure_threshold": defaults.Joold.FailureThreshold,
		"joold.grace_period":      defaults.Joold.GracePeriod.String(),
		"joold.tcp_established":   defaults.Joold.TCPEstablished.String(),
		"joold.tcp_transitory":    defaults.Joold.TCPTransitory.String(),
		"joold.udp":               defaults.Joold.UDP.String(),
		"joold.icmp":              defaults.Joold.ICMP.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	ErrEmptyControlAddr   = errors.New("control.addr must not be empty")
	ErrInvalidPool6       = errors.New("pool6 is not a valid IPv6 prefix")
	ErrInvalidProto       = errors.New("protocol must be udp, tcp, or icmp")
	ErrInvalidPool4Entry  = errors.New("invalid pool4 entry")
	ErrInvalidEAMEntry    = errors.New("invalid eam entry")
	ErrInvalidMappingRule = errors.New("invalid mapping rule")
	ErrTooManyPlateaus    = errors.New("too many plateaus")
)

// Validate checks the configuration for logical errors. Returns the first
// validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Control.Addr == "" {
		return ErrEmptyControlAddr
	}

	if _, err := netaddr.ParsePrefix6(cfg.Pool6); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPool6, err)
	}

	for i, p := range cfg.Pool4 {
		if _, err := p.ToModel(); err != nil {
			return fmt.Errorf("pool4[%d]: %w: %w", i, ErrInvalidPool4Entry, err)
		}
	}

	for i, e := range cfg.EAM {
		if _, err := e.ToModel(); err != nil {
			return fmt.Errorf("eam[%d]: %w: %w", i, ErrInvalidEAMEntry, err)
		}
	}

	for i, m := range cfg.Mapping {
		if _, err := m.ToModel(); err != nil {
			return fmt.Errorf("mapping_rules[%d]: %w: %w", i, ErrInvalidMappingRule, err)
		}
	}

	if len(cfg.Plateaus) > model.PlateausMax {
		return fmt.Errorf("%w: %d > %d", ErrTooManyPlateaus, len(cfg.Plateaus), model.PlateausMax)
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParsePool6 parses cfg.Pool6 as a netaddr.Prefix6, assuming Validate has
// already confirmed it parses cleanly.
func ParsePool6(cfg *Config) (netaddr.Prefix6, error) {
	return netaddr.ParsePrefix6(cfg.Pool6)
}

// ParseTransportLocalAddr parses cfg.Transport.LocalAddr as a netip.Addr.
func ParseTransportLocalAddr(cfg *Config) (netip.Addr, error) {
	return netip.ParseAddr(cfg.Transport.LocalAddr)
}
