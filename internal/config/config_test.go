package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/n64lab/nat64d/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Control.Addr != ":7878" {
		t.Errorf("Control.Addr = %q, want %q", cfg.Control.Addr, ":7878")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Pool6 != "64:ff9b::/96" {
		t.Errorf("Pool6 = %q, want %q", cfg.Pool6, "64:ff9b::/96")
	}

	if cfg.Joold.FailureThreshold != 3 {
		t.Errorf("Joold.FailureThreshold = %d, want %d", cfg.Joold.FailureThreshold, 3)
	}

	if cfg.Joold.TCPEstablished != 2*time.Hour {
		t.Errorf("Joold.TCPEstablished = %v, want %v", cfg.Joold.TCPEstablished, 2*time.Hour)
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
control:
  addr: ":60000"
pool6: "2001:db8:64::/96"
pool4:
  - proto: tcp
    prefix: "192.0.2.0/24"
    port_min: 1024
    port_max: 65535
eam:
  - prefix6: "2001:db8:1::/64"
    prefix4: "198.51.100.0/24"
joold:
  peers: ["10.0.0.2:6146"]
  failure_threshold: 5
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Control.Addr != ":60000" {
		t.Errorf("Control.Addr = %q, want %q", cfg.Control.Addr, ":60000")
	}
	if cfg.Pool6 != "2001:db8:64::/96" {
		t.Errorf("Pool6 = %q, want %q", cfg.Pool6, "2001:db8:64::/96")
	}
	if len(cfg.Pool4) != 1 || cfg.Pool4[0].Prefix != "192.0.2.0/24" {
		t.Fatalf("Pool4 = %+v, want one entry for 192.0.2.0/24", cfg.Pool4)
	}
	if len(cfg.EAM) != 1 || cfg.EAM[0].Prefix4 != "198.51.100.0/24" {
		t.Fatalf("EAM = %+v, want one entry for 198.51.100.0/24", cfg.EAM)
	}
	if len(cfg.Joold.Peers) != 1 || cfg.Joold.Peers[0] != "10.0.0.2:6146" {
		t.Fatalf("Joold.Peers = %v, want [10.0.0.2:6146]", cfg.Joold.Peers)
	}
	if cfg.Joold.FailureThreshold != 5 {
		t.Errorf("Joold.FailureThreshold = %d, want %d", cfg.Joold.FailureThreshold, 5)
	}

	// Defaults carried over untouched sections.
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}
	if cfg.Joold.TCPEstablished != 2*time.Hour {
		t.Errorf("Joold.TCPEstablished = %v, want default %v", cfg.Joold.TCPEstablished, 2*time.Hour)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name:    "empty control addr",
			modify:  func(cfg *config.Config) { cfg.Control.Addr = "" },
			wantErr: config.ErrEmptyControlAddr,
		},
		{
			name:    "invalid pool6",
			modify:  func(cfg *config.Config) { cfg.Pool6 = "not-a-prefix" },
			wantErr: config.ErrInvalidPool6,
		},
		{
			name: "invalid pool4 proto",
			modify: func(cfg *config.Config) {
				cfg.Pool4 = []config.Pool4RangeConfig{{Proto: "sctp", Prefix: "192.0.2.0/24"}}
			},
			wantErr: config.ErrInvalidPool4Entry,
		},
		{
			name: "invalid eam prefix",
			modify: func(cfg *config.Config) {
				cfg.EAM = []config.EAMConfig{{Prefix6: "garbage", Prefix4: "192.0.2.0/24"}}
			},
			wantErr: config.ErrInvalidEAMEntry,
		},
		{
			name: "invalid mapping rule prefix",
			modify: func(cfg *config.Config) {
				cfg.Mapping = []config.MappingRuleConfig{{Prefix6: "garbage", Prefix4: "192.0.2.0/24"}}
			},
			wantErr: config.ErrInvalidMappingRule,
		},
		{
			name: "too many plateaus",
			modify: func(cfg *config.Config) {
				cfg.Plateaus = make([]uint16, 17)
			},
			wantErr: config.ErrTooManyPlateaus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
control:
  addr: ":50051"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("NAT64D_CONTROL_ADDR", ":60000")
	t.Setenv("NAT64D_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Control.Addr != ":60000" {
		t.Errorf("Control.Addr = %q, want %q (from env)", cfg.Control.Addr, ":60000")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"error", "ERROR"},
		{"bogus", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		if got := config.ParseLogLevel(tt.input).String(); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParsePool6(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	p6, err := config.ParsePool6(cfg)
	if err != nil {
		t.Fatalf("ParsePool6: %v", err)
	}
	if got, want := p6.String(), "64:ff9b::/96"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "nat64d.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
