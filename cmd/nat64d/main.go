// nat64d is the NAT64 control-plane daemon: it loads pool4/EAM/mapping
// configuration, runs the joold session-replication service over a UDP
// transport, serves administrative control frames, and optionally
// bridges joold peer health into GoBGP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/n64lab/nat64d/internal/bgphealth"
	"github.com/n64lab/nat64d/internal/config"
	"github.com/n64lab/nat64d/internal/joold"
	nat64metrics "github.com/n64lab/nat64d/internal/metrics"
	"github.com/n64lab/nat64d/internal/pool4"
	"github.com/n64lab/nat64d/internal/sessiontable"
	"github.com/n64lab/nat64d/internal/transport"
	appversion "github.com/n64lab/nat64d/internal/version"
)

// shutdownTimeout bounds how long graceful shutdown waits for the
// metrics HTTP server to drain active connections.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("nat64d starting",
		slog.String("version", appversion.Version),
		slog.String("control_addr", cfg.Control.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	if err := runDaemon(cfg, logger); err != nil {
		logger.Error("nat64d exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("nat64d stopped")
	return 0
}

// runDaemon wires every component together and runs them under an
// errgroup with a signal-aware context, mirroring the teacher's
// run()/runServers() split.
func runDaemon(cfg *config.Config, logger *slog.Logger) error {
	pool6, err := config.ParsePool6(cfg)
	if err != nil {
		return fmt.Errorf("parse pool6: %w", err)
	}

	reg := prometheus.NewRegistry()
	collector := nat64metrics.NewCollector(reg)

	p4 := pool4.New()
	if err := seedPool4(p4, cfg, logger); err != nil {
		return fmt.Errorf("seed pool4: %w", err)
	}

	store := sessiontable.New()

	registry := joold.New(cfg.Joold.FailureThreshold, cfg.Joold.GracePeriod, logger)
	for _, peer := range cfg.Joold.Peers {
		addr, err := netip.ParseAddrPort(peer)
		if err != nil {
			return fmt.Errorf("parse joold peer %q: %w", peer, err)
		}
		if err := registry.AddPeer(addr); err != nil {
			return fmt.Errorf("add joold peer %q: %w", peer, err)
		}
	}

	timeouts := sessionwireTimeouts(cfg.Joold)
	svc := joold.NewService(store, registry, pool6, timeouts, logger, joold.WithMetrics(collector))

	replTransport, err := newReplicationTransport(cfg.Transport, logger)
	if err != nil {
		return fmt.Errorf("create replication transport: %w", err)
	}
	defer closeTransport(replTransport, logger)

	dispatch := buildDispatch(p4, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr))
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	controlConn, err := newControlTransport(cfg.Control.Addr, logger)
	if err != nil {
		return fmt.Errorf("create control listener: %w", err)
	}
	defer closeTransport(controlConn, logger)

	g.Go(func() error {
		return serveFrames(gCtx, controlConn, dispatch, svc, logger)
	})
	g.Go(func() error {
		return serveFrames(gCtx, replTransport, dispatch, svc, logger)
	})

	g.Go(func() error {
		return reportGauges(gCtx, p4, store, registry, collector)
	})

	bgpClient, err := startBGPHealth(gCtx, g, cfg.BGP, registry, logger)
	if err != nil {
		return fmt.Errorf("start bgp health bridge: %w", err)
	}
	defer closeBGPClient(bgpClient, logger)

	g.Go(func() error { return runWatchdog(gCtx, logger) })

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, metricsSrv)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// reportGauges periodically refreshes the pool4/session gauges, since
// neither pool4.Pool nor sessiontable.Table pushes change notifications
// of their own.
func reportGauges(ctx context.Context, p4 *pool4.Pool, store *sessiontable.Table, registry *joold.Registry, collector *nat64metrics.Collector) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	refresh := func() {
		collector.SetPool4Addresses("all", len(p4.Snapshot()))
		collector.SetSessionsActive("all", store.Len())
		for _, peer := range registry.Peers() {
			collector.SetJooldPeerHealthy(peer.Addr.String(), peer.State == joold.PeerHealthy)
		}
	}

	refresh()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			refresh()
		}
	}
}

func closeTransport(t *transport.Transport, logger *slog.Logger) {
	if t == nil {
		return
	}
	if err := t.Close(); err != nil {
		logger.Warn("failed to close transport", slog.String("error", err.Error()))
	}
}

func closeBGPClient(client bgphealth.Client, logger *slog.Logger) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Warn("failed to close bgp client", slog.String("error", err.Error()))
	}
}

// startBGPHealth creates the GoBGP client and handler goroutine when BGP
// health integration is enabled, mirroring the teacher's
// startGoBGPHandler.
func startBGPHealth(ctx context.Context, g *errgroup.Group, cfg config.BGPConfig, registry *joold.Registry, logger *slog.Logger) (bgphealth.Client, error) {
	if !cfg.Enabled {
		logger.Info("bgp health integration disabled")
		return nil, nil
	}

	client, err := bgphealth.NewGRPCClient(bgphealth.GRPCClientConfig{Addr: cfg.Addr}, logger)
	if err != nil {
		return nil, fmt.Errorf("create bgp client: %w", err)
	}

	handler := bgphealth.NewHandler(client, cfg.PeerMap, logger)
	g.Go(func() error {
		return handler.Run(ctx, registry.Events())
	})

	logger.Info("bgp health integration enabled", slog.String("addr", cfg.Addr))
	return client, nil
}

// -------------------------------------------------------------------------
// Systemd integration
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		return nil
	}

	tickInterval := interval / 2
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// Graceful shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// HTTP server setup
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
