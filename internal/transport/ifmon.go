package transport

import (
	"context"
	"log/slog"
)

// InterfaceEvent reports a network interface state change, adapted from
// the teacher's BFD interface monitor to drive joold multicast rejoin
// instead of session teardown.
type InterfaceEvent struct {
	IfName  string
	IfIndex int
	Up      bool
}

// InterfaceMonitor watches for interface state changes that should
// trigger Transport.Rejoin.
type InterfaceMonitor interface {
	// Run blocks until ctx is cancelled, sending events to the channel
	// returned by Events.
	Run(ctx context.Context) error
	// Events returns the channel interface state changes are sent on.
	// It is closed when Run returns.
	Events() <-chan InterfaceEvent
	// Close releases any resources held by the monitor.
	Close() error
}

// StubInterfaceMonitor is a no-op InterfaceMonitor, used when no
// platform-specific monitor is wired in.
type StubInterfaceMonitor struct {
	events chan InterfaceEvent
	logger *slog.Logger
}

// NewStubInterfaceMonitor creates a no-op interface monitor.
func NewStubInterfaceMonitor(logger *slog.Logger) *StubInterfaceMonitor {
	return &StubInterfaceMonitor{
		events: make(chan InterfaceEvent, 16),
		logger: logger.With(slog.String("component", "transport.ifmon.stub")),
	}
}

// Run blocks until ctx is cancelled.
func (m *StubInterfaceMonitor) Run(ctx context.Context) error {
	m.logger.Info("stub interface monitor started (no-op)")
	<-ctx.Done()
	close(m.events)
	m.logger.Info("stub interface monitor stopped")
	return nil
}

// Events returns the (always empty) event channel.
func (m *StubInterfaceMonitor) Events() <-chan InterfaceEvent {
	return m.events
}

// Close is a no-op for the stub monitor.
func (m *StubInterfaceMonitor) Close() error {
	return nil
}

// RunRejoinLoop consumes ifup events from mon and calls t.Rejoin for
// each, logging (but not returning) rejoin failures so one bad event
// does not tear down the whole watch loop. It returns when mon's event
// channel closes.
func RunRejoinLoop(t *Transport, mon InterfaceMonitor, logger *slog.Logger) {
	for ev := range mon.Events() {
		if !ev.Up {
			continue
		}
		if err := t.Rejoin(); err != nil {
			logger.Warn("multicast rejoin failed",
				slog.String("interface", ev.IfName),
				slog.Any("error", err),
			)
			continue
		}
		logger.Info("multicast group rejoined after interface up",
			slog.String("interface", ev.IfName))
	}
}
