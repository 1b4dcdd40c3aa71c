package bgphealth

import (
	"context"
	"log/slog"

	"github.com/n64lab/nat64d/internal/joold"
)

// degradedCommunication is the administrative shutdown reason sent to
// GoBGP when a joold peer degrades.
const degradedCommunication = "joold replication degraded"

// Handler consumes joold.Registry peer-health transitions and disables
// or re-enables the corresponding BGP peer, the translator's analogue of
// the teacher's BFD-state-change-driven BGP handler.
type Handler struct {
	client    Client
	peerAddrs map[string]string // joold peer addr -> BGP peer addr
	logger    *slog.Logger
}

// NewHandler creates a Handler. peerAddrs maps a joold peer address to
// the BGP peer address GoBGP should disable/enable for it; a joold peer
// absent from peerAddrs is ignored (no BGP session is associated with it).
func NewHandler(client Client, peerAddrs map[string]string, logger *slog.Logger) *Handler {
	return &Handler{
		client:    client,
		peerAddrs: peerAddrs,
		logger:    logger.With(slog.String("component", "bgphealth.handler")),
	}
}

// Run consumes registry health-transition events until ctx is cancelled
// or the registry's event channel closes.
//
//	g.Go(func() error { return handler.Run(gCtx, registry.Events()) })
func (h *Handler) Run(ctx context.Context, events <-chan joold.PeerEvent) error {
	h.logger.Info("handler started, consuming joold peer health events")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("handler stopped")
			return nil

		case ev, ok := <-events:
			if !ok {
				h.logger.Info("event channel closed, handler stopping")
				return nil
			}
			h.handleEvent(ctx, ev)
		}
	}
}

func (h *Handler) handleEvent(ctx context.Context, ev joold.PeerEvent) {
	joldAddr := ev.Addr.String()
	bgpAddr, ok := h.peerAddrs[joldAddr]
	if !ok {
		h.logger.Debug("joold peer has no associated BGP peer, ignoring",
			slog.String("peer", joldAddr))
		return
	}

	switch ev.State {
	case joold.PeerDegraded:
		h.logger.Info("joold peer degraded, disabling BGP peer",
			slog.String("joold_peer", joldAddr), slog.String("bgp_peer", bgpAddr))
		if err := h.client.DisablePeer(ctx, bgpAddr, degradedCommunication); err != nil {
			h.logger.Error("failed to disable BGP peer",
				slog.String("bgp_peer", bgpAddr), slog.Any("error", err))
		}

	case joold.PeerHealthy:
		h.logger.Info("joold peer recovered, enabling BGP peer",
			slog.String("joold_peer", joldAddr), slog.String("bgp_peer", bgpAddr))
		if err := h.client.EnablePeer(ctx, bgpAddr); err != nil {
			h.logger.Error("failed to enable BGP peer",
				slog.String("bgp_peer", bgpAddr), slog.Any("error", err))
		}

	default:
		h.logger.Warn("unhandled peer state", slog.String("peer", joldAddr), slog.Any("state", ev.State))
	}
}
