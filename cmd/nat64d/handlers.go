package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/n64lab/nat64d/internal/attrs"
	"github.com/n64lab/nat64d/internal/control"
	"github.com/n64lab/nat64d/internal/joold"
	"github.com/n64lab/nat64d/internal/model"
	"github.com/n64lab/nat64d/internal/netaddr"
	"github.com/n64lab/nat64d/internal/pool4"
	"github.com/n64lab/nat64d/internal/sessiontable"
	"github.com/n64lab/nat64d/internal/sessionwire"
	"github.com/n64lab/nat64d/internal/tlv"
	"github.com/n64lab/nat64d/internal/transport"
)

// entryAttr is the single top-level attribute type carrying one
// model.Pool4Entry in a POOL4_ADD/POOL4_RM request body, and one repeated
// attribute type carrying each entry of a POOL4_LIST response.
const entryAttr uint16 = 1

// buildDispatch registers the administrative operations (pool4/session,
// invoked by nat64ctl) against a fresh control.Dispatch. Joold-class
// operations are handled separately by handleFrame, since they need the
// sending peer's address, which a plain control.Handler does not carry.
func buildDispatch(p4 *pool4.Pool, store *sessiontable.Table, logger *slog.Logger) *control.Dispatch {
	d := control.NewDispatch()

	d.Register(control.OpPool4Add, wrap(logger, control.OpPool4Add, handlePool4Add(p4)))
	d.Register(control.OpPool4Remove, wrap(logger, control.OpPool4Remove, handlePool4Remove(p4)))
	d.Register(control.OpPool4List, wrap(logger, control.OpPool4List, handlePool4List(p4)))
	d.Register(control.OpSessionList, wrap(logger, control.OpSessionList, handleSessionList(store)))

	return d
}

// wrap applies the daemon's standard handler middleware stack (logging,
// then panic recovery closest to the call), mirroring the teacher's
// LoggingInterceptor/RecoveryInterceptor composition order.
func wrap(logger *slog.Logger, op control.Operation, h control.Handler) control.Handler {
	return control.WithLogging(logger, op, control.WithRecovery(logger, op, h))
}

func handlePool4Add(p4 *pool4.Pool) control.Handler {
	return func(body []byte) ([]byte, error) {
		entry, err := decodeEntry(body)
		if err != nil {
			return nil, err
		}
		for _, addr := range prefixAddrs(entry.Prefix.Addr, entry.Prefix.Len, entry.Iterations) {
			if err := p4.Register(addr); err != nil && !errors.Is(err, pool4.ErrDuplicateAddress) {
				return nil, fmt.Errorf("register %s: %w", addr, err)
			}
		}
		return []byte{}, nil
	}
}

func handlePool4Remove(p4 *pool4.Pool) control.Handler {
	return func(body []byte) ([]byte, error) {
		entry, err := decodeEntry(body)
		if err != nil {
			return nil, err
		}
		for _, addr := range prefixAddrs(entry.Prefix.Addr, entry.Prefix.Len, entry.Iterations) {
			if err := p4.Unregister(addr); err != nil && !errors.Is(err, pool4.ErrNotFound) {
				return nil, fmt.Errorf("unregister %s: %w", addr, err)
			}
		}
		return []byte{}, nil
	}
}

func handlePool4List(p4 *pool4.Pool) control.Handler {
	return func(_ []byte) ([]byte, error) {
		w := tlv.NewWriter()
		for _, addr := range p4.Snapshot() {
			entry := model.Pool4Entry{Prefix: prefix4Of(addr)}
			attrs.PutPool4Entry(w, entryAttr, entry)
		}
		return w.Bytes(), nil
	}
}

func handleSessionList(store *sessiontable.Table) control.Handler {
	return func(_ []byte) ([]byte, error) {
		buf := make([]byte, 0, store.Len()*sessionwire.Size)
		for _, se := range store.Sessions() {
			buf = append(buf, sessionwire.Encode(se, time.Now())...)
		}
		return buf, nil
	}
}

func decodeEntry(body []byte) (model.Pool4Entry, error) {
	attrMap, err := tlv.NewStream(body).ByType()
	if err != nil {
		return model.Pool4Entry{}, fmt.Errorf("decode pool4 entry: %w", err)
	}
	attr, ok := attrMap[entryAttr]
	if !ok {
		return model.Pool4Entry{}, tlv.MissingAttribute("pool4 entry")
	}
	return attrs.GetPool4Entry(&attr, "pool4 entry")
}

func prefix4Of(addr netip.Addr) netaddr.Prefix4 {
	return netaddr.Prefix4{Addr: addr, Len: 32}
}

// -------------------------------------------------------------------------
// Frame serving loop
// -------------------------------------------------------------------------

// serveFrames reads control.Frame-encoded datagrams from t until ctx is
// cancelled, routing administrative operations through dispatch and
// joold-class operations directly against svc, since the latter need the
// sending peer's address for Sync/Ack's health bookkeeping and a plain
// control.Handler carries only the frame body.
func serveFrames(ctx context.Context, t *transport.Transport, dispatch *control.Dispatch, svc *joold.Service, logger *slog.Logger) error {
	for {
		rcv, err := t.Recv(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			logger.Warn("recv failed", slog.String("error", err.Error()))
			continue
		}

		go handleDatagram(ctx, t, rcv, dispatch, svc, logger)
	}
}

func handleDatagram(ctx context.Context, t *transport.Transport, rcv transport.Received, dispatch *control.Dispatch, svc *joold.Service, logger *slog.Logger) {
	frame, err := control.Parse(rcv.Data)
	if err != nil {
		logger.Warn("dropping malformed frame", slog.String("peer", rcv.Peer.String()), slog.String("error", err.Error()))
		return
	}

	var resp []byte
	if frame.XlatorType == control.XlatorSIIT && jooldOperation(frame.Operation) {
		err = fmt.Errorf("%w: operation %d", control.ErrSIITRejected, frame.Operation)
	} else {
		resp, err = handleFrame(frame, dispatch, svc, rcv.Peer, logger)
	}

	if err != nil {
		logger.Warn("frame handling failed",
			slog.String("peer", rcv.Peer.String()),
			slog.Int("operation", int(frame.Operation)),
			slog.String("error", err.Error()))
		sendErrorResponse(ctx, t, frame.Header, rcv.Peer, err, logger)
		return
	}
	if resp == nil {
		return
	}

	out := control.Encode(frame.Header, resp)
	if err := t.Send(ctx, out, rcv.Peer); err != nil {
		logger.Warn("failed to send response", slog.String("peer", rcv.Peer.String()), slog.String("error", err.Error()))
	}
}

// sendErrorResponse acks a failed request instead of leaving the caller
// to time out waiting for a reply: an unrecognized operation or a
// SIIT-rejected joold op always acks StatusInvalidOp, and every other
// handler error acks StatusError with its cause as the response body.
func sendErrorResponse(ctx context.Context, t *transport.Transport, hdr control.Header, peer netip.AddrPort, cause error, logger *slog.Logger) {
	hdr.Status = control.StatusError
	if errors.Is(cause, control.ErrUnknownOperation) || errors.Is(cause, control.ErrSIITRejected) {
		hdr.Status = control.StatusInvalidOp
	}

	out := control.Encode(hdr, []byte(cause.Error()))
	if err := t.Send(ctx, out, peer); err != nil {
		logger.Warn("failed to send error response", slog.String("peer", peer.String()), slog.String("error", err.Error()))
	}
}

func jooldOperation(op control.Operation) bool {
	switch op {
	case control.OpJooldAdd, control.OpJooldTest, control.OpJooldAdvertise, control.OpJooldAck:
		return true
	default:
		return false
	}
}

// handleFrame routes a parsed frame to either the joold service (peer-
// aware replication operations) or the administrative dispatch table.
func handleFrame(frame control.Frame, dispatch *control.Dispatch, svc *joold.Service, peerAddr netip.AddrPort, _ *slog.Logger) ([]byte, error) {
	switch frame.Operation {
	case control.OpJooldAdd:
		return nil, svc.Sync(peerAddr, frame.Body)
	case control.OpJooldTest:
		return svc.Test(), nil
	case control.OpJooldAdvertise:
		return svc.Advertise(), nil
	case control.OpJooldAck:
		svc.Ack(peerAddr)
		return nil, nil
	default:
		return dispatch.HandleFrame(frame)
	}
}
