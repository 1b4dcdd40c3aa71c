// Package control implements the header + TLV "control frame" envelope
// used both for joold replication traffic and administrative requests
// from nat64ctl, and the dispatch table that routes a parsed frame to
// its handler.
//
// Wire format (network byte order):
//
//	+--------+--------+--------+--------+
//	| Magic (4)                         |
//	+--------+--------+--------+--------+
//	|Version(1)|XlatorType(1)|Stat(1)|R(1)|
//	+--------+--------+--------+--------+
//	| Operation (u16)          | Rsvd(2)|
//	+--------+--------+--------+--------+
//	| Attribute blob (TLV stream)       |
//
// Stat carries a response's Status and is ignored on request frames (a
// client always sends StatusOK there, since it has nothing to report yet).
//
// This is the Go-native successor to the original kernel module's
// Generic Netlink request handling (nl-joold.c's handle_joold_request):
// the same dispatch-by-operation shape, re-expressed over a
// self-contained frame instead of a Netlink genl_info.
package control

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/n64lab/nat64d/internal/tlv"
)

// Magic identifies a valid control frame: the ASCII bytes "N64d".
const Magic uint32 = 0x4E363464

// HeaderSize is the fixed frame header preceding the TLV attribute blob.
const HeaderSize = 12

// XlatorType distinguishes a stateful NAT64 instance from a stateless
// SIIT instance; joold-class operations are rejected on the latter.
type XlatorType uint8

const (
	XlatorNAT64 XlatorType = 0
	XlatorSIIT  XlatorType = 1
)

// Operation identifies what a frame asks the dispatcher to do.
type Operation uint16

const (
	// Joold-class operations, grounded on nl-joold.c's OP_ADD/OP_TEST/
	// OP_ADVERTISE/OP_ACK.
	OpJooldAdd       Operation = 1
	OpJooldTest      Operation = 2
	OpJooldAdvertise Operation = 3
	OpJooldAck       Operation = 4

	// Administrative operations used by nat64ctl.
	OpPool4Add    Operation = 100
	OpPool4Remove Operation = 101
	OpPool4List   Operation = 102
	OpSessionList Operation = 103
)

// jooldOps is the set of operations HandleFrame rejects for a SIIT-mode
// frame, mirroring the original's "SIIT Jool doesn't need a
// synchronization daemon" check.
var jooldOps = map[Operation]bool{
	OpJooldAdd:       true,
	OpJooldTest:      true,
	OpJooldAdvertise: true,
	OpJooldAck:       true,
}

// Status reports a response frame's outcome, the re-expression of the
// original protocol's "zero = success; negative values categorize
// failures" return codes (spec §7) for a header field instead of a
// Netlink return value.
type Status uint8

const (
	// StatusOK indicates the request was handled successfully.
	StatusOK Status = 0
	// StatusInvalidOp indicates an unrecognized operation, or a
	// joold-class operation rejected on a SIIT-mode frame.
	StatusInvalidOp Status = 1
	// StatusError indicates the handler ran but returned an error; the
	// response body carries a human-readable diagnostic.
	StatusError Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalidOp:
		return "invalid-op"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Header is the fixed portion of a control frame.
type Header struct {
	Version    uint8
	XlatorType XlatorType
	Operation  Operation
	// Status is meaningful only on response frames; requests leave it
	// at its zero value (StatusOK).
	Status Status
}

// Frame is a fully parsed control frame: its header plus the raw
// attribute blob, not yet decoded into a tlv.Stream (handlers do that
// themselves, since each operation expects different attributes).
type Frame struct {
	Header
	Body []byte
}

var (
	// ErrBadMagic indicates the frame did not start with Magic.
	ErrBadMagic = errors.New("control: bad magic")
	// ErrTruncated indicates a buffer shorter than HeaderSize was handed
	// to Parse.
	ErrTruncated = errors.New("control: truncated frame header")
	// ErrSIITRejected indicates a joold-class operation was requested on
	// a SIIT-mode frame.
	ErrSIITRejected = errors.New("control: SIIT translator does not run a synchronization daemon")
	// ErrUnknownOperation indicates no handler is registered for the
	// frame's Operation.
	ErrUnknownOperation = errors.New("control: unknown operation")
)

// Parse decodes buf into a Frame. It does not evaluate the SIIT-mode
// restriction; that happens in Dispatch, once a handler table is known.
func Parse(buf []byte) (Frame, error) {
	if len(buf) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: got %d bytes, want at least %d", ErrTruncated, len(buf), HeaderSize)
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != Magic {
		return Frame{}, fmt.Errorf("%w: got 0x%08X", ErrBadMagic, magic)
	}
	version := buf[4]
	xlatorType := XlatorType(buf[5])
	status := Status(buf[6])
	// buf[7] reserved.
	operation := Operation(binary.BigEndian.Uint16(buf[8:10]))
	// buf[10:12] reserved.

	return Frame{
		Header: Header{Version: version, XlatorType: xlatorType, Operation: operation, Status: status},
		Body:   buf[HeaderSize:],
	}, nil
}

// Encode serializes hdr and body into a wire frame.
func Encode(hdr Header, body []byte) []byte {
	buf := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	buf[4] = hdr.Version
	buf[5] = uint8(hdr.XlatorType)
	buf[6] = uint8(hdr.Status)
	binary.BigEndian.PutUint16(buf[8:10], uint16(hdr.Operation))
	copy(buf[HeaderSize:], body)
	return buf
}

// Handler processes one frame's body (already known to pass the
// SIIT-mode gate) and returns a response body, or an error.
type Handler func(body []byte) ([]byte, error)

// Dispatch routes parsed frames to registered Handlers, rejecting
// joold-class operations up front when the frame identifies as SIIT —
// the re-expression of handle_joold_request's single translator-mode
// check ahead of its operation switch.
type Dispatch struct {
	handlers map[Operation]Handler
}

// NewDispatch returns an empty Dispatch ready for Register calls.
func NewDispatch() *Dispatch {
	return &Dispatch{handlers: make(map[Operation]Handler)}
}

// Register binds op to handler, replacing any prior registration.
func (d *Dispatch) Register(op Operation, handler Handler) {
	d.handlers[op] = handler
}

// Handle parses buf and routes it to the registered handler, enforcing
// the SIIT-mode restriction on joold-class operations before any handler
// runs.
func (d *Dispatch) Handle(buf []byte) ([]byte, error) {
	frame, err := Parse(buf)
	if err != nil {
		return nil, err
	}
	return d.HandleFrame(frame)
}

// HandleFrame routes an already-parsed frame.
func (d *Dispatch) HandleFrame(frame Frame) ([]byte, error) {
	if frame.XlatorType == XlatorSIIT && jooldOps[frame.Operation] {
		return nil, fmt.Errorf("%w: operation %d", ErrSIITRejected, frame.Operation)
	}

	handler, ok := d.handlers[frame.Operation]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOperation, frame.Operation)
	}
	return handler(frame.Body)
}

// DecodeBody is a convenience wrapper exposing tlv.NewStream to
// handlers, so callers need only import this package to parse a frame's
// attribute blob.
func DecodeBody(body []byte) (map[uint16]tlv.Attribute, error) {
	return tlv.NewStream(body).ByType()
}
