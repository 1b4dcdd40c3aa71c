// Package sessionwire implements the compact 36-byte packed session
// encoding joold uses to replicate session state between translator
// instances. Unlike internal/attrs' TLV-nested composites, this format
// is deliberately flat and unpadded: joold packs as many sessions as
// possible into one replication datagram, so every byte counts.
//
// Dst6 is never carried on the wire — it is reconstructed at decode time
// via RFC 6052 from Dst4 and the receiver's own pool6 prefix, since the
// sender and receiver of a joold update are assumed to share the same
// NAT64 prefix configuration.
package sessionwire

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"github.com/n64lab/nat64d/internal/model"
	"github.com/n64lab/nat64d/internal/netaddr"
)

// Size is the fixed length of an encoded session on the wire:
//
//	src6.addr(16) + src4.addr(4) + dst4.addr(4) + expiration(4)
//	+ src6.port(2) + src4.port(2) + dst4.port(2) + flags(2)
const Size = 36

// ErrTruncated indicates a buffer shorter than Size was handed to Decode.
type ErrTruncated struct {
	Got int
}

func (e *ErrTruncated) Error() string {
	return fmt.Sprintf("session wire size (%d) < %d", e.Got, Size)
}

// ErrUnknownTimer indicates Decode encountered a protocol/timer-type
// combination get_timeout has no entry for.
type ErrUnknownTimer struct {
	Proto     netaddr.L4Proto
	TimerType model.TimerType
}

func (e *ErrUnknownTimer) Error() string {
	return fmt.Sprintf("no configured timeout for proto=%s timer=%d", e.Proto, e.TimerType)
}

// TCPIncomingSYNTimeout is the fixed (non-configurable) lifetime of a
// session created by an unsolicited incoming SYN, per spec.md §4.3.
const TCPIncomingSYNTimeout = 6 * time.Second

// Timeouts holds the four configurable session lifetimes used to derive
// a session's absolute expiry at decode time.
type Timeouts struct {
	TCPEstablished time.Duration
	TCPTransitory  time.Duration
	UDP            time.Duration
	ICMP           time.Duration
}

// timeoutFor mirrors the original get_timeout switch: TCP dispatches on
// TimerType, UDP/ICMP ignore it.
func (t Timeouts) timeoutFor(proto netaddr.L4Proto, timer model.TimerType) (time.Duration, error) {
	switch proto {
	case netaddr.ProtoTCP:
		switch timer {
		case model.TimerEST:
			return t.TCPEstablished, nil
		case model.TimerTrans:
			return t.TCPTransitory, nil
		case model.TimerSYN4:
			return TCPIncomingSYNTimeout, nil
		default:
			return 0, &ErrUnknownTimer{Proto: proto, TimerType: timer}
		}
	case netaddr.ProtoUDP:
		return t.UDP, nil
	case netaddr.ProtoICMP:
		return t.ICMP, nil
	default:
		return 0, &ErrUnknownTimer{Proto: proto, TimerType: timer}
	}
}

// packFlags packs (proto, state, timer_type) into the 16-bit flags field
// the same way the original does: proto in bits 6-5, state in bits 4-2,
// timer_type in bits 1-0. state is masked to 3 bits, matching the
// original's narrow session_entry.state field.
func packFlags(proto netaddr.L4Proto, state byte, timer model.TimerType) uint16 {
	return uint16(proto&3)<<5 | uint16(state&7)<<2 | uint16(timer&3)
}

func unpackFlags(v uint16) (proto netaddr.L4Proto, state byte, timer model.TimerType) {
	proto = netaddr.L4Proto((v >> 5) & 3)
	state = byte((v >> 2) & 7)
	timer = model.TimerType(v & 3)
	return
}

// Encode serializes se into its 36-byte wire form. now is the reference
// time dying_time (milliseconds remaining until expiry) is computed
// against; dst6 is dropped, as the receiver reconstructs it.
func Encode(se model.SessionEntry, now time.Time) []byte {
	buf := make([]byte, Size)

	src6 := se.Src6.Addr.As16()
	copy(buf[0:16], src6[:])

	src4 := se.Src4.Addr.As4()
	copy(buf[16:20], src4[:])

	dst4 := se.Dst4.Addr.As4()
	copy(buf[20:24], dst4[:])

	dyingTime := dyingTimeMillis(se, now)
	binary.BigEndian.PutUint32(buf[24:28], dyingTime)

	binary.BigEndian.PutUint16(buf[28:30], se.Src6.Port)
	binary.BigEndian.PutUint16(buf[30:32], se.Src4.Port)
	binary.BigEndian.PutUint16(buf[32:34], se.Dst4.Port)

	binary.BigEndian.PutUint16(buf[34:36], packFlags(se.Proto, se.State, se.TimerType))

	return buf
}

// dyingTimeMillis computes the milliseconds remaining until
// se.UpdateTime+se.Timeout, floored at zero.
func dyingTimeMillis(se model.SessionEntry, now time.Time) uint32 {
	expiry := time.UnixMilli(se.UpdateTime).Add(se.Timeout)
	remaining := expiry.Sub(now)
	if remaining <= 0 {
		return 0
	}
	ms := remaining.Milliseconds()
	if ms > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ms)
}

// RawFields is the subset of a wire-encoded session that can be read
// without daemon-local configuration (a pool6 prefix to reconstruct Dst6,
// or configured timeouts to resolve an absolute UpdateTime). nat64ctl
// uses this to display sessions without needing either.
type RawFields struct {
	Src6            netip.Addr
	Src4            netip.AddrPort
	Dst4            netip.AddrPort
	Proto           netaddr.L4Proto
	State           byte
	DyingTimeMillis uint32
}

// DecodeRaw extracts RawFields from a 36-byte wire-encoded session.
func DecodeRaw(buf []byte) (RawFields, error) {
	if len(buf) < Size {
		return RawFields{}, &ErrTruncated{Got: len(buf)}
	}

	var src4Raw, dst4Raw [4]byte
	var src6Full [16]byte
	copy(src6Full[:], buf[0:16])
	copy(src4Raw[:], buf[16:20])
	copy(dst4Raw[:], buf[20:24])

	dyingTimeMs := binary.BigEndian.Uint32(buf[24:28])
	src4Port := binary.BigEndian.Uint16(buf[30:32])
	dst4Port := binary.BigEndian.Uint16(buf[32:34])
	flags := binary.BigEndian.Uint16(buf[34:36])

	proto, state, _ := unpackFlags(flags)

	return RawFields{
		Src6:            netip.AddrFrom16(src6Full),
		Src4:            netip.AddrPortFrom(netip.AddrFrom4(src4Raw), src4Port),
		Dst4:            netip.AddrPortFrom(netip.AddrFrom4(dst4Raw), dst4Port),
		Proto:           proto,
		State:           state,
		DyingTimeMillis: dyingTimeMs,
	}, nil
}

// Decode parses a 36-byte wire-encoded session, reconstructing Dst6 via
// RFC 6052 against pool6 and resolving the session's absolute timeout
// and UpdateTime against timeouts and now.
func Decode(buf []byte, pool6 netaddr.Prefix6, timeouts Timeouts, now time.Time) (model.SessionEntry, error) {
	if len(buf) < Size {
		return model.SessionEntry{}, &ErrTruncated{Got: len(buf)}
	}

	var src6Raw [16]byte
	var src4Raw, dst4Raw [4]byte
	copy(src6Raw[:], buf[0:16])
	copy(src4Raw[:], buf[16:20])
	copy(dst4Raw[:], buf[20:24])

	dyingTimeMs := binary.BigEndian.Uint32(buf[24:28])
	src6Port := binary.BigEndian.Uint16(buf[28:30])
	src4Port := binary.BigEndian.Uint16(buf[30:32])
	dst4Port := binary.BigEndian.Uint16(buf[32:34])
	flags := binary.BigEndian.Uint16(buf[34:36])

	proto, state, timer := unpackFlags(flags)

	var se model.SessionEntry
	se.Src6.Addr = netip.AddrFrom16(src6Raw)
	se.Src6.Port = src6Port
	se.Src4.Addr = netip.AddrFrom4(src4Raw)
	se.Src4.Port = src4Port
	se.Dst4.Addr = netip.AddrFrom4(dst4Raw)
	se.Dst4.Port = dst4Port
	se.Proto = proto
	se.State = state
	se.TimerType = timer

	dst6Addr, err := netaddr.RFC6052To6(pool6, se.Dst4.Addr)
	if err != nil {
		return model.SessionEntry{}, fmt.Errorf("reconstructing dst6 from dst4 via RFC 6052: %w", err)
	}
	se.Dst6.Addr = dst6Addr
	if proto == netaddr.ProtoICMP {
		se.Dst6.Port = se.Src6.Port
	} else {
		se.Dst6.Port = se.Dst4.Port
	}

	timeout, err := timeouts.timeoutFor(proto, timer)
	if err != nil {
		return model.SessionEntry{}, err
	}
	se.Timeout = timeout

	expiration := time.Duration(dyingTimeMs) * time.Millisecond
	se.UpdateTime = now.Add(expiration).Add(-timeout).UnixMilli()
	se.HasStored = false

	return se, nil
}
