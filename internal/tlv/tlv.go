// Package tlv implements a schema-driven, length-tagged attribute stream:
// each attribute is a (type, length, payload) triplet, and containers can
// nest. This is the wire substrate internal/attrs builds the NAT64
// administrative codec on top of, re-expressing the kernel module's
// Netlink attribute (nlattr) discipline as a self-contained byte-stream
// codec with no kernel/Netlink dependency (spec.md §1 treats the real
// kernel/userland transport as an external collaborator).
//
// Every attribute on the wire is:
//
//	+--------+--------+-----------------+
//	| Type(2)| Len(2) | Value (Len bytes, padded to 4-byte alignment) |
//	+--------+--------+-----------------+
//
// Len counts only the value bytes (not the 4-byte header); padding bytes
// are not included in Len and are ignored on read.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// headerSize is the fixed (type, length) header preceding every attribute
// value on the wire.
const headerSize = 4

// align4 rounds n up to the next multiple of 4.
func align4(n int) int {
	return (n + 3) &^ 3
}

// Attribute is a single decoded (type, value) pair together with the raw
// bytes of its value, as extracted from a Stream.
type Attribute struct {
	Type  uint16
	Value []byte
}

// -------------------------------------------------------------------------
// Errors
// -------------------------------------------------------------------------

var (
	// ErrMissingAttribute indicates a required attribute was absent.
	ErrMissingAttribute = errors.New("missing attribute")
	// ErrShortAttribute indicates an attribute's payload was shorter than
	// the primitive type being decoded requires.
	ErrShortAttribute = errors.New("attribute too short")
	// ErrMalformedString indicates a string attribute lacked a NUL
	// terminator within its declared bounds.
	ErrMalformedString = errors.New("malformed string attribute")
	// ErrMalformedNested indicates a nested container's byte stream could
	// not be parsed as a well-formed sequence of attributes.
	ErrMalformedNested = errors.New("malformed nested attribute")
	// ErrOutputTooSmall indicates a Writer ran out of buffer space.
	ErrOutputTooSmall = errors.New("output buffer too small")
)

// MissingAttribute builds the structured error for a required attribute
// that was not present, carrying the human-readable name for diagnostics.
func MissingAttribute(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingAttribute, name)
}

// ShortAttribute builds the structured error for a truncated attribute.
func ShortAttribute(name string, got, expected int) error {
	return fmt.Errorf("%w: %s has %d bytes, expected at least %d", ErrShortAttribute, name, got, expected)
}

// MalformedString builds the structured error for a string attribute
// lacking a NUL terminator.
func MalformedString(name string) error {
	return fmt.Errorf("%w: %s", ErrMalformedString, name)
}

// MalformedNested builds the structured error for an unparseable nested
// container, wrapping the underlying cause.
func MalformedNested(name string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedNested, name, cause)
}

// -------------------------------------------------------------------------
// Stream — decoding
// -------------------------------------------------------------------------

// Stream parses a flat sequence of top-level attributes out of a byte
// slice (the "attribute blob" of a control frame, or the body of a nested
// container attribute).
type Stream struct {
	buf []byte
}

// NewStream wraps buf for attribute parsing. buf is not copied; callers
// must not mutate it while the Stream is in use.
func NewStream(buf []byte) Stream {
	return Stream{buf: buf}
}

// Attributes decodes every attribute in the stream, in wire order.
// Returns an error if the stream is truncated mid-attribute; callers
// decoding a nested container wrap it with MalformedNested.
func (s Stream) Attributes() ([]Attribute, error) {
	var out []Attribute
	buf := s.buf

	for len(buf) > 0 {
		if len(buf) < headerSize {
			return nil, errors.New("truncated attribute header")
		}
		typ := binary.BigEndian.Uint16(buf[0:2])
		length := int(binary.BigEndian.Uint16(buf[2:4]))

		if len(buf) < headerSize+length {
			return nil, fmt.Errorf("truncated attribute value: type=%d want=%d have=%d", typ, length, len(buf)-headerSize)
		}

		value := buf[headerSize : headerSize+length]
		out = append(out, Attribute{Type: typ, Value: value})

		consumed := headerSize + align4(length)
		if consumed > len(buf) {
			consumed = len(buf)
		}
		buf = buf[consumed:]
	}

	return out, nil
}

// ByType decodes the stream and returns a map from attribute type to its
// (last-seen) Attribute, as the composite getters in internal/attrs expect.
func (s Stream) ByType() (map[uint16]Attribute, error) {
	attrs, err := s.Attributes()
	if err != nil {
		return nil, err
	}
	out := make(map[uint16]Attribute, len(attrs))
	for _, a := range attrs {
		out[a.Type] = a
	}
	return out, nil
}

// -------------------------------------------------------------------------
// Primitive getters
// -------------------------------------------------------------------------

// GetU8 decodes a u8 attribute. attr may be nil, in which case
// ErrMissingAttribute is returned.
func GetU8(attr *Attribute, name string) (uint8, error) {
	if attr == nil {
		return 0, MissingAttribute(name)
	}
	if len(attr.Value) < 1 {
		return 0, ShortAttribute(name, len(attr.Value), 1)
	}
	return attr.Value[0], nil
}

// GetU16 decodes a big-endian u16 attribute.
func GetU16(attr *Attribute, name string) (uint16, error) {
	if attr == nil {
		return 0, MissingAttribute(name)
	}
	if len(attr.Value) < 2 {
		return 0, ShortAttribute(name, len(attr.Value), 2)
	}
	return binary.BigEndian.Uint16(attr.Value), nil
}

// GetU32 decodes a big-endian u32 attribute.
func GetU32(attr *Attribute, name string) (uint32, error) {
	if attr == nil {
		return 0, MissingAttribute(name)
	}
	if len(attr.Value) < 4 {
		return 0, ShortAttribute(name, len(attr.Value), 4)
	}
	return binary.BigEndian.Uint32(attr.Value), nil
}

// GetString decodes a NUL-terminated string attribute, requiring the NUL
// to appear within the first maxSize bytes of the value.
func GetString(attr *Attribute, name string, maxSize int) (string, error) {
	if attr == nil {
		return "", MissingAttribute(name)
	}
	limit := len(attr.Value)
	if limit > maxSize {
		limit = maxSize
	}
	for i := 0; i < limit; i++ {
		if attr.Value[i] == 0 {
			return string(attr.Value[:i]), nil
		}
	}
	return "", MalformedString(name)
}

// GetRawAddr4 decodes a raw 4-byte IPv4 address attribute.
func GetRawAddr4(attr *Attribute, name string) ([4]byte, error) {
	var out [4]byte
	if attr == nil {
		return out, MissingAttribute(name)
	}
	if len(attr.Value) < 4 {
		return out, ShortAttribute(name, len(attr.Value), 4)
	}
	copy(out[:], attr.Value[:4])
	return out, nil
}

// GetRawAddr6 decodes a raw 16-byte IPv6 address attribute.
func GetRawAddr6(attr *Attribute, name string) ([16]byte, error) {
	var out [16]byte
	if attr == nil {
		return out, MissingAttribute(name)
	}
	if len(attr.Value) < 16 {
		return out, ShortAttribute(name, len(attr.Value), 16)
	}
	copy(out[:], attr.Value[:16])
	return out, nil
}

// GetNested decodes a nested container attribute's value as its own
// Stream, for composite getters to parse further.
func GetNested(attr *Attribute, name string) (Stream, error) {
	if attr == nil {
		return Stream{}, MissingAttribute(name)
	}
	return NewStream(attr.Value), nil
}
