package tlv

import "encoding/binary"

// Writer accumulates attributes into a growing byte buffer. Nested
// containers are supported via Open/Cancel/Commit, mirroring the
// kernel's nla_nest_start/nla_nest_cancel/nla_nest_end discipline: Open
// reserves a header and returns a mark; Cancel truncates the buffer back
// to that mark (abandoning the nest and everything written inside it);
// Commit patches the reserved header's length field with the number of
// bytes written since Open.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer ready for Put*/Open calls.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the accumulated attribute stream.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len reports the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) putHeader(typ uint16, length int) {
	var hdr [headerSize]byte
	binary.BigEndian.PutUint16(hdr[0:2], typ)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(length))
	w.buf = append(w.buf, hdr[:]...)
}

func (w *Writer) pad(length int) {
	if padLen := align4(length) - length; padLen > 0 {
		w.buf = append(w.buf, make([]byte, padLen)...)
	}
}

// PutU8 appends a u8 attribute.
func (w *Writer) PutU8(typ uint16, v uint8) {
	w.putHeader(typ, 1)
	w.buf = append(w.buf, v)
	w.pad(1)
}

// PutU16 appends a big-endian u16 attribute.
func (w *Writer) PutU16(typ uint16, v uint16) {
	w.putHeader(typ, 2)
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
	w.pad(2)
}

// PutU32 appends a big-endian u32 attribute.
func (w *Writer) PutU32(typ uint16, v uint32) {
	w.putHeader(typ, 4)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	w.pad(4)
}

// PutString appends a NUL-terminated string attribute.
func (w *Writer) PutString(typ uint16, s string) {
	length := len(s) + 1
	w.putHeader(typ, length)
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
	w.pad(length)
}

// PutRawAddr4 appends a raw 4-byte IPv4 address attribute.
func (w *Writer) PutRawAddr4(typ uint16, addr [4]byte) {
	w.putHeader(typ, 4)
	w.buf = append(w.buf, addr[:]...)
	w.pad(4)
}

// PutRawAddr6 appends a raw 16-byte IPv6 address attribute.
func (w *Writer) PutRawAddr6(typ uint16, addr [16]byte) {
	w.putHeader(typ, 16)
	w.buf = append(w.buf, addr[:]...)
	w.pad(16)
}

// PutRaw appends an attribute whose value is an already-encoded byte
// slice (used to splice a nested Writer's Bytes() into a parent, or to
// carry opaque payloads).
func (w *Writer) PutRaw(typ uint16, value []byte) {
	w.putHeader(typ, len(value))
	w.buf = append(w.buf, value...)
	w.pad(len(value))
}

// Mark identifies a reserved nested-container header, returned by Open
// and consumed by Cancel or Commit.
type Mark struct {
	headerOffset int
	bodyOffset   int
}

// Open reserves a container header for typ and returns a Mark for the
// matching Cancel or Commit. Nothing written between Open and its
// matching Cancel/Commit may be observed by a concurrent reader of
// Bytes(), since the header's length is only correct after Commit.
func (w *Writer) Open(typ uint16) Mark {
	headerOffset := len(w.buf)
	w.putHeader(typ, 0)
	return Mark{headerOffset: headerOffset, bodyOffset: len(w.buf)}
}

// Cancel abandons a nest: the buffer is truncated back to the point Open
// was called, discarding the header and everything written inside it.
func (w *Writer) Cancel(m Mark) {
	w.buf = w.buf[:m.headerOffset]
}

// Commit finalizes a nest: the header reserved by Open is patched with
// the number of body bytes written since, and trailing padding is added
// so the next attribute starts 4-byte aligned.
func (w *Writer) Commit(m Mark) {
	bodyLen := len(w.buf) - m.bodyOffset
	binary.BigEndian.PutUint16(w.buf[m.headerOffset+2:m.headerOffset+4], uint16(bodyLen))
	w.pad(bodyLen)
}
