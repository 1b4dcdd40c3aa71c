package tlv_test

import (
	"errors"
	"testing"

	"github.com/n64lab/nat64d/internal/tlv"
)

func TestPrimitiveRoundTrip(t *testing.T) {
	t.Parallel()

	w := tlv.NewWriter()
	w.PutU8(1, 0x42)
	w.PutU16(2, 0xBEEF)
	w.PutU32(3, 0xDEADBEEF)
	w.PutString(4, "nat64")
	w.PutRawAddr4(5, [4]byte{192, 0, 2, 1})
	w.PutRawAddr6(6, [16]byte{0x20, 0x01, 0x0d, 0xb8})

	byType, err := tlv.NewStream(w.Bytes()).ByType()
	if err != nil {
		t.Fatalf("ByType: unexpected error: %v", err)
	}

	a1 := byType[1]
	u8, err := tlv.GetU8(&a1, "u8")
	if err != nil || u8 != 0x42 {
		t.Fatalf("GetU8 = %v, %v", u8, err)
	}

	a2 := byType[2]
	u16, err := tlv.GetU16(&a2, "u16")
	if err != nil || u16 != 0xBEEF {
		t.Fatalf("GetU16 = %v, %v", u16, err)
	}

	a3 := byType[3]
	u32, err := tlv.GetU32(&a3, "u32")
	if err != nil || u32 != 0xDEADBEEF {
		t.Fatalf("GetU32 = %v, %v", u32, err)
	}

	a4 := byType[4]
	s, err := tlv.GetString(&a4, "string", 64)
	if err != nil || s != "nat64" {
		t.Fatalf("GetString = %q, %v", s, err)
	}

	a5 := byType[5]
	addr4, err := tlv.GetRawAddr4(&a5, "addr4")
	if err != nil || addr4 != [4]byte{192, 0, 2, 1} {
		t.Fatalf("GetRawAddr4 = %v, %v", addr4, err)
	}

	a6 := byType[6]
	addr6, err := tlv.GetRawAddr6(&a6, "addr6")
	if err != nil || addr6[0] != 0x20 || addr6[1] != 0x01 {
		t.Fatalf("GetRawAddr6 = %v, %v", addr6, err)
	}
}

func TestMissingAttribute(t *testing.T) {
	t.Parallel()

	_, err := tlv.GetU32(nil, "mark")
	if !errors.Is(err, tlv.ErrMissingAttribute) {
		t.Fatalf("got %v, want ErrMissingAttribute", err)
	}
}

func TestShortAttribute(t *testing.T) {
	t.Parallel()

	a := tlv.Attribute{Type: 1, Value: []byte{0x01}}
	_, err := tlv.GetU32(&a, "mark")
	if !errors.Is(err, tlv.ErrShortAttribute) {
		t.Fatalf("got %v, want ErrShortAttribute", err)
	}
}

func TestNestedCommit(t *testing.T) {
	t.Parallel()

	w := tlv.NewWriter()
	w.PutU32(1, 7) // a leading sibling attribute.

	nest := w.Open(2)
	w.PutU8(10, 0xAA)
	w.PutU16(11, 0xBBCC)
	w.Commit(nest)

	w.PutU8(3, 0xFF) // a trailing sibling attribute.

	byType, err := tlv.NewStream(w.Bytes()).ByType()
	if err != nil {
		t.Fatalf("ByType: unexpected error: %v", err)
	}

	outer := byType[1]
	v, err := tlv.GetU32(&outer, "outer")
	if err != nil || v != 7 {
		t.Fatalf("outer = %v, %v", v, err)
	}

	trailing := byType[3]
	tv, err := tlv.GetU8(&trailing, "trailing")
	if err != nil || tv != 0xFF {
		t.Fatalf("trailing = %v, %v", tv, err)
	}

	nestAttr := byType[2]
	nestedStream, err := tlv.GetNested(&nestAttr, "nested")
	if err != nil {
		t.Fatalf("GetNested: unexpected error: %v", err)
	}
	inner, err := nestedStream.ByType()
	if err != nil {
		t.Fatalf("inner ByType: unexpected error: %v", err)
	}

	a10 := inner[10]
	i10, err := tlv.GetU8(&a10, "inner-10")
	if err != nil || i10 != 0xAA {
		t.Fatalf("inner[10] = %v, %v", i10, err)
	}
	a11 := inner[11]
	i11, err := tlv.GetU16(&a11, "inner-11")
	if err != nil || i11 != 0xBBCC {
		t.Fatalf("inner[11] = %v, %v", i11, err)
	}
}

func TestCancelDiscardsNest(t *testing.T) {
	t.Parallel()

	w := tlv.NewWriter()
	w.PutU8(1, 1)

	nest := w.Open(2)
	w.PutU32(99, 0xFFFFFFFF)
	w.Cancel(nest)

	w.PutU8(3, 2)

	byType, err := tlv.NewStream(w.Bytes()).ByType()
	if err != nil {
		t.Fatalf("ByType: unexpected error: %v", err)
	}
	if _, ok := byType[2]; ok {
		t.Fatal("expected canceled nest (type 2) to be absent from the stream")
	}
	if _, ok := byType[3]; !ok {
		t.Fatal("expected trailing sibling (type 3) to survive the cancel")
	}
}

func TestTruncatedStream(t *testing.T) {
	t.Parallel()

	_, err := tlv.NewStream([]byte{0, 1, 0, 10, 'x'}).Attributes()
	if err == nil {
		t.Fatal("expected error for truncated attribute value")
	}
}
