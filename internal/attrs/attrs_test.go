package attrs_test

import (
	"net/netip"
	"testing"

	"github.com/n64lab/nat64d/internal/attrs"
	"github.com/n64lab/nat64d/internal/model"
	"github.com/n64lab/nat64d/internal/netaddr"
	"github.com/n64lab/nat64d/internal/tlv"
)

const rootType uint16 = 1

func byTypeOf(t *testing.T, w *tlv.Writer) map[uint16]tlv.Attribute {
	t.Helper()
	byType, err := tlv.NewStream(w.Bytes()).ByType()
	if err != nil {
		t.Fatalf("ByType: unexpected error: %v", err)
	}
	return byType
}

func TestPool4EntryRoundTrip(t *testing.T) {
	t.Parallel()

	entry := model.Pool4Entry{
		Mark:       7,
		Iterations: 0,
		Proto:      netaddr.ProtoTCP,
		Prefix:     netaddr.Prefix4{Addr: netip.MustParseAddr("192.0.2.0"), Len: 24},
		PortMin:    1024,
		PortMax:    65535,
	}

	w := tlv.NewWriter()
	attrs.PutPool4Entry(w, rootType, entry)

	byType := byTypeOf(t, w)
	root := byType[rootType]
	got, err := attrs.GetPool4Entry(&root, "pool4 entry")
	if err != nil {
		t.Fatalf("GetPool4Entry: unexpected error: %v", err)
	}
	if got != entry {
		t.Fatalf("got %+v, want %+v", got, entry)
	}
}

func TestBIBEntryRoundTrip(t *testing.T) {
	t.Parallel()

	entry := model.BibEntry{
		Addr6:    netaddr.TransportAddr6{Addr: netip.MustParseAddr("2001:db8::1"), Port: 6000},
		Addr4:    netaddr.TransportAddr4{Addr: netip.MustParseAddr("192.0.2.1"), Port: 6000},
		Proto:    netaddr.ProtoUDP,
		IsStatic: true,
	}

	w := tlv.NewWriter()
	attrs.PutBIB(w, rootType, entry)

	byType := byTypeOf(t, w)
	root := byType[rootType]
	got, err := attrs.GetBIB(&root, "bib entry")
	if err != nil {
		t.Fatalf("GetBIB: unexpected error: %v", err)
	}
	if got != entry {
		t.Fatalf("got %+v, want %+v", got, entry)
	}
}

func TestEAMRoundTrip(t *testing.T) {
	t.Parallel()

	eam := model.EamtEntry{
		Prefix6: netaddr.Prefix6{Addr: netip.MustParseAddr("2001:db8:aa::"), Len: 96},
		Prefix4: netaddr.Prefix4{Addr: netip.MustParseAddr("192.0.2.0"), Len: 24},
	}

	w := tlv.NewWriter()
	attrs.PutEAM(w, rootType, eam)

	byType := byTypeOf(t, w)
	root := byType[rootType]
	got, err := attrs.GetEAM(&root, "eam entry")
	if err != nil {
		t.Fatalf("GetEAM: unexpected error: %v", err)
	}
	if got != eam {
		t.Fatalf("got %+v, want %+v", got, eam)
	}
}

func TestMappingRuleRoundTrip(t *testing.T) {
	t.Parallel()

	rule := model.MappingRule{
		Prefix6: netaddr.Prefix6{Addr: netip.MustParseAddr("2001:db8::"), Len: 32},
		Prefix4: netaddr.Prefix4{Addr: netip.MustParseAddr("192.0.2.0"), Len: 24},
		O:       8,
		A:       6,
	}

	w := tlv.NewWriter()
	attrs.PutMappingRule(w, rootType, &rule)

	byType := byTypeOf(t, w)
	root := byType[rootType]
	got, ok, err := attrs.GetMappingRule(&root, "mapping rule")
	if err != nil {
		t.Fatalf("GetMappingRule: unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true for a set mapping rule")
	}
	if got != rule {
		t.Fatalf("got %+v, want %+v", got, rule)
	}
}

func TestMappingRuleUnset(t *testing.T) {
	t.Parallel()

	w := tlv.NewWriter()
	attrs.PutMappingRule(w, rootType, nil)

	byType := byTypeOf(t, w)
	root := byType[rootType]
	_, ok, err := attrs.GetMappingRule(&root, "mapping rule")
	if err != nil {
		t.Fatalf("GetMappingRule: unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for an unset mapping rule")
	}
}

func TestPlateausRoundTripNormalizes(t *testing.T) {
	t.Parallel()

	w := tlv.NewWriter()
	attrs.PutPlateaus(w, rootType, model.MtuPlateaus{Values: []uint16{1500, 0, 1492, 1500, 576}})

	byType := byTypeOf(t, w)
	root := byType[rootType]
	got, err := attrs.GetPlateaus(&root, "plateaus")
	if err != nil {
		t.Fatalf("GetPlateaus: unexpected error: %v", err)
	}

	want := []uint16{1500, 1492, 576}
	if len(got.Values) != len(want) {
		t.Fatalf("got %v, want %v", got.Values, want)
	}
	for i := range want {
		if got.Values[i] != want[i] {
			t.Fatalf("got %v, want %v", got.Values, want)
		}
	}
}

func TestPrefix4UnsetRoundTrip(t *testing.T) {
	t.Parallel()

	w := tlv.NewWriter()
	attrs.PutPrefix4(w, rootType, nil)

	byType := byTypeOf(t, w)
	root := byType[rootType]
	_, ok, err := attrs.GetPrefix4(&root, "prefix4")
	if err != nil {
		t.Fatalf("GetPrefix4: unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for an unset prefix")
	}
}
