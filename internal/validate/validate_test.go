package validate_test

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/n64lab/nat64d/internal/model"
	"github.com/n64lab/nat64d/internal/netaddr"
	"github.com/n64lab/nat64d/internal/validate"
)

func TestPrefix4RejectsLongLength(t *testing.T) {
	t.Parallel()

	p := netaddr.Prefix4{Addr: netip.MustParseAddr("192.0.2.0"), Len: 33}
	if err := validate.Prefix4(p, validate.Prefix4Options{}); !errors.Is(err, validate.ErrPrefixLenOutOfRange) {
		t.Fatalf("got %v, want ErrPrefixLenOutOfRange", err)
	}
}

func TestPrefix4RejectsHostBits(t *testing.T) {
	t.Parallel()

	p := netaddr.Prefix4{Addr: netip.MustParseAddr("192.0.2.5"), Len: 24}
	if err := validate.Prefix4(p, validate.Prefix4Options{}); !errors.Is(err, validate.ErrNonCanonicalPrefix) {
		t.Fatalf("got %v, want ErrNonCanonicalPrefix", err)
	}
	if err := validate.Prefix4(p, validate.Prefix4Options{AllowNonCanonical: true}); err != nil {
		t.Fatalf("AllowNonCanonical: unexpected error: %v", err)
	}
}

func TestPrefix6RejectsLongLength(t *testing.T) {
	t.Parallel()

	p := netaddr.Prefix6{Addr: netip.MustParseAddr("2001:db8::"), Len: 129}
	if err := validate.Prefix6(p, validate.Prefix6Options{}); !errors.Is(err, validate.ErrPrefixLenOutOfRange) {
		t.Fatalf("got %v, want ErrPrefixLenOutOfRange", err)
	}
}

func TestMappingRuleValid(t *testing.T) {
	t.Parallel()

	r := model.MappingRule{
		Prefix6: netaddr.Prefix6{Addr: netip.MustParseAddr("2001:db8::"), Len: 32},
		Prefix4: netaddr.Prefix4{Addr: netip.MustParseAddr("192.0.2.0"), Len: 24},
		O:       8,
		A:       6,
	}
	if err := validate.MappingRule(r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMappingRuleRejectsOOverflow(t *testing.T) {
	t.Parallel()

	r := model.MappingRule{
		Prefix6: netaddr.Prefix6{Addr: netip.MustParseAddr("2001:db8::"), Len: 32},
		Prefix4: netaddr.Prefix4{Addr: netip.MustParseAddr("192.0.2.0"), Len: 24},
		O:       49,
	}
	if err := validate.MappingRule(r); !errors.Is(err, validate.ErrMappingRule) {
		t.Fatalf("got %v, want ErrMappingRule", err)
	}
}

func TestMappingRuleRejectsAOverflow(t *testing.T) {
	t.Parallel()

	// o + prefix4.len > 32 forces the a/k check.
	r := model.MappingRule{
		Prefix6: netaddr.Prefix6{Addr: netip.MustParseAddr("2001:db8::"), Len: 32},
		Prefix4: netaddr.Prefix4{Addr: netip.MustParseAddr("192.0.2.0"), Len: 24},
		O:       16, // 16 + 24 = 40 > 32
		A:       17,
	}
	if err := validate.MappingRule(r); !errors.Is(err, validate.ErrMappingRule) {
		t.Fatalf("got %v, want ErrMappingRule", err)
	}
}

func TestPlateausSortDedupDropZero(t *testing.T) {
	t.Parallel()

	p := &model.MtuPlateaus{Values: []uint16{1500, 0, 1492, 1500, 576}}
	if err := validate.Plateaus(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []uint16{1500, 1492, 576}
	if len(p.Values) != len(want) {
		t.Fatalf("got %v, want %v", p.Values, want)
	}
	for i := range want {
		if p.Values[i] != want[i] {
			t.Fatalf("got %v, want %v", p.Values, want)
		}
	}
}

func TestPlateausAllZeroFails(t *testing.T) {
	t.Parallel()

	p := &model.MtuPlateaus{Values: []uint16{0, 0, 0}}
	if err := validate.Plateaus(p); !errors.Is(err, validate.ErrPlateauEmpty) {
		t.Fatalf("got %v, want ErrPlateauEmpty", err)
	}
}

func TestPlateausTooMany(t *testing.T) {
	t.Parallel()

	values := make([]uint16, model.PlateausMax+1)
	for i := range values {
		values[i] = uint16(2000 - i)
	}
	p := &model.MtuPlateaus{Values: values}
	if err := validate.Plateaus(p); !errors.Is(err, validate.ErrPlateauCount) {
		t.Fatalf("got %v, want ErrPlateauCount", err)
	}
}
