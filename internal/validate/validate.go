// Package validate implements the NAT64 control plane's configuration
// invariants: prefix length and host-bit checks, MAP mapping-rule
// arithmetic, and MTU plateau normalization. These gate every
// administrative write before it reaches pool4 or the session table.
package validate

import (
	"errors"
	"fmt"
	"sort"

	"github.com/n64lab/nat64d/internal/model"
	"github.com/n64lab/nat64d/internal/netaddr"
)

// Sentinel errors. All are OutOfRange-class per spec.md §7 except where
// noted.
var (
	// ErrPrefixLenOutOfRange indicates a prefix length exceeds its address
	// family's bit width.
	ErrPrefixLenOutOfRange = errors.New("prefix length out of range")

	// ErrNonCanonicalPrefix indicates a prefix has host bits set and the
	// caller did not opt into accepting non-canonical forms.
	ErrNonCanonicalPrefix = errors.New("prefix has non-canonical host bits set")

	// ErrMappingRule wraps a MappingRule arithmetic violation; the message
	// carries the human-readable rationale per spec.md §4.4.
	ErrMappingRule = errors.New("invalid mapping rule")

	// ErrPlateauCount indicates more than model.PlateausMax entries were
	// supplied.
	ErrPlateauCount = errors.New("too many MTU plateaus")

	// ErrPlateauEmpty indicates the plateau list is empty after dedup/zero
	// removal.
	ErrPlateauEmpty = errors.New("MTU plateau list contains nothing but zeroes")
)

// Prefix4Options controls how strictly Prefix4 is validated.
type Prefix4Options struct {
	// AllowNonCanonical permits a prefix whose address has host bits set
	// below the mask (e.g. 192.0.2.5/24).
	AllowNonCanonical bool
}

// Prefix4 validates a Prefix4 per spec.md §4.4: reject length > 32; reject
// host bits set unless the caller opts in.
func Prefix4(p netaddr.Prefix4, opts Prefix4Options) error {
	if p.Len > 32 {
		return fmt.Errorf("%w: IPv4 prefix length %d > 32", ErrPrefixLenOutOfRange, p.Len)
	}
	if opts.AllowNonCanonical {
		return nil
	}
	if hasHostBits4(p) {
		return fmt.Errorf("%w: %s has host bits set", ErrNonCanonicalPrefix, p)
	}
	return nil
}

// Prefix6Options controls how strictly Prefix6 is validated.
type Prefix6Options struct {
	AllowNonCanonical bool
}

// Prefix6 validates a Prefix6 per spec.md §4.4: reject length > 128; reject
// host bits set unless the caller opts in.
func Prefix6(p netaddr.Prefix6, opts Prefix6Options) error {
	if p.Len > 128 {
		return fmt.Errorf("%w: IPv6 prefix length %d > 128", ErrPrefixLenOutOfRange, p.Len)
	}
	if opts.AllowNonCanonical {
		return nil
	}
	if hasHostBits6(p) {
		return fmt.Errorf("%w: %s has host bits set", ErrNonCanonicalPrefix, p)
	}
	return nil
}

func hasHostBits4(p netaddr.Prefix4) bool {
	if !p.Addr.Is4() {
		return false
	}
	masked := maskedPrefix4(p)
	return masked.Addr != p.Addr
}

func hasHostBits6(p netaddr.Prefix6) bool {
	if !p.Addr.Is6() {
		return false
	}
	masked := maskedPrefix6(p)
	return masked.Addr != p.Addr
}

func maskedPrefix4(p netaddr.Prefix4) netaddr.Prefix4 {
	pfx, err := p.Addr.Prefix(int(p.Len))
	if err != nil {
		return p
	}
	return netaddr.Prefix4{Addr: pfx.Masked().Addr(), Len: p.Len}
}

func maskedPrefix6(p netaddr.Prefix6) netaddr.Prefix6 {
	pfx, err := p.Addr.Prefix(int(p.Len))
	if err != nil {
		return p
	}
	return netaddr.Prefix6{Addr: pfx.Masked().Addr(), Len: p.Len}
}

// MappingRule validates the EA-bits/PSID arithmetic invariants from
// spec.md §3:
//
//	o <= 48
//	prefix6.len + o + sid_len <= 128, where sid_len = max(0, 32 - prefix4.len - o)
//	if o + prefix4.len > 32: a <= 16 and a + k <= 16
func MappingRule(r model.MappingRule) error {
	if r.O > 48 {
		return fmt.Errorf("%w: EA-bits length %d exceeds 48", ErrMappingRule, r.O)
	}

	sidLen := r.SIDLen()
	total := int(r.Prefix6.Len) + int(r.O) + sidLen
	if total > 128 {
		return fmt.Errorf(
			"%w: IPv6 prefix length (%d) plus EA-bits length (%d) plus Subnet ID length (%d) exceed 128",
			ErrMappingRule, r.Prefix6.Len, r.O, sidLen,
		)
	}

	if int(r.O)+int(r.Prefix4.Len) <= 32 {
		return nil // a and k only matter once o + prefix4.len exceeds 32.
	}

	if r.A > 16 {
		return fmt.Errorf("%w: 'a' (%d) must not exceed 16", ErrMappingRule, r.A)
	}
	k := int(r.O) + int(r.Prefix4.Len) - 32 // PSID length
	if int(r.A)+k > 16 {
		return fmt.Errorf("%w: a (%d) + k (%d) must not exceed 16", ErrMappingRule, r.A, k)
	}
	return nil
}

// Plateaus sorts p.Values descending, removes zeroes and duplicates in
// place, and reports ErrPlateauCount / ErrPlateauEmpty on violation, per
// spec.md §4.4 and the original `validate_plateaus` routine.
func Plateaus(p *model.MtuPlateaus) error {
	if len(p.Values) > model.PlateausMax {
		return fmt.Errorf("%w: got %d, max %d", ErrPlateauCount, len(p.Values), model.PlateausMax)
	}
	if len(p.Values) == 0 {
		return ErrPlateauEmpty
	}

	values := append([]uint16(nil), p.Values...)
	sort.Slice(values, func(i, j int) bool { return values[i] > values[j] })

	deduped := values[:1]
	for _, v := range values[1:] {
		if v == 0 {
			break
		}
		if v != deduped[len(deduped)-1] {
			deduped = append(deduped, v)
		}
	}

	if deduped[0] == 0 {
		return ErrPlateauEmpty
	}

	p.Values = deduped
	return nil
}
