// Package attrs implements the composite attribute codecs the NAT64
// control plane exchanges over the wire: prefixes, transport addresses,
// EAM entries, pool4 entries, BIB entries, MAP mapping rules, and MTU
// plateau lists. Each composite is a nested tlv container whose children
// are 1:1 with the corresponding model.* struct's fields.
package attrs

import (
	"fmt"
	"net/netip"

	"github.com/n64lab/nat64d/internal/model"
	"github.com/n64lab/nat64d/internal/netaddr"
	"github.com/n64lab/nat64d/internal/tlv"
	"github.com/n64lab/nat64d/internal/validate"
)

// Child attribute types for a nested Prefix4/Prefix6 container.
const (
	prefixAddr uint16 = 1
	prefixLen  uint16 = 2
)

// Child attribute types for a nested transport-address container.
const (
	taddrAddr uint16 = 1
	taddrPort uint16 = 2
)

// Child attribute types for a nested EAM container.
const (
	eamPrefix6 uint16 = 1
	eamPrefix4 uint16 = 2
)

// Child attribute types for a nested pool4-entry container.
const (
	pool4Mark       uint16 = 1
	pool4Iterations uint16 = 2
	pool4Flags      uint16 = 3
	pool4Proto      uint16 = 4
	pool4Prefix     uint16 = 5
	pool4PortMin    uint16 = 6
	pool4PortMax    uint16 = 7
)

// Child attribute types for a nested BIB-entry container.
const (
	bibSrc6   uint16 = 1
	bibSrc4   uint16 = 2
	bibProto  uint16 = 3
	bibStatic uint16 = 4
)

// Child attribute types for a nested mapping-rule container.
const (
	mrPrefix6 uint16 = 1
	mrPrefix4 uint16 = 2
	mrEABits  uint16 = 3
	mrA       uint16 = 4
)

// plateauEntry is the repeated child type inside a nested plateau-list
// container; every child shares this type.
const plateauEntry uint16 = 1

// -------------------------------------------------------------------------
// Prefix4 / Prefix6
// -------------------------------------------------------------------------

// PutPrefix4 writes prefix as a nested container under typ. A nil prefix
// writes only a zero length child, the wire form of "unset" used by
// optional mapping-rule prefixes.
func PutPrefix4(w *tlv.Writer, typ uint16, prefix *netaddr.Prefix4) {
	m := w.Open(typ)
	if prefix != nil {
		addr4 := prefix.Addr.As4()
		w.PutRawAddr4(prefixAddr, addr4)
		w.PutU8(prefixLen, prefix.Len)
	} else {
		w.PutU8(prefixLen, 0)
	}
	w.Commit(m)
}

// GetPrefix4 decodes an optional nested Prefix4 container. ok is false if
// the container carried no address child (the "unset" wire form).
func GetPrefix4(attr *tlv.Attribute, name string) (prefix netaddr.Prefix4, ok bool, err error) {
	nested, err := tlv.GetNested(attr, name)
	if err != nil {
		return netaddr.Prefix4{}, false, err
	}
	children, err := nested.ByType()
	if err != nil {
		return netaddr.Prefix4{}, false, tlv.MalformedNested(name, err)
	}

	if _, hasLen := children[prefixLen]; !hasLen {
		return netaddr.Prefix4{}, false, tlv.MissingAttribute(name + " length")
	}
	addrAttr, hasAddr := children[prefixAddr]
	if !hasAddr {
		return netaddr.Prefix4{}, false, nil
	}

	raw, err := tlv.GetRawAddr4(&addrAttr, name+" address")
	if err != nil {
		return netaddr.Prefix4{}, false, err
	}
	lenAttr := children[prefixLen]
	length, err := tlv.GetU8(&lenAttr, name+" length")
	if err != nil {
		return netaddr.Prefix4{}, false, err
	}

	return netaddr.Prefix4{Addr: netip.AddrFrom4(raw), Len: length}, true, nil
}

// PutPrefix6 is the Prefix6 analogue of PutPrefix4.
func PutPrefix6(w *tlv.Writer, typ uint16, prefix *netaddr.Prefix6) {
	m := w.Open(typ)
	if prefix != nil {
		addr6 := prefix.Addr.As16()
		w.PutRawAddr6(prefixAddr, addr6)
		w.PutU8(prefixLen, prefix.Len)
	} else {
		w.PutU8(prefixLen, 0)
	}
	w.Commit(m)
}

// GetPrefix6 is the Prefix6 analogue of GetPrefix4.
func GetPrefix6(attr *tlv.Attribute, name string) (prefix netaddr.Prefix6, ok bool, err error) {
	nested, err := tlv.GetNested(attr, name)
	if err != nil {
		return netaddr.Prefix6{}, false, err
	}
	children, err := nested.ByType()
	if err != nil {
		return netaddr.Prefix6{}, false, tlv.MalformedNested(name, err)
	}

	if _, hasLen := children[prefixLen]; !hasLen {
		return netaddr.Prefix6{}, false, tlv.MissingAttribute(name + " length")
	}
	addrAttr, hasAddr := children[prefixAddr]
	if !hasAddr {
		return netaddr.Prefix6{}, false, nil
	}

	raw, err := tlv.GetRawAddr6(&addrAttr, name+" address")
	if err != nil {
		return netaddr.Prefix6{}, false, err
	}
	lenAttr := children[prefixLen]
	length, err := tlv.GetU8(&lenAttr, name+" length")
	if err != nil {
		return netaddr.Prefix6{}, false, err
	}

	return netaddr.Prefix6{Addr: netip.AddrFrom16(raw), Len: length}, true, nil
}

// GetRequiredPrefix4 is GetPrefix4 for callers that treat "unset" as an
// error (the mandatory prefix of a pool4/EAM/BIB entry).
func GetRequiredPrefix4(attr *tlv.Attribute, name string) (netaddr.Prefix4, error) {
	p, ok, err := GetPrefix4(attr, name)
	if err != nil {
		return netaddr.Prefix4{}, err
	}
	if !ok {
		return netaddr.Prefix4{}, fmt.Errorf("%w: %s is null despite being mandatory", tlv.ErrMissingAttribute, name)
	}
	return p, nil
}

// GetRequiredPrefix6 is the Prefix6 analogue of GetRequiredPrefix4.
func GetRequiredPrefix6(attr *tlv.Attribute, name string) (netaddr.Prefix6, error) {
	p, ok, err := GetPrefix6(attr, name)
	if err != nil {
		return netaddr.Prefix6{}, err
	}
	if !ok {
		return netaddr.Prefix6{}, fmt.Errorf("%w: %s is null despite being mandatory", tlv.ErrMissingAttribute, name)
	}
	return p, nil
}

// -------------------------------------------------------------------------
// Transport addresses
// -------------------------------------------------------------------------

// PutTransportAddr6 writes a nested IPv6 transport-address container.
func PutTransportAddr6(w *tlv.Writer, typ uint16, addr netaddr.TransportAddr6) {
	m := w.Open(typ)
	w.PutRawAddr6(taddrAddr, addr.Addr.As16())
	w.PutU16(taddrPort, addr.Port)
	w.Commit(m)
}

// GetTransportAddr6 decodes a nested IPv6 transport-address container.
func GetTransportAddr6(attr *tlv.Attribute, name string) (netaddr.TransportAddr6, error) {
	nested, err := tlv.GetNested(attr, name)
	if err != nil {
		return netaddr.TransportAddr6{}, err
	}
	children, err := nested.ByType()
	if err != nil {
		return netaddr.TransportAddr6{}, tlv.MalformedNested(name, err)
	}
	addrAttr := children[taddrAddr]
	raw, err := tlv.GetRawAddr6(&addrAttr, name+" address")
	if err != nil {
		return netaddr.TransportAddr6{}, err
	}
	portAttr := children[taddrPort]
	port, err := tlv.GetU16(&portAttr, name+" port")
	if err != nil {
		return netaddr.TransportAddr6{}, err
	}
	return netaddr.TransportAddr6{Addr: netip.AddrFrom16(raw), Port: port}, nil
}

// PutTransportAddr4 writes a nested IPv4 transport-address container.
func PutTransportAddr4(w *tlv.Writer, typ uint16, addr netaddr.TransportAddr4) {
	m := w.Open(typ)
	w.PutRawAddr4(taddrAddr, addr.Addr.As4())
	w.PutU16(taddrPort, addr.Port)
	w.Commit(m)
}

// GetTransportAddr4 decodes a nested IPv4 transport-address container.
func GetTransportAddr4(attr *tlv.Attribute, name string) (netaddr.TransportAddr4, error) {
	nested, err := tlv.GetNested(attr, name)
	if err != nil {
		return netaddr.TransportAddr4{}, err
	}
	children, err := nested.ByType()
	if err != nil {
		return netaddr.TransportAddr4{}, tlv.MalformedNested(name, err)
	}
	addrAttr := children[taddrAddr]
	raw, err := tlv.GetRawAddr4(&addrAttr, name+" address")
	if err != nil {
		return netaddr.TransportAddr4{}, err
	}
	portAttr := children[taddrPort]
	port, err := tlv.GetU16(&portAttr, name+" port")
	if err != nil {
		return netaddr.TransportAddr4{}, err
	}
	return netaddr.TransportAddr4{Addr: netip.AddrFrom4(raw), Port: port}, nil
}

// -------------------------------------------------------------------------
// EAM entries
// -------------------------------------------------------------------------

// PutEAM writes a nested EAM-entry container under typ.
func PutEAM(w *tlv.Writer, typ uint16, eam model.EamtEntry) {
	m := w.Open(typ)
	PutPrefix6(w, eamPrefix6, &eam.Prefix6)
	PutPrefix4(w, eamPrefix4, &eam.Prefix4)
	w.Commit(m)
}

// GetEAM decodes a nested EAM-entry container.
func GetEAM(attr *tlv.Attribute, name string) (model.EamtEntry, error) {
	nested, err := tlv.GetNested(attr, name)
	if err != nil {
		return model.EamtEntry{}, err
	}
	children, err := nested.ByType()
	if err != nil {
		return model.EamtEntry{}, tlv.MalformedNested(name, err)
	}

	p6Attr := children[eamPrefix6]
	prefix6, err := GetRequiredPrefix6(&p6Attr, "IPv6 prefix")
	if err != nil {
		return model.EamtEntry{}, err
	}
	p4Attr := children[eamPrefix4]
	prefix4, err := GetRequiredPrefix4(&p4Attr, "IPv4 prefix")
	if err != nil {
		return model.EamtEntry{}, err
	}

	return model.EamtEntry{Prefix6: prefix6, Prefix4: prefix4}, nil
}

// -------------------------------------------------------------------------
// Pool4 entries
// -------------------------------------------------------------------------

// PutPool4Entry writes a nested pool4-entry container under typ.
func PutPool4Entry(w *tlv.Writer, typ uint16, entry model.Pool4Entry) {
	m := w.Open(typ)
	w.PutU32(pool4Mark, entry.Mark)
	w.PutU32(pool4Iterations, entry.Iterations)
	w.PutU8(pool4Flags, entry.Flags)
	w.PutU8(pool4Proto, uint8(entry.Proto))
	PutPrefix4(w, pool4Prefix, &entry.Prefix)
	w.PutU16(pool4PortMin, entry.PortMin)
	w.PutU16(pool4PortMax, entry.PortMax)
	w.Commit(m)
}

// GetPool4Entry decodes a nested pool4-entry container and validates the
// embedded prefix.
func GetPool4Entry(attr *tlv.Attribute, name string) (model.Pool4Entry, error) {
	nested, err := tlv.GetNested(attr, name)
	if err != nil {
		return model.Pool4Entry{}, err
	}
	children, err := nested.ByType()
	if err != nil {
		return model.Pool4Entry{}, tlv.MalformedNested(name, err)
	}

	var entry model.Pool4Entry

	if a, ok := children[pool4Mark]; ok {
		entry.Mark, err = tlv.GetU32(&a, "mark")
		if err != nil {
			return model.Pool4Entry{}, err
		}
	}
	if a, ok := children[pool4Iterations]; ok {
		entry.Iterations, err = tlv.GetU32(&a, "iterations")
		if err != nil {
			return model.Pool4Entry{}, err
		}
	}
	if a, ok := children[pool4Flags]; ok {
		entry.Flags, err = tlv.GetU8(&a, "flags")
		if err != nil {
			return model.Pool4Entry{}, err
		}
	}

	protoAttr := children[pool4Proto]
	proto, err := tlv.GetU8(&protoAttr, "protocol")
	if err != nil {
		return model.Pool4Entry{}, err
	}
	entry.Proto = netaddr.L4Proto(proto)
	if err := entry.Proto.Validate(); err != nil {
		return model.Pool4Entry{}, err
	}

	prefixAttr := children[pool4Prefix]
	entry.Prefix, err = GetRequiredPrefix4(&prefixAttr, "IPv4 prefix")
	if err != nil {
		return model.Pool4Entry{}, err
	}
	if err := validate.Prefix4(entry.Prefix, validate.Prefix4Options{}); err != nil {
		return model.Pool4Entry{}, err
	}

	minAttr := children[pool4PortMin]
	entry.PortMin, err = tlv.GetU16(&minAttr, "minimum port")
	if err != nil {
		return model.Pool4Entry{}, err
	}
	maxAttr := children[pool4PortMax]
	entry.PortMax, err = tlv.GetU16(&maxAttr, "maximum port")
	if err != nil {
		return model.Pool4Entry{}, err
	}

	return entry, nil
}

// -------------------------------------------------------------------------
// BIB entries
// -------------------------------------------------------------------------

// PutBIB writes a nested BIB-entry container under typ.
func PutBIB(w *tlv.Writer, typ uint16, entry model.BibEntry) {
	m := w.Open(typ)
	PutTransportAddr6(w, bibSrc6, entry.Addr6)
	PutTransportAddr4(w, bibSrc4, entry.Addr4)
	w.PutU8(bibProto, uint8(entry.Proto))
	static := uint8(0)
	if entry.IsStatic {
		static = 1
	}
	w.PutU8(bibStatic, static)
	w.Commit(m)
}

// GetBIB decodes a nested BIB-entry container.
func GetBIB(attr *tlv.Attribute, name string) (model.BibEntry, error) {
	nested, err := tlv.GetNested(attr, name)
	if err != nil {
		return model.BibEntry{}, err
	}
	children, err := nested.ByType()
	if err != nil {
		return model.BibEntry{}, tlv.MalformedNested(name, err)
	}

	src6Attr := children[bibSrc6]
	addr6, err := GetTransportAddr6(&src6Attr, "IPv6 transport address")
	if err != nil {
		return model.BibEntry{}, err
	}
	src4Attr := children[bibSrc4]
	addr4, err := GetTransportAddr4(&src4Attr, "IPv4 transport address")
	if err != nil {
		return model.BibEntry{}, err
	}
	protoAttr := children[bibProto]
	proto, err := tlv.GetU8(&protoAttr, "protocol")
	if err != nil {
		return model.BibEntry{}, err
	}

	entry := model.BibEntry{Addr6: addr6, Addr4: addr4, Proto: netaddr.L4Proto(proto)}
	if a, ok := children[bibStatic]; ok {
		isStatic, err := tlv.GetU8(&a, "static")
		if err != nil {
			return model.BibEntry{}, err
		}
		entry.IsStatic = isStatic != 0
	}

	return entry, nil
}

// -------------------------------------------------------------------------
// Mapping rules
// -------------------------------------------------------------------------

// defaultA is the PSID offset assumed when the wire form omits it.
const defaultA uint8 = 6

// PutMappingRule writes a nested mapping-rule container. A nil rule
// writes the "unset" wire form (a Prefix6 child with no address).
func PutMappingRule(w *tlv.Writer, typ uint16, rule *model.MappingRule) {
	m := w.Open(typ)
	if rule != nil {
		PutPrefix6(w, mrPrefix6, &rule.Prefix6)
		PutPrefix4(w, mrPrefix4, &rule.Prefix4)
		w.PutU8(mrEABits, rule.O)
		w.PutU8(mrA, rule.A)
	} else {
		PutPrefix6(w, mrPrefix6, nil)
	}
	w.Commit(m)
}

// GetMappingRule decodes an optional nested mapping-rule container and
// validates its EA-bits/PSID arithmetic. ok is false for the "unset" wire
// form.
func GetMappingRule(attr *tlv.Attribute, name string) (rule model.MappingRule, ok bool, err error) {
	nested, err := tlv.GetNested(attr, name)
	if err != nil {
		return model.MappingRule{}, false, err
	}
	children, err := nested.ByType()
	if err != nil {
		return model.MappingRule{}, false, tlv.MalformedNested(name, err)
	}

	prefix4Attr, hasPrefix4 := children[mrPrefix4]
	if !hasPrefix4 {
		return model.MappingRule{}, false, nil
	}

	prefix6Attr := children[mrPrefix6]
	prefix6, err := GetRequiredPrefix6(&prefix6Attr, "IPv6 prefix")
	if err != nil {
		return model.MappingRule{}, false, err
	}
	prefix4, err := GetRequiredPrefix4(&prefix4Attr, "IPv4 prefix")
	if err != nil {
		return model.MappingRule{}, false, err
	}
	eaAttr := children[mrEABits]
	o, err := tlv.GetU8(&eaAttr, "EA-bits length")
	if err != nil {
		return model.MappingRule{}, false, err
	}

	a := defaultA
	if aAttr, present := children[mrA]; present {
		a, err = tlv.GetU8(&aAttr, "a")
		if err != nil {
			return model.MappingRule{}, false, err
		}
	}

	rule = model.MappingRule{Prefix6: prefix6, Prefix4: prefix4, O: o, A: a}
	if err := validate.MappingRule(rule); err != nil {
		return model.MappingRule{}, false, err
	}
	return rule, true, nil
}

// -------------------------------------------------------------------------
// MTU plateaus
// -------------------------------------------------------------------------

// PutPlateaus writes a nested plateau-list container, one child per
// value, in the caller's order.
func PutPlateaus(w *tlv.Writer, typ uint16, plateaus model.MtuPlateaus) {
	m := w.Open(typ)
	for _, v := range plateaus.Values {
		w.PutU16(plateauEntry, v)
	}
	w.Commit(m)
}

// GetPlateaus decodes a nested plateau-list container and normalizes it
// (sort descending, drop zeroes/duplicates) via validate.Plateaus.
func GetPlateaus(attr *tlv.Attribute, name string) (model.MtuPlateaus, error) {
	nested, err := tlv.GetNested(attr, name)
	if err != nil {
		return model.MtuPlateaus{}, err
	}
	children, err := nested.Attributes()
	if err != nil {
		return model.MtuPlateaus{}, tlv.MalformedNested(name, err)
	}

	if len(children) > model.PlateausMax {
		return model.MtuPlateaus{}, fmt.Errorf("%w: too many plateaus", validate.ErrPlateauCount)
	}

	values := make([]uint16, 0, len(children))
	for i := range children {
		v, err := tlv.GetU16(&children[i], "plateau entry")
		if err != nil {
			return model.MtuPlateaus{}, err
		}
		values = append(values, v)
	}

	plateaus := model.MtuPlateaus{Values: values}
	if err := validate.Plateaus(&plateaus); err != nil {
		return model.MtuPlateaus{}, err
	}
	return plateaus, nil
}
