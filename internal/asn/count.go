package asn

import (
	"encoding/binary"
	"net/netip"

	"go4.org/netipx"
)

// IPCount returns the number of distinct IPv4 addresses announced by a set of
// prefixes.
func IPCount(prefixes []netip.Prefix) uint64 {
	var b netipx.IPSetBuilder
	for _, p := range prefixes {
		if p.IsValid() && p.Addr().Is4() {
			b.AddPrefix(p.Masked())
		}
	}
	set, err := b.IPSet()
	if err != nil {
		return 0
	}

	var total uint64
	for _, r := range set.Ranges() {
		total += uint64(addrValue(r.To())-addrValue(r.From())) + 1
	}
	return total
}

func addrValue(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}
