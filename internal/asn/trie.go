package asn

import (
	"net/netip"
)

type trieNode struct {
	children [2]*trieNode
	terminal bool
}

// prefixTrie is a binary trie over IPv4 prefixes.
type prefixTrie struct {
	root trieNode
}

func bit(a [4]byte, i int) int {
	return int(a[i/8]>>(7-i%8)) & 1
}

func (t *prefixTrie) insert(p netip.Prefix) {
	addr := p.Addr().As4()
	n := &t.root
	for i := 0; i < p.Bits(); i++ {
		b := bit(addr, i)
		if n.children[b] == nil {
			n.children[b] = &trieNode{}
		}
		n = n.children[b]
	}
	n.terminal = true
}

// covered reports whether a strictly less specific prefix in the trie covers p.
func (t *prefixTrie) covered(p netip.Prefix) bool {
	addr := p.Addr().As4()
	n := &t.root
	for i := 0; i < p.Bits(); i++ {
		if n.terminal {
			return true
		}
		n = n.children[bit(addr, i)]
		if n == nil {
			return false
		}
	}
	return false
}

// RootPrefixes returns the prefixes not covered by any other prefix in the set.
func RootPrefixes(prefixes []netip.Prefix) []netip.Prefix {
	var t prefixTrie
	for _, p := range prefixes {
		t.insert(p.Masked())
	}
	seen := make(map[netip.Prefix]struct{}, len(prefixes))
	var roots []netip.Prefix
	for _, p := range prefixes {
		p = p.Masked()
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		if !t.covered(p) {
			roots = append(roots, p)
		}
	}
	return roots
}
