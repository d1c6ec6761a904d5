package host

import (
	"maps"
	"net"
	"net/netip"
	"slices"
)

// NetPairList is the ordered table of discovered hosts.
//
// Every address in the ordered host sequence is also a key of the resolution
// map; a nil hardware address marks an unresolved entry. Entries are never removed.
type NetPairList struct {
	hosts []netip.Addr
	macs  map[netip.Addr]net.HardwareAddr
}

// NewNetPairList returns an empty list.
func NewNetPairList() NetPairList {
	return NetPairList{
		macs: make(map[netip.Addr]net.HardwareAddr),
	}
}

// Len returns the number of discovered hosts.
func (l NetPairList) Len() int {
	return len(l.hosts)
}

// Hosts returns a copy of the hosts in discovery order.
func (l NetPairList) Hosts() []netip.Addr {
	return slices.Clone(l.hosts)
}

// Resolutions returns a copy of the address to hardware address mapping.
func (l NetPairList) Resolutions() map[netip.Addr]net.HardwareAddr {
	return maps.Clone(l.macs)
}

// Get returns the address at index i.
func (l NetPairList) Get(i int) (netip.Addr, bool) {
	if i < 0 || i >= len(l.hosts) {
		return netip.Addr{}, false
	}
	return l.hosts[i], true
}

// Lookup returns the resolved hardware address of addr. known is false when
// addr was never discovered; hw is nil when it is known but unresolved.
func (l NetPairList) Lookup(addr netip.Addr) (hw net.HardwareAddr, known bool) {
	hw, known = l.macs[addr]
	return slices.Clone(hw), known
}

// Add appends addr as an unresolved host. It returns false if addr is already listed.
func (l *NetPairList) Add(addr netip.Addr) bool {
	if l.macs == nil {
		l.macs = make(map[netip.Addr]net.HardwareAddr)
	}
	if _, ok := l.macs[addr]; ok {
		return false
	}
	l.hosts = append(l.hosts, addr)
	l.macs[addr] = nil
	return true
}

// Resolve records hw for addr, adding addr first if it was never discovered.
// A nil hw leaves an existing resolution untouched.
func (l *NetPairList) Resolve(addr netip.Addr, hw net.HardwareAddr) {
	l.Add(addr)
	if len(hw) == 0 {
		return
	}
	l.macs[addr] = slices.Clone(hw)
}

// Pairs returns the resolved entries as KnownPairs, in discovery order.
func (l NetPairList) Pairs() []KnownPair {
	pairs := make([]KnownPair, 0, len(l.hosts))
	for _, addr := range l.hosts {
		if hw := l.macs[addr]; hw != nil {
			pairs = append(pairs, NewKnownPair(addr, hw))
		}
	}
	return pairs
}
