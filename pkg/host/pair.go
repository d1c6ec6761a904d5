// Package host holds the network identity state shared between the framework,
// hooks and running modules.
package host

import (
	"fmt"
	"net"
	"net/netip"
	"slices"
)

// KnownPair binds a protocol address to a hardware address.
// A KnownPair is immutable; slots are updated by replacing the whole pair.
type KnownPair struct {
	addr netip.Addr
	hw   net.HardwareAddr
}

// NewKnownPair creates a pair. The hardware address is copied.
func NewKnownPair(addr netip.Addr, hw net.HardwareAddr) KnownPair {
	return KnownPair{
		addr: addr,
		hw:   slices.Clone(hw),
	}
}

// ParseKnownPair parses textual addresses, e.g. ("10.0.0.1", "aa:aa:aa:aa:aa:aa").
func ParseKnownPair(addr, hw string) (KnownPair, error) {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return KnownPair{}, fmt.Errorf("parse protocol address %q: %w", addr, err)
	}
	mac, err := net.ParseMAC(hw)
	if err != nil {
		return KnownPair{}, fmt.Errorf("parse hardware address %q: %w", hw, err)
	}
	return NewKnownPair(ip, mac), nil
}

// Addr returns the protocol address.
func (p KnownPair) Addr() netip.Addr {
	return p.addr
}

// HardwareAddr returns a copy of the hardware address.
func (p KnownPair) HardwareAddr() net.HardwareAddr {
	return slices.Clone(p.hw)
}

// IsZero reports whether the pair carries no address at all.
func (p KnownPair) IsZero() bool {
	return !p.addr.IsValid() && len(p.hw) == 0
}

// Equal reports whether both pairs bind the same addresses.
func (p KnownPair) Equal(o KnownPair) bool {
	return p.addr == o.addr && slices.Equal(p.hw, o.hw)
}

func (p KnownPair) String() string {
	return fmt.Sprintf("%s (%s)", p.addr, p.hw)
}
