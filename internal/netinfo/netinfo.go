// Package netinfo discovers the gateway and local identity pairs from the
// kernel routing and neighbour tables. It never sends probes: an address the
// kernel has not resolved stays unresolved.
package netinfo

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"

	"firestige.xyz/needle/internal/config"
	"firestige.xyz/needle/pkg/host"
)

var ErrNoDefaultRoute = errors.New("needle: no IPv4 default route")

// Netlinker is the subset of netlink used for discovery.
type Netlinker interface {
	LinkByName(name string) (netlink.Link, error)
	LinkByIndex(index int) (netlink.Link, error)
	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
	RouteList(link netlink.Link, family int) ([]netlink.Route, error)
	NeighList(linkIndex, family int) ([]netlink.Neigh, error)
}

// RealNetlinker calls into the kernel.
type RealNetlinker struct{}

func (RealNetlinker) LinkByName(name string) (netlink.Link, error) { return netlink.LinkByName(name) }
func (RealNetlinker) LinkByIndex(index int) (netlink.Link, error)  { return netlink.LinkByIndex(index) }

func (RealNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return netlink.AddrList(link, family)
}

func (RealNetlinker) RouteList(link netlink.Link, family int) ([]netlink.Route, error) {
	return netlink.RouteList(link, family)
}

func (RealNetlinker) NeighList(linkIndex, family int) ([]netlink.Neigh, error) {
	return netlink.NeighList(linkIndex, family)
}

// DefaultNetlinker is the default RealNetlinker instance.
var DefaultNetlinker Netlinker = &RealNetlinker{}

// Identity is the discovered network identity of the node.
type Identity struct {
	Interface string
	Index     int
	Gateway   host.KnownPair
	Self      host.KnownPair
}

type Resolver struct {
	nl Netlinker
}

func NewResolver(nl Netlinker) *Resolver {
	if nl == nil {
		nl = DefaultNetlinker
	}
	return &Resolver{nl: nl}
}

// Resolve builds the identity. Values present in node win over discovered
// ones; when both pairs are fully configured the kernel is not consulted.
// A gateway missing from the neighbour table gets a nil hardware address.
func (r *Resolver) Resolve(node config.NodeConfig) (*Identity, error) {
	if node.Gateway.Complete() && node.Self.Complete() {
		return fromConfig(node)
	}

	routes, err := r.nl.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	def, hasDefault := defaultRoute(routes)

	var link netlink.Link
	switch {
	case node.Interface != "":
		link, err = r.nl.LinkByName(node.Interface)
	case hasDefault:
		link, err = r.nl.LinkByIndex(def.LinkIndex)
	default:
		return nil, ErrNoDefaultRoute
	}
	if err != nil {
		return nil, fmt.Errorf("lookup link: %w", err)
	}
	attrs := link.Attrs()

	id := &Identity{Interface: attrs.Name, Index: attrs.Index}

	self, err := r.selfPair(node.Self, link)
	if err != nil {
		return nil, err
	}
	id.Self = self

	gwIP, err := parseOptionalIP(node.Gateway.IP)
	if err != nil {
		return nil, err
	}
	if !gwIP.IsValid() {
		if !hasDefault || def.LinkIndex != attrs.Index {
			return nil, fmt.Errorf("%w on %s", ErrNoDefaultRoute, attrs.Name)
		}
		gwIP, _ = netip.AddrFromSlice(def.Gw.To4())
	}

	gwMAC, err := parseOptionalMAC(node.Gateway.MAC)
	if err != nil {
		return nil, err
	}
	if gwMAC == nil {
		gwMAC, err = r.neighborMAC(attrs.Index, gwIP)
		if err != nil {
			return nil, err
		}
		if gwMAC == nil {
			slog.Warn("gateway hardware address not in neighbour table", "gateway", gwIP, "interface", attrs.Name)
		}
	}
	id.Gateway = host.NewKnownPair(gwIP, gwMAC)

	return id, nil
}

// Neighbors returns the resolved IPv4 entries of the neighbour table on the
// link, in kernel order.
func (r *Resolver) Neighbors(index int) ([]host.KnownPair, error) {
	neighs, err := r.nl.NeighList(index, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("list neighbours: %w", err)
	}
	var pairs []host.KnownPair
	for _, n := range neighs {
		if !usable(n) {
			continue
		}
		addr, ok := netip.AddrFromSlice(n.IP.To4())
		if !ok {
			continue
		}
		pairs = append(pairs, host.NewKnownPair(addr, n.HardwareAddr))
	}
	return pairs, nil
}

func (r *Resolver) selfPair(cfg config.PairConfig, link netlink.Link) (host.KnownPair, error) {
	ip, err := parseOptionalIP(cfg.IP)
	if err != nil {
		return host.KnownPair{}, err
	}
	if !ip.IsValid() {
		addrs, err := r.nl.AddrList(link, netlink.FAMILY_V4)
		if err != nil {
			return host.KnownPair{}, fmt.Errorf("list addresses of %s: %w", link.Attrs().Name, err)
		}
		for _, a := range addrs {
			if a.IPNet == nil {
				continue
			}
			if v4, ok := netip.AddrFromSlice(a.IP.To4()); ok {
				ip = v4
				break
			}
		}
		if !ip.IsValid() {
			return host.KnownPair{}, fmt.Errorf("no IPv4 address on %s", link.Attrs().Name)
		}
	}

	mac, err := parseOptionalMAC(cfg.MAC)
	if err != nil {
		return host.KnownPair{}, err
	}
	if mac == nil {
		mac = link.Attrs().HardwareAddr
	}
	return host.NewKnownPair(ip, mac), nil
}

func (r *Resolver) neighborMAC(index int, ip netip.Addr) (net.HardwareAddr, error) {
	neighs, err := r.nl.NeighList(index, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("list neighbours: %w", err)
	}
	for _, n := range neighs {
		if !usable(n) {
			continue
		}
		if addr, ok := netip.AddrFromSlice(n.IP.To4()); ok && addr == ip {
			return n.HardwareAddr, nil
		}
	}
	return nil, nil
}

func fromConfig(node config.NodeConfig) (*Identity, error) {
	gw, err := host.ParseKnownPair(node.Gateway.IP, node.Gateway.MAC)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	self, err := host.ParseKnownPair(node.Self.IP, node.Self.MAC)
	if err != nil {
		return nil, fmt.Errorf("self: %w", err)
	}
	return &Identity{Interface: node.Interface, Gateway: gw, Self: self}, nil
}

func defaultRoute(routes []netlink.Route) (netlink.Route, bool) {
	for _, rt := range routes {
		if rt.Gw == nil {
			continue
		}
		if rt.Dst == nil {
			return rt, true
		}
		if ones, _ := rt.Dst.Mask.Size(); ones == 0 && rt.Dst.IP.IsUnspecified() {
			return rt, true
		}
	}
	return netlink.Route{}, false
}

func usable(n netlink.Neigh) bool {
	if len(n.HardwareAddr) == 0 {
		return false
	}
	return n.State&(netlink.NUD_FAILED|netlink.NUD_INCOMPLETE|netlink.NUD_NOARP) == 0
}

func parseOptionalIP(s string) (netip.Addr, error) {
	if s == "" {
		return netip.Addr{}, nil
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse address %q: %w", s, err)
	}
	return ip, nil
}

func parseOptionalMAC(s string) (net.HardwareAddr, error) {
	if s == "" {
		return nil, nil
	}
	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil, fmt.Errorf("parse hardware address %q: %w", s, err)
	}
	return mac, nil
}
