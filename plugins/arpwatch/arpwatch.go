// Package arpwatch implements a passive module that learns hosts from the
// ARP traffic it observes. It never sends requests.
package arpwatch

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/patrickmn/go-cache"

	"firestige.xyz/needle/pkg/host"
	"firestige.xyz/needle/pkg/plugin"
)

const (
	defaultBuffer = 256
	defaultTTL    = 30 * time.Second
)

// Entries returns the arpwatch registration table.
func Entries() []plugin.Entry {
	return []plugin.Entry{
		{Name: "arpwatch", Hook: plugin.HostHook(Hook).WithUsage("arpwatch [buffer=256] [ttl=30s]")},
	}
}

// Args are the hook arguments.
type Args struct {
	Buffer int           `arg:"buffer"`
	TTL    time.Duration `arg:"ttl"` // Repeats of a binding inside the window skip the host slot
}

// Hook starts an arpwatch module bound to hosts.
func Hook(args []string, hosts *host.Manager) (*plugin.Module, error) {
	a := Args{Buffer: defaultBuffer, TTL: defaultTTL}
	if _, err := plugin.DecodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Buffer <= 0 {
		return nil, fmt.Errorf("buffer must be positive, got %d", a.Buffer)
	}

	frames := make(chan plugin.Frame, a.Buffer)
	w := NewWatcher(hosts, a.TTL)
	return plugin.Spawn(func(ctx context.Context, _ chan<- []byte) error {
		return w.Run(ctx, frames)
	}, plugin.Entire(frames)), nil
}

// Watcher records ARP sender bindings into the host list.
type Watcher struct {
	hosts *host.Manager
	dedup bool
	seen  *cache.Cache // ip -> last recorded mac
}

// NewWatcher creates a watcher. ttl <= 0 records every observation.
func NewWatcher(hosts *host.Manager, ttl time.Duration) *Watcher {
	if ttl <= 0 {
		return &Watcher{hosts: hosts, seen: cache.New(cache.NoExpiration, 0)}
	}
	return &Watcher{
		hosts: hosts,
		dedup: true,
		seen:  cache.New(ttl, 2*ttl),
	}
}

// Run consumes frames until ctx is done.
func (w *Watcher) Run(ctx context.Context, frames <-chan plugin.Frame) error {
	slog.Info("arpwatch started")
	defer w.seen.Flush()

	for {
		select {
		case <-ctx.Done():
			slog.Info("arpwatch stopped", "learned", w.hosts.HostsSnapshot().Len())
			return ctx.Err()
		case f := <-frames:
			if err := w.Observe(f.Bytes()); err != nil {
				return err
			}
		}
	}
}

// Observe handles one Ethernet frame. Non-ARP frames are ignored.
func (w *Watcher) Observe(frame []byte) error {
	ip, hw, ok := senderOf(frame)
	if !ok {
		return nil
	}

	key := ip.String()
	if w.dedup {
		if cached, ok := w.seen.Get(key); ok && cached.(string) == hw.String() {
			return nil
		}
	}

	var (
		previous net.HardwareAddr
		known    bool
	)
	err := w.hosts.WithHosts(func(l *host.NetPairList) {
		previous, known = l.Lookup(ip)
		l.Resolve(ip, hw)
	})
	if err != nil {
		return fmt.Errorf("record %s: %w", ip, err)
	}
	if w.dedup {
		w.seen.Set(key, hw.String(), cache.DefaultExpiration)
	}

	switch {
	case !known || previous == nil:
		slog.Info("host learned", "ip", ip, "mac", hw)
	case previous.String() != hw.String():
		slog.Warn("arp binding changed", "ip", ip, "old_mac", previous, "new_mac", hw)
	}
	return nil
}

// senderOf extracts the sender binding of an IPv4-over-Ethernet ARP packet.
// Probes with an unspecified sender address are skipped.
func senderOf(frame []byte) (netip.Addr, net.HardwareAddr, bool) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	arp, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	if !ok || arp.AddrType != layers.LinkTypeEthernet || arp.Protocol != layers.EthernetTypeIPv4 {
		return netip.Addr{}, nil, false
	}
	ip, ok := netip.AddrFromSlice(arp.SourceProtAddress)
	if !ok || !ip.Is4() || ip.IsUnspecified() {
		return netip.Addr{}, nil, false
	}
	hw := net.HardwareAddr(arp.SourceHwAddress)
	if len(hw) != 6 {
		return netip.Addr{}, nil, false
	}
	return ip, append(net.HardwareAddr(nil), hw...), true
}
