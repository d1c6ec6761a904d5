// Package sniff implements a passive module that decodes and logs the frames
// delivered to it.
package sniff

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/needle/pkg/host"
	"firestige.xyz/needle/pkg/plugin"
)

const defaultBuffer = 256

// Entries returns the sniff registration table.
func Entries() []plugin.Entry {
	return []plugin.Entry{
		{Name: "sniff", Hook: plugin.HostHook(Hook).WithUsage("sniff [filter=entire|etherframe|payload] [buffer=256] [limit=0]")},
	}
}

// Args are the hook arguments.
type Args struct {
	Filter string `arg:"filter"`
	Buffer int    `arg:"buffer"`
	Limit  uint64 `arg:"limit"` // Exit after this many frames, 0 = until stopped
}

// Hook starts a sniffer module.
func Hook(args []string, _ *host.Manager) (*plugin.Module, error) {
	a := Args{Filter: "entire", Buffer: defaultBuffer}
	if _, err := plugin.DecodeArgs(args, &a); err != nil {
		return nil, err
	}
	kind, err := plugin.ParseFilterKind(a.Filter)
	if err != nil {
		return nil, err
	}
	if kind == plugin.FilterClosed {
		return nil, fmt.Errorf("sniff needs a frame filter, got %q", a.Filter)
	}
	if a.Buffer <= 0 {
		return nil, fmt.Errorf("buffer must be positive, got %d", a.Buffer)
	}

	frames := make(chan plugin.Frame, a.Buffer)
	s := &Sniffer{kind: kind, limit: a.Limit}
	return plugin.Spawn(func(ctx context.Context, _ chan<- []byte) error {
		return s.Run(ctx, frames)
	}, plugin.NewFilter(kind, frames)), nil
}

// Sniffer logs one line per frame.
type Sniffer struct {
	kind  plugin.FilterKind
	limit uint64
	seen  atomic.Uint64
}

// Seen returns the number of frames handled so far.
func (s *Sniffer) Seen() uint64 {
	return s.seen.Load()
}

// Run consumes frames until ctx is done or the limit is reached.
func (s *Sniffer) Run(ctx context.Context, frames <-chan plugin.Frame) error {
	slog.Info("sniffer started", "filter", s.kind, "limit", s.limit)
	defer func() {
		slog.Info("sniffer stopped", "frames", s.seen.Load())
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-frames:
			slog.Debug("frame", "len", f.Len(), "layers", Describe(s.kind, f.Bytes()))
			if n := s.seen.Add(1); s.limit > 0 && n >= s.limit {
				return nil
			}
		}
	}
}

// Describe returns the decoded layer summary of b, e.g.
// "Ethernet/IPv4/UDP 10.0.0.5:68 > 10.0.0.1:67". b is interpreted
// according to the slice kind the module subscribed to.
func Describe(kind plugin.FilterKind, b []byte) string {
	var first gopacket.LayerType
	switch kind {
	case plugin.FilterPayload:
		first = guessNetwork(b)
	default:
		first = layers.LayerTypeEthernet
	}

	pkt := gopacket.NewPacket(b, first, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	names := make([]string, 0, 4)
	for _, l := range pkt.Layers() {
		names = append(names, l.LayerType().String())
	}
	desc := strings.Join(names, "/")

	if nl := pkt.NetworkLayer(); nl != nil {
		src, dst := nl.NetworkFlow().Endpoints()
		if tr := pkt.TransportLayer(); tr != nil {
			sp, dp := tr.TransportFlow().Endpoints()
			desc += fmt.Sprintf(" %s:%s > %s:%s", src, sp, dst, dp)
		} else {
			desc += fmt.Sprintf(" %s > %s", src, dst)
		}
	} else if arp, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP); ok {
		desc += fmt.Sprintf(" %s > %s", net.IP(arp.SourceProtAddress), net.IP(arp.DstProtAddress))
	}
	if err := pkt.ErrorLayer(); err != nil {
		desc += " (" + err.Error().Error() + ")"
	}
	return desc
}

// guessNetwork picks a decoder for a payload without its link header.
func guessNetwork(b []byte) gopacket.LayerType {
	if len(b) == 0 {
		return gopacket.LayerTypePayload
	}
	switch b[0] >> 4 {
	case 4:
		return layers.LayerTypeIPv4
	case 6:
		return layers.LayerTypeIPv6
	}
	if len(b) >= 8 && b[0] == 0 && b[1] == 1 && b[2] == 0x08 && b[3] == 0 {
		return layers.LayerTypeARP
	}
	return gopacket.LayerTypePayload
}
