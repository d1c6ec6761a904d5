// Package dispatch routes captured frames to running modules according to
// their packet filters. Delivery never blocks the caller.
package dispatch

import (
	"log/slog"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/needle/internal/metrics"
	"firestige.xyz/needle/pkg/plugin"
)

// Route is one module's subscription.
type Route struct {
	Module string
	Filter plugin.PackFilter
}

// RouteSource yields the current routes. The returned slice is owned by the caller.
type RouteSource interface {
	Routes() []Route
}

// RouteFunc adapts a function to RouteSource.
type RouteFunc func() []Route

func (f RouteFunc) Routes() []Route { return f() }

// Stats are the dispatcher's running totals.
type Stats struct {
	Frames    uint64 `json:"frames"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Undecoded uint64 `json:"undecoded"`
}

// Dispatcher splits each frame once and offers the slice every route asks for.
type Dispatcher struct {
	source RouteSource

	frames    atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	undecoded atomic.Uint64
}

// New creates a dispatcher reading routes from source on every frame.
func New(source RouteSource) *Dispatcher {
	return &Dispatcher{source: source}
}

// Route offers data to every subscribed module. data is shared read-only
// among all receivers and must not be reused by the caller.
func (d *Dispatcher) Route(data []byte) {
	d.frames.Add(1)

	routes := d.source.Routes()
	if len(routes) == 0 {
		return
	}

	header, payload := split(data)
	if header == nil {
		d.undecoded.Add(1)
	}

	for _, r := range routes {
		b, ok := r.Filter.Select(data, header, payload)
		if !ok {
			continue
		}
		if d.offer(r, plugin.NewFrame(b)) {
			d.delivered.Add(1)
			metrics.DispatchDeliveredTotal.WithLabelValues(r.Module).Inc()
		}
	}
}

func (d *Dispatcher) offer(r Route, f plugin.Frame) (sent bool) {
	defer func() {
		if rec := recover(); rec != nil {
			// the module closed its own inbound channel
			sent = false
			d.drop(r.Module, metrics.DropClosed)
			slog.Debug("frame dropped, channel closed", "module", r.Module)
		}
	}()

	select {
	case r.Filter.Channel() <- f:
		return true
	default:
		d.drop(r.Module, metrics.DropFull)
		return false
	}
}

func (d *Dispatcher) drop(module, reason string) {
	d.dropped.Add(1)
	metrics.DispatchDroppedTotal.WithLabelValues(module, reason).Inc()
}

// Stats returns a snapshot of the running totals.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Frames:    d.frames.Load(),
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
		Undecoded: d.undecoded.Load(),
	}
}

// split returns the Ethernet header and payload views of data, both nil when
// the frame is not a decodable Ethernet frame.
func split(data []byte) (header, payload []byte) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, nil
	}
	return eth.Contents, eth.Payload
}
