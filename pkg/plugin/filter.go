package plugin

import (
	"fmt"
	"strings"
)

// Frame is an immutable view of captured bytes. The same backing buffer is
// shared among every module that receives it; Bytes must not be modified.
type Frame struct {
	data []byte
}

// NewFrame wraps b. The caller hands over b and must not write to it afterwards.
func NewFrame(b []byte) Frame {
	return Frame{data: b}
}

// Bytes returns the shared, read-only bytes.
func (f Frame) Bytes() []byte {
	return f.data
}

// Len returns the frame length.
func (f Frame) Len() int {
	return len(f.data)
}

// Clone returns a private, writable copy.
func (f Frame) Clone() []byte {
	return append([]byte(nil), f.data...)
}

// FilterKind selects which slice of an inbound frame a module receives.
type FilterKind uint8

const (
	// FilterClosed delivers nothing.
	FilterClosed FilterKind = iota
	// FilterEntire delivers the whole frame.
	FilterEntire
	// FilterEtherFrame delivers the link-layer header only.
	FilterEtherFrame
	// FilterPayload delivers the link-layer payload only.
	FilterPayload
)

func (k FilterKind) String() string {
	switch k {
	case FilterClosed:
		return "closed"
	case FilterEntire:
		return "entire"
	case FilterEtherFrame:
		return "etherframe"
	case FilterPayload:
		return "payload"
	default:
		return fmt.Sprintf("FilterKind(%d)", uint8(k))
	}
}

// ParseFilterKind parses closed, entire, etherframe (or header) and payload.
func ParseFilterKind(s string) (FilterKind, error) {
	switch strings.ToLower(s) {
	case "", "closed", "none":
		return FilterClosed, nil
	case "entire", "all", "frame":
		return FilterEntire, nil
	case "etherframe", "header":
		return FilterEtherFrame, nil
	case "payload":
		return FilterPayload, nil
	default:
		return FilterClosed, fmt.Errorf("unknown filter %q (must be closed/entire/etherframe/payload)", s)
	}
}

// PackFilter is a module's subscription to inbound frames. Every kind except
// FilterClosed carries the channel frames are delivered on.
type PackFilter struct {
	kind FilterKind
	ch   chan<- Frame
}

// Closed returns a filter that receives nothing.
func Closed() PackFilter {
	return PackFilter{kind: FilterClosed}
}

// Entire subscribes ch to whole frames.
func Entire(ch chan<- Frame) PackFilter {
	return NewFilter(FilterEntire, ch)
}

// EtherFrame subscribes ch to link-layer headers.
func EtherFrame(ch chan<- Frame) PackFilter {
	return NewFilter(FilterEtherFrame, ch)
}

// Payload subscribes ch to link-layer payloads.
func Payload(ch chan<- Frame) PackFilter {
	return NewFilter(FilterPayload, ch)
}

// NewFilter builds a filter of the given kind. A nil channel yields a closed filter.
func NewFilter(kind FilterKind, ch chan<- Frame) PackFilter {
	if kind == FilterClosed || ch == nil {
		return Closed()
	}
	return PackFilter{kind: kind, ch: ch}
}

// Kind returns the filter kind.
func (f PackFilter) Kind() FilterKind {
	return f.kind
}

// Channel returns the delivery channel, nil for a closed filter.
func (f PackFilter) Channel() chan<- Frame {
	return f.ch
}

// IsClosed reports whether the filter delivers nothing.
func (f PackFilter) IsClosed() bool {
	return f.kind == FilterClosed || f.ch == nil
}

// Select picks the slice this filter subscribes to. ok is false for a closed
// filter, or when the wanted part is not available.
func (f PackFilter) Select(whole, header, payload []byte) (b []byte, ok bool) {
	switch f.kind {
	case FilterEntire:
		b = whole
	case FilterEtherFrame:
		b = header
	case FilterPayload:
		b = payload
	default:
		return nil, false
	}
	if b == nil || f.ch == nil {
		return nil, false
	}
	return b, true
}
