package dispatch

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/needle/pkg/plugin"
)

func arpFrame(t *testing.T) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb},
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb},
		SourceProtAddress: []byte{10, 0, 0, 5},
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{10, 0, 0, 1},
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp))
	return buf.Bytes()
}

func static(routes ...Route) RouteSource {
	return RouteFunc(func() []Route { return routes })
}

func TestClosedFilterReceivesNothing(t *testing.T) {
	probe := make(chan plugin.Frame, 16)
	// Closed drops the channel; keep a reference to prove nothing arrives.
	d := New(static(Route{Module: "idle", Filter: plugin.NewFilter(plugin.FilterClosed, probe)}))

	frame := arpFrame(t)
	for i := 0; i < 100; i++ {
		d.Route(frame)
	}

	assert.Empty(t, probe)
	assert.Equal(t, uint64(100), d.Stats().Frames)
	assert.Zero(t, d.Stats().Delivered)
}

func TestRouteSlicesPerFilter(t *testing.T) {
	whole := make(chan plugin.Frame, 1)
	header := make(chan plugin.Frame, 1)
	payload := make(chan plugin.Frame, 1)

	d := New(static(
		Route{Module: "whole", Filter: plugin.Entire(whole)},
		Route{Module: "header", Filter: plugin.EtherFrame(header)},
		Route{Module: "payload", Filter: plugin.Payload(payload)},
	))

	frame := arpFrame(t)
	d.Route(frame)

	got := <-whole
	assert.Equal(t, frame, got.Bytes())

	got = <-header
	assert.Equal(t, frame[:14], got.Bytes())

	got = <-payload
	assert.Equal(t, frame[14:], got.Bytes())

	assert.Equal(t, uint64(3), d.Stats().Delivered)
}

func TestFullChannelDropsWithoutBlocking(t *testing.T) {
	slow := make(chan plugin.Frame) // never read
	fast := make(chan plugin.Frame, 8)

	d := New(static(
		Route{Module: "slow", Filter: plugin.Entire(slow)},
		Route{Module: "fast", Filter: plugin.Entire(fast)},
	))

	frame := arpFrame(t)
	for i := 0; i < 5; i++ {
		d.Route(frame)
	}

	assert.Len(t, fast, 5)
	st := d.Stats()
	assert.Equal(t, uint64(5), st.Delivered)
	assert.Equal(t, uint64(5), st.Dropped)
}

func TestClosedChannelCountsAsDrop(t *testing.T) {
	gone := make(chan plugin.Frame, 1)
	close(gone)
	live := make(chan plugin.Frame, 1)

	d := New(static(
		Route{Module: "gone", Filter: plugin.Entire(gone)},
		Route{Module: "live", Filter: plugin.Entire(live)},
	))

	assert.NotPanics(t, func() { d.Route(arpFrame(t)) })
	assert.Len(t, live, 1)
	assert.Equal(t, uint64(1), d.Stats().Dropped)
}

func TestUndecodableFrameGoesToEntireOnly(t *testing.T) {
	whole := make(chan plugin.Frame, 1)
	payload := make(chan plugin.Frame, 1)

	d := New(static(
		Route{Module: "whole", Filter: plugin.Entire(whole)},
		Route{Module: "payload", Filter: plugin.Payload(payload)},
	))

	d.Route([]byte{0x01, 0x02, 0x03})

	assert.Len(t, whole, 1)
	assert.Empty(t, payload)
	assert.Equal(t, uint64(1), d.Stats().Undecoded)
}

func TestFrameSharedAcrossModules(t *testing.T) {
	a := make(chan plugin.Frame, 1)
	b := make(chan plugin.Frame, 1)
	d := New(static(
		Route{Module: "a", Filter: plugin.Entire(a)},
		Route{Module: "b", Filter: plugin.Entire(b)},
	))

	frame := arpFrame(t)
	d.Route(frame)

	fa, fb := <-a, <-b
	assert.Same(t, &frame[0], &fa.Bytes()[0])
	assert.Same(t, &frame[0], &fb.Bytes()[0])
}
