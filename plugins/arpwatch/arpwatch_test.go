package arpwatch

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/needle/pkg/host"
	"firestige.xyz/needle/pkg/plugin"
)

var (
	peerMAC  = net.HardwareAddr{0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc}
	otherMAC = net.HardwareAddr{0xdd, 0xdd, 0xdd, 0xdd, 0xdd, 0xdd}
)

func newHosts(t *testing.T) *host.Manager {
	t.Helper()
	gw, err := host.ParseKnownPair("10.0.0.1", "aa:aa:aa:aa:aa:aa")
	require.NoError(t, err)
	self, err := host.ParseKnownPair("10.0.0.5", "bb:bb:bb:bb:bb:bb")
	require.NoError(t, err)
	return host.NewManager(gw, self)
}

func arpFrame(t *testing.T, senderIP string, senderMAC net.HardwareAddr) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       senderMAC,
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   senderMAC,
		SourceProtAddress: net.ParseIP(senderIP).To4(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    []byte{10, 0, 0, 1},
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, arp))
	return buf.Bytes()
}

func lookup(hosts *host.Manager, ip string) (net.HardwareAddr, bool) {
	list := hosts.HostsSnapshot()
	return list.Lookup(netip.MustParseAddr(ip))
}

func TestObserveLearnsSender(t *testing.T) {
	hosts := newHosts(t)
	w := NewWatcher(hosts, time.Minute)

	require.NoError(t, w.Observe(arpFrame(t, "10.0.0.9", peerMAC)))
	require.NoError(t, w.Observe(arpFrame(t, "10.0.0.7", otherMAC)))

	list := hosts.HostsSnapshot()
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("10.0.0.9"), netip.MustParseAddr("10.0.0.7")}, list.Hosts())
	hw, known := lookup(hosts, "10.0.0.9")
	assert.True(t, known)
	assert.Equal(t, peerMAC, hw)
}

func TestObserveIgnoresNonARPAndProbes(t *testing.T) {
	hosts := newHosts(t)
	w := NewWatcher(hosts, time.Minute)

	eth := &layers.Ethernet{SrcMAC: peerMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeIPv4}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload("x")))

	require.NoError(t, w.Observe(buf.Bytes()))
	require.NoError(t, w.Observe(arpFrame(t, "0.0.0.0", peerMAC)))
	require.NoError(t, w.Observe([]byte{0x01, 0x02}))
	assert.Zero(t, hosts.HostsSnapshot().Len())
}

func TestObserveDeduplicatesWithinTTL(t *testing.T) {
	hosts := newHosts(t)
	w := NewWatcher(hosts, time.Minute)
	frame := arpFrame(t, "10.0.0.9", peerMAC)

	require.NoError(t, w.Observe(frame))
	require.NoError(t, hosts.WithHosts(func(l *host.NetPairList) {
		l.Resolve(netip.MustParseAddr("10.0.0.9"), otherMAC)
	}))

	require.NoError(t, w.Observe(frame))
	hw, _ := lookup(hosts, "10.0.0.9")
	assert.Equal(t, otherMAC, hw, "cached binding must not touch the host slot")

	w = NewWatcher(hosts, 0)
	require.NoError(t, w.Observe(frame))
	hw, _ = lookup(hosts, "10.0.0.9")
	assert.Equal(t, peerMAC, hw)
}

func TestObserveRecordsRebinding(t *testing.T) {
	hosts := newHosts(t)
	w := NewWatcher(hosts, time.Minute)

	require.NoError(t, w.Observe(arpFrame(t, "10.0.0.9", peerMAC)))
	require.NoError(t, w.Observe(arpFrame(t, "10.0.0.9", otherMAC)))

	hw, _ := lookup(hosts, "10.0.0.9")
	assert.Equal(t, otherMAC, hw)
	assert.Equal(t, 1, hosts.HostsSnapshot().Len())
}

func TestObserveRecordsFlipBackWithinTTL(t *testing.T) {
	hosts := newHosts(t)
	w := NewWatcher(hosts, time.Minute)

	require.NoError(t, w.Observe(arpFrame(t, "10.0.0.9", peerMAC)))
	require.NoError(t, w.Observe(arpFrame(t, "10.0.0.9", otherMAC)))
	require.NoError(t, w.Observe(arpFrame(t, "10.0.0.9", peerMAC)))

	hw, _ := lookup(hosts, "10.0.0.9")
	assert.Equal(t, peerMAC, hw)
}

func TestHookRunsModule(t *testing.T) {
	hosts := newHosts(t)
	m, err := Hook([]string{"buffer=8", "ttl=1s"}, hosts.Clone())
	require.NoError(t, err)
	assert.Equal(t, plugin.FilterEntire, m.Filter().Kind())

	m.Filter().Channel() <- plugin.NewFrame(arpFrame(t, "10.0.0.9", peerMAC))

	require.Eventually(t, func() bool {
		_, known := lookup(hosts, "10.0.0.9")
		return known
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, m.Stop(ctx))

	_, err = Hook([]string{"buffer=-1"}, hosts)
	assert.Error(t, err)
}
