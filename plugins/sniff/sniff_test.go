package sniff

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/needle/pkg/plugin"
)

func udpFrame(t *testing.T) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb},
		DstMAC:       net.HardwareAddr{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{10, 0, 0, 5},
		DstIP:    net.IP{10, 0, 0, 1},
	}
	udp := &layers.UDP{SrcPort: 68, DstPort: 67}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload("hello")))
	return buf.Bytes()
}

func TestDescribe(t *testing.T) {
	frame := udpFrame(t)

	desc := Describe(plugin.FilterEntire, frame)
	assert.Contains(t, desc, "Ethernet/IPv4/UDP")
	assert.Contains(t, desc, "10.0.0.5:68 > 10.0.0.1:67")

	desc = Describe(plugin.FilterPayload, frame[14:])
	assert.Contains(t, desc, "IPv4/UDP")
	assert.NotContains(t, desc, "Ethernet")

	assert.Equal(t, "Payload", Describe(plugin.FilterPayload, []byte{0xff, 0x00}))
}

func TestHookRejectsBadArgs(t *testing.T) {
	for _, args := range [][]string{
		{"filter=closed"},
		{"filter=bogus"},
		{"buffer=0"},
		{"buffer=lots"},
		{"unknown=1"},
	} {
		m, err := Hook(args, nil)
		assert.Error(t, err, args)
		assert.Nil(t, m)
	}
}

func TestModuleExitsAtLimit(t *testing.T) {
	m, err := Hook([]string{"filter=payload", "buffer=4", "limit=2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, plugin.FilterPayload, m.Filter().Kind())
	assert.Nil(t, m.Outbound())

	frame := udpFrame(t)
	ch := m.Filter().Channel()
	ch <- plugin.NewFrame(frame[14:])
	ch <- plugin.NewFrame(frame[14:])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, m.Wait(ctx))
	assert.Equal(t, plugin.StateStopped, m.State())
}

func TestModuleStops(t *testing.T) {
	m, err := Hook(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, plugin.FilterEntire, m.Filter().Kind())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, m.Stop(ctx))
}
