package packetsock

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"
)

func frameOfType(t *testing.T, et layers.EthernetType) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa},
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: et,
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload("x")))
	return buf.Bytes()
}

func TestEtherTypeFilter(t *testing.T) {
	raw, err := EtherTypeFilter([]uint16{uint16(layers.EthernetTypeARP), uint16(layers.EthernetTypeIPv6)})
	require.NoError(t, err)

	prog, ok := bpf.Disassemble(raw)
	require.True(t, ok)
	vm, err := bpf.NewVM(prog)
	require.NoError(t, err)

	for _, tt := range []struct {
		et     layers.EthernetType
		accept bool
	}{
		{layers.EthernetTypeARP, true},
		{layers.EthernetTypeIPv6, true},
		{layers.EthernetTypeIPv4, false},
	} {
		n, err := vm.Run(frameOfType(t, tt.et))
		require.NoError(t, err)
		if tt.accept {
			assert.Positive(t, n, tt.et.String())
		} else {
			assert.Zero(t, n, tt.et.String())
		}
	}
}

func TestEtherTypeFilterEmpty(t *testing.T) {
	raw, err := EtherTypeFilter(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestOpenUnknownInterface(t *testing.T) {
	_, err := Open(Config{Interface: "needle-does-not-exist0"})
	assert.Error(t, err)
}
