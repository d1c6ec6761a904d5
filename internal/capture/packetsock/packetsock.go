// Package packetsock captures and transmits through an AF_PACKET raw socket
// without the mmap ring or libpcap.
package packetsock

import (
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/mdlayher/packet"
	"golang.org/x/net/bpf"

	"firestige.xyz/needle/internal/capture"
)

// ethPAll is ETH_P_ALL in host byte order.
const ethPAll = 0x0003

type Config struct {
	Interface   string
	BufferSize  int
	Timeout     time.Duration
	Promiscuous bool
	EtherTypes  []uint16 // empty = every frame
}

// Conn is both a capture.Source and a capture.Sink.
type Conn struct {
	ifi     *net.Interface
	conn    *packet.Conn
	buf     []byte
	timeout time.Duration
}

var (
	_ capture.Source = (*Conn)(nil)
	_ capture.Sink   = (*Conn)(nil)
)

// Open binds a raw socket to the interface.
func Open(cfg Config) (*Conn, error) {
	ifi, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("interface %q: %w", cfg.Interface, err)
	}

	filter, err := EtherTypeFilter(cfg.EtherTypes)
	if err != nil {
		return nil, err
	}

	c, err := packet.Listen(ifi, packet.Raw, ethPAll, &packet.Config{Filter: filter})
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", ifi.Name, err)
	}
	if cfg.Promiscuous {
		if err := c.SetPromiscuous(true); err != nil {
			c.Close()
			return nil, fmt.Errorf("set promiscuous on %s: %w", ifi.Name, err)
		}
	}

	size := cfg.BufferSize
	if size <= 0 {
		size = 65535
	}
	return &Conn{ifi: ifi, conn: c, buf: make([]byte, size), timeout: cfg.Timeout}, nil
}

// ReadPacketData returns a copy of the next frame. A passed read deadline
// surfaces as a timeout error.
func (c *Conn) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, gopacket.CaptureInfo{}, err
		}
	}

	n, _, err := c.conn.ReadFrom(c.buf)
	if err != nil {
		return nil, gopacket.CaptureInfo{}, err
	}

	data := make([]byte, n)
	copy(data, c.buf[:n])
	ci := gopacket.CaptureInfo{
		Timestamp:      time.Now(),
		CaptureLength:  n,
		Length:         n,
		InterfaceIndex: c.ifi.Index,
	}
	return data, ci, nil
}

// Transmit writes a complete Ethernet frame.
func (c *Conn) Transmit(frame []byte) error {
	if len(frame) < 14 {
		return fmt.Errorf("frame too short: %d bytes", len(frame))
	}
	dst := net.HardwareAddr(frame[:6])
	if _, err := c.conn.WriteTo(frame, &packet.Addr{HardwareAddr: dst}); err != nil {
		return fmt.Errorf("write to %s: %w", c.ifi.Name, err)
	}
	return nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// EtherTypeFilter assembles a classic BPF program accepting only frames whose
// EtherType is one of types. No types yields no filter.
func EtherTypeFilter(types []uint16) ([]bpf.RawInstruction, error) {
	if len(types) == 0 {
		return nil, nil
	}
	if len(types) > 255 {
		return nil, fmt.Errorf("too many ether types: %d", len(types))
	}

	prog := []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
	}
	for i, et := range types {
		prog = append(prog, bpf.JumpIf{
			Cond:     bpf.JumpEqual,
			Val:      uint32(et),
			SkipTrue: uint8(len(types) - i),
		})
	}
	prog = append(prog,
		bpf.RetConstant{Val: 0},
		bpf.RetConstant{Val: 0xffff},
	)

	raw, err := bpf.Assemble(prog)
	if err != nil {
		return nil, fmt.Errorf("assemble ether type filter: %w", err)
	}
	return raw, nil
}
