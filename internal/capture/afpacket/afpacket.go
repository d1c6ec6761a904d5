//go:build linux && cgo

// Package afpacket captures and transmits through a TPACKET_V3 ring.
package afpacket

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"firestige.xyz/needle/internal/capture"
)

type Config struct {
	Interface  string
	SnapLen    int
	RingSizeMB int
	Timeout    time.Duration
	FanoutID   uint16
	BPF        string
}

// Handle is both a capture.Source and a capture.Sink on one interface.
type Handle struct {
	tp *afpacket.TPacket
}

var (
	_ capture.Source = (*Handle)(nil)
	_ capture.Sink   = (*Handle)(nil)
)

// Open creates the ring and applies the filter.
func Open(cfg Config) (*Handle, error) {
	frameSize, blockSize, numBlocks, err := ringGeometry(cfg.RingSizeMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	opts := []any{
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(cfg.Timeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	}
	if cfg.Interface != "" {
		opts = append(opts, afpacket.OptInterface(cfg.Interface))
	}

	tp, err := afpacket.NewTPacket(opts...)
	if err != nil {
		return nil, fmt.Errorf("open af_packet on %q: %w", cfg.Interface, err)
	}

	if cfg.FanoutID > 0 {
		if err := tp.SetFanout(afpacket.FanoutHashWithDefrag, cfg.FanoutID); err != nil {
			tp.Close()
			return nil, fmt.Errorf("set fanout: %w", err)
		}
	}

	if cfg.BPF != "" {
		rawBPF, err := compileBPF(cfg.BPF, frameSize)
		if err != nil {
			tp.Close()
			return nil, err
		}
		if err := tp.SetBPF(rawBPF); err != nil {
			tp.Close()
			return nil, fmt.Errorf("attach bpf: %w", err)
		}
	}

	return &Handle{tp: tp}, nil
}

func compileBPF(expr string, snaplen int) ([]bpf.RawInstruction, error) {
	pcapBPF, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snaplen, expr)
	if err != nil {
		return nil, fmt.Errorf("compile bpf %q: %w", expr, err)
	}
	rawBPF := make([]bpf.RawInstruction, len(pcapBPF))
	for i, inst := range pcapBPF {
		rawBPF[i] = bpf.RawInstruction{
			Op: inst.Code,
			Jt: inst.Jt,
			Jf: inst.Jf,
			K:  inst.K,
		}
	}
	return rawBPF, nil
}

// ReadPacketData returns a copy of the next frame.
func (h *Handle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := h.tp.ReadPacketData()
	if errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, afpacket.ErrPoll) {
		return nil, ci, capture.ErrTimeout
	}
	return data, ci, err
}

// Transmit writes frame to the interface.
func (h *Handle) Transmit(frame []byte) error {
	return h.tp.WritePacketData(frame)
}

func (h *Handle) Close() error {
	h.tp.Close()
	return nil
}
