//go:build linux && cgo

package daemon

import (
	"firestige.xyz/needle/internal/capture/afpacket"
	"firestige.xyz/needle/internal/config"
)

func openAFPacket(cfg config.CaptureConfig) (device, error) {
	return afpacket.Open(afpacket.Config{
		Interface:  cfg.Interface,
		SnapLen:    cfg.ReadBufferSize,
		RingSizeMB: cfg.AFPacket.RingSizeMB,
		Timeout:    cfg.ReadTimeout,
		FanoutID:   cfg.AFPacket.FanoutID,
		BPF:        cfg.BPF,
	})
}
