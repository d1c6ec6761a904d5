package daemon

import (
	"fmt"
	"log/slog"

	"firestige.xyz/needle/internal/capture"
	"firestige.xyz/needle/internal/capture/packetsock"
	"firestige.xyz/needle/internal/config"
)

// device is a source that can also transmit on the same interface.
type device interface {
	capture.Source
	capture.Sink
}

// openSource opens the configured capture source. A nil source means
// capture.type=none. dev is set when the source can also transmit.
func openSource(cfg config.CaptureConfig) (src capture.Source, dev device, err error) {
	switch cfg.Type {
	case "afpacket":
		h, err := openAFPacket(cfg)
		if err != nil {
			return nil, nil, err
		}
		return h, h, nil
	case "packetsock":
		c, err := packetsock.Open(packetsock.Config{
			Interface:   cfg.Interface,
			BufferSize:  cfg.ReadBufferSize,
			Timeout:     cfg.ReadTimeout,
			Promiscuous: cfg.Promiscuous,
			EtherTypes:  cfg.EtherTypes,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case "file":
		f, err := capture.OpenFile(cfg.File)
		if err != nil {
			return nil, nil, err
		}
		return f, nil, nil
	case "none":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported capture type: %s", cfg.Type)
	}
}

// openSink picks where module output goes. ownsSink is false when the sink
// is the capture device itself.
func openSink(cfg config.CaptureConfig, dev device) (sink capture.Sink, ownsSink bool, err error) {
	switch cfg.Sink.Type {
	case "capture":
		if dev == nil {
			slog.Warn("capture source cannot transmit, module output is discarded", "capture_type", cfg.Type)
			return capture.Discard{}, true, nil
		}
		return dev, false, nil
	case "pcap":
		s, err := capture.CreatePcapSink(cfg.Sink.Path, cfg.WriteBufferSize)
		if err != nil {
			return nil, false, err
		}
		return s, true, nil
	case "none":
		return capture.Discard{}, true, nil
	default:
		return nil, false, fmt.Errorf("unsupported sink type: %s", cfg.Sink.Type)
	}
}
