//go:build !(linux && cgo)

package daemon

import (
	"errors"

	"firestige.xyz/needle/internal/config"
)

func openAFPacket(config.CaptureConfig) (device, error) {
	return nil, errors.New("afpacket capture requires linux with cgo, use capture.type=packetsock")
}
