// Package capture is the link-layer collaborator: it reads frames from a
// source into the dispatcher and transmits module output through a sink.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/gopacket"

	"firestige.xyz/needle/internal/metrics"
	"firestige.xyz/needle/pkg/plugin"
)

// ErrTimeout is returned by sources when a read deadline passed without a frame.
var ErrTimeout = errors.New("needle: capture read timeout")

// Source produces captured frames. Each returned slice must be owned by the
// caller; sources must not reuse it.
type Source interface {
	gopacket.PacketDataSource
	io.Closer
}

// Sink transmits raw frames.
type Sink interface {
	plugin.Transmitter
	io.Closer
}

// Router receives every captured frame.
type Router interface {
	Route(data []byte)
}

// maxConsecutiveErrors bounds how long a failing source is retried.
const maxConsecutiveErrors = 16

// Engine pumps a source into a router.
type Engine struct {
	name    string
	source  Source
	router  Router
	backoff time.Duration
}

// NewEngine creates an engine. name labels metrics and logs.
func NewEngine(name string, source Source, router Router) *Engine {
	return &Engine{
		name:    name,
		source:  source,
		router:  router,
		backoff: 100 * time.Millisecond,
	}
}

// Run reads until ctx is done, the source is exhausted, or it keeps failing.
// Read timeouts give the loop a chance to observe ctx.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("capture started", "source", e.name)
	defer slog.Info("capture stopped", "source", e.name)

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		data, _, err := e.source.ReadPacketData()
		switch {
		case err == nil:
			failures = 0
			metrics.CapturePacketsTotal.WithLabelValues(e.name).Inc()
			e.router.Route(data)
		case errors.Is(err, io.EOF):
			return nil
		case isTimeout(err):
			continue
		default:
			if ctx.Err() != nil {
				return nil
			}
			failures++
			metrics.CaptureErrorsTotal.WithLabelValues(e.name).Inc()
			if failures >= maxConsecutiveErrors {
				return fmt.Errorf("capture %s: %w", e.name, err)
			}
			slog.Warn("capture read failed", "source", e.name, "error", err, "failures", failures)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(e.backoff):
			}
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// Discard is a sink that drops every frame.
type Discard struct{}

func (Discard) Transmit([]byte) error { return nil }

func (Discard) Close() error { return nil }
