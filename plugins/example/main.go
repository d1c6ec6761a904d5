// Command example is a dynamic hook library. Build it with
//
//	go build -buildmode=plugin -o example.so ./plugins/example
//
// and drop the result into the plugin directory, or load it at runtime with
// `needle plugin load example.so`.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/needle/pkg/host"
	"firestige.xyz/needle/pkg/plugin"
)

// ABIVersion must match the daemon's registration table version.
var ABIVersion = plugin.ABIVersion

// Load is the entry point resolved by the daemon.
func Load() []plugin.Entry {
	return []plugin.Entry{
		{Name: "hello", Hook: plugin.HostHook(hello).WithUsage("hello")},
		{Name: "count", Hook: plugin.HostHook(count).WithUsage("count [every=10s] [buffer=64]")},
	}
}

func main() {}

func hello(args []string, hosts *host.Manager) (*plugin.Module, error) {
	slog.Info("hello from example plugin", "self", hosts.Self().String(), "args", args)
	return nil, nil
}

type countArgs struct {
	Every  time.Duration `arg:"every"`
	Buffer int           `arg:"buffer"`
}

// count reports the number of payload bytes it sees per interval.
func count(args []string, _ *host.Manager) (*plugin.Module, error) {
	a := countArgs{Every: 10 * time.Second, Buffer: 64}
	if _, err := plugin.DecodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Every <= 0 {
		return nil, fmt.Errorf("every must be positive, got %s", a.Every)
	}

	frames := make(chan plugin.Frame, max(a.Buffer, 1))
	return plugin.Spawn(func(ctx context.Context, _ chan<- []byte) error {
		ticker := time.NewTicker(a.Every)
		defer ticker.Stop()

		var n, bytes int
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case f := <-frames:
				n++
				bytes += f.Len()
			case <-ticker.C:
				slog.Info("payload count", "frames", n, "bytes", bytes)
				n, bytes = 0, 0
			}
		}
	}, plugin.Payload(frames)), nil
}
