// Package core implements the built-in inspection and control hooks.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"go.uber.org/multierr"

	"firestige.xyz/needle/pkg/host"
	"firestige.xyz/needle/pkg/plugin"
)

// Entries returns the core registration table.
func Entries() []plugin.Entry {
	return []plugin.Entry{
		{Name: "who", Hook: plugin.HostHook(Who).WithUsage("who")},
		{Name: "hosts", Hook: plugin.HostHook(Hosts).WithUsage("hosts")},
		{Name: "gateway", Hook: plugin.HostHook(Gateway).WithUsage("gateway ip=<addr> [mac=<hw>]")},
		{Name: "learn", Hook: plugin.HostHook(Learn).WithUsage("learn ip=<addr> [mac=<hw>]")},
		{Name: "modules", Hook: plugin.FrameworkHook(Modules).WithUsage("modules")},
		{Name: "stop", Hook: plugin.FrameworkHook(Stop).WithUsage("stop [timeout=5s] <module>...")},
	}
}

// Who logs the gateway and local pairs.
func Who(args []string, hosts *host.Manager) (*plugin.Module, error) {
	gw := hosts.Gateway()
	self := hosts.Self()
	slog.Info("who", "gateway", gw.String(), "self", self.String())
	return nil, nil
}

// Hosts logs the discovered hosts in discovery order.
func Hosts(args []string, hosts *host.Manager) (*plugin.Module, error) {
	list := hosts.HostsSnapshot()
	for i, addr := range list.Hosts() {
		hw, _ := list.Lookup(addr)
		slog.Info("host", "index", i, "ip", addr, "mac", hw)
	}
	slog.Info("hosts", "count", list.Len())
	return nil, nil
}

type pairArgs struct {
	IP  string `arg:"ip"`
	MAC string `arg:"mac"`
}

func (a pairArgs) parse() (netip.Addr, net.HardwareAddr, error) {
	if a.IP == "" {
		return netip.Addr{}, nil, errors.New("ip is required")
	}
	ip, err := netip.ParseAddr(a.IP)
	if err != nil {
		return netip.Addr{}, nil, fmt.Errorf("ip: %w", err)
	}
	var hw net.HardwareAddr
	if a.MAC != "" {
		if hw, err = net.ParseMAC(a.MAC); err != nil {
			return netip.Addr{}, nil, fmt.Errorf("mac: %w", err)
		}
	}
	return ip, hw, nil
}

// Gateway replaces the gateway pair.
func Gateway(args []string, hosts *host.Manager) (*plugin.Module, error) {
	var a pairArgs
	if _, err := plugin.DecodeArgs(args, &a); err != nil {
		return nil, err
	}
	ip, hw, err := a.parse()
	if err != nil {
		return nil, err
	}
	hosts.SetGateway(host.NewKnownPair(ip, hw))
	slog.Info("gateway updated", "gateway", hosts.Gateway().String())
	return nil, nil
}

// Learn records a host, resolved when mac is given.
func Learn(args []string, hosts *host.Manager) (*plugin.Module, error) {
	var a pairArgs
	if _, err := plugin.DecodeArgs(args, &a); err != nil {
		return nil, err
	}
	ip, hw, err := a.parse()
	if err != nil {
		return nil, err
	}
	return nil, hosts.WithHosts(func(l *host.NetPairList) {
		l.Resolve(ip, hw)
	})
}

// Modules logs the registered modules.
func Modules(args []string, fw plugin.Framework) (*plugin.Module, error) {
	infos := fw.Modules()
	for _, m := range infos {
		slog.Info("module", "name", m.Name, "hook", m.Hook, "state", m.State, "filter", m.Filter, "error", m.Error)
	}
	slog.Info("modules", "count", len(infos))
	return nil, nil
}

type stopArgs struct {
	Timeout time.Duration `arg:"timeout"`
}

// Stop stops the named modules. Every name is attempted; failures are combined.
func Stop(args []string, fw plugin.Framework) (*plugin.Module, error) {
	a := stopArgs{Timeout: 5 * time.Second}
	names, err := plugin.DecodeArgs(args, &a)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, errors.New("usage: stop [timeout=5s] <module>...")
	}

	var errs error
	for _, name := range names {
		ctx, cancel := context.WithTimeout(context.Background(), a.Timeout)
		err := fw.StopModule(ctx, name)
		cancel()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return nil, errs
}
