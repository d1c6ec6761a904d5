// Package plugin defines the contract between the framework and its plugins:
// hooks, the modules they start, and the packet filters modules subscribe with.
package plugin

import (
	"context"
	"time"

	"firestige.xyz/needle/pkg/host"
)

// Scope is the level of access a hook declared at registration.
type Scope uint8

const (
	// ScopeFramework hooks receive the Framework view.
	ScopeFramework Scope = iota
	// ScopeHost hooks receive only the host state.
	ScopeHost
)

func (s Scope) String() string {
	switch s {
	case ScopeFramework:
		return "framework"
	case ScopeHost:
		return "host"
	default:
		return "unknown"
	}
}

// FrameworkFunc is a hook that needs visibility beyond host state.
type FrameworkFunc func(args []string, fw Framework) (*Module, error)

// HostFunc is a hook that only needs network identity state.
type HostFunc func(args []string, hosts *host.Manager) (*Module, error)

// Hook is a named, capability-scoped entry point. A nil *Module with a nil
// error means the hook ran to completion and left nothing running.
type Hook struct {
	scope     Scope
	framework FrameworkFunc
	host      HostFunc
	usage     string
}

// FrameworkHook declares a framework-scoped hook.
func FrameworkHook(fn FrameworkFunc) Hook {
	return Hook{scope: ScopeFramework, framework: fn}
}

// HostHook declares a host-scoped hook.
func HostHook(fn HostFunc) Hook {
	return Hook{scope: ScopeHost, host: fn}
}

// WithUsage returns a copy of h carrying a one-line usage text.
func (h Hook) WithUsage(usage string) Hook {
	h.usage = usage
	return h
}

// Scope returns the declared scope.
func (h Hook) Scope() Scope {
	return h.scope
}

// Usage returns the usage text, if any.
func (h Hook) Usage() string {
	return h.usage
}

// Valid reports whether h carries a callable for its scope.
func (h Hook) Valid() bool {
	switch h.scope {
	case ScopeFramework:
		return h.framework != nil
	case ScopeHost:
		return h.host != nil
	default:
		return false
	}
}

// Call invokes the hook with the context matching its scope. Only the
// argument the hook declared is handed over.
func (h Hook) Call(args []string, fw Framework, hosts *host.Manager) (*Module, error) {
	switch h.scope {
	case ScopeFramework:
		return h.framework(args, fw)
	case ScopeHost:
		return h.host(args, hosts)
	default:
		return nil, ErrUnknownHook
	}
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	Name      string      `json:"name" yaml:"name"`
	Hook      string      `json:"hook" yaml:"hook"`
	State     ModuleState `json:"state" yaml:"state"`
	Filter    string      `json:"filter" yaml:"filter"`
	Outbound  bool        `json:"outbound" yaml:"outbound"`
	StartedAt time.Time   `json:"started_at" yaml:"started_at"`
	Error     string      `json:"error,omitempty" yaml:"error,omitempty"`
}

// Framework is what a framework-scoped hook sees.
type Framework interface {
	// Hosts returns a handle to the shared host state.
	Hosts() *host.Manager
	// Names returns the registered hook names in registration order.
	Names() []string
	// Hook looks up a registered hook.
	Hook(name string) (Hook, bool)
	// Modules describes the registered modules, sorted by name.
	Modules() []ModuleInfo
	// StopModule signals the named module, joins it and removes it.
	StopModule(ctx context.Context, name string) error
}
