// Package framework implements the hook and module registries: registration,
// batch and library loading, invocation with unique module naming, and
// cooperative module shutdown.
package framework

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"firestige.xyz/needle/internal/dispatch"
	"firestige.xyz/needle/internal/metrics"
	"firestige.xyz/needle/pkg/host"
	"firestige.xyz/needle/pkg/plugin"
)

const discardTimeout = 5 * time.Second

// Option configures a Framework.
type Option func(*Framework)

// WithTransmitter forwards every module's outbound frames to tx.
func WithTransmitter(tx plugin.Transmitter) Option {
	return func(f *Framework) {
		f.tx = tx
	}
}

type moduleEntry struct {
	hook   string
	module *plugin.Module
}

// Framework owns the host state, the hook registry and the module registry.
// Registry access is serialized by its own lock; no hook runs under it.
type Framework struct {
	hosts *host.Manager
	tx    plugin.Transmitter

	mu      sync.RWMutex
	hooks   map[string]plugin.Hook
	names   []string
	modules map[string]*moduleEntry

	pumps sync.WaitGroup
}

var _ plugin.Framework = (*Framework)(nil)

// New creates a framework around hosts.
func New(hosts *host.Manager, opts ...Option) *Framework {
	f := &Framework{
		hosts:   hosts,
		hooks:   make(map[string]plugin.Hook),
		modules: make(map[string]*moduleEntry),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Hosts returns a handle aliasing the framework's host state.
func (f *Framework) Hosts() *host.Manager {
	return f.hosts.Clone()
}

// Register binds name to hook. An existing binding is left untouched.
func (f *Framework) Register(name string, hook plugin.Hook) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.hooks[name]; exists {
		return &plugin.CollisionError{Name: name}
	}
	f.hooks[name] = hook
	f.names = append(f.names, name)
	metrics.HooksRegistered.Set(float64(len(f.hooks)))
	return nil
}

// LoadBatch registers every entry. Colliding entries are skipped and
// reported together; the rest stay registered.
func (f *Framework) LoadBatch(entries []plugin.Entry) error {
	_, err := f.loadBatch(entries)
	return err
}

func (f *Framework) loadBatch(entries []plugin.Entry) ([]string, error) {
	var (
		applied []string
		errs    error
	)
	for _, e := range entries {
		if err := f.Register(e.Name, e.Hook); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		applied = append(applied, e.Name)
	}

	if errs != nil {
		slog.Warn("hook batch loaded with collisions", "applied", len(applied), "collisions", len(multierr.Errors(errs)))
	}
	return applied, plugin.NewBatchError(applied, errs)
}

// LoadLibrary resolves the library's entry point and registers its table.
// It returns the names this call registered, also when some collided.
// Entry point failures register nothing.
func (f *Framework) LoadLibrary(lib plugin.Library) ([]string, error) {
	entries, err := entryTable(lib)
	if err != nil {
		return nil, err
	}
	slog.Info("plugin library resolved", "library", lib.Path(), "hooks", len(entries))
	return f.loadBatch(entries)
}

func entryTable(lib plugin.Library) (entries []plugin.Entry, err error) {
	fail := func(symbol string, cause error) error {
		return &plugin.EntryPointError{Library: lib.Path(), Symbol: symbol, Err: cause}
	}

	if sym, lerr := lib.Lookup(plugin.ABIVersionSymbol); lerr == nil {
		var version int
		switch v := sym.(type) {
		case *int:
			version = *v
		case int:
			version = v
		default:
			return nil, fail(plugin.ABIVersionSymbol, fmt.Errorf("unexpected type %T", sym))
		}
		if version != plugin.ABIVersion {
			return nil, fail(plugin.ABIVersionSymbol, fmt.Errorf("version %d, want %d", version, plugin.ABIVersion))
		}
	}

	sym, err := lib.Lookup(plugin.EntryPointSymbol)
	if err != nil {
		return nil, fail(plugin.EntryPointSymbol, err)
	}

	var load plugin.LoadFunc
	switch fn := sym.(type) {
	case func() []plugin.Entry:
		load = fn
	case *func() []plugin.Entry:
		if fn != nil {
			load = *fn
		}
	}
	if load == nil {
		return nil, fail(plugin.EntryPointSymbol, fmt.Errorf("unexpected type %T", sym))
	}

	defer func() {
		if r := recover(); r != nil {
			entries = nil
			err = fail(plugin.EntryPointSymbol, fmt.Errorf("panicked: %v", r))
		}
	}()
	return load(), nil
}

// Invoke runs the named hook. It reports whether a module was started.
func (f *Framework) Invoke(name string, args []string) (bool, error) {
	_, started, err := f.InvokeNamed(name, args)
	return started, err
}

// InvokeNamed is Invoke that also returns the registry key the module was
// stored under: name if free, otherwise the first free name_N.
func (f *Framework) InvokeNamed(name string, args []string) (key string, started bool, err error) {
	f.mu.RLock()
	hook, ok := f.hooks[name]
	f.mu.RUnlock()
	if !ok {
		metrics.HookInvocationsTotal.WithLabelValues(name, metrics.ResultUnknown).Inc()
		return "", false, &plugin.UnknownHookError{Name: name}
	}

	id := uuid.NewString()
	slog.Debug("invoking hook", "hook", name, "scope", hook.Scope(), "invocation", id, "args", args)

	m, err := f.call(name, hook, args)
	if err != nil {
		result := metrics.ResultError
		if errors.Is(err, plugin.ErrHookPanicked) {
			result = metrics.ResultPanicked
		}
		metrics.HookInvocationsTotal.WithLabelValues(name, result).Inc()
		slog.Debug("hook failed", "hook", name, "invocation", id, "error", err)
		if m != nil {
			discard(name, m)
		}
		return "", false, err
	}
	if m == nil {
		metrics.HookInvocationsTotal.WithLabelValues(name, metrics.ResultOK).Inc()
		return "", false, nil
	}

	key = f.insert(name, m)
	metrics.HookInvocationsTotal.WithLabelValues(name, metrics.ResultModule).Inc()
	slog.Info("module started", "module", key, "hook", name, "filter", m.Filter().Kind(), "invocation", id)

	f.pump(key, m)
	return key, true, nil
}

// discard stops a module returned alongside a hook error. It is never registered.
func discard(name string, m *plugin.Module) {
	slog.Warn("stopping module of failed hook", "hook", name)
	m.Signal()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), discardTimeout)
		defer cancel()
		if err := m.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("module of failed hook exited", "hook", name, "error", err)
		}
	}()
}

func (f *Framework) call(name string, hook plugin.Hook, args []string) (m *plugin.Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			m = nil
			err = fmt.Errorf("%w: %s: %v", plugin.ErrHookPanicked, name, r)
			slog.Error("hook panicked", "hook", name, "panic", r)
		}
	}()
	return hook.Call(args, f, f.hosts.Clone())
}

func (f *Framework) insert(name string, m *plugin.Module) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := name
	if _, taken := f.modules[key]; taken {
		for i := 0; ; i++ {
			key = fmt.Sprintf("%s_%d", name, i)
			if _, taken := f.modules[key]; !taken {
				break
			}
		}
	}
	f.modules[key] = &moduleEntry{hook: name, module: m}
	metrics.ModulesRunning.Set(float64(len(f.modules)))
	return key
}

// pump forwards the module's outbound frames to the transmitter until the
// worker exits. Blocking on the transmitter only stalls this module.
func (f *Framework) pump(key string, m *plugin.Module) {
	out := m.Outbound()
	if f.tx == nil || out == nil {
		return
	}

	f.pumps.Add(1)
	go func() {
		defer f.pumps.Done()
		for {
			select {
			case b := <-out:
				f.transmit(key, b)
			case <-m.Done():
				for {
					select {
					case b := <-out:
						f.transmit(key, b)
					default:
						return
					}
				}
			}
		}
	}()
}

func (f *Framework) transmit(key string, b []byte) {
	if err := f.tx.Transmit(b); err != nil {
		metrics.TransmitFramesTotal.WithLabelValues(key, metrics.ResultError).Inc()
		slog.Warn("transmit failed", "module", key, "error", err)
		return
	}
	metrics.TransmitFramesTotal.WithLabelValues(key, metrics.ResultOK).Inc()
}

// StopModule signals the named module, joins it and removes it. The worker's
// terminal result is returned. If ctx expires first the module stays
// registered in the stopping state.
func (f *Framework) StopModule(ctx context.Context, name string) error {
	f.mu.RLock()
	e, ok := f.modules[name]
	f.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", plugin.ErrModuleNotFound, name)
	}

	if err := e.module.Stop(ctx); !e.module.Exited() {
		return err
	}
	err := e.module.Err()

	f.remove(name, e)
	slog.Info("module stopped", "module", name, "error", err)
	return err
}

func (f *Framework) remove(name string, e *moduleEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.modules[name]; ok && cur == e {
		delete(f.modules, name)
	}
	metrics.ModulesRunning.Set(float64(len(f.modules)))
}

// StopAll stops every module. Terminal errors are combined.
func (f *Framework) StopAll(ctx context.Context) error {
	var errs error
	for _, name := range f.moduleNames() {
		if err := f.StopModule(ctx, name); err != nil && !errors.Is(err, plugin.ErrModuleNotFound) {
			errs = multierr.Append(errs, fmt.Errorf("module %s: %w", name, err))
		}
	}

	pumped := make(chan struct{})
	go func() {
		f.pumps.Wait()
		close(pumped)
	}()
	select {
	case <-pumped:
	case <-ctx.Done():
	}
	return errs
}

// Reap removes modules whose workers already exited and returns their
// terminal results by name.
func (f *Framework) Reap() map[string]error {
	f.mu.Lock()
	defer f.mu.Unlock()

	reaped := make(map[string]error)
	for name, e := range f.modules {
		if e.module.Exited() {
			reaped[name] = e.module.Err()
			delete(f.modules, name)
		}
	}
	metrics.ModulesRunning.Set(float64(len(f.modules)))
	return reaped
}

// Names returns the hook names in registration order.
func (f *Framework) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.names)
}

// Hook looks up a registered hook.
func (f *Framework) Hook(name string) (plugin.Hook, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	h, ok := f.hooks[name]
	return h, ok
}

// Module looks up a registered module.
func (f *Framework) Module(name string) (*plugin.Module, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.modules[name]
	if !ok {
		return nil, false
	}
	return e.module, true
}

func (f *Framework) moduleNames() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.modules))
	for name := range f.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Modules describes the registered modules, sorted by name.
func (f *Framework) Modules() []plugin.ModuleInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()

	infos := make([]plugin.ModuleInfo, 0, len(f.modules))
	for name, e := range f.modules {
		info := plugin.ModuleInfo{
			Name:      name,
			Hook:      e.hook,
			State:     e.module.State(),
			Filter:    e.module.Filter().Kind().String(),
			Outbound:  e.module.Outbound() != nil,
			StartedAt: e.module.StartedAt(),
		}
		if err := e.module.Err(); err != nil {
			info.Error = err.Error()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Routes returns the subscriptions of modules that are still running.
func (f *Framework) Routes() []dispatch.Route {
	f.mu.RLock()
	defer f.mu.RUnlock()

	routes := make([]dispatch.Route, 0, len(f.modules))
	for name, e := range f.modules {
		filter := e.module.Filter()
		if filter.IsClosed() || e.module.Exited() {
			continue
		}
		routes = append(routes, dispatch.Route{Module: name, Filter: filter})
	}
	return routes
}
