package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ModuleState represents the state of a module in its lifecycle.
type ModuleState string

const (
	// StateRunning indicates the worker is executing.
	StateRunning ModuleState = "running"
	// StateStopping indicates shutdown was signalled and the worker has not exited yet.
	StateStopping ModuleState = "stopping"
	// StateStopped indicates the worker has exited.
	StateStopped ModuleState = "stopped"
)

// RunFunc is the body of a module worker. ctx is cancelled when the owner
// requests shutdown; the worker is expected to select on ctx.Done() next to
// its inbound frame channel and return. out is nil unless the module was
// spawned WithOutbound.
//
// Returning ctx.Err() after a requested shutdown is treated as a clean exit.
type RunFunc func(ctx context.Context, out chan<- []byte) error

type moduleOptions struct {
	parent   context.Context
	outbound int
}

// ModuleOption configures Spawn.
type ModuleOption func(*moduleOptions)

// WithOutbound gives the worker a packet injection channel of the given capacity.
func WithOutbound(size int) ModuleOption {
	return func(o *moduleOptions) {
		if size < 0 {
			size = 0
		}
		o.outbound = size
	}
}

// WithParent derives the worker context from ctx instead of context.Background.
func WithParent(ctx context.Context) ModuleOption {
	return func(o *moduleOptions) {
		o.parent = ctx
	}
}

// Module is a running background worker with its shutdown signal, optional
// outbound channel and packet filter. Stopping is cooperative: Signal, then
// Wait. A worker that never observes its context cannot be stopped.
type Module struct {
	filter   PackFilter
	outbound chan []byte
	cancel   context.CancelFunc
	done     chan struct{}

	mu        sync.Mutex
	state     ModuleState
	err       error
	startedAt time.Time
}

// Spawn starts run on its own goroutine and returns the running module.
func Spawn(run RunFunc, filter PackFilter, opts ...ModuleOption) *Module {
	o := moduleOptions{parent: context.Background(), outbound: -1}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(o.parent)
	m := &Module{
		filter:    filter,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateRunning,
		startedAt: time.Now(),
	}
	if o.outbound >= 0 {
		m.outbound = make(chan []byte, o.outbound)
	}

	var out chan<- []byte
	if m.outbound != nil {
		out = m.outbound
	}

	go m.run(ctx, run, out)
	return m
}

func (m *Module) run(ctx context.Context, run RunFunc, out chan<- []byte) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrModulePanicked, r)
			slog.Error("module worker panicked", "panic", r)
		}
		m.finish(ctx, err)
	}()

	err = run(ctx, out)
}

func (m *Module) finish(ctx context.Context, err error) {
	m.mu.Lock()
	if m.state == StateStopping && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	m.err = err
	m.state = StateStopped
	m.mu.Unlock()

	m.cancel()
	close(m.done)
}

// Signal requests shutdown. It does not wait.
func (m *Module) Signal() {
	m.mu.Lock()
	if m.state == StateRunning {
		m.state = StateStopping
	}
	m.mu.Unlock()

	m.cancel()
}

// Wait blocks until the worker exits and returns its terminal result. If ctx
// expires first the worker keeps running and ctx's error is returned.
func (m *Module) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return m.Err()
	case <-ctx.Done():
		return fmt.Errorf("wait for module: %w", ctx.Err())
	}
}

// Stop signals shutdown and joins the worker.
func (m *Module) Stop(ctx context.Context) error {
	m.Signal()
	return m.Wait(ctx)
}

// Done is closed once the worker has exited.
func (m *Module) Done() <-chan struct{} {
	return m.done
}

// Exited reports whether the worker has returned.
func (m *Module) Exited() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Err returns the terminal result; nil while the worker is running.
func (m *Module) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// State returns the current lifecycle state.
func (m *Module) State() ModuleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StartedAt returns the spawn time.
func (m *Module) StartedAt() time.Time {
	return m.startedAt
}

// Outbound returns the packet injection channel, nil when the module has none.
func (m *Module) Outbound() <-chan []byte {
	if m.outbound == nil {
		return nil
	}
	return m.outbound
}

// Filter returns the module's packet filter.
func (m *Module) Filter() PackFilter {
	return m.filter
}
