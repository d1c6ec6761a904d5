package plugin

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// Sentinel errors, matched with errors.Is.
var (
	ErrHookCollision  = errors.New("needle: hook already bound")
	ErrUnknownHook    = errors.New("needle: no such hook")
	ErrEntryPoint     = errors.New("needle: plugin entry point unavailable")
	ErrModuleNotFound = errors.New("needle: module not found")
	ErrModulePanicked = errors.New("needle: module panicked")
	ErrHookPanicked   = errors.New("needle: hook panicked")
)

// CollisionError is returned when a hook name is already bound.
type CollisionError struct {
	Name string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("%s already bound", e.Name)
}

func (e *CollisionError) Is(target error) bool {
	return target == ErrHookCollision
}

// UnknownHookError is returned when invoking a name with no bound hook.
type UnknownHookError struct {
	Name string
}

func (e *UnknownHookError) Error() string {
	return fmt.Sprintf("%s: no such hook", e.Name)
}

func (e *UnknownHookError) Is(target error) bool {
	return target == ErrUnknownHook
}

// EntryPointError is returned when a library's entry point cannot be resolved.
// Nothing from that library is registered.
type EntryPointError struct {
	Library string
	Symbol  string
	Err     error
}

func (e *EntryPointError) Error() string {
	return fmt.Sprintf("plugin %s: entry point %s: %v", e.Library, e.Symbol, e.Err)
}

func (e *EntryPointError) Unwrap() error {
	return e.Err
}

func (e *EntryPointError) Is(target error) bool {
	return target == ErrEntryPoint
}

// BatchError reports the name collisions of a batch registration. Applied
// lists the names that were registered anyway.
type BatchError struct {
	Applied []string
	errs    error
}

// NewBatchError returns nil when errs holds no error.
func NewBatchError(applied []string, errs error) error {
	if errs == nil {
		return nil
	}
	return &BatchError{Applied: applied, errs: errs}
}

func (e *BatchError) Error() string {
	return e.errs.Error()
}

// Collisions returns one error per rejected entry, in batch order.
func (e *BatchError) Collisions() []error {
	return multierr.Errors(e.errs)
}

// Messages returns the collision messages, in batch order.
func (e *BatchError) Messages() []string {
	errs := e.Collisions()
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return msgs
}

func (e *BatchError) Unwrap() []error {
	return e.Collisions()
}
