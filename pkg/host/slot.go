package host

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrSlotPoisoned is returned by Slot.Do when the callback panicked while
// holding the slot lock. The slot value may be partially written.
var ErrSlotPoisoned = errors.New("needle: host slot poisoned")

// PoisonError carries the panic value recovered inside Slot.Do.
type PoisonError struct {
	Slot  string
	Panic any
}

func (e *PoisonError) Error() string {
	return fmt.Sprintf("needle: host slot %q poisoned: panic: %v", e.Slot, e.Panic)
}

func (e *PoisonError) Is(target error) bool {
	return target == ErrSlotPoisoned
}

// Slot is an independently lockable cell. Slots are shared by pointer; copying
// a *Slot shares the cell, never the value.
//
// Callers using Lock/Unlock directly must release with defer: a panic between
// the two leaves the slot locked for every other owner. Do handles that case.
type Slot[T any] struct {
	name string
	mu   sync.Mutex
	v    T

	poisoned atomic.Bool
}

func newSlot[T any](name string, v T) *Slot[T] {
	return &Slot[T]{name: name, v: v}
}

// Name returns the slot name (gateway, self or hosts).
func (s *Slot[T]) Name() string {
	return s.name
}

// Lock blocks until the slot is free and returns a pointer to the guarded value.
// The pointer must not be used after Unlock.
func (s *Slot[T]) Lock() *T {
	s.mu.Lock()
	return &s.v
}

// Unlock releases the slot.
func (s *Slot[T]) Unlock() {
	s.mu.Unlock()
}

// Do runs fn with exclusive access to the value. A panic in fn releases the
// lock, poisons the slot and is returned as a *PoisonError.
func (s *Slot[T]) Do(fn func(v *T)) (err error) {
	s.mu.Lock()
	defer func() {
		if r := recover(); r != nil {
			s.poisoned.Store(true)
			err = &PoisonError{Slot: s.name, Panic: r}
		}
		s.mu.Unlock()
	}()

	fn(&s.v)
	return nil
}

// Poisoned reports whether a callback ever panicked inside Do.
func (s *Slot[T]) Poisoned() bool {
	return s.poisoned.Load()
}

// ClearPoison marks the slot usable again after the owner repaired the value.
func (s *Slot[T]) ClearPoison() {
	s.poisoned.Store(false)
}
