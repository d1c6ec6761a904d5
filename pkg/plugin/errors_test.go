package plugin

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	err := fmt.Errorf("register: %w", &CollisionError{Name: "scan"})
	assert.ErrorIs(t, err, ErrHookCollision)
	assert.EqualError(t, errors.Unwrap(err), "scan already bound")

	var unknown error = &UnknownHookError{Name: "missing"}
	assert.ErrorIs(t, unknown, ErrUnknownHook)
	assert.EqualError(t, unknown, "missing: no such hook")

	cause := errors.New("symbol Load not found")
	ep := &EntryPointError{Library: "x.so", Symbol: EntryPointSymbol, Err: cause}
	assert.ErrorIs(t, ep, ErrEntryPoint)
	assert.ErrorIs(t, ep, cause)
}

func TestBatchError(t *testing.T) {
	assert.NoError(t, NewBatchError([]string{"a"}, nil))

	var errs error
	errs = multierr.Append(errs, &CollisionError{Name: "b"})
	errs = multierr.Append(errs, &CollisionError{Name: "d"})

	err := NewBatchError([]string{"a", "c"}, errs)
	require.Error(t, err)

	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, []string{"a", "c"}, be.Applied)
	assert.Equal(t, []string{"b already bound", "d already bound"}, be.Messages())
	assert.Len(t, be.Collisions(), 2)
	assert.ErrorIs(t, err, ErrHookCollision)
}
