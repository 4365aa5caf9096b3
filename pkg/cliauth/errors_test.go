package cliauth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsByCategory(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", newError(CategoryState, "callback", ErrInvalidState))

	assert.True(t, errors.Is(err, ErrState))
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.False(t, errors.Is(err, ErrStorage))
	assert.False(t, errors.Is(err, ErrSessionNotFound))
	assert.Equal(t, CategoryState, CategoryOf(err))
	assert.Equal(t, CategoryInternal, CategoryOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "cli auth callback: state error: invalid or expired state")
}

func TestError_SameCategoryDifferentOpNotEqual(t *testing.T) {
	a := newError(CategoryStorage, "start", errors.New("x"))
	b := newError(CategoryStorage, "status", errors.New("y"))
	assert.False(t, errors.Is(a, b), "only the bare sentinels match by category")
}
