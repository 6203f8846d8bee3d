package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		assert.Nil(t, Wrap(nil, "context"))
	})

	t.Run("wraps with message", func(t *testing.T) {
		err := Wrap(New("boom"), "loading ensemble")
		assert.EqualError(t, err, "loading ensemble: boom")
	})
}

func TestWrapf(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		assert.Nil(t, Wrapf(nil, "loading %s", "x"))
	})

	t.Run("formats and wraps", func(t *testing.T) {
		err := Wrapf(New("boom"), "loading ensemble %q", "triage")
		assert.EqualError(t, err, `loading ensemble "triage": boom`)
	})
}

func TestIsAndAs(t *testing.T) {
	notFound := &NotFoundError{Resource: "ensemble", ID: "x"}
	wrapped := Wrap(notFound, "resolving memberRef")

	var target *NotFoundError
	assert.True(t, As(wrapped, &target))
	assert.Equal(t, notFound, target)

	assert.True(t, Is(notFound, notFound))
}

func TestUnwrap(t *testing.T) {
	cause := New("cause")
	err := &ConfigError{Reason: "bad", Cause: cause}
	assert.Equal(t, cause, Unwrap(err))
}
