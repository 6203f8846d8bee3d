package ensemble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionContextInputRoundTrip(t *testing.T) {
	ctx := NewExecutionContext(map[string]any{"ticketId": "T-1"}, nil, nil)

	v, ok := ctx.Input("ticketId")
	require.True(t, ok)
	assert.Equal(t, "T-1", v)

	_, ok = ctx.Input("missing")
	assert.False(t, ok)
}

func TestExecutionContextGetStringTypeMismatch(t *testing.T) {
	ctx := NewExecutionContext(map[string]any{"count": 5}, nil, nil)

	_, err := ctx.GetString("count")
	require.Error(t, err)
	assert.Equal(t, "fallback", ctx.GetStringOr("count", "fallback"))
}

func TestExecutionContextStateIsolatedFromInput(t *testing.T) {
	ctx := NewExecutionContext(map[string]any{"a": 1}, nil, map[string]any{"b": 2})

	_, ok := ctx.StateValue("a")
	assert.False(t, ok, "input keys must not leak into state")

	v, ok := ctx.StateValue("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestExecutionContextSetOutputAndSnapshot(t *testing.T) {
	ctx := NewExecutionContext(nil, nil, nil)
	ctx.SetOutput("fetch", StepResult{Data: map[string]any{"x": 1}, DurationMs: 12})

	result, ok := ctx.Output("fetch")
	require.True(t, ok)
	assert.Equal(t, int64(12), result.DurationMs)

	snap := ctx.OutputsSnapshot()
	fetch, ok := snap["fetch"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "", fetch["error"])
}

func TestExecutionContextSnapshotsAreCopies(t *testing.T) {
	ctx := NewExecutionContext(map[string]any{"a": 1}, nil, nil)
	snap := ctx.InputSnapshot()
	snap["a"] = 999

	v, _ := ctx.Input("a")
	assert.Equal(t, 1, v, "mutating a snapshot must not affect the context")
}

func TestNewExecutionContextNilMapsAreUsable(t *testing.T) {
	ctx := NewExecutionContext(nil, nil, nil)
	assert.NotNil(t, ctx.Scoring)
	assert.NotNil(t, ctx.Metrics)
	assert.Empty(t, ctx.InputSnapshot())
}
