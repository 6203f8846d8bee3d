package state

import (
	"testing"

	conductorerrors "github.com/ensemble-edge/conductor/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleReadRespectsUseKeys(t *testing.T) {
	s := New(map[string]any{"stage": "triage"}, nil)
	h := s.BeginStep([]string{"stage"}, nil)

	v, err := h.Read("stage")
	require.NoError(t, err)
	assert.Equal(t, "triage", v)

	_, err = h.Read("other")
	require.Error(t, err)
	var permErr *conductorerrors.PermissionError
	assert.ErrorAs(t, err, &permErr)
}

func TestHandleWriteRespectsSetKeys(t *testing.T) {
	s := New(nil, nil)
	h := s.BeginStep(nil, []string{"result"})

	require.NoError(t, h.Write("result", "done"))

	err := h.Write("other", "x")
	require.Error(t, err)
}

func TestHandleWriteNotVisibleUntilCommit(t *testing.T) {
	s := New(nil, nil)
	h := s.BeginStep([]string{"result"}, []string{"result"})
	require.NoError(t, h.Write("result", "done"))

	v, err := h.Read("result")
	require.NoError(t, err)
	assert.Nil(t, v, "uncommitted write must not be visible, even to the writer's own Read")

	require.NoError(t, h.Commit())

	h2 := s.BeginStep([]string{"result"}, nil)
	v2, err := h2.Read("result")
	require.NoError(t, err)
	assert.Equal(t, "done", v2)
}

func TestHandleAbortDiscardsWrites(t *testing.T) {
	s := New(nil, nil)
	h := s.BeginStep(nil, []string{"result"})
	require.NoError(t, h.Write("result", "done"))
	h.Abort()

	h2 := s.BeginStep([]string{"result"}, nil)
	v, err := h2.Read("result")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestHandleWriteTypeMismatch(t *testing.T) {
	s := New(nil, map[string]string{"count": "number"})
	h := s.BeginStep(nil, []string{"count"})

	err := h.Write("count", "not a number")
	require.Error(t, err)
	var typeErr *conductorerrors.StateTypeError
	assert.ErrorAs(t, err, &typeErr)
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	s := New(map[string]any{"a": 1}, nil)
	snap := s.Snapshot()
	snap["a"] = 999

	h := s.BeginStep([]string{"a"}, nil)
	v, _ := h.Read("a")
	assert.Equal(t, 1, v)
}

func TestDetectOverlapFindsSharedKey(t *testing.T) {
	got := DetectOverlap([][]string{{"a", "b"}, {"c", "b"}})
	assert.Equal(t, "b", got)
}

func TestDetectOverlapNoneWhenDisjoint(t *testing.T) {
	got := DetectOverlap([][]string{{"a"}, {"b"}})
	assert.Equal(t, "", got)
}
