package member

import (
	"testing"

	conductorerrors "github.com/ensemble-edge/conductor/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopFactory(config map[string]any, env map[string]any) (Member, error) {
	return &FunctionMember{}, nil
}

func TestRegistryResolvesLatestByDefault(t *testing.T) {
	r := NewRegistry()
	r.Register(Metadata{Name: "summarize", Version: "1.0.0"}, noopFactory)
	r.Register(Metadata{Name: "summarize", Version: "2.1.0"}, noopFactory)

	assert.True(t, r.Has("summarize"))
	assert.True(t, r.Has("summarize@latest"))
	assert.True(t, r.Has("summarize@2.1.0"))
}

func TestRegistryExactVersionMismatch(t *testing.T) {
	r := NewRegistry()
	r.Register(Metadata{Name: "summarize", Version: "1.0.0"}, noopFactory)

	assert.False(t, r.Has("summarize@9.9.9"))

	_, err := r.Create("summarize@9.9.9", nil, nil)
	require.Error(t, err)
	var notFound *conductorerrors.MemberNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestRegistryUnknownMember(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Has("ghost"))

	_, err := r.Create("ghost", nil, nil)
	require.Error(t, err)
}

func TestRegistryDeploymentLabel(t *testing.T) {
	r := NewRegistry()
	r.Register(Metadata{Name: "summarize", Version: "1.0.0"}, noopFactory)
	r.Register(Metadata{Name: "summarize", Version: "2.0.0"}, noopFactory)
	r.BindLabel("summarize", "production", "1.0.0")

	m, err := r.Create("summarize@production", nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestRegistryReRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	calls := 0
	first := func(config map[string]any, env map[string]any) (Member, error) {
		calls = 1
		return &FunctionMember{}, nil
	}
	second := func(config map[string]any, env map[string]any) (Member, error) {
		calls = 2
		return &FunctionMember{}, nil
	}
	r.Register(Metadata{Name: "x", Version: "1.0.0"}, first)
	r.Register(Metadata{Name: "x", Version: "1.0.0"}, second)

	_, err := r.Create("x@1.0.0", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRegistryResolveReturnsConcreteVersion(t *testing.T) {
	r := NewRegistry()
	r.Register(Metadata{Name: "summarize", Version: "1.0.0"}, noopFactory)
	r.Register(Metadata{Name: "summarize", Version: "2.1.0"}, noopFactory)

	meta, err := r.Resolve("summarize@latest")
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", meta.Version)

	meta, err = r.Resolve("summarize@1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", meta.Version)

	_, err = r.Resolve("ghost")
	require.Error(t, err)
}

func TestCompareSemver(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "2.0.0", -1},
		{"v2.0.0", "v1.9.9", 1},
		{"1.2.0", "1.10.0", -1}, // numeric, not lexicographic, comparison
		{"1.0.0", "1.0.0", 0},
	}
	for _, tc := range cases {
		got := compareSemver(tc.a, tc.b)
		switch {
		case tc.want < 0:
			assert.Negative(t, got, "%s vs %s", tc.a, tc.b)
		case tc.want > 0:
			assert.Positive(t, got, "%s vs %s", tc.a, tc.b)
		default:
			assert.Zero(t, got, "%s vs %s", tc.a, tc.b)
		}
	}
}
