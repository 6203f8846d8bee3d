package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNLPEvaluatorExactMatchScoresHigh(t *testing.T) {
	e := NewNLPEvaluator()
	report, err := e.Evaluate("the quick brown fox", []Criterion{
		{Name: "match", Reference: "the quick brown fox"},
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, report.Breakdown["match"], 1e-9)
}

func TestNLPEvaluatorNoOverlapScoresLow(t *testing.T) {
	e := NewNLPEvaluator()
	report, err := e.Evaluate("completely different text", []Criterion{
		{Name: "match", Reference: "unrelated content here"},
	})
	require.NoError(t, err)
	assert.Less(t, report.Breakdown["match"], 0.5)
}

func TestBLEU1ClipsRepeatedTokens(t *testing.T) {
	score := bleu1([]string{"a", "a", "a"}, []string{"a"})
	assert.InDelta(t, 1.0/3.0, score, 1e-9)
}

func TestLCSLength(t *testing.T) {
	got := lcsLength([]string{"a", "b", "c"}, []string{"a", "c"})
	assert.Equal(t, 2, got)
}
