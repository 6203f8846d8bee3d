package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJudgeEvaluatorAggregatesWeighted(t *testing.T) {
	judge := func(content string, c Criterion) (float64, error) {
		if c.Name == "accuracy" {
			return 0.9, nil
		}
		return 0.5, nil
	}
	e := NewJudgeEvaluator(judge)
	report, err := e.Evaluate("x", []Criterion{
		{Name: "accuracy", Weight: 3},
		{Name: "tone", Weight: 1},
	})
	require.NoError(t, err)
	assert.InDelta(t, (0.9*3+0.5*1)/4, report.Average, 1e-9)
}

func TestJudgeEvaluatorRejectsOutOfRangeScore(t *testing.T) {
	judge := func(content string, c Criterion) (float64, error) {
		return 1.5, nil
	}
	e := NewJudgeEvaluator(judge)
	_, err := e.Evaluate("x", []Criterion{{Name: "bad"}})
	require.Error(t, err)
}
