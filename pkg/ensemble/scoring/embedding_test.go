package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedEmbed(vectors map[string][]float64) EmbedFunc {
	return func(text string) ([]float64, error) {
		return vectors[text], nil
	}
}

func TestEmbeddingEvaluatorIdenticalVectorsScoreOne(t *testing.T) {
	e := NewEmbeddingEvaluator(fixedEmbed(map[string][]float64{
		"content": {1, 0},
		"ref":     {1, 0},
	}))
	report, err := e.Evaluate("content", []Criterion{{Name: "c", Reference: "ref"}})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, report.Breakdown["c"], 1e-9)
}

func TestEmbeddingEvaluatorOrthogonalVectorsScoreHalf(t *testing.T) {
	e := NewEmbeddingEvaluator(fixedEmbed(map[string][]float64{
		"content": {1, 0},
		"ref":     {0, 1},
	}))
	report, err := e.Evaluate("content", []Criterion{{Name: "c", Reference: "ref"}})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, report.Breakdown["c"], 1e-9)
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	_, err := cosineSimilarity([]float64{1, 2}, []float64{1})
	require.Error(t, err)
}
