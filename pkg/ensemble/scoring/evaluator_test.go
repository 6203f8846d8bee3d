package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleEvaluatorWeightedAverage(t *testing.T) {
	e := NewRuleEvaluator()
	report, err := e.Evaluate("hello world", []Criterion{
		{Name: "hasHello", Weight: 2, Expression: `includes("hello")`},
		{Name: "hasGoodbye", Weight: 1, Expression: `includes("goodbye")`},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.Breakdown["hasHello"])
	assert.Equal(t, 0.0, report.Breakdown["hasGoodbye"])
	assert.InDelta(t, 2.0/3.0, report.Average, 1e-9)
}

func TestRuleEvaluatorLengthAndWordCount(t *testing.T) {
	e := NewRuleEvaluator()
	report, err := e.Evaluate("one two three", []Criterion{
		{Name: "longEnough", Expression: "wordCount >= 3"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.Breakdown["longEnough"])
}

func TestRuleEvaluatorNonBooleanExpressionErrors(t *testing.T) {
	e := NewRuleEvaluator()
	_, err := e.Evaluate("x", []Criterion{{Name: "bad", Expression: "length"}})
	require.Error(t, err)
}

func TestRuleEvaluatorCompileCache(t *testing.T) {
	e := NewRuleEvaluator()
	expr := `includes("x")`
	_, err := e.Evaluate("x", []Criterion{{Name: "c", Expression: expr}})
	require.NoError(t, err)

	p1 := e.cache[expr]
	_, err = e.Evaluate("x", []Criterion{{Name: "c", Expression: expr}})
	require.NoError(t, err)
	assert.Same(t, p1, e.cache[expr], "repeated evaluation of the same expression must reuse the compiled program")
}
