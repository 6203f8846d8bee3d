package ensemble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalEnsemble = `
name: triage
flow:
  - member: classify@1.0.0
    id: classify_ticket
  - member: notify@latest
`

func TestParseEnsembleMinimal(t *testing.T) {
	e, err := ParseEnsemble([]byte(minimalEnsemble))
	require.NoError(t, err)
	assert.Equal(t, "triage", e.Name)
	require.Len(t, e.Flow, 2)
	assert.Equal(t, "classify_ticket", e.Flow[0].Step.ID)
	assert.Equal(t, "notify_1", e.Flow[1].Step.ID, "auto-generated id should be memberRef_n")
	assert.Equal(t, 30, e.Flow[0].Step.TimeoutSeconds, "default timeout should be applied")
}

func TestParseEnsembleRejectsDeprecatedTriggersKey(t *testing.T) {
	doc := `
name: x
triggers:
  webhook: {}
flow:
  - member: a
`
	_, err := ParseEnsemble([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "triggers")
}

func TestParseEnsembleRejectsMissingName(t *testing.T) {
	doc := `
flow:
  - member: a
`
	_, err := ParseEnsemble([]byte(doc))
	require.Error(t, err)
}

func TestParseEnsembleRejectsEmptyFlow(t *testing.T) {
	doc := `
name: x
flow: []
`
	_, err := ParseEnsemble([]byte(doc))
	require.Error(t, err)
}

func TestParseEnsembleRejectsDuplicateStepIDs(t *testing.T) {
	doc := `
name: x
flow:
  - member: a
    id: dup
  - member: b
    id: dup
`
	_, err := ParseEnsemble([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step id")
}

func TestParseEnsembleRejectsUnknownDependsOn(t *testing.T) {
	doc := `
name: x
flow:
  - member: a
    id: a1
    dependsOn: [ghost]
`
	_, err := ParseEnsemble([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step")
}

func TestParseEnsembleScoringDefaults(t *testing.T) {
	doc := `
name: x
scoring:
  thresholds:
    minimum: 0.7
flow:
  - member: a
`
	e, err := ParseEnsemble([]byte(doc))
	require.NoError(t, err)
	require.NotNil(t, e.ScoringPolicy)
	assert.Equal(t, 2, e.ScoringPolicy.RetryLimit)
	assert.Equal(t, "exponential", e.ScoringPolicy.Backoff.Strategy)
	assert.Equal(t, "weighted-average", e.ScoringPolicy.Aggregation)
	assert.Equal(t, "abort", e.ScoringPolicy.OnFailure)
}

func TestParseMember(t *testing.T) {
	doc := `
name: classify
type: Function
version: 1.0.0
config:
  op: random_int
`
	m, err := ParseMember([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "classify", m.Name)
	assert.Equal(t, "Function", m.Type)
}

func TestParseMemberRejectsUnknownType(t *testing.T) {
	doc := `
name: classify
type: Bogus
version: 1.0.0
`
	_, err := ParseMember([]byte(doc))
	require.Error(t, err)
}
