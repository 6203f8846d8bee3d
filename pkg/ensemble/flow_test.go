package ensemble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlowElementParallelBlock(t *testing.T) {
	doc := `
name: x
flow:
  - parallel:
      waitFor: any
      maxConcurrency: 3
      steps:
        - member: a
        - member: b
`
	e, err := ParseEnsemble([]byte(doc))
	require.NoError(t, err)
	require.NotNil(t, e.Flow[0].Parallel)
	assert.Equal(t, "any", e.Flow[0].Parallel.WaitFor)
	assert.Equal(t, 3, e.Flow[0].Parallel.MaxConcurrency)
	assert.Len(t, e.Flow[0].Parallel.Steps, 2)
}

func TestParseFlowElementParallelDefaultsToAll(t *testing.T) {
	doc := `
name: x
flow:
  - parallel:
      steps:
        - member: a
`
	e, err := ParseEnsemble([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "all", e.Flow[0].Parallel.WaitFor)
}

func TestParseFlowElementBranchBlock(t *testing.T) {
	doc := `
name: x
flow:
  - branch:
      condition: "${input.urgent}"
      then:
        - member: escalate
      else:
        - member: queue
`
	e, err := ParseEnsemble([]byte(doc))
	require.NoError(t, err)
	require.NotNil(t, e.Flow[0].Branch)
	assert.Equal(t, "${input.urgent}", e.Flow[0].Branch.Condition)
	assert.Len(t, e.Flow[0].Branch.Then, 1)
	assert.Len(t, e.Flow[0].Branch.Else, 1)
}

func TestParseFlowElementForeachBlock(t *testing.T) {
	doc := `
name: x
flow:
  - foreach:
      items: "${input.tickets}"
      maxConcurrency: 5
      breakWhen: "${state.stop}"
      steps:
        - member: handle
`
	e, err := ParseEnsemble([]byte(doc))
	require.NoError(t, err)
	fe := e.Flow[0].Foreach
	require.NotNil(t, fe)
	assert.Equal(t, "${input.tickets}", fe.Items)
	assert.Equal(t, 5, fe.MaxConcurrency)
	assert.Equal(t, "${state.stop}", fe.BreakWhen)
}

func TestParseFlowElementWhileDefaultsMaxIterations(t *testing.T) {
	doc := `
name: x
flow:
  - while:
      condition: "${state.keepGoing}"
      steps:
        - member: poll
`
	e, err := ParseEnsemble([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 1000, e.Flow[0].While.MaxIterations)
}

func TestParseFlowElementTryBlock(t *testing.T) {
	doc := `
name: x
flow:
  - try:
      steps:
        - member: risky
      catch:
        - member: handleError
      finally:
        - member: cleanup
`
	e, err := ParseEnsemble([]byte(doc))
	require.NoError(t, err)
	tr := e.Flow[0].Try
	require.NotNil(t, tr)
	assert.Len(t, tr.Steps, 1)
	assert.Len(t, tr.Catch, 1)
	assert.Len(t, tr.Finally, 1)
}

func TestParseFlowElementSwitchBlock(t *testing.T) {
	doc := `
name: x
flow:
  - switch:
      value: "${input.tier}"
      cases:
        gold:
          - member: fastTrack
        silver:
          - member: standard
      default:
        - member: fallback
`
	e, err := ParseEnsemble([]byte(doc))
	require.NoError(t, err)
	sw := e.Flow[0].Switch
	require.NotNil(t, sw)
	assert.Len(t, sw.Cases["gold"], 1)
	assert.Len(t, sw.Cases["silver"], 1)
	assert.Len(t, sw.Default, 1)
}

func TestParseFlowElementMapReduceBlock(t *testing.T) {
	doc := `
name: x
flow:
  - map-reduce:
      items: "${input.docs}"
      maxConcurrency: 4
      map:
        - member: summarize
      reduce:
        - member: combine
`
	e, err := ParseEnsemble([]byte(doc))
	require.NoError(t, err)
	mr := e.Flow[0].MapReduce
	require.NotNil(t, mr)
	assert.Equal(t, "${input.docs}", mr.Items)
	assert.Len(t, mr.Map, 1)
	assert.Len(t, mr.Reduce, 1)
}

func TestParseFlowElementUnknownShapeErrors(t *testing.T) {
	doc := `
name: x
flow:
  - bogus: true
`
	_, err := ParseEnsemble([]byte(doc))
	require.Error(t, err)
}

func TestAutoGeneratedIDsRecurseIntoBlocks(t *testing.T) {
	doc := `
name: x
flow:
  - parallel:
      steps:
        - member: a
        - member: a
`
	e, err := ParseEnsemble([]byte(doc))
	require.NoError(t, err)
	steps := e.Flow[0].Parallel.Steps
	assert.Equal(t, "a_1", steps[0].Step.ID)
	assert.Equal(t, "a_2", steps[1].Step.ID)
}
