package yamlspec

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdlbs/agentsupervisor/internal/domain"
)

func sequentialIDs(prefix string) NewIDFunc {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	wf := domain.Workflow{ID: "wf-1", Name: "release", Description: "cut a release"}
	steps := []domain.WorkflowStep{
		{ID: "step-1", WorkflowID: "wf-1", AgentName: "writer", Model: "sonnet", Prompt: "draft notes"},
		{ID: "step-2", WorkflowID: "wf-1", AgentName: "reviewer", Model: "opus", Prompt: "review notes", PassContext: true},
	}
	edges := []domain.WorkflowEdge{
		{ID: "edge-1", WorkflowID: "wf-1", SourceStepID: "step-1", TargetStepID: "step-2"},
	}

	doc, err := Export(wf, steps, edges)
	require.NoError(t, err)
	assert.Contains(t, doc, "name: release")
	assert.Contains(t, doc, "draft notes")

	gotWf, gotSteps, gotEdges, err := Import(doc, sequentialIDs("id"))
	require.NoError(t, err)

	assert.Equal(t, "release", gotWf.Name)
	assert.Equal(t, domain.WorkflowDraft, gotWf.Status)
	require.Len(t, gotSteps, 2)
	require.Len(t, gotEdges, 1)

	assert.Equal(t, gotWf.ID, gotSteps[0].WorkflowID)
	assert.Equal(t, gotSteps[0].ID, gotEdges[0].SourceStepID)
	assert.Equal(t, gotSteps[1].ID, gotEdges[0].TargetStepID)
	assert.True(t, gotSteps[1].PassContext)
	assert.False(t, gotSteps[0].PassContext)
}

func TestImport_MintsFreshIDsNotDocumentIDs(t *testing.T) {
	doc := `
name: pipeline
steps:
  - id: a
    agent: writer
    model: sonnet
    prompt: go
  - id: b
    agent: reviewer
    model: opus
    prompt: check
edges:
  - from: a
    to: b
`
	wf, steps, edges, err := Import(doc, sequentialIDs("new"))
	require.NoError(t, err)
	assert.NotEqual(t, "a", steps[0].ID)
	assert.NotEqual(t, "b", steps[1].ID)
	assert.Equal(t, wf.ID, steps[0].WorkflowID)
	assert.Equal(t, steps[0].ID, edges[0].SourceStepID)
}

func TestImport_RejectsUnknownEdgeReference(t *testing.T) {
	doc := `
name: broken
steps:
  - id: a
    agent: writer
    model: sonnet
    prompt: go
edges:
  - from: a
    to: missing
`
	_, _, _, err := Import(doc, sequentialIDs("id"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestImport_RejectsEmptyStepList(t *testing.T) {
	doc := `
name: empty
steps: []
`
	_, _, _, err := Import(doc, sequentialIDs("id"))
	require.Error(t, err)
}

func TestImport_RejectsMalformedYAML(t *testing.T) {
	_, _, _, err := Import("not: valid: yaml: at: all: [", sequentialIDs("id"))
	require.Error(t, err)
}
