// Package yamlspec captures a workflow's steps and edges as a single YAML
// document, so a DAG built through the Control API can be exported,
// checked into a repo, and replayed on another machine. Grounded on the
// original implementation's spec_parser.rs frontmatter-capture idiom,
// repurposed here for workflow definitions rather than markdown tickets —
// a workflow has no prose body, so the document is pure YAML with no
// frontmatter delimiters.
package yamlspec

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/kdlbs/agentsupervisor/internal/domain"
)

// Document is the on-disk shape of an exported workflow.
type Document struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description,omitempty"`
	Steps       []StepSpec   `yaml:"steps"`
	Edges       []EdgeSpec   `yaml:"edges,omitempty"`
}

// StepSpec is one step's portable definition. IDs are references local to
// the document, used only by EdgeSpec: Export writes the repository ids,
// a hand-written document may use any short names, and Import mints fresh
// step ids on load either way.
type StepSpec struct {
	ID          string  `yaml:"id"`
	AgentName   string  `yaml:"agent"`
	Model       string  `yaml:"model"`
	Prompt      string  `yaml:"prompt"`
	SpecPath    string  `yaml:"spec_path,omitempty"`
	PassContext bool    `yaml:"pass_context,omitempty"`
	PositionX   float64 `yaml:"x,omitempty"`
	PositionY   float64 `yaml:"y,omitempty"`
}

// EdgeSpec references two StepSpec.ID values within the same document.
type EdgeSpec struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Export renders a workflow's steps and edges as a YAML document. Step
// ids in the document are the repository ids directly; Import does not
// reuse them, so each import of the same document creates a new workflow.
func Export(wf domain.Workflow, steps []domain.WorkflowStep, edges []domain.WorkflowEdge) (string, error) {
	doc := Document{
		Name:        wf.Name,
		Description: wf.Description,
	}
	for _, s := range steps {
		doc.Steps = append(doc.Steps, StepSpec{
			ID:          s.ID,
			AgentName:   s.AgentName,
			Model:       s.Model,
			Prompt:      s.Prompt,
			SpecPath:    s.SpecPath,
			PassContext: s.PassContext,
			PositionX:   s.PositionX,
			PositionY:   s.PositionY,
		})
	}
	for _, e := range edges {
		doc.Edges = append(doc.Edges, EdgeSpec{From: e.SourceStepID, To: e.TargetStepID})
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal workflow document: %w", err)
	}
	return string(out), nil
}

// NewIDFunc mints a fresh id for an imported entity (workflow, step, or
// edge). Callers pass in their own id generator (e.g. uuid.NewString) so
// this package stays free of side effects.
type NewIDFunc func() string

// Import parses a YAML document into a fresh Workflow plus its steps and
// edges, assigning new repository ids via newID. Step references in Edges
// that don't match any StepSpec.ID are rejected.
func Import(content string, newID NewIDFunc) (domain.Workflow, []domain.WorkflowStep, []domain.WorkflowEdge, error) {
	var doc Document
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return domain.Workflow{}, nil, nil, fmt.Errorf("parse workflow document: %w", err)
	}
	if len(doc.Steps) == 0 {
		return domain.Workflow{}, nil, nil, fmt.Errorf("workflow document has no steps")
	}

	workflowID := newID()
	wf := domain.Workflow{
		ID:          workflowID,
		Name:        doc.Name,
		Description: doc.Description,
		Status:      domain.WorkflowDraft,
	}

	idMap := make(map[string]string, len(doc.Steps))
	steps := make([]domain.WorkflowStep, 0, len(doc.Steps))
	for _, s := range doc.Steps {
		stepID := newID()
		idMap[s.ID] = stepID
		steps = append(steps, domain.WorkflowStep{
			ID:          stepID,
			WorkflowID:  workflowID,
			AgentName:   s.AgentName,
			Model:       s.Model,
			Prompt:      s.Prompt,
			SpecPath:    s.SpecPath,
			Status:      domain.StepPending,
			PassContext: s.PassContext,
			PositionX:   s.PositionX,
			PositionY:   s.PositionY,
		})
	}

	edges := make([]domain.WorkflowEdge, 0, len(doc.Edges))
	for _, e := range doc.Edges {
		source, ok := idMap[e.From]
		if !ok {
			return domain.Workflow{}, nil, nil, fmt.Errorf("edge references unknown step %q", e.From)
		}
		target, ok := idMap[e.To]
		if !ok {
			return domain.Workflow{}, nil, nil, fmt.Errorf("edge references unknown step %q", e.To)
		}
		edges = append(edges, domain.WorkflowEdge{
			ID:           newID(),
			WorkflowID:   workflowID,
			SourceStepID: source,
			TargetStepID: target,
		})
	}

	return wf, steps, edges, nil
}
