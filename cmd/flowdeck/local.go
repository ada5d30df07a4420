package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dantwoashim/flowdeck/types"
	"github.com/dantwoashim/flowdeck/workflow"
)

// simulationExecutor is the built-in step executor: it produces
// plausible outputs per step kind without calling external services.
// Real connector integrations replace it through the engine's
// StepExecutor seam.
type simulationExecutor struct{}

func newSimulationExecutor() workflow.StepExecutor { return simulationExecutor{} }

func (simulationExecutor) Execute(ctx context.Context, userID string, wf *types.Workflow, step types.Step, previousResults []types.StepResult) (types.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return types.StepResult{}, err
	}
	result := types.StepResult{
		Status:  types.StepCompleted,
		Summary: fmt.Sprintf("simulated %s step %q", step.Kind, step.Title),
		Output:  types.StepOutput{Kind: step.Kind},
	}
	switch step.Kind {
	case types.StepKindConnector:
		result.Output.Connector = &types.ConnectorOutput{
			ConnectorID: workflow.ConnectorIDOf(step.Action),
			Action:      step.Action,
			Data:        map[string]any{"simulated": true, "items": []any{}},
		}
	case types.StepKindTransform:
		result.Output.Transform = &types.TransformOutput{
			Data: map[string]any{"input": step.InputTemplate, "rows": 0},
		}
	case types.StepKindArtifact:
		result.Output.Artifact = &types.ArtifactOutput{
			Title: step.Title,
			Text:  fmt.Sprintf("Generated by step %s for user %s.", step.ID, userID),
		}
	case types.StepKindCheckpoint:
		result.Status = types.StepCheckpointRequired
		result.Summary = fmt.Sprintf("checkpoint %q awaiting review", step.Title)
		result.Output.Checkpoint = &types.CheckpointOutput{Reason: step.Description}
	}
	return result, nil
}

// heuristicPlanner builds a minimal linear plan from a prompt: one
// transform step per comma- or "then"-separated clause, with a closing
// artifact step. It exists so the binary can create workflows without an
// LLM; richer planners plug in through the Planner seam.
type heuristicPlanner struct{}

func newHeuristicPlanner() workflow.Planner { return heuristicPlanner{} }

func (heuristicPlanner) Plan(ctx context.Context, userID, prompt string) (*types.Workflow, error) {
	clauses := splitClauses(prompt)
	if len(clauses) == 0 {
		return nil, fmt.Errorf("prompt %q has no plannable clauses", firstLine(prompt, 40))
	}
	wf := &types.Workflow{
		Name:   firstLine(prompt, 60),
		Prompt: prompt,
	}
	for i, clause := range clauses {
		wf.Steps = append(wf.Steps, types.Step{
			ID:            fmt.Sprintf("step-%d", i+1),
			Title:         clause,
			Kind:          types.StepKindTransform,
			Action:        "transform.apply",
			InputTemplate: clause,
		})
	}
	wf.Steps = append(wf.Steps, types.Step{
		ID:     fmt.Sprintf("step-%d", len(clauses)+1),
		Title:  "Summarize results",
		Kind:   types.StepKindArtifact,
		Action: "artifact.write",
	})
	return wf, nil
}

func splitClauses(prompt string) []string {
	normalized := strings.ReplaceAll(strings.ToLower(prompt), " then ", ",")
	var out []string
	for _, part := range strings.Split(normalized, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstLine(s string, limit int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if len(s) > limit {
		s = s[:limit]
	}
	return s
}
