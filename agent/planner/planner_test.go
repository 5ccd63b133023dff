package planner

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/arclight-systems/queryflow/agent/contract"
)

type fakeGateway struct {
	completion contractx.Completion
	err        error
}

func (f fakeGateway) Complete(ctx context.Context, messages []contractx.Message, tools []contractx.ToolDescriptor) (contractx.Completion, error) {
	if f.err != nil {
		return contractx.Completion{}, f.err
	}
	return f.completion, nil
}

var sampleCatalogue = []contractx.ToolDescriptor{
	{Name: "list_users", Description: "list users by department", DataSourceClass: contractx.DataSourceRESTAPI, Priority: 1},
	{Name: "alerts_by_user", Description: "query alerts by user id", DataSourceClass: contractx.DataSourceRelationalDB, Priority: 1},
}

func TestPlannerPlanRejectsEmptyCatalogue(t *testing.T) {
	t.Parallel()

	p := New(fakeGateway{}, "system prompt")
	_, err := p.Plan(context.Background(), "anything", nil, nil)

	var plannerErr *contractx.PlannerError
	if !errors.As(err, &plannerErr) || !errors.Is(plannerErr, contractx.ErrEmptyCatalogue) {
		t.Fatalf("Plan() error = %v, want PlannerError{EMPTY_CATALOGUE}", err)
	}
}

func TestPlannerPlanUsesLLMAnalysisWhenParseable(t *testing.T) {
	t.Parallel()

	gw := fakeGateway{completion: contractx.Completion{Text: `{
		"intent": "read",
		"required_sources": ["REST_API", "RELATIONAL_DB"],
		"requires_consolidation": true,
		"estimated_complexity": "med"
	}`}}

	p := New(gw, "system prompt")
	plan, err := p.Plan(context.Background(), "High severity alerts for Engineering users", nil, sampleCatalogue)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("Steps = %#v, want 2 steps", plan.Steps)
	}
	if !plan.RequiresConsolidation {
		t.Fatal("RequiresConsolidation = false, want true for a two-step plan")
	}
	if plan.Steps[1].AgentType != contractx.AgentTypeSQL {
		t.Fatalf("Steps[1].AgentType = %v, want SQL_AGENT", plan.Steps[1].AgentType)
	}
	if len(plan.Steps[1].DependsOn) != 1 || plan.Steps[1].DependsOn[0] != 1 {
		t.Fatalf("Steps[1].DependsOn = %v, want [1]", plan.Steps[1].DependsOn)
	}
}

func TestPlannerPlanFallsBackToHeuristicOnUnparseableResponse(t *testing.T) {
	t.Parallel()

	gw := fakeGateway{completion: contractx.Completion{Text: "not json at all"}}
	p := New(gw, "system prompt")

	plan, err := p.Plan(context.Background(), "Show me all open alerts", nil, sampleCatalogue)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(plan.Steps) == 0 {
		t.Fatal("expected heuristic fallback to produce at least one step")
	}
}

func TestPlannerPlanFallsBackToHeuristicWhenLLMUnavailable(t *testing.T) {
	t.Parallel()

	gw := fakeGateway{err: errors.New("provider down")}
	p := New(gw, "system prompt")

	plan, err := p.Plan(context.Background(), "Show me all open alerts", nil, sampleCatalogue)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(plan.Steps) == 0 {
		t.Fatal("expected heuristic fallback to produce at least one step")
	}
}

func TestPlannerPlanSingleSourceDoesNotRequireConsolidation(t *testing.T) {
	t.Parallel()

	gw := fakeGateway{completion: contractx.Completion{Text: `{
		"intent": "read",
		"required_sources": ["REST_API"],
		"requires_consolidation": false,
		"estimated_complexity": "low"
	}`}}

	p := New(gw, "system prompt")
	plan, err := p.Plan(context.Background(), "Show me all open alerts", nil, sampleCatalogue)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(plan.Steps) != 1 {
		t.Fatalf("Steps = %#v, want 1 step", plan.Steps)
	}
	if plan.RequiresConsolidation {
		t.Fatal("RequiresConsolidation = true, want false for single-step non-flagged plan")
	}
}

func TestValidateDAGRejectsForwardReference(t *testing.T) {
	t.Parallel()

	steps := []contractx.Step{
		{StepNumber: 1, DependsOn: []int{2}},
		{StepNumber: 2},
	}
	if err := validateDAG(steps); err == nil {
		t.Fatal("validateDAG() = nil, want error for forward reference")
	}
}

func TestHeuristicAnalysisDetectsEntityLookup(t *testing.T) {
	t.Parallel()

	a := heuristicAnalysis("find order ABC1234", sampleCatalogue)
	if a.Intent != "entity_lookup" {
		t.Fatalf("Intent = %q, want entity_lookup", a.Intent)
	}
}

func TestEnrichPatchOverwritesBaseKeys(t *testing.T) {
	t.Parallel()

	base := map[string]any{"a": 1, "b": 2}
	patch := map[string]any{"b": 3, "c": 4}
	out := Enrich(base, patch)

	if out["a"] != 1 || out["b"] != 3 || out["c"] != 4 {
		t.Fatalf("Enrich() = %#v, want a=1 b=3 c=4", out)
	}
}
