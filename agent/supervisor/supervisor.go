// Package supervisor implements the Supervisor Node: it owns plan
// creation on first visit, checks the current step's dependencies, and
// sets the routing hint the Router reads.
package supervisor

import (
	"context"

	contractx "github.com/arclight-systems/queryflow/agent/contract"
	statex "github.com/arclight-systems/queryflow/agent/state"
)

// Supervisor is invoked once per visit of the workflow loop to SUPERVISOR.
type Supervisor struct {
	planner contractx.Planner
}

func New(planner contractx.Planner) *Supervisor {
	return &Supervisor{planner: planner}
}

// Visit implements one Supervisor entry. st.Context and catalogue are
// only used when a plan still needs to be created.
func (s *Supervisor) Visit(ctx context.Context, st *statex.AgentState, catalogue []contractx.ToolDescriptor) error {
	if st.Plan == nil {
		plan, err := s.planner.Plan(ctx, st.Query, st.Context, catalogue)
		if err != nil {
			st.RecordError(0, contractx.ErrKindPlan, err.Error())
			st.Stop()
			st.NextAgent = contractx.NextAgentEnd
			return nil
		}
		st.SetPlan(&plan)
	}

	if len(st.Plan.Steps) == 0 {
		st.RecordError(0, contractx.ErrKindInternal, "EMPTY_PLAN")
		st.NextAgent = contractx.NextAgentEnd
		st.Stop()
		return nil
	}

	// Skip forward past any step whose dependencies are unmet, recording
	// DEPENDENCY_UNMET for each, until a runnable step is found or the
	// plan is exhausted. This keeps the skip logic inside one Supervisor
	// visit rather than bouncing back and forth through the Router for
	// every dependency failure.
	for {
		if st.CurrentStepIndex >= len(st.Plan.Steps) {
			st.NextAgent = contractx.NextAgentConsolidate
			st.ShouldContinue = true
			return nil
		}

		step, ok := st.CurrentStep()
		if !ok {
			st.NextAgent = contractx.NextAgentConsolidate
			st.ShouldContinue = true
			return nil
		}

		unmet := false
		for _, dep := range step.DependsOn {
			if !st.StepSucceeded(dep) {
				unmet = true
				break
			}
		}
		if !unmet {
			st.NextAgent = contractx.NextAgentFromAgentType(step.AgentType)
			st.ShouldContinue = true
			return nil
		}

		_ = st.SetStepStatus(step.StepNumber, contractx.StepFailed)
		st.RecordError(step.StepNumber, contractx.ErrKindDependencyUnmet, "depends_on step did not succeed")
		st.Advance()
	}
}
