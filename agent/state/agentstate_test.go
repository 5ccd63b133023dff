package state

import (
	"testing"

	contractx "github.com/arclight-systems/queryflow/agent/contract"
)

func TestAgentStateAppendResultPrefixInvariant(t *testing.T) {
	t.Parallel()

	s := NewState("show alerts", nil)
	before := s.Snapshot()

	s.AppendResult(contractx.AgentResult{StepNumber: 1, AgentType: contractx.AgentTypeREST, OK: true})

	if len(before.RESTResults) != 0 {
		t.Fatalf("snapshot taken before append should be unaffected, got %d", len(before.RESTResults))
	}
	if len(s.RESTResults) != 1 {
		t.Fatalf("RESTResults = %d, want 1", len(s.RESTResults))
	}

	s.AppendResult(contractx.AgentResult{StepNumber: 2, AgentType: contractx.AgentTypeREST, OK: true})
	if s.RESTResults[0].StepNumber != 1 {
		t.Fatalf("prior entries must not be reordered: %#v", s.RESTResults)
	}
}

func TestAgentStateAdvanceIsMonotone(t *testing.T) {
	t.Parallel()

	s := NewState("q", nil)
	s.SetPlan(&contractx.Plan{Steps: []contractx.Step{{StepNumber: 1}, {StepNumber: 2}}})

	if s.CurrentStepIndex != 0 {
		t.Fatalf("CurrentStepIndex = %d, want 0", s.CurrentStepIndex)
	}
	s.Advance()
	s.Advance()
	if s.CurrentStepIndex != 2 {
		t.Fatalf("CurrentStepIndex = %d, want 2", s.CurrentStepIndex)
	}
	if _, ok := s.CurrentStep(); ok {
		t.Fatal("CurrentStep() should report exhausted plan")
	}
}

func TestAgentStateStepSucceeded(t *testing.T) {
	t.Parallel()

	s := NewState("q", nil)
	s.AppendResult(contractx.AgentResult{StepNumber: 1, AgentType: contractx.AgentTypeSQL, OK: false})
	if s.StepSucceeded(1) {
		t.Fatal("StepSucceeded(1) should be false when the only result failed")
	}
	s.AppendResult(contractx.AgentResult{StepNumber: 1, AgentType: contractx.AgentTypeSQL, OK: true})
	if !s.StepSucceeded(1) {
		t.Fatal("StepSucceeded(1) should be true once a successful result is appended")
	}
}

func TestAgentStateSetFinalStopsRun(t *testing.T) {
	t.Parallel()

	s := NewState("q", nil)
	s.SetFinal("done")
	if s.ShouldContinue {
		t.Fatal("SetFinal should set ShouldContinue = false")
	}
	if s.FinalResponse == nil || *s.FinalResponse != "done" {
		t.Fatalf("FinalResponse = %v, want done", s.FinalResponse)
	}
}

func TestAgentStateSetStepStatusUnknownStep(t *testing.T) {
	t.Parallel()

	s := NewState("q", nil)
	s.SetPlan(&contractx.Plan{Steps: []contractx.Step{{StepNumber: 1}}})
	if err := s.SetStepStatus(99, contractx.StepDone); err == nil {
		t.Fatal("SetStepStatus for unknown step should error")
	}
}
