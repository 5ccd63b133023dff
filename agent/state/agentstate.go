// Package state holds the per-run AgentState and the per-conversation
// SessionState, plus their persistence adapters.
package state

import (
	"errors"
	"fmt"
	"time"

	contractx "github.com/arclight-systems/queryflow/agent/contract"
)

var (
	ErrNilState       = errors.New("agent state is nil")
	ErrNoPlan         = errors.New("agent state has no plan")
	ErrStepOutOfRange = errors.New("current step index out of range")
)

// AgentState is created once per run and mutated only through the helpers
// below. It MUST NOT be mutated concurrently; the Workflow Driver keeps all
// mutation on the single goroutine that owns the run and only ever hands
// other goroutines (agents, tools) read-only snapshots (see Snapshot).
type AgentState struct {
	Query            string                       `json:"query"`
	Context          map[string]any               `json:"context,omitempty"`
	Plan             *contractx.Plan              `json:"plan,omitempty"`
	CurrentStepIndex int                          `json:"current_step_index"`
	SQLResults       []contractx.AgentResult      `json:"sql_results,omitempty"`
	RESTResults      []contractx.AgentResult      `json:"rest_results,omitempty"`
	SOAPResults      []contractx.AgentResult      `json:"soap_results,omitempty"`
	NextAgent        contractx.NextAgent          `json:"next_agent,omitempty"`
	ShouldContinue   bool                         `json:"should_continue"`
	FinalResponse    *string                      `json:"final_response,omitempty"`
	Errors           []contractx.RunError         `json:"errors,omitempty"`
	GeneratedFilter  *contractx.FilterSpec        `json:"generated_filter,omitempty"`
	Visualization    *contractx.VisualizationSpec `json:"visualization,omitempty"`

	iterations int
}

// NewState creates a fresh AgentState for one run.
func NewState(query string, context map[string]any) *AgentState {
	return &AgentState{
		Query:          query,
		Context:        context,
		ShouldContinue: true,
	}
}

func (s *AgentState) SetPlan(p *contractx.Plan) {
	s.Plan = p
	s.CurrentStepIndex = 0
}

// CurrentStep returns the step at CurrentStepIndex, or false if the plan is
// nil or exhausted.
func (s *AgentState) CurrentStep() (contractx.Step, bool) {
	if s.Plan == nil || s.CurrentStepIndex >= len(s.Plan.Steps) {
		return contractx.Step{}, false
	}
	return s.Plan.Steps[s.CurrentStepIndex], true
}

// Advance moves the step cursor forward. It is monotone non-decreasing by
// construction: it only ever increments.
func (s *AgentState) Advance() {
	s.CurrentStepIndex++
}

// SetStepStatus mutates Steps[i].Status, the one mutable field of an
// otherwise-immutable Plan.
func (s *AgentState) SetStepStatus(stepNumber int, status contractx.StepStatus) error {
	if s.Plan == nil {
		return ErrNoPlan
	}
	for i := range s.Plan.Steps {
		if s.Plan.Steps[i].StepNumber == stepNumber {
			s.Plan.Steps[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("step %d not found in plan", stepNumber)
}

// AppendResult appends an AgentResult to the sequence matching its
// AgentType. Sequences only ever grow by append, never by mutation in
// place, preserving the prefix invariant across snapshots.
func (s *AgentState) AppendResult(r contractx.AgentResult) {
	switch r.AgentType {
	case contractx.AgentTypeSQL:
		s.SQLResults = append(s.SQLResults, r)
	case contractx.AgentTypeREST:
		s.RESTResults = append(s.RESTResults, r)
	case contractx.AgentTypeSOAP:
		s.SOAPResults = append(s.SOAPResults, r)
	}
}

// ResultsFor returns the append-only sequence for one AgentType.
func (s *AgentState) ResultsFor(t contractx.AgentType) []contractx.AgentResult {
	switch t {
	case contractx.AgentTypeSQL:
		return s.SQLResults
	case contractx.AgentTypeREST:
		return s.RESTResults
	case contractx.AgentTypeSOAP:
		return s.SOAPResults
	default:
		return nil
	}
}

// AllResults returns SQL, REST, and SOAP results concatenated, in that
// fixed order, for components (the Consolidator) that don't care which
// sequence a result came from.
func (s *AgentState) AllResults() []contractx.AgentResult {
	out := make([]contractx.AgentResult, 0, len(s.SQLResults)+len(s.RESTResults)+len(s.SOAPResults))
	out = append(out, s.SQLResults...)
	out = append(out, s.RESTResults...)
	out = append(out, s.SOAPResults...)
	return out
}

// StepSucceeded reports whether stepNumber appears with ok=true in any
// result sequence, used by the Supervisor to check depends_on.
func (s *AgentState) StepSucceeded(stepNumber int) bool {
	for _, r := range s.AllResults() {
		if r.StepNumber == stepNumber && r.OK {
			return true
		}
	}
	return false
}

func (s *AgentState) SetFinal(text string) {
	s.FinalResponse = &text
	s.ShouldContinue = false
}

func (s *AgentState) RecordError(stepNumber int, kind contractx.ErrorKind, message string) {
	s.Errors = append(s.Errors, contractx.RunError{
		StepNumber: stepNumber,
		Kind:       kind,
		Message:    message,
		At:         time.Now().UTC(),
	})
}

// Stop ends the run without a final response being guaranteed; callers that
// want invariant 1 (non-empty final_response on stream_complete) to hold
// must call SetFinal before terminating the router loop.
func (s *AgentState) Stop() { s.ShouldContinue = false }

// Iterations returns how many times the Supervisor has been visited. The
// Workflow Driver increments it via TickIteration and enforces
// workflow.max_iterations.
func (s *AgentState) Iterations() int { return s.iterations }

func (s *AgentState) TickIteration() int {
	s.iterations++
	return s.iterations
}

// Snapshot returns a shallow copy safe to hand to a concurrently-reading
// agent: slices are re-sliced (not deep-copied) since AgentResult values
// are themselves immutable once appended, and Plan is never mutated except
// for Status, which agents only read.
func (s *AgentState) Snapshot() AgentState {
	cp := *s
	cp.SQLResults = append([]contractx.AgentResult(nil), s.SQLResults...)
	cp.RESTResults = append([]contractx.AgentResult(nil), s.RESTResults...)
	cp.SOAPResults = append([]contractx.AgentResult(nil), s.SOAPResults...)
	cp.Errors = append([]contractx.RunError(nil), s.Errors...)
	return cp
}
