package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/arclight-systems/queryflow/agent/consolidator"
	contractx "github.com/arclight-systems/queryflow/agent/contract"
	"github.com/arclight-systems/queryflow/agent/router"
	statex "github.com/arclight-systems/queryflow/agent/state"
	"github.com/arclight-systems/queryflow/agent/supervisor"
)

type fakePlanner struct{ plan contractx.Plan }

func (f fakePlanner) Plan(ctx context.Context, query string, callerContext map[string]any, catalogue []contractx.ToolDescriptor) (contractx.Plan, error) {
	return f.plan, nil
}

type fixedAgent struct {
	result contractx.AgentResult
	delay  time.Duration
}

func (a fixedAgent) Execute(ctx context.Context, step contractx.Step, snapshot statex.AgentState) contractx.AgentResult {
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
		}
	}
	r := a.result
	r.StepNumber = step.StepNumber
	r.AgentType = step.AgentType
	return r
}

func drain(events <-chan Event) []Event {
	var out []Event
	for e := range events {
		out = append(out, e)
	}
	return out
}

// TestDriverSingleSourceRead is scenario S1.
func TestDriverSingleSourceRead(t *testing.T) {
	t.Parallel()

	plan := contractx.Plan{
		Steps:                 []contractx.Step{{StepNumber: 1, AgentType: contractx.AgentTypeREST}},
		RequiresConsolidation: false,
	}
	sup := supervisor.New(fakePlanner{plan: plan})
	rt := router.New(router.UnknownNodeEnd)
	con := consolidator.New(nil, consolidator.Config{})
	agents := map[contractx.AgentType]Agent{
		contractx.AgentTypeREST: fixedAgent{result: contractx.AgentResult{
			ToolName: "list_alerts", OK: true,
			Rows: []map[string]any{{"alert_id": "A1"}, {"alert_id": "A2"}},
		}},
	}
	driver := New(sup, rt, con, agents, nil, Config{})

	st := statex.NewState("Show me all open alerts", nil)
	events := drain(driver.Run(context.Background(), st))

	if len(events) == 0 {
		t.Fatal("expected at least one event")
	}
	last := events[len(events)-1]
	if last.Node != contractx.NodeEnd {
		t.Fatalf("last event node = %v, want END", last.Node)
	}
	if last.State.FinalResponse == nil {
		t.Fatal("FinalResponse is nil")
	}
}

// TestDriverPartialFailureStillCompletes is scenario S3.
func TestDriverPartialFailureStillCompletes(t *testing.T) {
	t.Parallel()

	plan := contractx.Plan{
		Steps: []contractx.Step{
			{StepNumber: 1, AgentType: contractx.AgentTypeREST},
			{StepNumber: 2, AgentType: contractx.AgentTypeSQL},
		},
		RequiresConsolidation: true,
	}
	sup := supervisor.New(fakePlanner{plan: plan})
	rt := router.New(router.UnknownNodeEnd)
	con := consolidator.New(nil, consolidator.Config{})
	upstream := contractx.ErrKindUpstreamError
	agents := map[contractx.AgentType]Agent{
		contractx.AgentTypeREST: fixedAgent{result: contractx.AgentResult{
			ToolName: "list_users", OK: true, Rows: []map[string]any{{"user_id": "U7"}},
		}},
		contractx.AgentTypeSQL: fixedAgent{result: contractx.AgentResult{
			ToolName: "alerts_by_user", OK: false, Error: &upstream,
		}},
	}
	driver := New(sup, rt, con, agents, nil, Config{})

	st := statex.NewState("alerts for engineering users", nil)
	events := drain(driver.Run(context.Background(), st))

	last := events[len(events)-1]
	if last.Node != contractx.NodeEnd {
		t.Fatalf("last event node = %v, want END", last.Node)
	}
	if last.State.FinalResponse == nil {
		t.Fatal("expected stream_complete-equivalent final response despite partial failure")
	}
	if len(last.State.Errors) == 0 {
		t.Fatal("expected state.errors to carry the step-2 failure")
	}
}

// TestDriverNodeTimeoutProducesTimeoutResult is scenario S4.
func TestDriverNodeTimeoutProducesTimeoutResult(t *testing.T) {
	t.Parallel()

	plan := contractx.Plan{
		Steps:                 []contractx.Step{{StepNumber: 1, AgentType: contractx.AgentTypeREST}},
		RequiresConsolidation: false,
	}
	sup := supervisor.New(fakePlanner{plan: plan})
	rt := router.New(router.UnknownNodeEnd)
	con := consolidator.New(nil, consolidator.Config{})
	agents := map[contractx.AgentType]Agent{
		contractx.AgentTypeREST: fixedAgent{delay: 500 * time.Millisecond, result: contractx.AgentResult{OK: true}},
	}
	driver := New(sup, rt, con, agents, nil, Config{NodeTimeout: 50 * time.Millisecond})

	start := time.Now()
	st := statex.NewState("q", nil)
	events := drain(driver.Run(context.Background(), st))
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Fatalf("run took %v, expected to complete promptly after node timeout", elapsed)
	}
	last := events[len(events)-1]
	if last.Node != contractx.NodeEnd {
		t.Fatalf("last event node = %v, want END", last.Node)
	}
	foundTimeout := false
	for _, e := range last.State.Errors {
		if e.Kind == contractx.ErrKindTimeout {
			foundTimeout = true
		}
	}
	if !foundTimeout {
		t.Fatal("expected a TIMEOUT error to be recorded")
	}

	if len(last.State.RESTResults) != 1 {
		t.Fatalf("RESTResults = %#v, want exactly 1 appended result", last.State.RESTResults)
	}
	got := last.State.RESTResults[0]
	if got.OK {
		t.Fatal("timed-out step's AgentResult.OK = true, want false")
	}
	if got.Error == nil || *got.Error != contractx.ErrKindTimeout {
		t.Fatalf("timed-out step's AgentResult.Error = %v, want TIMEOUT", got.Error)
	}
}

// TestDriverMaxIterationsTerminates is invariant 12.
func TestDriverMaxIterationsTerminates(t *testing.T) {
	t.Parallel()

	// Two steps require two Supervisor visits to complete normally; capping
	// MaxIterations at 1 forces the driver to cut the run short.
	plan := contractx.Plan{
		Steps: []contractx.Step{
			{StepNumber: 1, AgentType: contractx.AgentTypeREST},
			{StepNumber: 2, AgentType: contractx.AgentTypeREST},
		},
		RequiresConsolidation: false,
	}
	sup := supervisor.New(fakePlanner{plan: plan})
	rt := router.New(router.UnknownNodeEnd)
	con := consolidator.New(nil, consolidator.Config{})
	agents := map[contractx.AgentType]Agent{
		contractx.AgentTypeREST: fixedAgent{result: contractx.AgentResult{OK: true, ToolName: "list_alerts"}},
	}
	driver := New(sup, rt, con, agents, nil, Config{MaxIterations: 1})

	st := statex.NewState("q", nil)
	events := drain(driver.Run(context.Background(), st))

	last := events[len(events)-1]
	if last.Node != contractx.NodeEnd {
		t.Fatalf("last event node = %v, want END", last.Node)
	}
	if last.State.FinalResponse == nil {
		t.Fatal("expected the driver to still produce a final response after hitting max iterations")
	}
}

// TestDriverCancellationClosesEventStreamPromptly covers the driver half
// of scenario S5: a cancelled context unwinds the run instead of hanging
// for the agent's full delay. The client-visible "no frames after
// disconnect" guarantee is enforced by the transport layer, which stops
// forwarding once it observes the same cancellation.
func TestDriverCancellationClosesEventStreamPromptly(t *testing.T) {
	t.Parallel()

	plan := contractx.Plan{
		Steps:                 []contractx.Step{{StepNumber: 1, AgentType: contractx.AgentTypeREST}},
		RequiresConsolidation: false,
	}
	sup := supervisor.New(fakePlanner{plan: plan})
	rt := router.New(router.UnknownNodeEnd)
	con := consolidator.New(nil, consolidator.Config{})
	agents := map[contractx.AgentType]Agent{
		contractx.AgentTypeREST: fixedAgent{delay: 2 * time.Second, result: contractx.AgentResult{OK: true}},
	}
	driver := New(sup, rt, con, agents, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	st := statex.NewState("q", nil)
	events := driver.Run(ctx, st)

	time.Sleep(20 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		for range events {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event stream did not close promptly after cancellation")
	}
}
