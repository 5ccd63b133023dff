// Package workflow implements the Workflow Driver: it wires the
// Supervisor, Router, Specialized Agents, and Consolidator into a single
// run, with per-node timeouts, an iteration cap, and an overall deadline.
//
// Unlike an eino compose.Graph (a DAG compiled once at startup), the
// driver here is a plain Go loop: the Supervisor must be revisited
// repeatedly until the plan is exhausted, which an acyclic graph cannot
// express directly.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	contractx "github.com/arclight-systems/queryflow/agent/contract"
	statex "github.com/arclight-systems/queryflow/agent/state"
)

const (
	defaultNodeTimeout     = 60 * time.Second
	defaultOverallDeadline = 300 * time.Second
	defaultMaxIterations   = 10
)

// Agent is the common Specialized Agent contract: bind a Step to a
// tool and return exactly one AgentResult, never panicking.
type Agent interface {
	Execute(ctx context.Context, step contractx.Step, snapshot statex.AgentState) contractx.AgentResult
}

// Supervisor is the Supervisor Node contract.
type Supervisor interface {
	Visit(ctx context.Context, st *statex.AgentState, catalogue []contractx.ToolDescriptor) error
}

// Router is the Router contract.
type Router interface {
	Route(from contractx.NodeName, st *statex.AgentState) contractx.NodeName
}

// Consolidator is the Consolidator Node contract.
type Consolidator interface {
	Run(ctx context.Context, st *statex.AgentState) error
}

// Config holds the workflow.* configuration options.
type Config struct {
	NodeTimeout     time.Duration
	OverallDeadline time.Duration
	MaxIterations   int
}

func (c Config) withDefaults() Config {
	if c.NodeTimeout <= 0 {
		c.NodeTimeout = defaultNodeTimeout
	}
	if c.OverallDeadline <= 0 {
		c.OverallDeadline = defaultOverallDeadline
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	return c
}

// Event is one node execution's outcome, emitted in production order.
// The final event of a run that is not cancelled carries Node ==
// contract.NodeEnd and a State with a non-nil FinalResponse; a cancelled
// run's stream closes without an END event.
type Event struct {
	Node  contractx.NodeName
	State statex.AgentState
}

// Driver compiles the node set into one runnable workflow.
type Driver struct {
	supervisor   Supervisor
	router       Router
	consolidator Consolidator
	agents       map[contractx.AgentType]Agent
	catalogue    []contractx.ToolDescriptor
	cfg          Config
}

func New(supervisor Supervisor, router Router, consolidator Consolidator, agents map[contractx.AgentType]Agent, catalogue []contractx.ToolDescriptor, cfg Config) *Driver {
	return &Driver{
		supervisor:   supervisor,
		router:       router,
		consolidator: consolidator,
		agents:       agents,
		catalogue:    catalogue,
		cfg:          cfg.withDefaults(),
	}
}

// Run executes one workflow run and returns a lazily-consumed event
// stream. The channel is closed once the run reaches END or is cancelled.
// On caller cancellation, no further events are emitted and the state is
// abandoned mid-run
func (d *Driver) Run(ctx context.Context, st *statex.AgentState) <-chan Event {
	events := make(chan Event, 8)
	go d.loop(ctx, st, events)
	return events
}

func (d *Driver) loop(ctx context.Context, st *statex.AgentState, events chan<- Event) {
	defer close(events)

	deadline := time.Now().Add(d.cfg.OverallDeadline)
	node := contractx.NodeSupervisor

	for {
		if ctx.Err() != nil {
			return
		}
		if time.Now().After(deadline) {
			st.RecordError(0, contractx.ErrKindDeadlineExceeded, "overall deadline exceeded")
			d.finishViaConsolidator(ctx, st, events)
			return
		}

		switch node {
		case contractx.NodeSupervisor:
			if st.TickIteration() > d.cfg.MaxIterations {
				st.RecordError(0, contractx.ErrKindInternal, "INCOMPLETE: max iterations exceeded")
				d.finishViaConsolidator(ctx, st, events)
				return
			}
			d.runNode(ctx, node, st, func(nodeCtx context.Context) error {
				return d.supervisor.Visit(nodeCtx, st, d.catalogue)
			})
			events <- Event{Node: node, State: st.Snapshot()}
			node = d.router.Route(contractx.NodeSupervisor, st)

		case contractx.NodeSQLAgent, contractx.NodeRESTAgent, contractx.NodeSOAPAgent:
			node = d.runAgentNode(ctx, node, st, events)

		case contractx.NodeConsolidator:
			d.runNode(ctx, node, st, func(nodeCtx context.Context) error {
				return d.consolidator.Run(nodeCtx, st)
			})
			events <- Event{Node: node, State: st.Snapshot()}
			node = contractx.NodeEnd

		case contractx.NodeEnd:
			if st.FinalResponse == nil {
				apology := "I ran into a problem completing this request."
				st.SetFinal(apology)
			}
			events <- Event{Node: contractx.NodeEnd, State: st.Snapshot()}
			return

		default:
			if st.FinalResponse == nil {
				st.SetFinal("I ran into a problem completing this request.")
			}
			events <- Event{Node: contractx.NodeEnd, State: st.Snapshot()}
			return
		}
	}
}

func (d *Driver) runAgentNode(ctx context.Context, node contractx.NodeName, st *statex.AgentState, events chan<- Event) contractx.NodeName {
	step, ok := st.CurrentStep()
	if !ok {
		events <- Event{Node: node, State: st.Snapshot()}
		return d.router.Route(node, st)
	}

	agentType := agentTypeForNode(node)
	agent := d.agents[agentType]

	_ = st.SetStepStatus(step.StepNumber, contractx.StepInFlight)

	result, err := runNodeWithResult(d, ctx, node, st, func(nodeCtx context.Context) (contractx.AgentResult, error) {
		if agent == nil {
			return contractx.AgentResult{
				StepNumber: step.StepNumber,
				AgentType:  agentType,
				OK:         false,
				Error:      errKindPtr(contractx.ErrKindToolNotFound),
			}, nil
		}
		return agent.Execute(nodeCtx, step, st.Snapshot()), nil
	})
	if err != nil {
		kind := classifyNodeError(err)
		result = contractx.AgentResult{StepNumber: step.StepNumber, AgentType: agentType, OK: false, Error: &kind}
	}

	st.AppendResult(result)
	if result.OK {
		_ = st.SetStepStatus(step.StepNumber, contractx.StepDone)
	} else {
		_ = st.SetStepStatus(step.StepNumber, contractx.StepFailed)
		if result.Error != nil {
			st.RecordError(step.StepNumber, *result.Error, "agent execution failed")
		}
	}
	st.Advance()
	st.ShouldContinue = true

	events <- Event{Node: node, State: st.Snapshot()}
	return d.router.Route(node, st)
}

func agentTypeForNode(node contractx.NodeName) contractx.AgentType {
	switch node {
	case contractx.NodeSQLAgent:
		return contractx.AgentTypeSQL
	case contractx.NodeRESTAgent:
		return contractx.AgentTypeREST
	case contractx.NodeSOAPAgent:
		return contractx.AgentTypeSOAP
	default:
		return ""
	}
}

func errKindPtr(k contractx.ErrorKind) *contractx.ErrorKind { return &k }

// nodeError carries the ErrorKind classification through the error
// runNodeWithResult returns, so a caller building an AgentResult (or any
// other per-node outcome) reports the actual failure kind instead of
// collapsing every node failure to INTERNAL.
type nodeError struct {
	kind contractx.ErrorKind
	msg  string
}

func (e *nodeError) Error() string { return e.msg }

// classifyNodeError recovers the ErrorKind a runNodeWithResult failure was
// recorded under, defaulting to INTERNAL for errors it didn't classify
// itself (e.g. a tool's own error, which is not a *nodeError).
func classifyNodeError(err error) contractx.ErrorKind {
	var ne *nodeError
	if errors.As(err, &ne) {
		return ne.kind
	}
	return contractx.ErrKindInternal
}

// runNode wraps one node body with the configured timeout and converts a
// panic inside it into an INTERNAL error rather than crashing the driver.
func (d *Driver) runNode(ctx context.Context, node contractx.NodeName, st *statex.AgentState, body func(context.Context) error) error {
	_, err := runNodeWithResult(d, ctx, node, st, func(nodeCtx context.Context) (struct{}, error) {
		return struct{}{}, body(nodeCtx)
	})
	return err
}

// nodeOutcome carries a body's typed result alongside its error over one
// channel send, so a timed-out caller that stops waiting never races with
// the still-running goroutine over a shared outer variable: the goroutine
// only ever writes its own stack-local outcome into the channel, and
// nothing reads it once runNodeWithResult has returned on the timeout path.
type nodeOutcome[T any] struct {
	value T
	err   error
}

// runNodeWithResult is runNode generalized over the node body's return
// value. It cannot be a method because Go methods may not declare their
// own type parameters; it takes *Driver explicitly instead.
func runNodeWithResult[T any](d *Driver, ctx context.Context, node contractx.NodeName, st *statex.AgentState, body func(context.Context) (T, error)) (T, error) {
	nodeCtx, cancel := context.WithTimeout(ctx, d.cfg.NodeTimeout)
	defer cancel()

	done := make(chan nodeOutcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- nodeOutcome[T]{value: zero, err: &nodeError{
					kind: contractx.ErrKindInternal,
					msg:  fmt.Sprintf("node %s panicked: %v", node, r),
				}}
			}
		}()
		v, err := body(nodeCtx)
		done <- nodeOutcome[T]{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			st.RecordError(0, classifyNodeError(out.err), out.err.Error())
		}
		return out.value, out.err
	case <-nodeCtx.Done():
		var zero T
		if nodeCtx.Err() == context.DeadlineExceeded {
			err := &nodeError{kind: contractx.ErrKindTimeout, msg: fmt.Sprintf("node %s timed out", node)}
			st.RecordError(0, err.kind, err.msg)
			return zero, err
		}
		err := &nodeError{kind: contractx.ErrKindCancelled, msg: nodeCtx.Err().Error()}
		st.RecordError(0, err.kind, err.msg)
		return zero, err
	}
}

func (d *Driver) finishViaConsolidator(ctx context.Context, st *statex.AgentState, events chan<- Event) {
	d.runNode(ctx, contractx.NodeConsolidator, st, func(nodeCtx context.Context) error {
		return d.consolidator.Run(nodeCtx, st)
	})
	if st.FinalResponse == nil {
		st.SetFinal("I ran into a problem completing this request in time.")
	}
	events <- Event{Node: contractx.NodeConsolidator, State: st.Snapshot()}
	events <- Event{Node: contractx.NodeEnd, State: st.Snapshot()}
}
