// Package router implements the Router: a pure, total function
// deciding the next workflow node from the current node and AgentState,
// mirroring the reference implementation's route_from_supervisor and
// route_from_agent.
package router

import (
	contractx "github.com/arclight-systems/queryflow/agent/contract"
	statex "github.com/arclight-systems/queryflow/agent/state"
)

// unknownNodePolicy controls what Route does with a next_agent value it
// doesn't recognize, per config option router.unknown_node_policy.
type UnknownNodePolicy string

const (
	UnknownNodeEnd   UnknownNodePolicy = "end"
	UnknownNodeError UnknownNodePolicy = "error"
)

// Router is stateless; Route never mutates its arguments.
type Router struct {
	unknownNodePolicy UnknownNodePolicy
}

func New(unknownNodePolicy UnknownNodePolicy) *Router {
	if unknownNodePolicy == "" {
		unknownNodePolicy = UnknownNodeEnd
	}
	return &Router{unknownNodePolicy: unknownNodePolicy}
}

// Route returns the next node given the node that just ran and the
// resulting AgentState. It is a pure total function: every (from, state)
// combination yields a NodeName, never an error or a panic.
func (r *Router) Route(from contractx.NodeName, st *statex.AgentState) contractx.NodeName {
	switch from {
	case contractx.NodeSupervisor:
		return r.routeFromSupervisor(st)
	case contractx.NodeConsolidator:
		return contractx.NodeEnd
	default:
		return r.routeFromAgent(st)
	}
}

func (r *Router) routeFromSupervisor(st *statex.AgentState) contractx.NodeName {
	switch st.NextAgent {
	case "":
		return contractx.NodeEnd
	case contractx.NextAgentConsolidate:
		return contractx.NodeConsolidator
	case contractx.NextAgentEnd:
		return contractx.NodeEnd
	case contractx.NextAgentFromAgentType(contractx.AgentTypeSQL):
		return contractx.NodeSQLAgent
	case contractx.NextAgentFromAgentType(contractx.AgentTypeREST):
		return contractx.NodeRESTAgent
	case contractx.NextAgentFromAgentType(contractx.AgentTypeSOAP):
		return contractx.NodeSOAPAgent
	default:
		if r.unknownNodePolicy == UnknownNodeError {
			return contractx.NodeName("ERROR")
		}
		return contractx.NodeEnd
	}
}

func (r *Router) routeFromAgent(st *statex.AgentState) contractx.NodeName {
	if st.Plan != nil && st.CurrentStepIndex >= len(st.Plan.Steps) {
		if st.Plan.RequiresConsolidation {
			return contractx.NodeConsolidator
		}
		return contractx.NodeEnd
	}

	if st.ShouldContinue {
		return contractx.NodeSupervisor
	}

	if st.Plan != nil && st.Plan.RequiresConsolidation {
		return contractx.NodeConsolidator
	}
	return contractx.NodeEnd
}
