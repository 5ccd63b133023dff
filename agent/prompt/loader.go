package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/planner.txt
	plannerRaw string

	//go:embed template/sql_agent.txt
	sqlAgentRaw string

	//go:embed template/rest_agent.txt
	restAgentRaw string

	//go:embed template/soap_agent.txt
	soapAgentRaw string

	//go:embed template/consolidator.txt
	consolidatorRaw string
)

// PromptSet holds loaded prompt content for every node that talks to an
// LLM: the Execution Planner, the three Specialized Agents, and the
// Consolidator.
type PromptSet struct {
	Planner      string
	SQLAgent     string
	RESTAgent    string
	SOAPAgent    string
	Consolidator string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings. This is
// safe to call concurrently; the embed is compile-time, and trimming is
// cheap.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Planner:      strings.TrimSpace(plannerRaw),
		SQLAgent:     strings.TrimSpace(sqlAgentRaw),
		RESTAgent:    strings.TrimSpace(restAgentRaw),
		SOAPAgent:    strings.TrimSpace(soapAgentRaw),
		Consolidator: strings.TrimSpace(consolidatorRaw),
	}
}
