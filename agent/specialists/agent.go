// Package specialists implements the Specialized Agents: the
// common execute(step, state_snapshot) -> AgentResult contract shared by
// the SQL, REST, and SOAP agents, plus each agent type's specific
// behavior (SQL retry-on-schema-mismatch, REST upstream-error surfacing,
// SOAP's fixed operation identity).
package specialists

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	contractx "github.com/arclight-systems/queryflow/agent/contract"
	statex "github.com/arclight-systems/queryflow/agent/state"
)

const topK = 5

// Agent is the concrete workflow.Agent implementation shared by all three
// data-source families. Behavior that differs per family is injected via
// the agentType's switch below rather than three near-duplicate structs.
type Agent struct {
	agentType    contractx.AgentType
	registry     contractx.Registry
	gateway      contractx.LLMGateway
	systemPrompt string
}

// New builds an Agent for one data-source family. systemPrompt is the
// agent-type-specific instruction loaded via agent/prompt (sql_agent.txt,
// rest_agent.txt, or soap_agent.txt); an empty string falls back to a
// minimal inline instruction.
func New(agentType contractx.AgentType, registry contractx.Registry, gateway contractx.LLMGateway, systemPrompt string) *Agent {
	return &Agent{agentType: agentType, registry: registry, gateway: gateway, systemPrompt: systemPrompt}
}

// Execute implements the five-step tool-selection algorithm. It never panics: every
// failure path is converted to AgentResult{OK:false, Error:...}.
func (a *Agent) Execute(ctx context.Context, step contractx.Step, snapshot statex.AgentState) contractx.AgentResult {
	start := time.Now()
	result := a.execute(ctx, step, snapshot)
	result.LatencyMS = time.Since(start).Milliseconds()
	result.StepNumber = step.StepNumber
	result.AgentType = a.agentType
	return result
}

func (a *Agent) execute(ctx context.Context, step contractx.Step, snapshot statex.AgentState) contractx.AgentResult {
	class := contractx.DataSourceClassFor(a.agentType)

	candidates, err := a.rankCandidates(ctx, step, snapshot, class)
	if err != nil {
		return errResult(contractx.ErrKindToolNotFound, err.Error())
	}
	if len(candidates) == 0 {
		return errResult(contractx.ErrKindToolNotFound, fmt.Sprintf("no tools registered for %s", class))
	}

	toolName, args := a.chooseToolAndArgs(ctx, step, snapshot, candidates)
	tool, ok := a.registry.Get(toolName)
	if !ok {
		return errResult(contractx.ErrKindToolNotFound, fmt.Sprintf("tool %q not found", toolName))
	}

	maxAttempts := 1
	if a.agentType == contractx.AgentTypeSQL {
		maxAttempts = 3 // one original attempt plus up to two retries on schema mismatch
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		res, err := tool.Invoke(ctx, args)
		if err == nil {
			return contractx.AgentResult{
				OK:       true,
				ToolName: toolName,
				Rows:     copyRows(res.Rows),
			}
		}
		lastErr = err

		if a.agentType == contractx.AgentTypeSQL && isSchemaMismatch(err) && attempt < maxAttempts-1 {
			args = refineArgs(args, step)
			continue
		}
		return errResult(classifyToolError(a.agentType, err), err.Error())
	}
	return errResult(contractx.ErrKindUpstreamError, lastErr.Error())
}

func (a *Agent) rankCandidates(ctx context.Context, step contractx.Step, snapshot statex.AgentState, class contractx.DataSourceClass) ([]contractx.RankedTool, error) {
	if a.agentType == contractx.AgentTypeSOAP {
		// SOAP operations are fixed identities: no dynamic dispatch across
		// multiple candidate tools at runtime
		if name, ok := step.ParameterHints["tool_name"].(string); ok && name != "" {
			if tool, ok := a.registry.Get(name); ok {
				return []contractx.RankedTool{{Descriptor: tool.Descriptor(), Score: 1}}, nil
			}
		}
	}

	queryText := strings.TrimSpace(step.Description + " " + snapshot.Query)
	ranked, err := a.registry.Rank(ctx, queryText, &class)
	if err != nil {
		return nil, err
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

// chooseToolAndArgs asks the model to tool-call among the candidates; if
// it declines or the gateway is unavailable, fall back to the
// top-ranked candidate with args bound from parameter_hints plus simple
// extraction from the query.
func (a *Agent) chooseToolAndArgs(ctx context.Context, step contractx.Step, snapshot statex.AgentState, candidates []contractx.RankedTool) (string, map[string]any) {
	descriptors := make([]contractx.ToolDescriptor, 0, len(candidates))
	for _, c := range candidates {
		descriptors = append(descriptors, c.Descriptor)
	}

	if a.gateway != nil {
		messages := []contractx.Message{
			{Role: "system", Content: a.toolSelectionPrompt(step)},
			{Role: "user", Content: snapshot.Query},
		}
		completion, err := a.gateway.Complete(ctx, messages, descriptors)
		if err == nil && len(completion.ToolCalls) > 0 {
			call := completion.ToolCalls[0]
			return call.ToolName, call.Arguments
		}
	}

	top := candidates[0].Descriptor
	return top.Name, bindFallbackArgs(top, step, snapshot.Query)
}

// toolSelectionPrompt prefixes the agent type's loaded system prompt (if
// any) with this step's description, so the model sees both the
// agent-type-wide instruction and the concrete task it's being asked to do.
func (a *Agent) toolSelectionPrompt(step contractx.Step) string {
	if a.systemPrompt == "" {
		return fmt.Sprintf("Pick exactly one tool to fulfill: %s", step.Description)
	}
	return fmt.Sprintf("%s\n\nCurrent step: %s", a.systemPrompt, step.Description)
}

func bindFallbackArgs(descriptor contractx.ToolDescriptor, step contractx.Step, query string) map[string]any {
	args := make(map[string]any, len(descriptor.ParameterSchema))
	for k, v := range step.ParameterHints {
		args[k] = v
	}

	extracted := extractFromQuery(query)
	for _, p := range descriptor.ParameterSchema {
		if _, bound := args[p.Name]; bound {
			continue
		}
		if v, ok := extracted[p.Name]; ok {
			args[p.Name] = v
			continue
		}
		if v, ok := extracted[string(p.SemanticType)]; ok {
			args[p.Name] = v
			continue
		}
		if p.Default != nil {
			args[p.Name] = p.Default
		}
	}
	return args
}

var (
	idLikePattern = regexp.MustCompile(`[A-Z0-9_]{6,}`)
	datePattern   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	statusPattern = regexp.MustCompile(`(?i)\b(open|closed|pending|active|inactive|high|medium|low)\b`)
)

// extractFromQuery is a simple fallback extraction from the raw query
// text: bare regexes for IDs and dates, keyed by the semantic type they're
// likely to fill, and for status words, keyed by the parameter name
// "status".
func extractFromQuery(query string) map[string]string {
	out := map[string]string{}
	if m := idLikePattern.FindString(query); m != "" {
		out[string(contractx.SemanticString)] = m
	}
	if m := datePattern.FindString(query); m != "" {
		out[string(contractx.SemanticDate)] = m
	}
	if m := statusPattern.FindString(query); m != "" {
		out["status"] = strings.ToLower(m)
	}
	return out
}

// copyRows defensively copies Tool.Invoke's rows so later mutation by the
// Consolidator (join/concat tagging) never aliases the tool's own memory.
func copyRows(rows []map[string]any) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		tagged := make(map[string]any, len(row))
		for k, v := range row {
			tagged[k] = v
		}
		out[i] = tagged
	}
	return out
}

// classifyToolError maps a Tool.Invoke failure into the ErrorKind
// taxonomy, the same way for every agent type: a non-ToolError is
// INTERNAL, a tool TIMEOUT is TIMEOUT, and every other ToolError kind
// (HTTP-class failures, SCHEMA_MISMATCH included) is UPSTREAM_ERROR. The
// SQL retry on SCHEMA_MISMATCH is decided before this, by isSchemaMismatch.
func classifyToolError(agentType contractx.AgentType, err error) contractx.ErrorKind {
	var toolErr *contractx.ToolError
	if !asToolError(err, &toolErr) {
		return contractx.ErrKindInternal
	}

	switch toolErr.Kind {
	case contractx.ToolErrTimeout:
		return contractx.ErrKindTimeout
	default:
		return contractx.ErrKindUpstreamError
	}
}

// isSchemaMismatch reports whether err is a ToolError carrying
// SCHEMA_MISMATCH, the one case the SQL agent is allowed to retry.
func isSchemaMismatch(err error) bool {
	var toolErr *contractx.ToolError
	return asToolError(err, &toolErr) && toolErr.Kind == contractx.ToolErrSchemaMismatch
}

func asToolError(err error, target **contractx.ToolError) bool {
	te, ok := err.(*contractx.ToolError)
	if !ok {
		return false
	}
	*target = te
	return true
}

// refineArgs keeps only the step's parameter_hints, dropping every
// argument that came from the model, from query extraction or from a
// Default; the next SQL retry attempt invokes the same tool with them,
// without a second model round trip.
func refineArgs(args map[string]any, step contractx.Step) map[string]any {
	refined := make(map[string]any, len(step.ParameterHints))
	for k, v := range step.ParameterHints {
		refined[k] = v
	}
	return refined
}

func errResult(kind contractx.ErrorKind, msg string) contractx.AgentResult {
	k := kind
	return contractx.AgentResult{OK: false, Error: &k}
}
