// Package planner implements the Execution Planner: it turns a
// query, optional caller context, and tool catalogue into a Plan, using an
// LLM analysis pass with a deterministic heuristic fallback.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	contractx "github.com/arclight-systems/queryflow/agent/contract"
	"github.com/arclight-systems/queryflow/agent/llmgateway"
)

// Planner is the concrete contract.Planner implementation.
type Planner struct {
	gateway      contractx.LLMGateway
	systemPrompt string
}

var _ contractx.Planner = (*Planner)(nil)

func New(gateway contractx.LLMGateway, systemPrompt string) *Planner {
	return &Planner{gateway: gateway, systemPrompt: strings.TrimSpace(systemPrompt)}
}

// analysis is the JSON shape requested from the LLM during query analysis.
type analysis struct {
	Intent                string         `json:"intent"`
	Entities              map[string]any `json:"entities,omitempty"`
	RequiredSources       []string       `json:"required_sources"`
	RequiresConsolidation bool           `json:"requires_consolidation"`
	EstimatedComplexity   string         `json:"estimated_complexity"`
	Notes                 map[string]any `json:"notes,omitempty"`
}

// Plan builds a Plan for one query. catalogue must be non-empty; an empty
// catalogue surfaces PlannerError{EMPTY_CATALOGUE} to the caller rather
// than being absorbed by the heuristic fallback.
func (p *Planner) Plan(ctx context.Context, query string, callerContext map[string]any, catalogue []contractx.ToolDescriptor) (contractx.Plan, error) {
	if len(catalogue) == 0 {
		return contractx.Plan{}, &contractx.PlannerError{Kind: contractx.ErrEmptyCatalogue}
	}

	a, err := p.analyze(ctx, query, callerContext, catalogue)
	if err != nil {
		a = heuristicAnalysis(query, catalogue)
	}

	steps := generateSteps(a, catalogue)
	requiresConsolidation := len(steps) > 1 || a.RequiresConsolidation

	plan := contractx.Plan{
		PlanID:                uuid.NewString(),
		Query:                 query,
		Steps:                 steps,
		RequiresConsolidation: requiresConsolidation,
		EstimatedComplexity:   normalizeComplexity(a.EstimatedComplexity),
		Notes:                 a.Notes,
	}

	if err := validateDAG(plan.Steps); err != nil {
		plan.Steps = fallbackSingleStep(catalogue)
		plan.RequiresConsolidation = false
	}

	return plan, nil
}

// analyze asks the LLM for structured JSON describing the query,
// with text extracted via the same ordered cascade every other node uses.
func (p *Planner) analyze(ctx context.Context, query string, callerContext map[string]any, catalogue []contractx.ToolDescriptor) (analysis, error) {
	if p.gateway == nil {
		return analysis{}, &contractx.PlannerError{Kind: contractx.ErrLLMUnavailable, Msg: "no llm gateway configured"}
	}

	compact := compactCatalogue(catalogue)
	payload := map[string]any{
		"query":   query,
		"context": callerContext,
		"tools":   compact,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return analysis{}, &contractx.PlannerError{Kind: contractx.ErrParseFailed, Msg: err.Error()}
	}

	messages := []contractx.Message{
		{Role: "system", Content: p.systemPrompt},
		{Role: "user", Content: string(body)},
	}

	completion, err := p.gateway.Complete(ctx, messages, nil)
	if err != nil {
		return analysis{}, &contractx.PlannerError{Kind: contractx.ErrLLMUnavailable, Msg: err.Error()}
	}

	text := completion.Text
	if text == "" {
		if extracted, ok := llmgateway.ExtractText(completion.Raw); ok {
			text = extracted
		}
	}

	var a analysis
	if err := json.Unmarshal([]byte(extractJSONObject(text)), &a); err != nil {
		return analysis{}, &contractx.PlannerError{Kind: contractx.ErrParseFailed, Msg: err.Error()}
	}
	if len(a.RequiredSources) == 0 {
		return analysis{}, &contractx.PlannerError{Kind: contractx.ErrParseFailed, Msg: "analysis carried no required_sources"}
	}
	return a, nil
}

// extractJSONObject trims any leading/trailing prose a model might wrap
// its JSON in, returning the outermost {...} span.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < 0 || end < start {
		return text
	}
	return text[start : end+1]
}

func compactCatalogue(catalogue []contractx.ToolDescriptor) []map[string]any {
	out := make([]map[string]any, 0, len(catalogue))
	for _, d := range catalogue {
		out = append(out, map[string]any{
			"name":              d.Name,
			"description":       d.Description,
			"data_source_class": d.DataSourceClass,
		})
	}
	return out
}

var idLikeToken = regexp.MustCompile(`[A-Z0-9_]{6,}`)

var readWords = []string{"list", "show", "find", "search", "get", "what", "which"}

// heuristicAnalysis applies keyword rules and an ID-like-token regex,
// used when the LLM is unavailable or its response doesn't parse.
func heuristicAnalysis(query string, catalogue []contractx.ToolDescriptor) analysis {
	lower := strings.ToLower(query)

	intent := "lookup"
	for _, w := range readWords {
		if strings.Contains(lower, w) {
			intent = "read"
			break
		}
	}
	if idLikeToken.MatchString(query) {
		intent = "entity_lookup"
	}

	classesPresent := map[contractx.DataSourceClass]bool{}
	for _, d := range catalogue {
		classesPresent[d.DataSourceClass] = true
	}

	var sources []string
	hasRESTNoun := strings.Contains(lower, "user") || strings.Contains(lower, "api") || strings.Contains(lower, "department")
	hasDBNoun := strings.Contains(lower, "alert") || strings.Contains(lower, "order") || strings.Contains(lower, "record") || strings.Contains(lower, "database")

	if hasRESTNoun && classesPresent[contractx.DataSourceRESTAPI] {
		sources = append(sources, string(contractx.DataSourceRESTAPI))
	}
	if hasDBNoun && classesPresent[contractx.DataSourceRelationalDB] {
		sources = append(sources, string(contractx.DataSourceRelationalDB))
	}
	if len(sources) == 0 {
		// Fall back to whatever single class the catalogue actually offers,
		// preferring REST, then SQL, then SOAP for determinism.
		for _, c := range []contractx.DataSourceClass{contractx.DataSourceRESTAPI, contractx.DataSourceRelationalDB, contractx.DataSourceSOAPAPI} {
			if classesPresent[c] {
				sources = append(sources, string(c))
				break
			}
		}
	}

	return analysis{
		Intent:                intent,
		RequiredSources:       sources,
		RequiresConsolidation: len(sources) > 1,
		EstimatedComplexity:   string(contractx.ComplexityLow),
	}
}

// generateSteps produces one Step per required source that has at least
// one registered tool of that class (sources with none are skipped), with
// depends_on inferred for steps sharing an identifier-bearing source. The
// Step names no tool; the agent that runs it selects one.
func generateSteps(a analysis, catalogue []contractx.ToolDescriptor) []contractx.Step {
	byClass := map[contractx.DataSourceClass][]contractx.ToolDescriptor{}
	for _, d := range catalogue {
		byClass[d.DataSourceClass] = append(byClass[d.DataSourceClass], d)
	}
	for class := range byClass {
		sort.Slice(byClass[class], func(i, j int) bool {
			if byClass[class][i].Priority != byClass[class][j].Priority {
				return byClass[class][i].Priority > byClass[class][j].Priority
			}
			return byClass[class][i].Name < byClass[class][j].Name
		})
	}

	steps := make([]contractx.Step, 0, len(a.RequiredSources))
	restOrSOAPSeen := false
	var restOrSOAPStepNumber int

	for i, src := range a.RequiredSources {
		class := contractx.DataSourceClass(src)
		candidates := byClass[class]
		if len(candidates) == 0 {
			continue
		}

		stepNumber := i + 1
		step := contractx.Step{
			StepNumber:      stepNumber,
			Description:     fmt.Sprintf("%s against %s", a.Intent, class),
			AgentType:       contractx.AgentTypeFor(class),
			DataSourceClass: class,
			Status:          contractx.StepPending,
		}

		// A relational-db step that follows a REST/SOAP step in the same
		// plan is assumed to join on an identifier the earlier step
		// produced, matching original_source's join-first ordering.
		if class == contractx.DataSourceRelationalDB && restOrSOAPSeen {
			step.DependsOn = []int{restOrSOAPStepNumber}
		}
		if class == contractx.DataSourceRESTAPI || class == contractx.DataSourceSOAPAPI {
			restOrSOAPSeen = true
			restOrSOAPStepNumber = stepNumber
		}

		steps = append(steps, step)
	}

	return steps
}

func normalizeComplexity(s string) contractx.EstimatedComplexity {
	switch contractx.EstimatedComplexity(s) {
	case contractx.ComplexityLow, contractx.ComplexityMedium, contractx.ComplexityHigh:
		return contractx.EstimatedComplexity(s)
	default:
		return contractx.ComplexityLow
	}
}

// validateDAG rejects cycles and forward references: a step may only
// depend on strictly earlier step numbers.
func validateDAG(steps []contractx.Step) error {
	seen := map[int]bool{}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if dep >= s.StepNumber {
				return fmt.Errorf("step %d depends on non-earlier step %d", s.StepNumber, dep)
			}
			if !seen[dep] {
				return fmt.Errorf("step %d depends on unknown step %d", s.StepNumber, dep)
			}
		}
		seen[s.StepNumber] = true
	}
	return nil
}

// fallbackSingleStep handles a DAG validation failure by falling back to
// a single-step plan using the highest-ranked tool in the catalogue (by
// priority, then name).
func fallbackSingleStep(catalogue []contractx.ToolDescriptor) []contractx.Step {
	best := catalogue[0]
	for _, d := range catalogue[1:] {
		if d.Priority > best.Priority || (d.Priority == best.Priority && d.Name < best.Name) {
			best = d
		}
	}
	return []contractx.Step{{
		StepNumber:      1,
		Description:     "fallback single-step plan after DAG validation failure",
		AgentType:       contractx.AgentTypeFor(best.DataSourceClass),
		DataSourceClass: best.DataSourceClass,
		Status:          contractx.StepPending,
	}}
}

// Enrich folds caller-supplied context into the map the analysis payload
// carries, mirroring the original implementation's context_enricher
// behavior: later entries win on key collision.
func Enrich(base map[string]any, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
