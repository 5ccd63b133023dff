// Package consolidator implements the Consolidator Node: it merges
// the accumulated per-source results into one answer, either via an LLM
// formatting pass or a deterministic fallback, grounded in the reference
// implementation's DataMerger (_is_id_field / _merge_by_join /
// _merge_records / deduplicate).
package consolidator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	contractx "github.com/arclight-systems/queryflow/agent/contract"
	"github.com/arclight-systems/queryflow/agent/llmgateway"
	statex "github.com/arclight-systems/queryflow/agent/state"
)

const defaultRowCap = 500

// Config controls the Consolidator's behavior; LLMRowCap corresponds to
// consolidator.llm_row_cap (default 500).
type Config struct {
	LLMRowCap    int
	SystemPrompt string
}

type Consolidator struct {
	gateway contractx.LLMGateway
	cfg     Config
}

func New(gateway contractx.LLMGateway, cfg Config) *Consolidator {
	if cfg.LLMRowCap <= 0 {
		cfg.LLMRowCap = defaultRowCap
	}
	return &Consolidator{gateway: gateway, cfg: cfg}
}

// Run implements the Consolidator Node: it reads st.Plan and the three
// accumulating result sequences and sets st.FinalResponse via SetFinal.
func (c *Consolidator) Run(ctx context.Context, st *statex.AgentState) error {
	results := st.AllResults()
	okResults := make([]contractx.AgentResult, 0, len(results))
	for _, r := range results {
		if r.OK {
			okResults = append(okResults, r)
		}
	}

	plan := st.Plan
	requiresConsolidation := plan != nil && plan.RequiresConsolidation

	if plan != nil {
		if f := detectFilter(plan.Query, unionColumns(rowsOf(okResults))); f != nil {
			st.GeneratedFilter = f
		}
	}

	if !requiresConsolidation && len(okResults) == 1 {
		st.SetFinal(formatSingleResult(okResults[0]))
		return nil
	}

	if len(okResults) == 0 {
		st.SetFinal(notePartialFailure(st, "no data was retrieved"))
		return nil
	}

	rows, strategy := mergeResults(okResults)
	deduped := deduplicate(rows)

	var formatHint string
	if plan != nil && plan.Notes != nil {
		if hint, ok := plan.Notes["format_hint"].(string); ok {
			formatHint = hint
		}
	}

	if c.gateway != nil && len(deduped) <= c.cfg.LLMRowCap {
		if text, ok := c.formatViaLLM(ctx, plan, deduped, strategy, formatHint); ok {
			st.SetFinal(notePartialFailure(st, text))
			return nil
		}
	}

	text, kind := deterministicFormat(deduped, formatHint)
	if kind == "table" {
		if v := detectVisualization(deduped); v != nil {
			st.Visualization = v
		}
	}
	st.SetFinal(notePartialFailure(st, text))
	return nil
}

// rowsOf flattens a result sequence's rows in order, for callers (filter
// detection) that need the column set a run actually produced rather than
// the merged/deduplicated view mergeResults builds.
func rowsOf(results []contractx.AgentResult) []map[string]any {
	var out []map[string]any
	for _, r := range results {
		out = append(out, r.Rows...)
	}
	return out
}

func notePartialFailure(st *statex.AgentState, text string) string {
	if len(st.Errors) == 0 {
		return text
	}
	return text + "\n\n(partial data: some sources could not be retrieved)"
}

func formatSingleResult(r contractx.AgentResult) string {
	if len(r.Rows) == 0 {
		return "No results were found."
	}
	var b strings.Builder
	for _, row := range r.Rows {
		keys := sortedKeys(row)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %v", k, row[k]))
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

const mergeStrategyJoin = "join"
const mergeStrategyConcat = "concat"

// mergeResults tags every row with its source, detects a join strategy
// via ID-like shared columns, and merges accordingly. On any error it
// falls back to concat-with-provenance rather than failing the run.
func mergeResults(results []contractx.AgentResult) ([]map[string]any, string) {
	var all []struct {
		row    map[string]any
		source string
	}
	for _, r := range results {
		for _, row := range r.Rows {
			all = append(all, struct {
				row    map[string]any
				source string
			}{row: row, source: r.ToolName})
		}
	}
	if len(all) == 0 {
		return nil, mergeStrategyConcat
	}

	joinColumn, ok := detectJoinColumn(results)
	if !ok {
		return concatWithProvenance(all), mergeStrategyConcat
	}

	merged, err := mergeByJoin(all, joinColumn)
	if err != nil {
		return concatWithProvenance(all), mergeStrategyConcat
	}
	return merged, mergeStrategyJoin
}

// detectJoinColumn computes the intersection of column names across each
// result's first row and returns the first ID-like column in that
// intersection, lexically ordered as a tie-break.
func detectJoinColumn(results []contractx.AgentResult) (string, bool) {
	var columnSets []map[string]struct{}
	for _, r := range results {
		if len(r.Rows) == 0 {
			continue
		}
		cols := map[string]struct{}{}
		for k := range r.Rows[0] {
			cols[k] = struct{}{}
		}
		columnSets = append(columnSets, cols)
	}
	if len(columnSets) < 2 {
		return "", false
	}

	intersection := columnSets[0]
	for _, cols := range columnSets[1:] {
		next := map[string]struct{}{}
		for k := range intersection {
			if _, ok := cols[k]; ok {
				next[k] = struct{}{}
			}
		}
		intersection = next
	}

	var idLike []string
	for k := range intersection {
		if isIDField(k) {
			idLike = append(idLike, k)
		}
	}
	if len(idLike) == 0 {
		return "", false
	}
	sort.Strings(idLike)
	return idLike[0], true
}

// isIDField mirrors data_merger.py's _is_id_field exactly.
func isIDField(key string) bool {
	lower := strings.ToLower(key)
	return lower == "id" ||
		strings.HasSuffix(lower, "_id") ||
		strings.Contains(lower, "uuid") ||
		strings.Contains(lower, "guid") ||
		strings.HasSuffix(lower, "_key") ||
		strings.HasSuffix(lower, "_no") ||
		strings.HasSuffix(lower, "_number")
}

type taggedRow struct {
	row    map[string]any
	source string
}

func mergeByJoin(all []struct {
	row    map[string]any
	source string
}, joinColumn string) ([]map[string]any, error) {
	type group struct {
		key     any
		records []taggedRow
	}
	order := []any{}
	groups := map[any]*group{}
	var ungrouped []taggedRow

	for _, a := range all {
		v, ok := a.row[joinColumn]
		if !ok || v == nil {
			ungrouped = append(ungrouped, taggedRow{row: a.row, source: a.source})
			continue
		}
		key := fmt.Sprintf("%v", v)
		g, exists := groups[key]
		if !exists {
			g = &group{key: v}
			groups[key] = g
			order = append(order, key)
		}
		g.records = append(g.records, taggedRow{row: a.row, source: a.source})
	}

	out := make([]map[string]any, 0, len(order)+len(ungrouped))
	for _, k := range order {
		out = append(out, mergeRecords(groups[k].records))
	}
	for _, u := range ungrouped {
		r := make(map[string]any, len(u.row)+1)
		for k, v := range u.row {
			r[k] = v
		}
		r["_source"] = u.source
		out = append(out, r)
	}
	return out, nil
}

// mergeRecords performs the keyed union data_merger.py's _merge_records
// describes: later sources never overwrite an earlier non-null field;
// genuine collisions are kept under <field>__<source_tag>; _sources lists
// every contributing tool name.
func mergeRecords(records []taggedRow) map[string]any {
	merged := map[string]any{}
	var sources []string
	seenSource := map[string]bool{}

	for _, rec := range records {
		if !seenSource[rec.source] {
			seenSource[rec.source] = true
			sources = append(sources, rec.source)
		}
		for k, v := range rec.row {
			existing, has := merged[k]
			switch {
			case !has:
				merged[k] = v
			case existing == nil && v != nil:
				merged[k] = v
			case existing != nil && v != nil && !equalValue(existing, v):
				collisionKey := fmt.Sprintf("%s__%s", k, rec.source)
				merged[collisionKey] = v
			}
		}
	}
	merged["_sources"] = sources
	return merged
}

func equalValue(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}

func concatWithProvenance(all []struct {
	row    map[string]any
	source string
}) []map[string]any {
	out := make([]map[string]any, 0, len(all))
	for _, a := range all {
		r := make(map[string]any, len(a.row)+1)
		for k, v := range a.row {
			r[k] = v
		}
		r["_source"] = a.source
		out = append(out, r)
	}
	return out
}

// deduplicate preserves first occurrence, keyed on the full field set
// minus _source/_sources, matching data_merger.py's deduplicate.
func deduplicate(rows []map[string]any) []map[string]any {
	seen := map[string]bool{}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		key := dedupKey(row)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, row)
	}
	return out
}

func dedupKey(row map[string]any) string {
	filtered := map[string]any{}
	for k, v := range row {
		if k == "_source" || k == "_sources" {
			continue
		}
		filtered[k] = v
	}
	blob, err := json.Marshal(sortedMap(filtered))
	if err != nil {
		return fmt.Sprintf("%v", filtered)
	}
	return string(blob)
}

func sortedMap(m map[string]any) map[string]any {
	// json.Marshal already sorts map keys; this function exists purely to
	// document that dedupKey's stability depends on that behavior.
	return m
}

func (c *Consolidator) formatViaLLM(ctx context.Context, plan *contractx.Plan, rows []map[string]any, strategy, formatHint string) (string, bool) {
	query := ""
	if plan != nil {
		query = plan.Query
	}
	payload := map[string]any{
		"query":       query,
		"rows":        rows,
		"strategy":    strategy,
		"format_hint": formatHint,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", false
	}

	messages := []contractx.Message{
		{Role: "system", Content: c.cfg.SystemPrompt},
		{Role: "user", Content: string(body)},
	}
	completion, err := c.gateway.Complete(ctx, messages, nil)
	if err != nil {
		return "", false
	}
	if completion.Text != "" {
		return completion.Text, true
	}
	return llmgateway.ExtractText(completion.Raw)
}

// deterministicFormat renders merged rows to text without an LLM call. An
// explicit format_hint from plan.Notes ("text", "json", "table", "markdown",
// "summary") always wins; with no hint, or an unrecognized one, the
// representation scales to row count instead: none, one, a table, or a
// per-source summary. The returned kind names which representation was
// chosen, so a caller can gate representation-specific enrichment (the
// Consolidator's visualization detection only applies to "table") without
// re-deriving the same selection logic.
func deterministicFormat(rows []map[string]any, formatHint string) (text string, kind string) {
	if len(rows) == 0 {
		return "No results were found.", "empty"
	}

	switch formatHint {
	case "summary":
		return summarize(rows), "summary"
	case "text":
		return formatAsText(rows), "text"
	case "json":
		return formatAsJSON(rows), "json"
	case "table":
		return formatMarkdownTable(rows), "table"
	case "markdown":
		return formatAsMarkdownList(rows), "markdown"
	}

	switch {
	case len(rows) == 1:
		return formatKeyValue(rows[0]), "key_value"
	case len(rows) <= 20:
		return formatMarkdownTable(rows), "table"
	default:
		return summarize(rows), "summary"
	}
}

// formatAsText renders each row as a key: value block, separated by a
// blank line, for a plain-prose rendering with no table or list markup.
func formatAsText(rows []map[string]any) string {
	parts := make([]string, 0, len(rows))
	for _, row := range rows {
		parts = append(parts, formatKeyValue(row))
	}
	return strings.Join(parts, "\n\n")
}

// formatAsJSON renders the merged rows as indented JSON, for callers that
// asked for a machine-readable format_hint rather than prose.
func formatAsJSON(rows []map[string]any) string {
	blob, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return formatAsText(rows)
	}
	return string(blob)
}

// formatAsMarkdownList renders each row as a bulleted key/value list under
// a numbered heading, distinct from formatMarkdownTable's pipe-table shape.
func formatAsMarkdownList(rows []map[string]any) string {
	var b strings.Builder
	for i, row := range rows {
		fmt.Fprintf(&b, "**Result %d**\n", i+1)
		for _, k := range sortedKeys(row) {
			fmt.Fprintf(&b, "- **%s**: %v\n", k, row[k])
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func formatKeyValue(row map[string]any) string {
	keys := sortedKeys(row)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, row[k])
	}
	return strings.TrimSpace(b.String())
}

func formatMarkdownTable(rows []map[string]any) string {
	columns := unionColumns(rows)
	var b strings.Builder
	b.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(columns)) + "\n")
	for _, row := range rows {
		cells := make([]string, 0, len(columns))
		for _, c := range columns {
			cells = append(cells, fmt.Sprintf("%v", row[c]))
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return strings.TrimSpace(b.String())
}

func summarize(rows []map[string]any) string {
	perSource := map[string]int{}
	for _, row := range rows {
		if sources, ok := row["_sources"].([]string); ok {
			for _, s := range sources {
				perSource[s]++
			}
			continue
		}
		if src, ok := row["_source"].(string); ok {
			perSource[src]++
		}
	}
	columns := unionColumns(rows)

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d results across %d fields.\n", len(rows), len(columns))
	sourceNames := make([]string, 0, len(perSource))
	for s := range perSource {
		sourceNames = append(sourceNames, s)
	}
	sort.Strings(sourceNames)
	for _, s := range sourceNames {
		fmt.Fprintf(&b, "- %s: %d rows\n", s, perSource[s])
	}
	return strings.TrimSpace(b.String())
}

func unionColumns(rows []map[string]any) []string {
	set := map[string]struct{}{}
	for _, row := range rows {
		for k := range row {
			if k == "_source" || k == "_sources" {
				continue
			}
			set[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
