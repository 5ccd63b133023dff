package consolidator

import (
	"regexp"
	"strconv"
	"strings"

	contractx "github.com/arclight-systems/queryflow/agent/contract"
)

// statusKeywords and priorityKeywords mirror filter_generator.py's
// _extract_status_filters/_extract_priority_filters keyword tables.
var statusKeywords = []struct {
	value    string
	keywords []string
}{
	{"open", []string{"open", "active", "ongoing"}},
	{"closed", []string{"closed", "resolved", "completed"}},
	{"pending", []string{"pending", "waiting", "in progress"}},
	{"cancelled", []string{"cancelled", "canceled", "rejected"}},
}

var priorityKeywords = []struct {
	phrase string
	value  string
}{
	{"high priority", "high"},
	{"medium priority", "medium"},
	{"low priority", "low"},
}

// genericEqualityPattern mirrors filter_generator.py's
// _extract_generic_equality_filters pattern, split into a quoted
// alternative (value may contain spaces, terminated by the closing quote)
// and an unquoted one (value is a single token, terminated by whitespace)
// so a match doesn't run away to the end of the query when trailing prose
// follows the filter clause.
var genericEqualityPattern = regexp.MustCompile(`(?i)(\w+)\s*(>=|<=|!=|=|>|<)\s*(?:'([^']*)'|(\S+))`)
var caseIDPattern = regexp.MustCompile(`#(\d+)`)

// detectFilter mirrors filter_generator.py's generate_filters, simplified
// to the single highest-confidence condition: FilterSpec carries one
// column/operator/value triple rather than the original's full AND chain,
// so the extractors run in the same priority order the original tries
// first and the first hit wins. The generic field=value extractor is the
// only one gated on field metadata there; here it is gated on the field
// actually being a column of the rows this run produced, since no
// metadata manager exists in this module.
func detectFilter(query string, columns []string) *contractx.FilterSpec {
	if f := detectGenericEqualityFilter(query, columns); f != nil {
		return f
	}
	if f := detectStatusFilter(query); f != nil {
		return f
	}
	if f := detectPriorityFilter(query); f != nil {
		return f
	}
	if f := detectCaseIDFilter(query); f != nil {
		return f
	}
	return nil
}

func detectGenericEqualityFilter(query string, columns []string) *contractx.FilterSpec {
	match := genericEqualityPattern.FindStringSubmatch(query)
	if match == nil {
		return nil
	}
	field, operator := match[1], match[2]
	value := match[3]
	if value == "" && match[4] != "" {
		value = match[4]
	}
	if !hasColumn(columns, field) {
		return nil
	}
	return &contractx.FilterSpec{Column: field, Operator: operator, Value: coerceValue(value)}
}

func detectStatusFilter(query string) *contractx.FilterSpec {
	lower := strings.ToLower(query)
	for _, s := range statusKeywords {
		for _, kw := range s.keywords {
			if strings.Contains(lower, kw) {
				return &contractx.FilterSpec{Column: "status", Operator: "=", Value: capitalize(s.value)}
			}
		}
	}
	return nil
}

func detectPriorityFilter(query string) *contractx.FilterSpec {
	lower := strings.ToLower(query)
	for _, p := range priorityKeywords {
		if strings.Contains(lower, p.phrase) {
			return &contractx.FilterSpec{Column: "priority", Operator: "=", Value: capitalize(p.value)}
		}
	}
	return nil
}

// capitalize mirrors the shape of the original's metadata-driven enum
// normalization (e.g. "open" -> "Open") without a metadata manager to
// consult: it just title-cases the first letter.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func detectCaseIDFilter(query string) *contractx.FilterSpec {
	ids := caseIDPattern.FindAllStringSubmatch(query, -1)
	if len(ids) == 0 {
		return nil
	}
	if len(ids) == 1 {
		n, err := strconv.Atoi(ids[0][1])
		if err != nil {
			return nil
		}
		return &contractx.FilterSpec{Column: "id", Operator: "=", Value: n}
	}
	values := make([]int, 0, len(ids))
	for _, m := range ids {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		values = append(values, n)
	}
	return &contractx.FilterSpec{Column: "id", Operator: "IN", Value: values}
}

func hasColumn(columns []string, field string) bool {
	for _, c := range columns {
		if strings.EqualFold(c, field) {
			return true
		}
	}
	return false
}

func coerceValue(raw string) any {
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// detectVisualization mirrors visualization_extractor.py's plausibility
// gate (a chart needs at least one numeric series and a label to plot it
// against) without the LLM-authored chart_type input the original takes:
// this module's deterministic fallback has no LLM response to extract a
// chart spec from, so the type is inferred from the merged rows' own
// column shape instead.
func detectVisualization(rows []map[string]any) *contractx.VisualizationSpec {
	if len(rows) < 2 {
		return nil
	}
	columns := unionColumns(rows)
	numeric, label := "", ""
	for _, c := range columns {
		if isNumericColumn(rows, c) {
			if numeric == "" {
				numeric = c
			}
		} else if label == "" {
			label = c
		}
	}
	if numeric == "" || label == "" {
		return nil
	}

	chartType := "bar"
	if looksTemporal(label) {
		chartType = "line"
	}
	return &contractx.VisualizationSpec{
		Type:    chartType,
		XColumn: label,
		YColumn: numeric,
		Columns: columns,
	}
}

func isNumericColumn(rows []map[string]any, column string) bool {
	seen := false
	for _, row := range rows {
		v, ok := row[column]
		if !ok || v == nil {
			continue
		}
		switch v.(type) {
		case int, int32, int64, float32, float64:
			seen = true
		default:
			return false
		}
	}
	return seen
}

func looksTemporal(column string) bool {
	lower := strings.ToLower(column)
	for _, term := range []string{"date", "time", "_at", "created", "updated"} {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
