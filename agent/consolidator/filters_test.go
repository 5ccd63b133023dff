package consolidator

import "testing"

func TestDetectFilterGenericEqualityRequiresKnownColumn(t *testing.T) {
	t.Parallel()

	if f := detectFilter("severity = 'high'", []string{"severity", "alert_id"}); f == nil {
		t.Fatal("expected a FilterSpec for a known column")
	} else if f.Column != "severity" || f.Value != "high" {
		t.Fatalf("got %+v, want severity=high", f)
	}

	if f := detectFilter("severity = 'high'", []string{"alert_id"}); f != nil {
		t.Fatalf("got %+v, want nil for an unknown column", f)
	}
}

func TestDetectFilterCaseIDExtractsIntegers(t *testing.T) {
	t.Parallel()

	f := detectFilter("what happened on case #12345", nil)
	if f == nil || f.Column != "id" || f.Operator != "=" || f.Value != 12345 {
		t.Fatalf("got %+v, want id=12345", f)
	}
}

func TestDetectFilterCaseIDExtractsMultipleAsIN(t *testing.T) {
	t.Parallel()

	f := detectFilter("compare #1 and #2", nil)
	if f == nil || f.Column != "id" || f.Operator != "IN" {
		t.Fatalf("got %+v, want id IN [...]", f)
	}
}

func TestDetectFilterPrefersGenericOverStatusKeyword(t *testing.T) {
	t.Parallel()

	f := detectFilter("severity = 'high' and the ticket is open", []string{"severity"})
	if f == nil || f.Column != "severity" {
		t.Fatalf("got %+v, want the generic equality filter to win", f)
	}
}

func TestDetectFilterReturnsNilWithNoMatch(t *testing.T) {
	t.Parallel()

	if f := detectFilter("hello there", nil); f != nil {
		t.Fatalf("got %+v, want nil", f)
	}
}

func TestDetectVisualizationNeedsNumericAndLabelColumns(t *testing.T) {
	t.Parallel()

	rows := []map[string]any{
		{"status": "open", "count": 3},
		{"status": "closed", "count": 7},
	}
	v := detectVisualization(rows)
	if v == nil {
		t.Fatal("expected a VisualizationSpec")
	}
	if v.XColumn != "status" || v.YColumn != "count" || v.Type != "bar" {
		t.Fatalf("got %+v, want status/count bar chart", v)
	}
}

func TestDetectVisualizationPicksLineForTemporalLabel(t *testing.T) {
	t.Parallel()

	rows := []map[string]any{
		{"created_at": "2026-01-01", "count": 3},
		{"created_at": "2026-01-02", "count": 7},
	}
	v := detectVisualization(rows)
	if v == nil || v.Type != "line" {
		t.Fatalf("got %+v, want a line chart for a temporal label column", v)
	}
}

func TestDetectVisualizationNilWithoutNumericColumn(t *testing.T) {
	t.Parallel()

	rows := []map[string]any{
		{"status": "open", "owner": "alice"},
		{"status": "closed", "owner": "bob"},
	}
	if v := detectVisualization(rows); v != nil {
		t.Fatalf("got %+v, want nil with no numeric column", v)
	}
}

func TestDetectVisualizationNilForSingleRow(t *testing.T) {
	t.Parallel()

	rows := []map[string]any{{"status": "open", "count": 3}}
	if v := detectVisualization(rows); v != nil {
		t.Fatalf("got %+v, want nil for a single row", v)
	}
}
