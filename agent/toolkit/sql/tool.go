// Package sql adapts a parametrized SQL query, executed via uptrace/bun,
// to the contract.Tool interface for the RELATIONAL_DB data source class.
package sql

import (
	"context"
	"database/sql"
	"strings"

	"github.com/uptrace/bun"

	contractx "github.com/arclight-systems/queryflow/agent/contract"
	"github.com/arclight-systems/queryflow/agent/toolkit"
)

// Tool binds one named SQL query template to a ToolDescriptor. The query
// is written with bun's "?" positional placeholders; Invoke resolves each
// placeholder, in ParameterSchema order, from args.
type Tool struct {
	descriptor contractx.ToolDescriptor
	db         *bun.DB
	query      string
}

func New(descriptor contractx.ToolDescriptor, db *bun.DB, query string) *Tool {
	return &Tool{descriptor: descriptor, db: db, query: strings.TrimSpace(query)}
}

func (t *Tool) Descriptor() contractx.ToolDescriptor { return t.descriptor }

func (t *Tool) Invoke(ctx context.Context, args map[string]any) (contractx.ToolResult, error) {
	bindings, err := bindArgs(t.descriptor.ParameterSchema, args)
	if err != nil {
		return contractx.ToolResult{}, &contractx.ToolError{Kind: contractx.ToolErrSchemaMismatch, Message: err.Error()}
	}

	rows, err := t.db.QueryContext(ctx, t.query, bindings...)
	if err != nil {
		return contractx.ToolResult{}, classifyErr(err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return contractx.ToolResult{}, &contractx.ToolError{Kind: contractx.ToolErrSchemaMismatch, Message: err.Error()}
	}

	return contractx.ToolResult{Rows: out, SourceTag: t.descriptor.Name}, nil
}

// bindArgs resolves one positional value per ParameterSchema entry, in
// declared order, failing closed on a missing required parameter rather
// than silently binding NULL.
func bindArgs(schema []contractx.ParameterSpec, args map[string]any) ([]any, error) {
	bindings := make([]any, 0, len(schema))
	for _, p := range schema {
		v, _, err := toolkit.ResolveValue(p, args)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, v)
	}
	return bindings, nil
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalizeScanned(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeScanned converts database/sql's byte-slice representation of
// text columns into plain strings, so downstream JSON encoding and the
// Consolidator's row comparisons see ordinary strings, not []byte.
func normalizeScanned(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func classifyErr(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return &contractx.ToolError{Kind: contractx.ToolErrTimeout, Message: err.Error()}
	case strings.Contains(msg, "column") || strings.Contains(msg, "relation") || strings.Contains(msg, "does not exist"):
		return &contractx.ToolError{Kind: contractx.ToolErrSchemaMismatch, Message: err.Error()}
	default:
		return &contractx.ToolError{Kind: contractx.ToolErrUpstreamError, Message: err.Error()}
	}
}
