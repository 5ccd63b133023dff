// Package rest adapts an HTTP JSON endpoint to the contract.Tool
// interface for the REST_API data source class. No general-purpose REST
// client library was present across the retrieved examples, so this
// package is built directly on net/http.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/arclight-systems/queryflow/agent/contract"
	"github.com/arclight-systems/queryflow/agent/toolkit"
)

// Tool binds a ToolDescriptor to one HTTP endpoint. Path placeholders use
// "{name}" and are substituted from args; parameters of kind ParamQuery
// become query-string values; ParamBody parameters are marshaled into a
// single JSON request body when the method is not GET.
type Tool struct {
	descriptor contractx.ToolDescriptor
	client     *http.Client
	method     string
	urlPath    string
	baseURL    string
	rowsPath   []string // JSON path to the array of rows in the response, empty means the whole body is the array
}

type Option func(*Tool)

func WithRowsPath(path ...string) Option {
	return func(t *Tool) { t.rowsPath = path }
}

func WithClient(c *http.Client) Option {
	return func(t *Tool) { t.client = c }
}

func New(descriptor contractx.ToolDescriptor, baseURL, method, urlPath string, opts ...Option) *Tool {
	t := &Tool{
		descriptor: descriptor,
		client:     &http.Client{Timeout: 15 * time.Second},
		method:     strings.ToUpper(method),
		urlPath:    urlPath,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tool) Descriptor() contractx.ToolDescriptor { return t.descriptor }

func (t *Tool) Invoke(ctx context.Context, args map[string]any) (contractx.ToolResult, error) {
	path, query, body, err := bindRequest(t.descriptor.ParameterSchema, t.urlPath, args)
	if err != nil {
		return contractx.ToolResult{}, &contractx.ToolError{Kind: contractx.ToolErrBadRequest, Message: err.Error()}
	}

	target := t.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reqBody io.Reader
	if t.method != http.MethodGet && body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return contractx.ToolResult{}, &contractx.ToolError{Kind: contractx.ToolErrBadRequest, Message: err.Error()}
		}
		reqBody = strings.NewReader(string(encoded))
	}

	req, err := http.NewRequestWithContext(ctx, t.method, target, reqBody)
	if err != nil {
		return contractx.ToolResult{}, &contractx.ToolError{Kind: contractx.ToolErrBadRequest, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return contractx.ToolResult{}, &contractx.ToolError{Kind: contractx.ToolErrTimeout, Message: err.Error()}
		}
		return contractx.ToolResult{}, &contractx.ToolError{Kind: contractx.ToolErrUpstreamError, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return contractx.ToolResult{}, &contractx.ToolError{Kind: contractx.ToolErrUpstreamError, Message: err.Error()}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return contractx.ToolResult{}, &contractx.ToolError{Kind: contractx.ToolErrUnauthorized, Message: string(raw)}
	}
	if resp.StatusCode == http.StatusNotFound {
		return contractx.ToolResult{}, &contractx.ToolError{Kind: contractx.ToolErrNotFound, Message: string(raw)}
	}
	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
		return contractx.ToolResult{}, &contractx.ToolError{Kind: contractx.ToolErrBadRequest, Message: string(raw)}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return contractx.ToolResult{}, &contractx.ToolError{Kind: contractx.ToolErrUpstreamError, Message: string(raw)}
	}

	rows, err := extractRows(raw, t.rowsPath)
	if err != nil {
		return contractx.ToolResult{}, &contractx.ToolError{Kind: contractx.ToolErrSchemaMismatch, Message: err.Error()}
	}

	return contractx.ToolResult{Rows: rows, SourceTag: t.descriptor.Name}, nil
}

func bindRequest(schema []contractx.ParameterSpec, urlPath string, args map[string]any) (string, url.Values, map[string]any, error) {
	path := urlPath
	query := url.Values{}
	body := map[string]any{}

	for _, p := range schema {
		v, present, err := toolkit.ResolveValue(p, args)
		if err != nil {
			return "", nil, nil, err
		}
		if !present {
			continue
		}

		switch p.Kind {
		case contractx.ParamPath:
			path = strings.ReplaceAll(path, "{"+p.Name+"}", toolkit.ValueToString(v))
		case contractx.ParamQuery:
			query.Set(p.Name, toolkit.ValueToString(v))
		default:
			body[p.Name] = v
		}
	}
	return path, query, body, nil
}

// extractRows navigates a JSON body to the array of result rows. An empty
// rowsPath means the body itself is the array.
func extractRows(raw []byte, rowsPath []string) ([]map[string]any, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}

	for _, key := range rowsPath {
		m, ok := doc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected an object while navigating to %q", key)
		}
		doc, ok = m[key]
		if !ok {
			return nil, fmt.Errorf("response has no field %q", key)
		}
	}

	switch v := doc.(type) {
	case []any:
		rows := make([]map[string]any, 0, len(v))
		for _, item := range v {
			row, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected an array of objects")
			}
			rows = append(rows, row)
		}
		return rows, nil
	case map[string]any:
		return []map[string]any{v}, nil
	default:
		return nil, fmt.Errorf("expected an array or object, got %T", doc)
	}
}
