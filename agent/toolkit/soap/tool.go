// Package soap adapts a single, fixed SOAP operation to the contract.Tool
// interface for the SOAP_API data source class. No SOAP client library
// was present across the retrieved examples, so this package is built
// directly on net/http and encoding/xml.
package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	contractx "github.com/arclight-systems/queryflow/agent/contract"
	"github.com/arclight-systems/queryflow/agent/toolkit"
)

// envelope is the minimal SOAP 1.1 request wrapper: a fixed operation
// element whose children are the bound parameters, in schema order.
type envelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	NSSoap  string   `xml:"xmlns:soapenv,attr"`
	Body    envBody  `xml:"soapenv:Body"`
}

type envBody struct {
	Operation operationElem `xml:",any"`
}

type operationElem struct {
	XMLName xml.Name
	Fields  []fieldElem
}

type fieldElem struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

func (o operationElem) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	start := xml.StartElement{Name: o.XMLName}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	for _, f := range o.Fields {
		if err := enc.Encode(f); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// Tool binds one ToolDescriptor to a single SOAP operation at a fixed
// endpoint. The operation's name and namespace never vary at runtime, per
// the SOAP agent's fixed-identity dispatch.
type Tool struct {
	descriptor   contractx.ToolDescriptor
	client       *http.Client
	endpoint     string
	soapAction   string
	operation    string
	operationNS  string
	responsePath []string // element path, in order, to the repeated result element
}

type Option func(*Tool)

func WithClient(c *http.Client) Option { return func(t *Tool) { t.client = c } }

func WithResponsePath(path ...string) Option {
	return func(t *Tool) { t.responsePath = path }
}

func New(descriptor contractx.ToolDescriptor, endpoint, soapAction, operation, operationNS string, opts ...Option) *Tool {
	t := &Tool{
		descriptor:  descriptor,
		client:      &http.Client{Timeout: 20 * time.Second},
		endpoint:    endpoint,
		soapAction:  soapAction,
		operation:   operation,
		operationNS: operationNS,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tool) Descriptor() contractx.ToolDescriptor { return t.descriptor }

func (t *Tool) Invoke(ctx context.Context, args map[string]any) (contractx.ToolResult, error) {
	fields, err := bindFields(t.descriptor.ParameterSchema, args)
	if err != nil {
		return contractx.ToolResult{}, &contractx.ToolError{Kind: contractx.ToolErrBadRequest, Message: err.Error()}
	}

	payload := envelope{
		NSSoap: "http://schemas.xmlsoap.org/soap/envelope/",
		Body: envBody{Operation: operationElem{
			XMLName: xml.Name{Local: "tns:" + t.operation},
			Fields:  fields,
		}},
	}
	body, err := xml.Marshal(payload)
	if err != nil {
		return contractx.ToolResult{}, &contractx.ToolError{Kind: contractx.ToolErrBadRequest, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return contractx.ToolResult{}, &contractx.ToolError{Kind: contractx.ToolErrBadRequest, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", t.soapAction)

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

	if resp.StatusCode >= http.StatusInternalServerError {
		return contractx.ToolResult{}, &contractx.ToolError{Kind: contractx.ToolErrUpstreamError, Message: string(raw)}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return contractx.ToolResult{}, &contractx.ToolError{Kind: contractx.ToolErrBadRequest, Message: string(raw)}
	}

	rows, err := extractRows(raw, t.responsePath)
	if err != nil {
		return contractx.ToolResult{}, &contractx.ToolError{Kind: contractx.ToolErrSchemaMismatch, Message: err.Error()}
	}

	return contractx.ToolResult{Rows: rows, Raw: string(raw), SourceTag: t.descriptor.Name}, nil
}

func bindFields(schema []contractx.ParameterSpec, args map[string]any) ([]fieldElem, error) {
	fields := make([]fieldElem, 0, len(schema))
	for _, p := range schema {
		v, _, err := toolkit.ResolveValue(p, args)
		if err != nil {
			return nil, err
		}
		fields = append(fields, fieldElem{XMLName: xml.Name{Local: p.Name}, Value: toolkit.ValueToString(v)})
	}
	return fields, nil
}

// xmlElement is a generic decode target: any element's text content plus
// its children, recursively, used to walk to the repeated result element
// without a response-specific generated type.
type xmlElement struct {
	XMLName  xml.Name
	Content  string       `xml:",chardata"`
	Children []xmlElement `xml:",any"`
}

// extractRows decodes the raw SOAP response and flattens each element
// found at responsePath into a row keyed by child element name. Each path
// step matches the nearest descendants with that local name (compared
// case-insensitively), so the path may skip wrapper elements such as the
// SOAP Envelope, Body and operation response.
func extractRows(raw []byte, responsePath []string) ([]map[string]any, error) {
	var root xmlElement
	if err := xml.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("response is not valid XML: %w", err)
	}

	nodes := []xmlElement{root}
	for _, name := range responsePath {
		var next []xmlElement
		var collect func(n xmlElement)
		collect = func(n xmlElement) {
			for _, c := range n.Children {
				if strings.EqualFold(localName(c.XMLName.Local), name) {
					next = append(next, c)
				} else {
					collect(c)
				}
			}
		}
		for _, n := range nodes {
			collect(n)
		}
		nodes = next
		if nodes == nil {
			return nil, fmt.Errorf("no element named %q found while walking the response", name)
		}
	}

	rows := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		row := map[string]any{}
		if len(n.Children) == 0 {
			row[localName(n.XMLName.Local)] = strings.TrimSpace(n.Content)
			rows = append(rows, row)
			continue
		}
		for _, c := range n.Children {
			row[localName(c.XMLName.Local)] = strings.TrimSpace(c.Content)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func localName(name string) string {
	if i := strings.Index(name, ":"); i >= 0 {
		return name[i+1:]
	}
	return name
}
