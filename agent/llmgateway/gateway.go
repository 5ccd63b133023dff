// Package llmgateway implements the LLM Gateway: a uniform
// complete(messages, tools) surface over one or more completion providers,
// with provider-shape-agnostic text extraction.
package llmgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/arclight-systems/queryflow/agent/contract"
)

// Builder constructs the underlying tool-calling chat model. pkg/openrouter
// implements this for an OpenRouter-backed OpenAI-compatible provider; a
// second provider is wired the same way and simply appended to a Gateway's
// provider list (see NewMulti).
type Builder interface {
	New(ctx context.Context) (einomodel.ToolCallingChatModel, error)
}

// Gateway is the concrete contract.LLMGateway implementation. It holds a
// primary chat model plus, optionally, fallback providers tried in order
// if the primary fails — this is the one place multiple completion
// providers are permitted to coexist, falling through in a fixed order
// rather than branching on provider identity, applied symmetrically to
// provider selection and to text extraction.
type Gateway struct {
	providers []einomodel.ToolCallingChatModel
}

var _ contractx.LLMGateway = (*Gateway)(nil)

func New(ctx context.Context, builders ...Builder) (*Gateway, error) {
	if len(builders) == 0 {
		return nil, errors.New("llmgateway: at least one provider builder is required")
	}
	models := make([]einomodel.ToolCallingChatModel, 0, len(builders))
	for i, b := range builders {
		m, err := b.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("llmgateway: build provider %d: %w", i, err)
		}
		models = append(models, m)
	}
	return &Gateway{providers: models}, nil
}

func (g *Gateway) Complete(ctx context.Context, messages []contractx.Message, tools []contractx.ToolDescriptor) (contractx.Completion, error) {
	if err := ctx.Err(); err != nil {
		return contractx.Completion{}, fmt.Errorf("%w: %v", contractx.ErrCancelled, err)
	}

	msgs := toSchemaMessages(messages)
	toolInfos := toSchemaTools(tools)

	var lastErr error
	for _, provider := range g.providers {
		model := provider
		if len(toolInfos) > 0 {
			bound, err := provider.WithTools(toolInfos)
			if err != nil {
				lastErr = err
				continue
			}
			model = bound
		}

		out, err := model.Generate(ctx, msgs)
		if err != nil {
			if ctx.Err() != nil {
				return contractx.Completion{}, fmt.Errorf("%w: %v", contractx.ErrCancelled, ctx.Err())
			}
			lastErr = err
			continue
		}

		return toCompletion(out), nil
	}

	if lastErr == nil {
		lastErr = contractx.ErrLLMUnavailable
	}
	return contractx.Completion{}, fmt.Errorf("%w: %v", contractx.ErrLLMUnavailable, lastErr)
}

func toSchemaMessages(messages []contractx.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, schema.SystemMessage(m.Content))
		case "assistant":
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

func toSchemaTools(tools []contractx.ToolDescriptor) []*schema.ToolInfo {
	if len(tools) == 0 {
		return nil
	}
	out := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		params := make(map[string]*schema.ParameterInfo, len(t.ParameterSchema))
		for _, p := range t.ParameterSchema {
			params[p.Name] = &schema.ParameterInfo{
				Type:     toSchemaParamType(p.SemanticType),
				Desc:     p.Description,
				Required: p.Required,
			}
		}
		out = append(out, &schema.ToolInfo{
			Name:        t.Name,
			Desc:        t.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return out
}

func toSchemaParamType(t contractx.SemanticType) schema.DataType {
	switch t {
	case contractx.SemanticInt:
		return schema.Integer
	case contractx.SemanticDecimal:
		return schema.Number
	case contractx.SemanticBool:
		return schema.Boolean
	case contractx.SemanticObject:
		return schema.Object
	default:
		return schema.String
	}
}

func toCompletion(msg *schema.Message) contractx.Completion {
	c := contractx.Completion{Raw: msg}
	if msg == nil {
		return c
	}

	if text, ok := ExtractText(msg); ok {
		c.Text = text
	}

	for _, tc := range msg.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		c.ToolCalls = append(c.ToolCalls, contractx.ToolCall{
			ToolName:  tc.Function.Name,
			Arguments: args,
		})
	}
	return c
}

// ExtractText performs a fixed, ordered text extraction. It is exported
// so the Planner's LLM analysis, the Consolidator's LLM formatting path,
// and any future caller that needs plain text out of a raw completion
// shape all share one normalization function instead of scattering
// provider-shape sniffing across nodes.
//
// Strategies are tried in this fixed order and MUST NOT be reordered or
// turned into a type switch with early returns scattered elsewhere:
//  1. content blocks -> first block's text field
//  2. choices -> first choice's message content
//  3. top-level content string
//  4. top-level message.content
//  5. top-level text field
//  6. serialized JSON of the whole response
func ExtractText(raw any) (string, bool) {
	if raw == nil {
		return "", false
	}

	if msg, ok := raw.(*schema.Message); ok {
		if msg.Content != "" {
			return msg.Content, true
		}
		raw = msg
	}

	doc, ok := toGenericDoc(raw)
	if !ok {
		return serializeFallback(raw)
	}

	for _, strategy := range extractionStrategies {
		if text, ok := strategy(doc); ok {
			return text, true
		}
	}
	return serializeFallback(raw)
}

type genericDoc map[string]any

func toGenericDoc(raw any) (genericDoc, bool) {
	switch v := raw.(type) {
	case genericDoc:
		return v, true
	case map[string]any:
		return genericDoc(v), true
	default:
		blob, err := json.Marshal(raw)
		if err != nil {
			return nil, false
		}
		var m map[string]any
		if err := json.Unmarshal(blob, &m); err != nil {
			return nil, false
		}
		return genericDoc(m), true
	}
}

var extractionStrategies = []func(genericDoc) (string, bool){
	extractContentBlocks,
	extractChoices,
	extractTopLevelContent,
	extractMessageContent,
	extractTopLevelText,
}

func extractContentBlocks(doc genericDoc) (string, bool) {
	blocks, ok := doc["content"].([]any)
	if !ok || len(blocks) == 0 {
		return "", false
	}
	first, ok := blocks[0].(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := first["text"].(string)
	if !ok || text == "" {
		return "", false
	}
	return text, true
}

func extractChoices(doc genericDoc) (string, bool) {
	choices, ok := doc["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		return "", false
	}
	msg, ok := first["message"].(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := msg["content"].(string)
	if !ok || text == "" {
		return "", false
	}
	return text, true
}

func extractTopLevelContent(doc genericDoc) (string, bool) {
	text, ok := doc["content"].(string)
	if !ok || text == "" {
		return "", false
	}
	return text, true
}

func extractMessageContent(doc genericDoc) (string, bool) {
	msg, ok := doc["message"].(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := msg["content"].(string)
	if !ok || text == "" {
		return "", false
	}
	return text, true
}

func extractTopLevelText(doc genericDoc) (string, bool) {
	text, ok := doc["text"].(string)
	if !ok || text == "" {
		return "", false
	}
	return text, true
}

func serializeFallback(raw any) (string, bool) {
	blob, err := json.Marshal(raw)
	if err != nil {
		return "", false
	}
	return string(blob), true
}
