package contract

import "context"

// Tool is an opaque capability with a typed descriptor and an invoke
// method. Agents never introspect concrete tool types.
type Tool interface {
	Descriptor() ToolDescriptor
	Invoke(ctx context.Context, args map[string]any) (ToolResult, error)
}

// RankedTool is one entry in a Registry.Rank result.
type RankedTool struct {
	Descriptor ToolDescriptor
	Score      float64
}

// Registry answers ranked tool lookups and is read-mostly at runtime;
// writes (Register) only happen at startup.
type Registry interface {
	Register(descriptor ToolDescriptor, tool Tool) error
	Rank(ctx context.Context, queryText string, filter *DataSourceClass) ([]RankedTool, error)
	Get(name string) (Tool, bool)
	ListByClass(c DataSourceClass) []ToolDescriptor
}

// LLMGateway is the uniform surface over one or more completion providers.
type LLMGateway interface {
	Complete(ctx context.Context, messages []Message, tools []ToolDescriptor) (Completion, error)
}

// Planner turns a query, optional context, and tool catalogue into a Plan.
type Planner interface {
	Plan(ctx context.Context, query string, callerContext map[string]any, catalogue []ToolDescriptor) (Plan, error)
}
