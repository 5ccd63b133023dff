package contract

import "time"

// AgentType identifies which specialized agent executes a Step.
type AgentType string

const (
	AgentTypeSQL  AgentType = "SQL_AGENT"
	AgentTypeREST AgentType = "REST_AGENT"
	AgentTypeSOAP AgentType = "SOAP_AGENT"
)

// DataSourceClass names a backend family. One-to-one with AgentType.
type DataSourceClass string

const (
	DataSourceRelationalDB DataSourceClass = "RELATIONAL_DB"
	DataSourceRESTAPI      DataSourceClass = "REST_API"
	DataSourceSOAPAPI      DataSourceClass = "SOAP_API"
)

// DataSourceClassFor returns the DataSourceClass paired with an AgentType.
func DataSourceClassFor(t AgentType) DataSourceClass {
	switch t {
	case AgentTypeSQL:
		return DataSourceRelationalDB
	case AgentTypeREST:
		return DataSourceRESTAPI
	case AgentTypeSOAP:
		return DataSourceSOAPAPI
	default:
		return ""
	}
}

// AgentTypeFor returns the AgentType paired with a DataSourceClass.
func AgentTypeFor(c DataSourceClass) AgentType {
	switch c {
	case DataSourceRelationalDB:
		return AgentTypeSQL
	case DataSourceRESTAPI:
		return AgentTypeREST
	case DataSourceSOAPAPI:
		return AgentTypeSOAP
	default:
		return ""
	}
}

// NodeName is a node in the workflow graph, as returned by the Router.
type NodeName string

const (
	NodeSupervisor   NodeName = "SUPERVISOR"
	NodeSQLAgent     NodeName = "SQL_AGENT"
	NodeRESTAgent    NodeName = "REST_AGENT"
	NodeSOAPAgent    NodeName = "SOAP_AGENT"
	NodeConsolidator NodeName = "CONSOLIDATOR"
	NodeEnd          NodeName = "END"
)

// NextAgent is the routing hint AgentState carries between Supervisor visits.
type NextAgent string

const (
	NextAgentConsolidate NextAgent = "CONSOLIDATE"
	NextAgentEnd         NextAgent = "END"
)

func NextAgentFromAgentType(t AgentType) NextAgent { return NextAgent(t) }

// ParamKind is where a tool parameter is bound in the underlying call.
type ParamKind string

const (
	ParamPath       ParamKind = "path"
	ParamQuery      ParamKind = "query"
	ParamBody       ParamKind = "body"
	ParamHeader     ParamKind = "header"
	ParamPositional ParamKind = "positional"
)

// SemanticType is the value type of a bound parameter.
type SemanticType string

const (
	SemanticString  SemanticType = "string"
	SemanticInt     SemanticType = "int"
	SemanticDecimal SemanticType = "decimal"
	SemanticBool    SemanticType = "bool"
	SemanticDate    SemanticType = "date"
	SemanticObject  SemanticType = "object"
)

// ParameterSpec describes one entry in a ToolDescriptor's parameter_schema.
type ParameterSpec struct {
	Name         string       `json:"name"`
	Kind         ParamKind    `json:"kind"`
	SemanticType SemanticType `json:"semantic_type"`
	Required     bool         `json:"required"`
	Default      any          `json:"default,omitempty"`
	Description  string       `json:"description,omitempty"`
}

// Capability is a coarse verb a tool supports.
type Capability string

const (
	CapabilityRead       Capability = "read"
	CapabilityWrite      Capability = "write"
	CapabilityAggregate  Capability = "aggregate"
	CapabilityLookupByID Capability = "lookup_by_id"
	CapabilitySearch     Capability = "search"
)

// ToolDescriptor is the immutable registry entry for one backend capability.
// Invoke is resolved by the registry at registration time and never exposed
// in the descriptor's JSON form.
type ToolDescriptor struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Keywords        []string        `json:"keywords,omitempty"`
	DataSourceClass DataSourceClass `json:"data_source_class"`
	ParameterSchema []ParameterSpec `json:"parameter_schema"`
	Capabilities    []Capability    `json:"capabilities,omitempty"`
	Priority        int             `json:"priority"`
}

// ToolResult is what a Tool.Invoke call produces on success.
type ToolResult struct {
	Rows      []map[string]any `json:"rows"`
	Raw       any              `json:"raw,omitempty"`
	SourceTag string           `json:"source_tag"`
}

// ToolErrorKind enumerates the ways a Tool.Invoke call can fail.
type ToolErrorKind string

const (
	ToolErrUnauthorized   ToolErrorKind = "UNAUTHORIZED"
	ToolErrNotFound       ToolErrorKind = "NOT_FOUND"
	ToolErrBadRequest     ToolErrorKind = "BAD_REQUEST"
	ToolErrUpstreamError  ToolErrorKind = "UPSTREAM_ERROR"
	ToolErrTimeout        ToolErrorKind = "TIMEOUT"
	ToolErrSchemaMismatch ToolErrorKind = "SCHEMA_MISMATCH"
)

// ToolError is the failure shape returned by Tool.Invoke.
type ToolError struct {
	Kind    ToolErrorKind
	Message string
}

func (e *ToolError) Error() string { return string(e.Kind) + ": " + e.Message }

// StepStatus tracks one Step's progress through a run.
type StepStatus string

const (
	StepPending  StepStatus = "PENDING"
	StepInFlight StepStatus = "IN_FLIGHT"
	StepDone     StepStatus = "DONE"
	StepFailed   StepStatus = "FAILED"
	StepSkipped  StepStatus = "SKIPPED"
)

// Step is one planned action in a Plan.
type Step struct {
	StepNumber      int             `json:"step_number"`
	Description     string          `json:"description"`
	AgentType       AgentType       `json:"agent_type"`
	DataSourceClass DataSourceClass `json:"data_source_class"`
	DependsOn       []int           `json:"depends_on,omitempty"`
	ParameterHints  map[string]any  `json:"parameter_hints,omitempty"`
	Status          StepStatus      `json:"status"`
}

// EstimatedComplexity is the Planner's coarse size estimate for a Plan.
type EstimatedComplexity string

const (
	ComplexityLow    EstimatedComplexity = "low"
	ComplexityMedium EstimatedComplexity = "med"
	ComplexityHigh   EstimatedComplexity = "high"
)

// Plan is immutable once created, except for Steps[i].Status.
type Plan struct {
	PlanID                string              `json:"plan_id"`
	Query                 string              `json:"query"`
	Steps                 []Step              `json:"steps"`
	RequiresConsolidation bool                `json:"requires_consolidation"`
	EstimatedComplexity   EstimatedComplexity `json:"estimated_complexity"`
	Notes                 map[string]any      `json:"notes,omitempty"`
}

// FilterSpec describes a tabular filter the Consolidator inferred the
// query implies, surfaced to the client as a filter_generated frame so a
// UI can pre-populate a filter control instead of the user re-deriving it
// from prose.
type FilterSpec struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// VisualizationSpec describes a chart the Consolidator judged the
// consolidated rows plausible for, surfaced to the client as a
// visualization frame alongside (never instead of) the text response.
type VisualizationSpec struct {
	Type    string   `json:"type"`
	XColumn string   `json:"x_column"`
	YColumn string   `json:"y_column"`
	Columns []string `json:"columns"`
}

// ErrorKind is the taxonomy used in AgentState.Errors and AgentResult.Error.
type ErrorKind string

const (
	ErrKindValidation       ErrorKind = "VALIDATION_ERROR"
	ErrKindPlan             ErrorKind = "PLAN_ERROR"
	ErrKindDependencyUnmet  ErrorKind = "DEPENDENCY_UNMET"
	ErrKindToolNotFound     ErrorKind = "TOOL_NOT_FOUND"
	ErrKindUpstreamError    ErrorKind = "UPSTREAM_ERROR"
	ErrKindTimeout          ErrorKind = "TIMEOUT"
	ErrKindDeadlineExceeded ErrorKind = "DEADLINE_EXCEEDED"
	ErrKindCancelled        ErrorKind = "CANCELLED"
	ErrKindInternal         ErrorKind = "INTERNAL"
)

// AgentResult is what a Specialized Agent appends to state after one Step.
type AgentResult struct {
	StepNumber int              `json:"step_number"`
	AgentType  AgentType        `json:"agent_type"`
	ToolName   string           `json:"tool_name"`
	OK         bool             `json:"ok"`
	Rows       []map[string]any `json:"rows,omitempty"`
	Error      *ErrorKind       `json:"error,omitempty"`
	LatencyMS  int64            `json:"latency_ms"`
}

// RunError is one entry in AgentState.Errors.
type RunError struct {
	StepNumber int       `json:"step_number"`
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// Completion is the LLM Gateway's normalized response shape.
type Completion struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Raw       any        `json:"-"`
}

// ToolCall is one tool invocation the model chose to make.
type ToolCall struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is a single turn fed to the LLM Gateway.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
