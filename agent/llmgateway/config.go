package llmgateway

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/arclight-systems/queryflow/agent/contract"
	openrouterx "github.com/arclight-systems/queryflow/pkg/openrouter"
)

// NodeKind names the workflow node a model override applies to. It is
// broader than contract.AgentType since the planner, supervisor, and
// consolidator also call the Gateway but are not agents.
type NodeKind string

const (
	NodePlanner      NodeKind = "planner"
	NodeSQLAgent     NodeKind = "sql_agent"
	NodeRESTAgent    NodeKind = "rest_agent"
	NodeSOAPAgent    NodeKind = "soap_agent"
	NodeConsolidator NodeKind = "consolidator"
)

// Config is the top-level LLM Gateway configuration, loaded via
// pkg/config.New[Config]("LLM_GATEWAY"). Per-node overrides follow the
// teacher's per-agent-type override pattern: a shared default, optionally
// shadowed by a node-specific model/temperature.
type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.3"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	PlannerModel      string `envconfig:"PLANNER_MODEL" split_words:"true"`
	SQLAgentModel     string `envconfig:"SQL_AGENT_MODEL" split_words:"true"`
	RESTAgentModel    string `envconfig:"REST_AGENT_MODEL" split_words:"true"`
	SOAPAgentModel    string `envconfig:"SOAP_AGENT_MODEL" split_words:"true"`
	ConsolidatorModel string `envconfig:"CONSOLIDATOR_MODEL" split_words:"true"`

	PlannerTemperature      float32 `envconfig:"PLANNER_TEMPERATURE" split_words:"true" default:"-1"`
	SQLAgentTemperature     float32 `envconfig:"SQL_AGENT_TEMPERATURE" split_words:"true" default:"-1"`
	RESTAgentTemperature    float32 `envconfig:"REST_AGENT_TEMPERATURE" split_words:"true" default:"-1"`
	SOAPAgentTemperature    float32 `envconfig:"SOAP_AGENT_TEMPERATURE" split_words:"true" default:"-1"`
	ConsolidatorTemperature float32 `envconfig:"CONSOLIDATOR_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: llm gateway api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

// OpenRouterFor resolves the per-node model/temperature override, falling
// back to the shared default when unset.
func (c Config) OpenRouterFor(node NodeKind) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	switch node {
	case NodePlanner:
		if v := strings.TrimSpace(c.PlannerModel); v != "" {
			modelName = v
		}
		if c.PlannerTemperature >= 0 {
			temp = c.PlannerTemperature
		}
	case NodeSQLAgent:
		if v := strings.TrimSpace(c.SQLAgentModel); v != "" {
			modelName = v
		}
		if c.SQLAgentTemperature >= 0 {
			temp = c.SQLAgentTemperature
		}
	case NodeRESTAgent:
		if v := strings.TrimSpace(c.RESTAgentModel); v != "" {
			modelName = v
		}
		if c.RESTAgentTemperature >= 0 {
			temp = c.RESTAgentTemperature
		}
	case NodeSOAPAgent:
		if v := strings.TrimSpace(c.SOAPAgentModel); v != "" {
			modelName = v
		}
		if c.SOAPAgentTemperature >= 0 {
			temp = c.SOAPAgentTemperature
		}
	case NodeConsolidator:
		if v := strings.TrimSpace(c.ConsolidatorModel); v != "" {
			modelName = v
		}
		if c.ConsolidatorTemperature >= 0 {
			temp = c.ConsolidatorTemperature
		}
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}

// NodeBuilder adapts openrouter.Config (a Builder) for one node,
// so each node in the workflow gets its own Gateway instance sized to its
// own model override.
func NodeBuilder(cfg Config, node NodeKind) Builder {
	orCfg := cfg.OpenRouterFor(node)
	return &orCfg
}
