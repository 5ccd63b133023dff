package main

import (
	"context"
	stdsql "database/sql"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/arclight-systems/queryflow/agent/consolidator"
	contractx "github.com/arclight-systems/queryflow/agent/contract"
	"github.com/arclight-systems/queryflow/agent/llmgateway"
	"github.com/arclight-systems/queryflow/agent/planner"
	"github.com/arclight-systems/queryflow/agent/prompt"
	"github.com/arclight-systems/queryflow/agent/registry"
	"github.com/arclight-systems/queryflow/agent/router"
	"github.com/arclight-systems/queryflow/agent/specialists"
	statex "github.com/arclight-systems/queryflow/agent/state"
	"github.com/arclight-systems/queryflow/agent/supervisor"
	restkit "github.com/arclight-systems/queryflow/agent/toolkit/rest"
	soapkit "github.com/arclight-systems/queryflow/agent/toolkit/soap"
	sqlkit "github.com/arclight-systems/queryflow/agent/toolkit/sql"
	"github.com/arclight-systems/queryflow/agent/transport"
	"github.com/arclight-systems/queryflow/agent/workflow"
	configx "github.com/arclight-systems/queryflow/pkg/config"
	logx "github.com/arclight-systems/queryflow/pkg/logger"
)

// AppConfig holds the process-level settings that don't belong to any one
// component: where to bind HTTP, which session store backs the Session
// Orchestrator, and the shared logger mode.
type AppConfig struct {
	HTTPAddr     string `envconfig:"HTTP_ADDR" split_words:"true" default:":8080"`
	Debug        bool   `envconfig:"DEBUG" default:"false"`
	PrettyLog    bool   `envconfig:"PRETTY_LOG" split_words:"true" default:"false"`
	SessionStore string `envconfig:"SESSION_STORE" split_words:"true" default:"memory"` // memory | postgres
}

// WorkflowEnvConfig mirrors workflow.Config in plain seconds, since the
// Driver's own Config type is duration-typed and carries no env tags.
type WorkflowEnvConfig struct {
	NodeTimeoutSeconds     int    `envconfig:"NODE_TIMEOUT_SECONDS" split_words:"true" default:"60"`
	OverallDeadlineSeconds int    `envconfig:"OVERALL_DEADLINE_SECONDS" split_words:"true" default:"300"`
	MaxIterations          int    `envconfig:"MAX_ITERATIONS" split_words:"true" default:"10"`
	UnknownNodePolicy      string `envconfig:"UNKNOWN_NODE_POLICY" split_words:"true" default:"end"`
}

func (c WorkflowEnvConfig) toDriverConfig() workflow.Config {
	return workflow.Config{
		NodeTimeout:     time.Duration(c.NodeTimeoutSeconds) * time.Second,
		OverallDeadline: time.Duration(c.OverallDeadlineSeconds) * time.Second,
		MaxIterations:   c.MaxIterations,
	}
}

// TransportEnvConfig mirrors transport.Config the same way.
type TransportEnvConfig struct {
	IdlePingSeconds int   `envconfig:"IDLE_PING_SECONDS" split_words:"true" default:"30"`
	MaxFrameBytes   int64 `envconfig:"MAX_FRAME_BYTES" split_words:"true" default:"1048576"`
}

func (c TransportEnvConfig) toServerConfig() transport.Config {
	return transport.Config{
		IdlePing:     time.Duration(c.IdlePingSeconds) * time.Second,
		MaxFrameSize: c.MaxFrameBytes,
	}
}

// ConsolidatorEnvConfig mirrors consolidator.Config's numeric knob.
type ConsolidatorEnvConfig struct {
	LLMRowCap int `envconfig:"LLM_ROW_CAP" split_words:"true" default:"500"`
}

// RegistryEnvConfig mirrors registry.Config.
type RegistryEnvConfig struct {
	BlendWeight float64 `envconfig:"BLEND_WEIGHT" split_words:"true" default:"1.0"`
}

func main() {
	appCfg := configx.MustNew[AppConfig]("")
	logx.Init(logx.Config{Debug: appCfg.Debug, PrettyFormat: appCfg.PrettyLog})

	llmCfg := configx.MustNew[llmgateway.Config]("LLM_GATEWAY")
	if err := llmCfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid llm gateway configuration")
	}
	workflowCfg := configx.MustNew[WorkflowEnvConfig]("WORKFLOW")
	transportCfg := configx.MustNew[TransportEnvConfig]("TRANSPORT")
	consolidatorCfg := configx.MustNew[ConsolidatorEnvConfig]("CONSOLIDATOR")
	registryCfg := configx.MustNew[RegistryEnvConfig]("REGISTRY")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *bun.DB
	if strings.EqualFold(appCfg.SessionStore, "postgres") {
		dbCfg := configx.MustNew[statex.BunStoreConfig]("DB")
		var err error
		db, err = openBunDB(*dbCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open database connection")
		}
	}

	store, err := buildSessionStore(appCfg.SessionStore, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize session store")
	}

	reg := registry.New(nil, registry.Config{BlendWeight: registryCfg.BlendWeight})
	catalogue := registerExampleTools(reg, db)

	prompts := prompt.LoadPromptSet()

	gateways, err := buildGateways(ctx, *llmCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize llm gateway providers")
	}

	exPlanner := planner.New(gateways[llmgateway.NodePlanner], prompts.Planner)
	sup := supervisor.New(exPlanner)
	rtr := router.New(router.UnknownNodePolicy(workflowCfg.UnknownNodePolicy))
	cons := consolidator.New(gateways[llmgateway.NodeConsolidator], consolidator.Config{
		LLMRowCap:    consolidatorCfg.LLMRowCap,
		SystemPrompt: prompts.Consolidator,
	})

	agents := map[contractx.AgentType]workflow.Agent{
		contractx.AgentTypeSQL:  specialists.New(contractx.AgentTypeSQL, reg, gateways[llmgateway.NodeSQLAgent], prompts.SQLAgent),
		contractx.AgentTypeREST: specialists.New(contractx.AgentTypeREST, reg, gateways[llmgateway.NodeRESTAgent], prompts.RESTAgent),
		contractx.AgentTypeSOAP: specialists.New(contractx.AgentTypeSOAP, reg, gateways[llmgateway.NodeSOAPAgent], prompts.SOAPAgent),
	}

	driver := workflow.New(sup, rtr, cons, agents, catalogue, workflowCfg.toDriverConfig())

	actorRoot := actor.NewActorSystem().Root
	srv := transport.NewServer(store, driver, transportCfg.toServerConfig(), log.Logger, actorRoot)

	httpServer := &http.Server{
		Addr:    appCfg.HTTPAddr,
		Handler: srv,
	}

	go func() {
		log.Info().Str("addr", appCfg.HTTPAddr).Msg("transport server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("transport server crashed")
		}
	}()

	<-ctx.Done()
	stop()
	log.Info().Msg("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("transport server forced to shutdown")
	}

	log.Info().Msg("server exiting")
}

func buildSessionStore(driver string, db *bun.DB) (statex.Store, error) {
	if strings.EqualFold(driver, "postgres") {
		return statex.NewBunStoreFromDB(db)
	}
	return statex.NewInMemoryStore(), nil
}

// openBunDB opens the shared connection pool backing both the Session
// Orchestrator's persistence and the SQL toolkit adapter, so a deployment
// running against Postgres pays for one pool, not two.
func openBunDB(cfg statex.BunStoreConfig) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	sqldb := stdsql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func buildGateways(ctx context.Context, cfg llmgateway.Config) (map[llmgateway.NodeKind]*llmgateway.Gateway, error) {
	nodes := []llmgateway.NodeKind{
		llmgateway.NodePlanner,
		llmgateway.NodeSQLAgent,
		llmgateway.NodeRESTAgent,
		llmgateway.NodeSOAPAgent,
		llmgateway.NodeConsolidator,
	}
	out := make(map[llmgateway.NodeKind]*llmgateway.Gateway, len(nodes))
	for _, n := range nodes {
		gw, err := llmgateway.New(ctx, llmgateway.NodeBuilder(cfg, n))
		if err != nil {
			return nil, err
		}
		out[n] = gw
	}
	return out, nil
}

// registerExampleTools wires one representative tool per backend family
// into the registry. A deployment replaces this with its own endpoint and
// schema catalogue; loading that catalogue from an external definition is
// outside this module's concern.
func registerExampleTools(reg *registry.Registry, db *bun.DB) []contractx.ToolDescriptor {
	var catalogue []contractx.ToolDescriptor

	if db != nil {
		ordersDescriptor := contractx.ToolDescriptor{
			Name:            "orders_by_status",
			Description:     "Look up orders filtered by their current status.",
			Keywords:        []string{"order", "orders", "status"},
			DataSourceClass: contractx.DataSourceRelationalDB,
			ParameterSchema: []contractx.ParameterSpec{
				{Name: "status", Kind: contractx.ParamPositional, SemanticType: contractx.SemanticString, Required: true, Description: "order status to filter by"},
			},
			Capabilities: []contractx.Capability{contractx.CapabilityRead, contractx.CapabilitySearch},
			Priority:     10,
		}
		ordersTool := sqlkit.New(ordersDescriptor, db, "SELECT id, status, total FROM orders WHERE status = ?")
		if err := reg.Register(ordersDescriptor, ordersTool); err == nil {
			catalogue = append(catalogue, ordersDescriptor)
		}
	}

	alertsDescriptor := contractx.ToolDescriptor{
		Name:            "open_alerts",
		Description:     "Fetch currently open alerts from the monitoring API.",
		Keywords:        []string{"alert", "alerts", "open", "monitoring"},
		DataSourceClass: contractx.DataSourceRESTAPI,
		ParameterSchema: []contractx.ParameterSpec{
			{Name: "severity", Kind: contractx.ParamQuery, SemanticType: contractx.SemanticString, Required: false, Description: "minimum severity to include"},
		},
		Capabilities: []contractx.Capability{contractx.CapabilityRead, contractx.CapabilitySearch},
		Priority:     10,
	}
	alertsTool := restkit.New(alertsDescriptor, "https://monitoring.internal", http.MethodGet, "/v1/alerts", restkit.WithRowsPath("alerts"))
	if err := reg.Register(alertsDescriptor, alertsTool); err == nil {
		catalogue = append(catalogue, alertsDescriptor)
	}

	orderStatusDescriptor := contractx.ToolDescriptor{
		Name:            "legacy_order_status",
		Description:     "Look up a single order's shipping status from the legacy SOAP order service.",
		Keywords:        []string{"order", "shipping", "legacy", "soap"},
		DataSourceClass: contractx.DataSourceSOAPAPI,
		ParameterSchema: []contractx.ParameterSpec{
			{Name: "OrderID", Kind: contractx.ParamPositional, SemanticType: contractx.SemanticString, Required: true, Description: "order identifier"},
		},
		Capabilities: []contractx.Capability{contractx.CapabilityRead, contractx.CapabilityLookupByID},
		Priority:     5,
	}
	orderStatusTool := soapkit.New(orderStatusDescriptor, "https://orders.internal/soap", "urn:GetOrderStatus", "GetOrderStatus", "urn:orders",
		soapkit.WithResponsePath("Orders", "Order"))
	if err := reg.Register(orderStatusDescriptor, orderStatusTool); err == nil {
		catalogue = append(catalogue, orderStatusDescriptor)
	}

	return catalogue
}
