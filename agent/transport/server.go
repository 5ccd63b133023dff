package transport

import (
	"net/http"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	statex "github.com/arclight-systems/queryflow/agent/state"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes the chat WebSocket endpoint and a plain REST status
// endpoint over one chi.Router. Every connected session is spawned as its
// own protoactor-go actor under root, so one session's chat turn never
// blocks or crashes another's.
type Server struct {
	store  statex.Store
	driver Driver
	cfg    Config
	log    zerolog.Logger
	root   *actor.RootContext
	router chi.Router
}

func NewServer(store statex.Store, driver Driver, cfg Config, log zerolog.Logger, root *actor.RootContext) *Server {
	s := &Server{store: store, driver: driver, cfg: cfg.withDefaults(), log: log, root: root}
	s.router = s.buildRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	chain := alice.New(
		hlog.NewHandler(s.log),
		hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration", d).
				Msg("request")
		}),
		middleware.Recoverer,
	)

	r.Use(func(next http.Handler) http.Handler { return chain.Then(next) })

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws/{sessionID}", s.handleWebSocket)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sess := newSession(sessionID, conn, s.store, s.driver, s.cfg, s.log, s.root)
	sess.run(r.Context())
}
