package transport

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	contractx "github.com/arclight-systems/queryflow/agent/contract"
	plannerx "github.com/arclight-systems/queryflow/agent/planner"
	statex "github.com/arclight-systems/queryflow/agent/state"
	"github.com/arclight-systems/queryflow/agent/workflow"
)

const (
	defaultIdlePing     = 30 * time.Second
	defaultMaxFrameSize = 1 << 20 // 1 MiB
	outboundBuffer      = 32
)

// Driver is the subset of workflow.Driver the session actor needs, local
// to this package to keep transport decoupled from workflow's Agent/
// Supervisor/Router/Consolidator wiring concerns.
type Driver interface {
	Run(ctx context.Context, st *statex.AgentState) <-chan workflow.Event
}

// Config holds the transport.* configuration options.
type Config struct {
	IdlePing     time.Duration
	MaxFrameSize int64
}

func (c Config) withDefaults() Config {
	if c.IdlePing <= 0 {
		c.IdlePing = defaultIdlePing
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = defaultMaxFrameSize
	}
	return c
}

// session owns one WebSocket connection: it decodes ClientMessages,
// runs one Workflow Driver call per chat message, and serializes every
// outbound ServerMessage through a single writer goroutine so ordering
// across concurrent sources (ping timer, workflow events) is never
// interleaved incorrectly.
type session struct {
	id     string
	conn   *websocket.Conn
	store  statex.Store
	driver Driver
	cfg    Config
	log    zerolog.Logger
	root   *actor.RootContext

	carriedContext map[string]any
	out            chan ServerMessage
	pid            *actor.PID
}

func newSession(id string, conn *websocket.Conn, store statex.Store, driver Driver, cfg Config, log zerolog.Logger, root *actor.RootContext) *session {
	return &session{
		id:     id,
		conn:   conn,
		store:  store,
		driver: driver,
		cfg:    cfg.withDefaults(),
		log:    log,
		root:   root,
		out:    make(chan ServerMessage, outboundBuffer),
	}
}

// run drives the connection until the client disconnects or ctx is
// cancelled. It starts the writer goroutine, sends connection_established,
// then reads frames until EOF.
func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.conn.SetReadLimit(s.cfg.MaxFrameSize)

	s.pid = s.root.Spawn(actor.PropsFromProducer(newSessionActor(s)))
	defer s.root.Poison(s.pid)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx)
	}()

	s.send(ServerMessage{Type: ServerConnectionEstablished, SessionID: s.id})

	sess, err := s.loadOrCreateSession(ctx)
	if err != nil {
		s.send(ServerMessage{Type: ServerError, ErrorKind: "INTERNAL", ErrorMessage: err.Error()})
		cancel()
		<-writerDone
		return
	}
	s.carriedContext = sess.Context

	s.readLoop(ctx)
	cancel()
	<-writerDone
}

func (s *session) loadOrCreateSession(ctx context.Context) (*statex.SessionState, error) {
	sess, err := s.store.Load(ctx, s.id)
	if err == nil {
		return sess, nil
	}
	sess = statex.NewSessionState(s.id, "", "websocket", time.Now())
	if saveErr := s.store.Save(ctx, sess); saveErr != nil {
		return nil, saveErr
	}
	return sess, nil
}

// writeLoop is the single goroutine allowed to call conn.WriteJSON,
// serializing outbound frames and the idle ping on one timer so a slow
// client backpressures the whole session (the out channel fills, and
// node-event production upstream blocks on a full channel send) rather
// than being served frames out of order.
func (s *session) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.IdlePing)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.WriteJSON(ServerMessage{Type: ServerPong, SessionID: s.id}); err != nil {
				return
			}
		case msg, ok := <-s.out:
			if !ok {
				return
			}
			if err := s.conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// send enqueues a frame for the writer goroutine. It blocks when out is
// full, which is the backpressure mechanism: a stalled client eventually
// stalls the workflow run that is producing frames faster than they can
// be written.
func (s *session) send(msg ServerMessage) {
	msg.SessionID = s.id
	s.out <- msg
}

func (s *session) readLoop(ctx context.Context) {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.send(ServerMessage{Type: ServerError, ErrorKind: "VALIDATION_ERROR", ErrorMessage: "malformed frame"})
			continue
		}

		switch msg.Type {
		case ClientPing:
			s.send(ServerMessage{Type: ServerPong})
		case ClientContextUpdate:
			s.handleContextUpdate(ctx, msg)
		case ClientChat:
			// Dispatched through the session actor's mailbox rather than
			// run inline, so a panic mid-workflow restarts the actor
			// instead of killing this connection's read loop.
			s.root.Send(s.pid, &chatRequest{ctx: ctx, msg: msg})
		default:
			s.send(ServerMessage{Type: ServerError, ErrorKind: "VALIDATION_ERROR", ErrorMessage: "unknown message type"})
		}
	}
}

func (s *session) handleContextUpdate(ctx context.Context, msg ClientMessage) {
	if len(msg.Context) == 0 {
		return
	}
	sess, err := s.store.Load(ctx, s.id)
	if err != nil {
		return
	}
	sess.MergeContext(msg.Context, time.Now())
	_ = s.store.Save(ctx, sess)
	s.carriedContext = sess.Context
}

// handleChat runs exactly one Workflow Driver call per chat message. It
// sends message_received before any workflow_progress frame (the
// ordering invariant the transport alone is responsible for), forwards
// each driver Event as workflow_progress, streams the final text as one
// or more stream_chunk frames, and closes with exactly one terminal
// stream_complete frame. Every frame for this turn carries msg.Id so a
// client can correlate out-of-order chat turns to their responses.
//
// The Consolidator's own event (Node == CONSOLIDATOR) carries an
// AgentState snapshot that may have GeneratedFilter and/or Visualization
// set; when present, each is forwarded right after that node's
// workflow_progress frame as its own additive filter_generated/
// visualization frame.
//
// The run's AgentState.Context folds this turn's inline msg.Context onto
// the session's carried context (planner.Enrich), so a one-off field on
// the chat frame itself can override a persisted context_update value for
// just this turn without mutating what's stored.
func (s *session) handleChat(ctx context.Context, msg ClientMessage) {
	s.send(ServerMessage{Type: ServerMessageReceived, Id: msg.Id})

	st := statex.NewState(msg.Text, plannerx.Enrich(s.carriedContext, msg.Context))
	events := s.driver.Run(ctx, st)

	var final string
	var partialFailure bool
	for ev := range events {
		payload, _ := json.Marshal(ev.State)
		s.send(ServerMessage{
			Type:    ServerWorkflowProgress,
			Id:      msg.Id,
			Node:    string(ev.Node),
			Payload: payload,
		})
		if ev.Node == contractx.NodeConsolidator {
			if ev.State.GeneratedFilter != nil {
				if payload, err := json.Marshal(ev.State.GeneratedFilter); err == nil {
					s.send(ServerMessage{Type: ServerFilterGenerated, Id: msg.Id, Payload: payload})
				}
			}
			if ev.State.Visualization != nil {
				if payload, err := json.Marshal(ev.State.Visualization); err == nil {
					s.send(ServerMessage{Type: ServerVisualization, Id: msg.Id, Payload: payload})
				}
			}
		}
		if ev.Node == contractx.NodeEnd {
			if ev.State.FinalResponse != nil {
				final = *ev.State.FinalResponse
			}
			partialFailure = len(ev.State.Errors) > 0
		}
	}

	for _, chunk := range chunkText(final, streamChunkWords) {
		s.send(ServerMessage{Type: ServerStreamChunk, Id: msg.Id, Text: chunk})
	}

	s.send(ServerMessage{Type: ServerStreamComplete, Id: msg.Id, Text: final, Partial: partialFailure})
	s.persistTurn(ctx, msg.Text, final, partialFailure)
}

// streamChunkWords is the number of whitespace-delimited words grouped
// into one stream_chunk frame. The Workflow Driver produces the final
// response as a single blob rather than a token stream, so chunking
// happens here at the transport boundary.
const streamChunkWords = 12

// chunkText splits text into successive groups of n words, preserving
// original whitespace within each group and never emitting an empty
// chunk. An empty or all-whitespace text yields no chunks at all.
func chunkText(text string, n int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	chunks := make([]string, 0, (len(words)+n-1)/n)
	for i := 0; i < len(words); i += n {
		end := i + n
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}
	return chunks
}

func (s *session) persistTurn(ctx context.Context, query, final string, partialFailure bool) {
	sess, err := s.store.Load(ctx, s.id)
	if err != nil {
		return
	}
	sess.AppendTurn(statex.Turn{
		Query:          query,
		FinalResponse:  final,
		PartialFailure: partialFailure,
		At:             time.Now().UTC(),
	}, time.Now())
	_ = s.store.Save(ctx, sess)
}
