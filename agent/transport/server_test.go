package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	contractx "github.com/arclight-systems/queryflow/agent/contract"
	statex "github.com/arclight-systems/queryflow/agent/state"
	"github.com/arclight-systems/queryflow/agent/workflow"
)

type fakeDriver struct {
	events      []workflow.Event
	gotContexts chan map[string]any
}

func (f fakeDriver) Run(ctx context.Context, st *statex.AgentState) <-chan workflow.Event {
	if f.gotContexts != nil {
		f.gotContexts <- st.Context
	}
	ch := make(chan workflow.Event, len(f.events))
	for _, e := range f.events {
		ch <- e
	}
	close(ch)
	return ch
}

func dial(t *testing.T, server *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial() error = %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ServerMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

// TestServerSendsMessageReceivedBeforeWorkflowProgress covers the
// ordering invariant: message_received always precedes workflow_progress.
func TestServerSendsMessageReceivedBeforeWorkflowProgress(t *testing.T) {
	t.Parallel()

	final := "3 alerts found"
	driver := fakeDriver{events: []workflow.Event{
		{Node: contractx.NodeSupervisor, State: statex.AgentState{}},
		{Node: contractx.NodeEnd, State: statex.AgentState{FinalResponse: &final}},
	}}
	store := statex.NewInMemoryStore()
	root := actor.NewActorSystem().Root
	srv := NewServer(store, driver, Config{}, zerolog.Nop(), root)
	httpServer := httptest.NewServer(srv)
	defer httpServer.Close()

	conn := dial(t, httpServer, "sess-1")
	defer conn.Close()

	established := readMessage(t, conn)
	if established.Type != ServerConnectionEstablished {
		t.Fatalf("first message = %v, want connection_established", established.Type)
	}

	payload, _ := json.Marshal(ClientMessage{Type: ClientChat, Text: "show open alerts"})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	received := readMessage(t, conn)
	if received.Type != ServerMessageReceived {
		t.Fatalf("second message = %v, want message_received", received.Type)
	}

	progress := readMessage(t, conn)
	if progress.Type != ServerWorkflowProgress {
		t.Fatalf("third message = %v, want workflow_progress", progress.Type)
	}

	var lastProgress ServerMessage
	for progress.Type == ServerWorkflowProgress {
		lastProgress = progress
		progress = readMessage(t, conn)
	}
	_ = lastProgress

	// Zero or more stream_chunk frames may follow workflow_progress, but
	// none may follow stream_complete.
	for progress.Type == ServerStreamChunk {
		progress = readMessage(t, conn)
	}

	if progress.Type != ServerStreamComplete {
		t.Fatalf("final message = %v, want stream_complete", progress.Type)
	}
	if progress.Text != final {
		t.Fatalf("stream_complete.Text = %q, want %q", progress.Text, final)
	}
}

// TestServerRoundTripsChatIdAcrossEveryFrame covers Testable Property #6:
// for every chat {id}, every frame the server emits for that turn
// (message_received, workflow_progress, stream_chunk, stream_complete)
// carries the same id back to the client.
func TestServerRoundTripsChatIdAcrossEveryFrame(t *testing.T) {
	t.Parallel()

	final := "alerts found across many systems today in total"
	driver := fakeDriver{events: []workflow.Event{
		{Node: contractx.NodeSupervisor, State: statex.AgentState{}},
		{Node: contractx.NodeEnd, State: statex.AgentState{FinalResponse: &final}},
	}}
	store := statex.NewInMemoryStore()
	root := actor.NewActorSystem().Root
	srv := NewServer(store, driver, Config{}, zerolog.Nop(), root)
	httpServer := httptest.NewServer(srv)
	defer httpServer.Close()

	conn := dial(t, httpServer, "sess-3")
	defer conn.Close()
	readMessage(t, conn) // connection_established

	const wantID = "turn-42"
	payload, _ := json.Marshal(ClientMessage{Type: ClientChat, Id: wantID, Text: "show open alerts"})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	sawStreamComplete := false
	for !sawStreamComplete {
		msg := readMessage(t, conn)
		switch msg.Type {
		case ServerMessageReceived, ServerWorkflowProgress, ServerStreamChunk, ServerStreamComplete:
			if msg.Id != wantID {
				t.Fatalf("%s.Id = %q, want %q", msg.Type, msg.Id, wantID)
			}
			if msg.Type == ServerStreamComplete {
				sawStreamComplete = true
			}
		default:
			t.Fatalf("unexpected frame type %v before stream_complete", msg.Type)
		}
	}
}

// TestServerFoldsChatFrameContextOntoCarriedContext covers context
// enrichment: a chat frame's inline context overrides/extends the
// session's persisted context for that one run's AgentState.
func TestServerFoldsChatFrameContextOntoCarriedContext(t *testing.T) {
	t.Parallel()

	store := statex.NewInMemoryStore()
	sess := statex.NewSessionState("sess-4", "", "websocket", time.Now())
	sess.Context = map[string]any{"department": "engineering", "prior_entity": "alerts"}
	if err := store.Save(context.Background(), sess); err != nil {
		t.Fatalf("store.Save() error = %v", err)
	}

	final := "done"
	gotContexts := make(chan map[string]any, 1)
	driver := fakeDriver{
		events: []workflow.Event{
			{Node: contractx.NodeEnd, State: statex.AgentState{FinalResponse: &final}},
		},
		gotContexts: gotContexts,
	}
	root := actor.NewActorSystem().Root
	srv := NewServer(store, driver, Config{}, zerolog.Nop(), root)
	httpServer := httptest.NewServer(srv)
	defer httpServer.Close()

	conn := dial(t, httpServer, "sess-4")
	defer conn.Close()
	readMessage(t, conn) // connection_established

	payload, _ := json.Marshal(ClientMessage{
		Type:    ClientChat,
		Text:    "show open alerts",
		Context: map[string]any{"prior_entity": "orders"},
	})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	select {
	case got := <-gotContexts:
		if got["department"] != "engineering" {
			t.Fatalf("context[department] = %v, want engineering to survive from carried context", got["department"])
		}
		if got["prior_entity"] != "orders" {
			t.Fatalf("context[prior_entity] = %v, want orders to win from the chat frame's inline context", got["prior_entity"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for driver.Run to be called")
	}
}

// TestServerEmitsFilterGeneratedAndVisualizationFrames covers the
// Consolidator's additive event types: when a CONSOLIDATOR event's
// AgentState carries GeneratedFilter/Visualization, the server forwards
// each as its own frame before stream_complete.
func TestServerEmitsFilterGeneratedAndVisualizationFrames(t *testing.T) {
	t.Parallel()

	final := "2 alerts found"
	filter := &contractx.FilterSpec{Column: "status", Operator: "=", Value: "Open"}
	viz := &contractx.VisualizationSpec{Type: "bar", XColumn: "status", YColumn: "count"}
	driver := fakeDriver{events: []workflow.Event{
		{Node: contractx.NodeConsolidator, State: statex.AgentState{GeneratedFilter: filter, Visualization: viz}},
		{Node: contractx.NodeEnd, State: statex.AgentState{FinalResponse: &final}},
	}}
	store := statex.NewInMemoryStore()
	root := actor.NewActorSystem().Root
	srv := NewServer(store, driver, Config{}, zerolog.Nop(), root)
	httpServer := httptest.NewServer(srv)
	defer httpServer.Close()

	conn := dial(t, httpServer, "sess-5")
	defer conn.Close()
	readMessage(t, conn) // connection_established

	payload, _ := json.Marshal(ClientMessage{Type: ClientChat, Text: "show open alerts"})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	var sawFilter, sawViz bool
	for {
		msg := readMessage(t, conn)
		switch msg.Type {
		case ServerFilterGenerated:
			sawFilter = true
			var got contractx.FilterSpec
			if err := json.Unmarshal(msg.Payload, &got); err != nil {
				t.Fatalf("unmarshal filter_generated payload: %v", err)
			}
			if got != *filter {
				t.Fatalf("filter_generated payload = %+v, want %+v", got, *filter)
			}
		case ServerVisualization:
			sawViz = true
			var got contractx.VisualizationSpec
			if err := json.Unmarshal(msg.Payload, &got); err != nil {
				t.Fatalf("unmarshal visualization payload: %v", err)
			}
			if got.Type != viz.Type || got.XColumn != viz.XColumn || got.YColumn != viz.YColumn {
				t.Fatalf("visualization payload = %+v, want %+v", got, *viz)
			}
		case ServerStreamComplete:
			if !sawFilter || !sawViz {
				t.Fatalf("stream_complete arrived before both additive frames: filter=%v viz=%v", sawFilter, sawViz)
			}
			return
		}
	}
}

func TestServerRespondsToPing(t *testing.T) {
	t.Parallel()

	store := statex.NewInMemoryStore()
	root := actor.NewActorSystem().Root
	srv := NewServer(store, fakeDriver{}, Config{}, zerolog.Nop(), root)
	httpServer := httptest.NewServer(srv)
	defer httpServer.Close()

	conn := dial(t, httpServer, "sess-2")
	defer conn.Close()
	readMessage(t, conn) // connection_established

	payload, _ := json.Marshal(ClientMessage{Type: ClientPing})
	conn.WriteMessage(websocket.TextMessage, payload)

	pong := readMessage(t, conn)
	if pong.Type != ServerPong {
		t.Fatalf("response = %v, want pong", pong.Type)
	}
}
