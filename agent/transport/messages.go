// Package transport implements the Session Orchestrator & Transport: a
// WebSocket-framed protocol in front of the Workflow Driver, one actor per
// connected session, persisting SessionState across reconnects.
package transport

import "encoding/json"

// ClientMessageType enumerates the frames a client may send.
type ClientMessageType string

const (
	ClientChat          ClientMessageType = "chat"
	ClientContextUpdate ClientMessageType = "context_update"
	ClientPing          ClientMessageType = "ping"
)

// ClientMessage is the envelope every inbound frame is decoded into
// before dispatch on Type.
type ClientMessage struct {
	Type    ClientMessageType `json:"type"`
	Id      string            `json:"id,omitempty"`
	Text    string            `json:"text,omitempty"`
	Context map[string]any    `json:"context,omitempty"`
}

// ServerMessageType enumerates the frames the server emits. filter_generated
// and visualization are additive, non-required frames: a client that never
// sees one still receives a well-formed stream_complete.
type ServerMessageType string

const (
	ServerConnectionEstablished ServerMessageType = "connection_established"
	ServerMessageReceived       ServerMessageType = "message_received"
	ServerWorkflowProgress      ServerMessageType = "workflow_progress"
	ServerStreamChunk           ServerMessageType = "stream_chunk"
	ServerStreamComplete        ServerMessageType = "stream_complete"
	ServerFilterGenerated       ServerMessageType = "filter_generated"
	ServerVisualization         ServerMessageType = "visualization"
	ServerError                 ServerMessageType = "error"
	ServerPong                  ServerMessageType = "pong"
)

// ServerMessage is the envelope every outbound frame is encoded from.
type ServerMessage struct {
	Type         ServerMessageType `json:"type"`
	SessionID    string            `json:"session_id,omitempty"`
	Id           string            `json:"id,omitempty"`
	Node         string            `json:"node,omitempty"`
	Text         string            `json:"text,omitempty"`
	Partial      bool              `json:"partial,omitempty"`
	ErrorKind    string            `json:"error_kind,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Payload      json.RawMessage   `json:"payload,omitempty"`
}
