package transport

import (
	"context"

	"github.com/asynkron/protoactor-go/actor"
)

// chatRequest is the one message type the session actor accepts: a decoded
// chat frame plus the connection's context, carried across the actor
// mailbox instead of a bare goroutine so a panicking chat turn is isolated
// and restarted rather than taking the whole session down.
type chatRequest struct {
	ctx context.Context
	msg ClientMessage
}

// sessionActor owns exactly one session's chat turns: protoactor-go's
// mailbox already serializes delivery, so handleChat never needs its own
// locking even though multiple chat frames could otherwise race.
type sessionActor struct {
	s *session
}

func (a *sessionActor) Receive(ac actor.Context) {
	switch msg := ac.Message().(type) {
	case *chatRequest:
		a.s.handleChat(msg.ctx, msg.msg)
	case *actor.Started, *actor.Stopping, *actor.Stopped, *actor.Restarting:
		// lifecycle notifications; the session itself owns all state that
		// would need to be persisted across a restart.
	}
}

func newSessionActor(s *session) actor.Producer {
	return func() actor.Actor { return &sessionActor{s: s} }
}
