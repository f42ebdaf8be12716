package core

import (
	"context"

	"pkt.systems/paveurpath/schema"
	"pkt.systems/pslog"
)

// ChatTransport delivers a chat request to the backend.
type ChatTransport interface {
	Chat(ctx context.Context, req schema.ChatRequest) (schema.ChatResponse, error)
}

// AuthTransport performs account requests against the backend.
type AuthTransport interface {
	SignIn(ctx context.Context, req schema.SignInRequest) (schema.SignInResponse, error)
	SignUp(ctx context.Context, req schema.SignUpRequest) error
}

// SessionStore is the subset of the session store used by core.
type SessionStore interface {
	Snapshot() schema.Session
	SetAuth(token, email string)
	SetThreadID(threadID string)
	ClearAuth()
	Subscribe(listener func(event schema.SessionEvent)) func()
}

// ControllerDeps captures dependencies for the chat controller.
type ControllerDeps struct {
	Transport ChatTransport
	Session   SessionStore
	EventSink EventSink
	Logger    pslog.Logger
}

// AuthDeps captures dependencies for the auth service.
type AuthDeps struct {
	Transport AuthTransport
	Session   SessionStore
	Logger    pslog.Logger
}
