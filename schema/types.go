package schema

// Role identifies the author of a transcript message.
type Role string

const (
	// RoleHuman marks messages typed by the user.
	RoleHuman Role = "human"
	// RoleAssistant marks replies produced by the backend.
	RoleAssistant Role = "assistant"
)

// MessageStatus tracks whether a human message has been answered.
type MessageStatus string

const (
	// StatusPending marks a human message whose request is in flight.
	StatusPending MessageStatus = "pending"
	// StatusConfirmed marks a delivered message.
	StatusConfirmed MessageStatus = "confirmed"
	// StatusFailed marks a human message whose request failed.
	StatusFailed MessageStatus = "failed"
)

// MessageID identifies a transcript entry.
type MessageID string

// Message is a single transcript entry.
type Message struct {
	ID      MessageID     `json:"id"`
	Role    Role          `json:"role"`
	Content string        `json:"content"`
	Status  MessageStatus `json:"status"`
}

// Session is the persisted client identity. Empty strings mean unset.
type Session struct {
	Token    string `json:"token,omitempty"`
	Email    string `json:"email,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
}

// Authenticated reports whether a token is present.
func (s Session) Authenticated() bool {
	return s.Token != ""
}

// GateState is the free-message quota gate.
type GateState string

const (
	// GateOpen allows sending.
	GateOpen GateState = "open"
	// GateClosed blocks sending until the user authenticates.
	GateClosed GateState = "closed"
)
