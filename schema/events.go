package schema

// SessionEvent reports a SessionStore transition.
type SessionEvent struct {
	Previous Session
	Current  Session
}

// SignedIn reports an unauthenticated to authenticated transition.
func (e SessionEvent) SignedIn() bool {
	return !e.Previous.Authenticated() && e.Current.Authenticated()
}

// SignedOut reports an authenticated to unauthenticated transition.
func (e SessionEvent) SignedOut() bool {
	return e.Previous.Authenticated() && !e.Current.Authenticated()
}

// MessageEventType classifies transcript updates.
type MessageEventType string

const (
	// MessageAppended is emitted when an entry is added.
	MessageAppended MessageEventType = "appended"
	// MessageStatusChanged is emitted when a human entry is confirmed or failed.
	MessageStatusChanged MessageEventType = "status"
	// TranscriptReset is emitted when the chat session is discarded.
	TranscriptReset MessageEventType = "reset"
)

// MessageEvent carries a transcript update.
type MessageEvent struct {
	Type      MessageEventType
	Message   Message
	Remaining int
}

// QuotaEvent is the one-time notice emitted when the gate closes.
type QuotaEvent struct {
	Gate      GateState
	Remaining int
	Notice    string
}

// QuotaExhaustedNotice is the user-facing text of the quota notice.
const QuotaExhaustedNotice = "You've reached the free message limit. Sign up to continue chatting!"

// SendFailedEvent reports a chat transport failure.
type SendFailedEvent struct {
	MessageID MessageID
	Err       string
	Retryable bool
}
