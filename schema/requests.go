package schema

// WireRole is the role vocabulary used by the backend.
type WireRole string

const (
	// WireHuman is the backend's user role.
	WireHuman WireRole = "human"
	// WireAI is the backend's assistant role.
	WireAI WireRole = "ai"
)

// WireMessage is a message as exchanged with the backend.
type WireMessage struct {
	Role    WireRole `json:"role"`
	Content string   `json:"content"`
}

// IsAssistant reports whether the backend attributed the message to the assistant.
// Both "ai" and "assistant" are accepted.
func (m WireMessage) IsAssistant() bool {
	return m.Role == WireAI || m.Role == WireRole(RoleAssistant)
}

// SignInRequest is the body of POST /signin.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignInUser carries the identity token returned by the backend.
type SignInUser struct {
	IDToken string `json:"idToken"`
}

// SignInResponse is the success body of POST /signin.
type SignInResponse struct {
	Message  string     `json:"message,omitempty"`
	User     SignInUser `json:"user"`
	ThreadID string     `json:"thread_id,omitempty"`
}

// SignUpRequest is the body of POST /signup.
type SignUpRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Messages []WireMessage `json:"messages"`
	Email    string        `json:"email"`
	ThreadID string        `json:"thread_id"`
	Prompt   string        `json:"prompt"`
}

// ChatResponse is the success body of POST /chat.
type ChatResponse struct {
	Messages []WireMessage `json:"messages"`
}

// FirstAssistant returns the first assistant entry of the response.
func (r ChatResponse) FirstAssistant() (WireMessage, bool) {
	for _, msg := range r.Messages {
		if msg.IsAssistant() {
			return msg, true
		}
	}
	return WireMessage{}, false
}

// ToWire converts a transcript message to the backend vocabulary.
func ToWire(msg Message) WireMessage {
	role := WireHuman
	if msg.Role == RoleAssistant {
		role = WireAI
	}
	return WireMessage{Role: role, Content: msg.Content}
}
