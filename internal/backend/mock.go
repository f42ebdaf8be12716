package backend

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pkt.systems/paveurpath/schema"
)

// DefaultMockDelay is the simulated round-trip time of Mock.
const DefaultMockDelay = 500 * time.Millisecond

// MockReplyPrefix prefixes every simulated assistant reply.
const MockReplyPrefix = "Mock response to: "

// Mock is an offline transport that echoes chat messages after a delay
// and keeps accounts in memory.
type Mock struct {
	delay time.Duration

	mu       sync.Mutex
	accounts map[string]string
}

// NewMock returns a simulated backend. A zero or negative delay replies at once.
func NewMock(delay time.Duration) *Mock {
	if delay < 0 {
		delay = 0
	}
	return &Mock{delay: delay, accounts: make(map[string]string)}
}

// Chat echoes the human message and a canned assistant reply.
func (m *Mock) Chat(ctx context.Context, req schema.ChatRequest) (schema.ChatResponse, error) {
	if err := m.wait(ctx); err != nil {
		return schema.ChatResponse{}, err
	}
	return schema.ChatResponse{Messages: []schema.WireMessage{
		{Role: schema.WireHuman, Content: req.Prompt},
		{Role: schema.WireAI, Content: MockReplyPrefix + req.Prompt},
	}}, nil
}

// SignUp registers an account unless the email is taken.
func (m *Mock) SignUp(ctx context.Context, req schema.SignUpRequest) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	key := strings.ToLower(strings.TrimSpace(req.Email))
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[key]; ok {
		return &StatusError{Status: http.StatusBadRequest, Detail: "An account with this email already exists"}
	}
	m.accounts[key] = req.Password
	return nil
}

// SignIn accepts any credentials for unknown emails and checks the
// password of registered ones.
func (m *Mock) SignIn(ctx context.Context, req schema.SignInRequest) (schema.SignInResponse, error) {
	if err := m.wait(ctx); err != nil {
		return schema.SignInResponse{}, err
	}
	key := strings.ToLower(strings.TrimSpace(req.Email))
	m.mu.Lock()
	password, ok := m.accounts[key]
	m.mu.Unlock()
	if ok && password != req.Password {
		return schema.SignInResponse{}, &StatusError{Status: http.StatusUnauthorized, Detail: "Invalid credentials"}
	}
	return schema.SignInResponse{
		Message:  "Login successful",
		User:     schema.SignInUser{IDToken: "mock-" + uuid.NewString()},
		ThreadID: uuid.NewString(),
	}, nil
}

func (m *Mock) wait(ctx context.Context) error {
	if m.delay == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(m.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
