package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"pkt.systems/paveurpath/internal/backend"
	"pkt.systems/paveurpath/internal/session"
	"pkt.systems/paveurpath/schema"
)

type echoTransport struct {
	mu    sync.Mutex
	calls []schema.ChatRequest
	resp  func(req schema.ChatRequest) (schema.ChatResponse, error)
}

func (e *echoTransport) Chat(_ context.Context, req schema.ChatRequest) (schema.ChatResponse, error) {
	e.mu.Lock()
	e.calls = append(e.calls, req)
	e.mu.Unlock()
	if e.resp != nil {
		return e.resp(req)
	}
	return schema.ChatResponse{Messages: []schema.WireMessage{
		{Role: schema.WireHuman, Content: req.Prompt},
		{Role: schema.WireAI, Content: "Mock response to: " + req.Prompt},
	}}, nil
}

func (e *echoTransport) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *echoTransport) last() schema.ChatRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[len(e.calls)-1]
}

// gatedTransport blocks each request until its prompt is released.
type gatedTransport struct {
	mu       sync.Mutex
	release  map[string]chan struct{}
	received chan string
}

func newGatedTransport() *gatedTransport {
	return &gatedTransport{release: make(map[string]chan struct{}), received: make(chan string, 8)}
}

func (g *gatedTransport) gate(prompt string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.release[prompt]
	if !ok {
		ch = make(chan struct{})
		g.release[prompt] = ch
	}
	return ch
}

func (g *gatedTransport) Chat(ctx context.Context, req schema.ChatRequest) (schema.ChatResponse, error) {
	ch := g.gate(req.Prompt)
	g.received <- req.Prompt
	select {
	case <-ch:
	case <-ctx.Done():
		return schema.ChatResponse{}, ctx.Err()
	}
	return schema.ChatResponse{Messages: []schema.WireMessage{{Role: schema.WireAI, Content: "re: " + req.Prompt}}}, nil
}

type recordingSink struct {
	mu       sync.Mutex
	sessions []schema.SessionEvent
	messages []schema.MessageEvent
	quota    []schema.QuotaEvent
	failed   []schema.SendFailedEvent
}

func (r *recordingSink) OnSession(event schema.SessionEvent) {
	r.mu.Lock()
	r.sessions = append(r.sessions, event)
	r.mu.Unlock()
}

func (r *recordingSink) OnMessage(event schema.MessageEvent) {
	r.mu.Lock()
	r.messages = append(r.messages, event)
	r.mu.Unlock()
}

func (r *recordingSink) OnQuota(event schema.QuotaEvent) {
	r.mu.Lock()
	r.quota = append(r.quota, event)
	r.mu.Unlock()
}

func (r *recordingSink) OnSendFailed(event schema.SendFailedEvent) {
	r.mu.Lock()
	r.failed = append(r.failed, event)
	r.mu.Unlock()
}

func (r *recordingSink) quotaCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.quota)
}

func newTestController(t *testing.T, cfg schema.ChatConfig, transport ChatTransport, initial schema.Session) (*Controller, *session.Store, *recordingSink) {
	t.Helper()
	store := session.NewStore(initial)
	sink := &recordingSink{}
	ctrl, err := NewController(cfg, ControllerDeps{Transport: transport, Session: store, EventSink: sink})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(ctrl.Close)
	return ctrl, store, sink
}

func TestSendMessageExhaustsFreeQuota(t *testing.T) {
	transport := &echoTransport{}
	ctrl, _, sink := newTestController(t, schema.ChatConfig{}, transport, schema.Session{})

	for i := 0; i < schema.DefaultFreeMessages; i++ {
		result, err := ctrl.SendMessage(context.Background(), fmt.Sprintf("question %d", i))
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if result.Remaining != schema.DefaultFreeMessages-i-1 {
			t.Fatalf("send %d: expected remaining %d, got %d", i, schema.DefaultFreeMessages-i-1, result.Remaining)
		}
		if result.Reply == nil {
			t.Fatalf("send %d: expected reply", i)
		}
	}
	if got := len(ctrl.Transcript()); got != 40 {
		t.Fatalf("expected 40 transcript entries, got %d", got)
	}
	if ctrl.Remaining() != 0 || !ctrl.QuotaExhausted() || ctrl.Gate() != schema.GateClosed {
		t.Fatalf("expected closed gate, remaining=%d gate=%s", ctrl.Remaining(), ctrl.Gate())
	}
	if sink.quotaCount() != 1 {
		t.Fatalf("expected one quota notice, got %d", sink.quotaCount())
	}
	if sink.quota[0].Notice != schema.QuotaExhaustedNotice || sink.quota[0].Gate != schema.GateClosed {
		t.Fatalf("unexpected quota event %+v", sink.quota[0])
	}

	_, err := ctrl.SendMessage(context.Background(), "one more")
	if !errors.Is(err, schema.ErrQuotaExhausted) {
		t.Fatalf("expected quota exhausted, got %v", err)
	}
	if transport.count() != schema.DefaultFreeMessages {
		t.Fatalf("expected no request after exhaustion, got %d calls", transport.count())
	}
	if got := len(ctrl.Transcript()); got != 40 {
		t.Fatalf("expected transcript unchanged, got %d", got)
	}
	if sink.quotaCount() != 1 {
		t.Fatalf("expected notice to fire once, got %d", sink.quotaCount())
	}
}

func TestSendMessageAuthenticatedDoesNotDecrement(t *testing.T) {
	transport := &echoTransport{}
	ctrl, _, sink := newTestController(t, schema.ChatConfig{FreeMessages: 2}, transport, schema.Session{Token: "tok", Email: "a@b.com"})
	for i := 0; i < 5; i++ {
		if _, err := ctrl.SendMessage(context.Background(), "hello"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if ctrl.Remaining() != 2 {
		t.Fatalf("expected counter unchanged, got %d", ctrl.Remaining())
	}
	if sink.quotaCount() != 0 {
		t.Fatalf("expected no quota notice")
	}
}

func TestSendMessageEmptyPromptIsNoop(t *testing.T) {
	transport := &echoTransport{}
	ctrl, _, _ := newTestController(t, schema.ChatConfig{}, transport, schema.Session{})
	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := ctrl.SendMessage(context.Background(), text); !errors.Is(err, schema.ErrEmptyPrompt) {
			t.Fatalf("expected empty prompt error for %q, got %v", text, err)
		}
	}
	if transport.count() != 0 || len(ctrl.Transcript()) != 0 || ctrl.Remaining() != schema.DefaultFreeMessages {
		t.Fatalf("expected no state change")
	}
}

func TestSendMessageRequestShape(t *testing.T) {
	transport := &echoTransport{}
	ctrl, _, _ := newTestController(t, schema.ChatConfig{}, transport, schema.Session{Token: "tok", Email: "a@b.com", ThreadID: "thread-1"})
	if _, err := ctrl.SendMessage(context.Background(), "  first  "); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := ctrl.SendMessage(context.Background(), "second"); err != nil {
		t.Fatalf("send: %v", err)
	}
	req := transport.last()
	if req.Email != "a@b.com" || req.ThreadID != "thread-1" || req.Prompt != "second" {
		t.Fatalf("unexpected request %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != schema.WireHuman || req.Messages[0].Content != "second" {
		t.Fatalf("expected latest-only history, got %+v", req.Messages)
	}
	if first := ctrl.Transcript()[0]; first.Content != "  first  " {
		t.Fatalf("expected raw prompt text, got %q", first.Content)
	}
}

func TestSendMessageFullHistory(t *testing.T) {
	transport := &echoTransport{}
	ctrl, _, _ := newTestController(t, schema.ChatConfig{HistoryMode: schema.HistoryFull}, transport, schema.Session{})
	if _, err := ctrl.SendMessage(context.Background(), "first"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := ctrl.SendMessage(context.Background(), "second"); err != nil {
		t.Fatalf("send: %v", err)
	}
	req := transport.last()
	if len(req.Messages) != 3 {
		t.Fatalf("expected prior transcript plus new message, got %+v", req.Messages)
	}
	if req.Messages[1].Role != schema.WireAI || req.Messages[2].Content != "second" {
		t.Fatalf("unexpected history %+v", req.Messages)
	}
	if req.Email != "" || req.ThreadID != "" {
		t.Fatalf("expected empty email and thread id, got %+v", req)
	}
}

func TestSendMessageFailureMarksHumanFailed(t *testing.T) {
	transport := &echoTransport{resp: func(schema.ChatRequest) (schema.ChatResponse, error) {
		return schema.ChatResponse{}, &backend.StatusError{Status: http.StatusBadGateway, Detail: "upstream"}
	}}
	ctrl, _, sink := newTestController(t, schema.ChatConfig{}, transport, schema.Session{})
	result, err := ctrl.SendMessage(context.Background(), "hello")
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected send error, got %v", err)
	}
	if !sendErr.Retryable() {
		t.Fatalf("expected 502 to be retryable")
	}
	transcript := ctrl.Transcript()
	if len(transcript) != 1 || transcript[0].Status != schema.StatusFailed || transcript[0].Content != "hello" {
		t.Fatalf("unexpected transcript %+v", transcript)
	}
	if result.Human.Status != schema.StatusFailed || result.Reply != nil {
		t.Fatalf("unexpected result %+v", result)
	}
	if ctrl.Remaining() != schema.DefaultFreeMessages-1 {
		t.Fatalf("expected the failed send to consume quota, got %d", ctrl.Remaining())
	}
	if len(sink.failed) != 1 || sink.failed[0].MessageID != transcript[0].ID || !sink.failed[0].Retryable {
		t.Fatalf("unexpected failure events %+v", sink.failed)
	}
}

func TestSendMessageNonRetryableFailure(t *testing.T) {
	transport := &echoTransport{resp: func(schema.ChatRequest) (schema.ChatResponse, error) {
		return schema.ChatResponse{}, &backend.StatusError{Status: http.StatusBadRequest}
	}}
	ctrl, _, _ := newTestController(t, schema.ChatConfig{}, transport, schema.Session{})
	_, err := ctrl.SendMessage(context.Background(), "hello")
	var sendErr *SendError
	if !errors.As(err, &sendErr) || sendErr.Retryable() {
		t.Fatalf("expected non-retryable send error, got %v", err)
	}
}

func TestSendMessageWithoutAssistantReply(t *testing.T) {
	transport := &echoTransport{resp: func(req schema.ChatRequest) (schema.ChatResponse, error) {
		return schema.ChatResponse{Messages: []schema.WireMessage{{Role: schema.WireHuman, Content: req.Prompt}}}, nil
	}}
	ctrl, _, _ := newTestController(t, schema.ChatConfig{}, transport, schema.Session{})
	result, err := ctrl.SendMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Reply != nil {
		t.Fatalf("expected no reply, got %+v", result.Reply)
	}
	transcript := ctrl.Transcript()
	if len(transcript) != 1 || transcript[0].Status != schema.StatusConfirmed {
		t.Fatalf("expected single confirmed human message, got %+v", transcript)
	}
}

func TestSendMessageTakesFirstAssistantEntry(t *testing.T) {
	transport := &echoTransport{resp: func(schema.ChatRequest) (schema.ChatResponse, error) {
		return schema.ChatResponse{Messages: []schema.WireMessage{
			{Role: schema.WireAI, Content: "first"},
			{Role: "assistant", Content: "second"},
		}}, nil
	}}
	ctrl, _, _ := newTestController(t, schema.ChatConfig{}, transport, schema.Session{})
	result, err := ctrl.SendMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Reply == nil || result.Reply.Content != "first" || result.Reply.Role != schema.RoleAssistant {
		t.Fatalf("unexpected reply %+v", result.Reply)
	}
	if len(ctrl.Transcript()) != 2 {
		t.Fatalf("expected two entries")
	}
}

func TestOverlappingSendsAppendRepliesInResolutionOrder(t *testing.T) {
	transport := newGatedTransport()
	ctrl, _, _ := newTestController(t, schema.ChatConfig{}, transport, schema.Session{})

	var wg sync.WaitGroup
	send := func(text string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ctrl.SendMessage(context.Background(), text); err != nil {
				t.Errorf("send %s: %v", text, err)
			}
		}()
		select {
		case got := <-transport.received:
			if got != text {
				t.Errorf("expected %s to reach the transport, got %s", text, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", text)
		}
	}
	send("A")
	send("B")
	if ctrl.Remaining() != schema.DefaultFreeMessages-2 {
		t.Fatalf("expected both sends to decrement before resolving")
	}
	close(transport.gate("B"))
	waitFor(t, func() bool { return len(ctrl.Transcript()) == 3 })
	close(transport.gate("A"))
	wg.Wait()

	transcript := ctrl.Transcript()
	want := []string{"A", "B", "re: B", "re: A"}
	if len(transcript) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), transcript)
	}
	for i, content := range want {
		if transcript[i].Content != content {
			t.Fatalf("entry %d: expected %q, got %q", i, content, transcript[i].Content)
		}
	}
}

func TestSignOutDiscardsChatSession(t *testing.T) {
	transport := &echoTransport{}
	ctrl, store, sink := newTestController(t, schema.ChatConfig{FreeMessages: 1}, transport, schema.Session{})
	if _, err := ctrl.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if ctrl.Gate() != schema.GateClosed {
		t.Fatalf("expected closed gate")
	}
	store.SetAuth("tok", "a@b.com")
	if ctrl.Gate() != schema.GateOpen {
		t.Fatalf("expected authentication to reopen the gate")
	}
	if _, err := ctrl.SendMessage(context.Background(), "signed in"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if ctrl.Remaining() != 0 {
		t.Fatalf("expected counter to stay at zero, got %d", ctrl.Remaining())
	}
	store.ClearAuth()
	if len(ctrl.Transcript()) != 0 {
		t.Fatalf("expected fresh transcript after sign-out")
	}
	if ctrl.Remaining() != 1 || ctrl.Gate() != schema.GateOpen {
		t.Fatalf("expected counter reset, remaining=%d", ctrl.Remaining())
	}
	var reset bool
	for _, ev := range sink.messages {
		if ev.Type == schema.TranscriptReset {
			reset = true
		}
	}
	if !reset {
		t.Fatalf("expected a transcript reset event")
	}
	if len(sink.sessions) != 2 {
		t.Fatalf("expected two session events, got %d", len(sink.sessions))
	}
	if _, err := ctrl.SendMessage(context.Background(), "again"); err != nil {
		t.Fatalf("send after reset: %v", err)
	}
	if sink.quotaCount() != 2 {
		t.Fatalf("expected the notice to re-arm after reset, got %d", sink.quotaCount())
	}
}

func TestReplyAfterSignOutIsDropped(t *testing.T) {
	transport := newGatedTransport()
	ctrl, store, _ := newTestController(t, schema.ChatConfig{}, transport, schema.Session{Token: "tok"})

	done := make(chan SendResult, 1)
	go func() {
		result, err := ctrl.SendMessage(context.Background(), "late")
		if err != nil {
			t.Errorf("send: %v", err)
		}
		done <- result
	}()
	<-transport.received
	store.ClearAuth()
	close(transport.gate("late"))
	result := <-done
	if !result.Discarded {
		t.Fatalf("expected discarded result")
	}
	if len(ctrl.Transcript()) != 0 {
		t.Fatalf("expected reply to be dropped, got %+v", ctrl.Transcript())
	}
}

func TestSendMessageContextCancel(t *testing.T) {
	transport := newGatedTransport()
	ctrl, _, _ := newTestController(t, schema.ChatConfig{}, transport, schema.Session{})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := ctrl.SendMessage(ctx, "hello")
		errCh <- err
	}()
	<-transport.received
	cancel()
	err := <-errCh
	var sendErr *SendError
	if !errors.As(err, &sendErr) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled send error, got %v", err)
	}
	if sendErr.Retryable() {
		t.Fatalf("cancellation must not be retryable")
	}
	if ctrl.Transcript()[0].Status != schema.StatusFailed {
		t.Fatalf("expected failed status")
	}
}

// signOutOnReadStore clears the session the first time it is read after
// being armed.
type signOutOnReadStore struct {
	*session.Store
	armed sync.Once
	fire  bool
}

func (s *signOutOnReadStore) Snapshot() schema.Session {
	snap := s.Store.Snapshot()
	if s.fire {
		s.armed.Do(s.Store.ClearAuth)
	}
	return snap
}

func TestSignOutDuringSendKeepsGuestQuota(t *testing.T) {
	transport := &echoTransport{}
	store := &signOutOnReadStore{Store: session.NewStore(schema.Session{Token: "tok", Email: "gone@b.com", ThreadID: "th"})}
	ctrl, err := NewController(schema.ChatConfig{FreeMessages: 1}, ControllerDeps{Transport: transport, Session: store})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(ctrl.Close)

	store.fire = true
	if _, err := ctrl.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	store.Snapshot()
	if snap := store.Store.Snapshot(); snap.Authenticated() {
		t.Fatalf("expected signed out session, got %+v", snap)
	}
	for _, msg := range ctrl.Transcript() {
		if msg.Content == "hello" {
			t.Fatalf("message from the signed-out session leaked into the guest transcript")
		}
	}
	if ctrl.Remaining() != 1 {
		t.Fatalf("expected fresh guest allowance, got %d", ctrl.Remaining())
	}

	if _, err := ctrl.SendMessage(context.Background(), "guest"); err != nil {
		t.Fatalf("guest send: %v", err)
	}
	if req := transport.last(); req.Email != "" || req.ThreadID != "" {
		t.Fatalf("guest request carried stale session fields: %+v", req)
	}
	if _, err := ctrl.SendMessage(context.Background(), "again"); !errors.Is(err, schema.ErrQuotaExhausted) {
		t.Fatalf("expected quota exhausted after one guest message, got %v", err)
	}
	if got := len(ctrl.Transcript()); got != 2 {
		t.Fatalf("expected guest transcript of 2 entries, got %d", got)
	}
}

func TestConcurrentSignOutNeverSendsStaleEmailAsGuest(t *testing.T) {
	transport := &echoTransport{}
	ctrl, store, _ := newTestController(t, schema.ChatConfig{FreeMessages: 3}, transport, schema.Session{Token: "tok", Email: "a@b.com"})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, _ = ctrl.SendMessage(context.Background(), fmt.Sprintf("msg %d", i))
		}
	}()
	go func() {
		defer wg.Done()
		store.ClearAuth()
	}()
	wg.Wait()

	guest := 0
	transport.mu.Lock()
	for _, req := range transport.calls {
		if req.Email == "" {
			guest++
		}
	}
	transport.mu.Unlock()
	if guest > 3 {
		t.Fatalf("guest sent %d messages on an allowance of 3", guest)
	}
	if ctrl.Remaining() != 3-guest {
		t.Fatalf("expected remaining %d, got %d", 3-guest, ctrl.Remaining())
	}
}

func TestNoFreeMessagesBlocksFirstGuestSend(t *testing.T) {
	transport := &echoTransport{}
	ctrl, _, _ := newTestController(t, schema.ChatConfig{FreeMessages: schema.NoFreeMessages}, transport, schema.Session{})

	if ctrl.Gate() != schema.GateClosed {
		t.Fatalf("expected closed gate with no allowance")
	}
	if _, err := ctrl.SendMessage(context.Background(), "hello"); !errors.Is(err, schema.ErrQuotaExhausted) {
		t.Fatalf("expected quota exhausted, got %v", err)
	}
	if transport.count() != 0 || len(ctrl.Transcript()) != 0 {
		t.Fatalf("expected no request and empty transcript")
	}
}

func TestNewControllerValidation(t *testing.T) {
	store := session.NewStore(schema.Session{})
	if _, err := NewController(schema.ChatConfig{}, ControllerDeps{Session: store}); err == nil {
		t.Fatalf("expected missing transport error")
	}
	if _, err := NewController(schema.ChatConfig{}, ControllerDeps{Transport: &echoTransport{}}); err == nil {
		t.Fatalf("expected missing session error")
	}
	if _, err := NewController(schema.ChatConfig{HistoryMode: "everything"}, ControllerDeps{Transport: &echoTransport{}, Session: store}); err == nil {
		t.Fatalf("expected invalid history mode error")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
