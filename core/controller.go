package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"pkt.systems/paveurpath/internal/logx"
	"pkt.systems/paveurpath/schema"
	"pkt.systems/pslog"
)

// SendResult describes the outcome of a successful SendMessage call.
type SendResult struct {
	Human     schema.Message
	Reply     *schema.Message
	Remaining int
	// Discarded is set when the chat session was reset while the request
	// was in flight. The reply, if any, was dropped.
	Discarded bool
}

// Controller owns the chat transcript and the free-message quota for one
// chat session.
type Controller struct {
	cfg       schema.ChatConfig
	transport ChatTransport
	sink      EventSink
	log       pslog.Logger

	mu         sync.Mutex
	view       schema.Session
	viewSet    bool
	transcript []schema.Message
	index      map[schema.MessageID]int
	remaining  int
	noticeSent bool
	generation uint64
	outbox     []event

	emitMu      sync.Mutex
	unsubscribe func()
}

type event struct {
	session    *schema.SessionEvent
	message    *schema.MessageEvent
	quota      *schema.QuotaEvent
	sendFailed *schema.SendFailedEvent
}

// NewController constructs a controller and subscribes it to the session
// store so that signing out discards the chat session.
func NewController(cfg schema.ChatConfig, deps ControllerDeps) (*Controller, error) {
	normalized, err := schema.NormalizeChatConfig(cfg)
	if err != nil {
		return nil, err
	}
	if deps.Transport == nil {
		return nil, errors.New("chat transport is required")
	}
	if deps.Session == nil {
		return nil, errors.New("session store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	c := &Controller{
		cfg:       normalized,
		transport: deps.Transport,
		sink:      deps.EventSink,
		log:       logger,
		index:     make(map[schema.MessageID]int),
		remaining: normalized.FreeMessages,
	}
	c.unsubscribe = deps.Session.Subscribe(c.onSession)
	initial := deps.Session.Snapshot()
	c.mu.Lock()
	if !c.viewSet {
		c.view = initial
		c.viewSet = true
	}
	c.mu.Unlock()
	return c, nil
}

// Close detaches the controller from the session store.
func (c *Controller) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

// SendMessage appends text to the transcript and sends it to the backend.
// Empty input and a closed gate return an error without changing state.
// A transport failure leaves the human message marked failed and returns
// a *SendError.
func (c *Controller) SendMessage(ctx context.Context, text string) (SendResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	prompt, err := schema.NormalizePrompt(text)
	if err != nil {
		return SendResult{}, err
	}
	// A sign-out either precedes this critical section or bumps the
	// generation after it.
	c.mu.Lock()
	session := c.view
	authenticated := session.Authenticated()
	log := logx.WithEmailThread(logx.Bind(ctx, c.log), session.Email, session.ThreadID)
	if !authenticated && c.remaining <= 0 {
		c.mu.Unlock()
		log.Debug("chat send blocked", "reason", "quota exhausted")
		return SendResult{}, schema.ErrQuotaExhausted
	}
	if !authenticated {
		c.remaining--
		if c.remaining == 0 && !c.noticeSent {
			c.noticeSent = true
			c.outbox = append(c.outbox, event{quota: &schema.QuotaEvent{
				Gate:      schema.GateClosed,
				Remaining: 0,
				Notice:    schema.QuotaExhaustedNotice,
			}})
		}
	}
	human := schema.Message{
		ID:      newMessageID(),
		Role:    schema.RoleHuman,
		Content: prompt,
		Status:  schema.StatusPending,
	}
	var prior []schema.Message
	if c.cfg.HistoryMode == schema.HistoryFull {
		prior = append(prior, c.transcript...)
	}
	c.appendLocked(human)
	generation := c.generation
	remaining := c.remaining
	c.mu.Unlock()
	c.flushEvents()

	log = logx.WithMessage(log, human.ID)
	req := schema.ChatRequest{
		Messages: buildMessages(prior, human),
		Email:    session.Email,
		ThreadID: session.ThreadID,
		Prompt:   prompt,
	}
	log.Debug("chat send start", "authenticated", authenticated, "remaining", remaining, "history", len(req.Messages))
	started := time.Now()
	resp, err := c.transport.Chat(ctx, req)

	c.mu.Lock()
	if generation != c.generation {
		c.mu.Unlock()
		log.Debug("chat reply dropped", "reason", "session discarded", "duration_ms", time.Since(started).Milliseconds())
		result := SendResult{Human: human, Discarded: true}
		if err != nil {
			return result, &SendError{MessageID: human.ID, Err: err}
		}
		return result, nil
	}
	if err != nil {
		failed := c.setStatusLocked(human.ID, schema.StatusFailed)
		sendErr := &SendError{MessageID: human.ID, Err: err}
		c.outbox = append(c.outbox, event{sendFailed: &schema.SendFailedEvent{
			MessageID: human.ID,
			Err:       err.Error(),
			Retryable: sendErr.Retryable(),
		}})
		remaining = c.remaining
		c.mu.Unlock()
		c.flushEvents()
		log.Warn("chat send failed", "err", err, "retryable", sendErr.Retryable(), "duration_ms", time.Since(started).Milliseconds())
		return SendResult{Human: failed, Remaining: remaining}, sendErr
	}
	confirmed := c.setStatusLocked(human.ID, schema.StatusConfirmed)
	result := SendResult{Human: confirmed}
	if wire, ok := resp.FirstAssistant(); ok {
		reply := schema.Message{
			ID:      newMessageID(),
			Role:    schema.RoleAssistant,
			Content: wire.Content,
			Status:  schema.StatusConfirmed,
		}
		c.appendLocked(reply)
		result.Reply = &reply
	}
	result.Remaining = c.remaining
	c.mu.Unlock()
	c.flushEvents()
	if result.Reply == nil {
		log.Info("chat send ok without reply", "duration_ms", time.Since(started).Milliseconds())
	} else {
		log.Debug("chat send ok", "duration_ms", time.Since(started).Milliseconds())
	}
	return result, nil
}

// Transcript returns a copy of the transcript in insertion order.
func (c *Controller) Transcript() []schema.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]schema.Message, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Remaining returns the number of free messages left.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Gate returns the quota gate state for the current session.
func (c *Controller) Gate() schema.GateState {
	if c.QuotaExhausted() {
		return schema.GateClosed
	}
	return schema.GateOpen
}

// QuotaExhausted reports whether an unauthenticated user has used every
// free message.
func (c *Controller) QuotaExhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.view.Authenticated() && c.remaining <= 0
}

// FreeMessages returns the configured allowance.
func (c *Controller) FreeMessages() int {
	return c.cfg.FreeMessages
}

func (c *Controller) onSession(ev schema.SessionEvent) {
	c.mu.Lock()
	c.view = ev.Current
	c.viewSet = true
	c.outbox = append(c.outbox, event{session: &ev})
	if ev.SignedOut() {
		c.discardLocked()
	}
	c.mu.Unlock()
	c.flushEvents()
	if ev.SignedOut() {
		c.log.Info("chat session discarded", "reason", "signed out")
	}
}

func (c *Controller) discardLocked() {
	c.transcript = nil
	c.index = make(map[schema.MessageID]int)
	c.remaining = c.cfg.FreeMessages
	c.noticeSent = false
	c.generation++
	c.outbox = append(c.outbox, event{message: &schema.MessageEvent{
		Type:      schema.TranscriptReset,
		Remaining: c.remaining,
	}})
}

func (c *Controller) appendLocked(msg schema.Message) {
	c.index[msg.ID] = len(c.transcript)
	c.transcript = append(c.transcript, msg)
	c.outbox = append(c.outbox, event{message: &schema.MessageEvent{
		Type:      schema.MessageAppended,
		Message:   msg,
		Remaining: c.remaining,
	}})
}

func (c *Controller) setStatusLocked(id schema.MessageID, status schema.MessageStatus) schema.Message {
	idx, ok := c.index[id]
	if !ok {
		return schema.Message{}
	}
	c.transcript[idx].Status = status
	msg := c.transcript[idx]
	c.outbox = append(c.outbox, event{message: &schema.MessageEvent{
		Type:      schema.MessageStatusChanged,
		Message:   msg,
		Remaining: c.remaining,
	}})
	return msg
}

// flushEvents delivers queued events in order outside the state lock.
// Only one goroutine delivers at a time; a caller that finds delivery in
// progress leaves its events to the active deliverer.
func (c *Controller) flushEvents() {
	for {
		if !c.emitMu.TryLock() {
			return
		}
		for {
			c.mu.Lock()
			batch := c.outbox
			c.outbox = nil
			c.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, ev := range batch {
				c.deliver(ev)
			}
		}
		c.emitMu.Unlock()
		c.mu.Lock()
		pending := len(c.outbox) > 0
		c.mu.Unlock()
		if !pending {
			return
		}
	}
}

func (c *Controller) deliver(ev event) {
	if c.sink == nil {
		return
	}
	switch {
	case ev.session != nil:
		c.sink.OnSession(*ev.session)
	case ev.message != nil:
		c.sink.OnMessage(*ev.message)
	case ev.quota != nil:
		c.sink.OnQuota(*ev.quota)
	case ev.sendFailed != nil:
		c.sink.OnSendFailed(*ev.sendFailed)
	}
}

func buildMessages(prior []schema.Message, human schema.Message) []schema.WireMessage {
	out := make([]schema.WireMessage, 0, len(prior)+1)
	for _, msg := range prior {
		out = append(out, schema.ToWire(msg))
	}
	return append(out, schema.ToWire(human))
}
