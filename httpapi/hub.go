package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/paveurpath/schema"
	"pkt.systems/pslog"
)

// StreamEvent is sent to SSE clients.
type StreamEvent struct {
	Seq           uint64           `json:"seq"`
	Type          string           `json:"type"`
	MessageEvent  string           `json:"message_event,omitempty"`
	Message       *schema.Message  `json:"message,omitempty"`
	Remaining     *int             `json:"remaining,omitempty"`
	Gate          schema.GateState `json:"gate,omitempty"`
	Notice        string           `json:"notice,omitempty"`
	Authenticated *bool            `json:"authenticated,omitempty"`
	Email         string           `json:"email,omitempty"`
	MessageID     schema.MessageID `json:"message_id,omitempty"`
	Error         string           `json:"error,omitempty"`
	Retryable     bool             `json:"retryable,omitempty"`
	Snapshot      *SnapshotPayload `json:"snapshot,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// SnapshotPayload seeds client state on connect.
type SnapshotPayload struct {
	Session    SessionView      `json:"session"`
	Transcript []schema.Message `json:"transcript"`
}

// HubState is the transcript as of Seq. Every event a subscriber receives
// has a higher Seq.
type HubState struct {
	Seq        uint64
	Transcript []schema.Message
}

// Hub broadcasts controller events to stream subscribers and keeps a
// bounded history for Last-Event-ID replay. It also folds message events
// into a transcript so new subscribers start from a consistent snapshot.
type Hub struct {
	mu          sync.Mutex
	seq         uint64
	transcript  []schema.Message
	history     []StreamEvent
	subs        map[chan StreamEvent]struct{}
	historySize int
	log         pslog.Logger
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int) *Hub {
	return NewHubWithLogger(historySize, nil)
}

// NewHubWithLogger constructs a hub with logging.
func NewHubWithLogger(historySize int, logger pslog.Logger) *Hub {
	if historySize <= 0 {
		historySize = 1000
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Hub{
		subs:        make(map[chan StreamEvent]struct{}),
		historySize: historySize,
		log:         logger,
	}
}

// OnSession implements core.EventSink.
func (h *Hub) OnSession(event schema.SessionEvent) {
	authenticated := event.Current.Authenticated()
	h.log.Trace("hub session event", "authenticated", authenticated)
	h.publish(StreamEvent{
		Type:          "session",
		Authenticated: &authenticated,
		Email:         event.Current.Email,
		Timestamp:     time.Now(),
	})
}

// OnMessage implements core.EventSink.
func (h *Hub) OnMessage(event schema.MessageEvent) {
	h.log.Trace("hub message event", "type", event.Type, "message", event.Message.ID)
	remaining := event.Remaining
	stream := StreamEvent{
		Type:         "message",
		MessageEvent: string(event.Type),
		Remaining:    &remaining,
		Timestamp:    time.Now(),
	}
	if event.Type != schema.TranscriptReset {
		msg := event.Message
		stream.Message = &msg
	}
	h.publish(stream)
}

// OnQuota implements core.EventSink.
func (h *Hub) OnQuota(event schema.QuotaEvent) {
	h.log.Trace("hub quota event", "gate", event.Gate)
	remaining := event.Remaining
	h.publish(StreamEvent{
		Type:      "quota",
		Gate:      event.Gate,
		Remaining: &remaining,
		Notice:    event.Notice,
		Timestamp: time.Now(),
	})
}

// OnSendFailed implements core.EventSink.
func (h *Hub) OnSendFailed(event schema.SendFailedEvent) {
	h.log.Trace("hub send failed event", "message", event.MessageID)
	h.publish(StreamEvent{
		Type:      "send_failed",
		MessageID: event.MessageID,
		Error:     event.Err,
		Retryable: event.Retryable,
		Timestamp: time.Now(),
	})
}

// Subscribe registers a stream subscriber and returns the state it starts
// from.
func (h *Hub) Subscribe() (<-chan StreamEvent, func(), HubState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan StreamEvent, 256)
	h.subs[ch] = struct{}{}
	state := HubState{Seq: h.seq, Transcript: make([]schema.Message, len(h.transcript))}
	copy(state.Transcript, h.transcript)
	h.log.Info("hub subscribe", "subs", len(h.subs), "history", len(h.history))
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			remaining := len(h.subs)
			h.mu.Unlock()
			h.log.Info("hub unsubscribe", "subs", remaining)
		})
	}
	return ch, unsub, state
}

// Replay returns events after the provided seq.
func (h *Hub) Replay(after uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := make([]StreamEvent, 0, len(h.history))
	for _, event := range h.history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	h.log.Debug("hub replay", "after", after, "count", len(events))
	return events
}

func (h *Hub) publish(event StreamEvent) {
	h.mu.Lock()
	h.seq++
	event.Seq = h.seq
	h.applyLocked(event)
	h.history = append(h.history, event)
	if len(h.history) > h.historySize {
		h.history = h.history[len(h.history)-h.historySize:]
	}
	dropped := 0
	for sub := range h.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	h.mu.Unlock()
	if dropped > 0 {
		h.log.Warn("hub event dropped", "type", event.Type, "dropped", dropped)
	}
}

func (h *Hub) applyLocked(event StreamEvent) {
	if event.Type != "message" {
		return
	}
	switch schema.MessageEventType(event.MessageEvent) {
	case schema.TranscriptReset:
		h.transcript = nil
	case schema.MessageAppended:
		h.transcript = append(h.transcript, *event.Message)
	case schema.MessageStatusChanged:
		for i := range h.transcript {
			if h.transcript[i].ID == event.Message.ID {
				h.transcript[i] = *event.Message
				break
			}
		}
	}
}
