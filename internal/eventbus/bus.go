package eventbus

import (
	"context"
	"sync"

	"pkt.systems/paveurpath/schema"
	"pkt.systems/pslog"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventSession carries session store transitions.
	EventSession EventType = "session"
	// EventMessage carries transcript updates.
	EventMessage EventType = "message"
	// EventQuota carries the quota notice.
	EventQuota EventType = "quota"
	// EventSendFailed carries chat transport failures.
	EventSendFailed EventType = "send_failed"
)

// Event represents a UI-facing event emitted by the controller.
type Event struct {
	Type       EventType
	Session    schema.SessionEvent
	Message    schema.MessageEvent
	Quota      schema.QuotaEvent
	SendFailed schema.SendFailedEvent
}

// Bus fans out events to in-process subscribers such as the terminal chat.
type Bus struct {
	mu    sync.Mutex
	subs  map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber and returns a channel + cancel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.Debug("eventbus subscribe", "subs", count)
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
			if b.log != nil {
				b.log.Debug("eventbus unsubscribe")
			}
		})
	}
}

// OnSession publishes a session event.
func (b *Bus) OnSession(event schema.SessionEvent) {
	b.publish(Event{Type: EventSession, Session: event})
}

// OnMessage publishes a transcript event.
func (b *Bus) OnMessage(event schema.MessageEvent) {
	b.publish(Event{Type: EventMessage, Message: event})
}

// OnQuota publishes a quota event.
func (b *Bus) OnQuota(event schema.QuotaEvent) {
	b.publish(Event{Type: EventQuota, Quota: event})
}

// OnSendFailed publishes a send failure.
func (b *Bus) OnSendFailed(event schema.SendFailedEvent) {
	b.publish(Event{Type: EventSendFailed, SendFailed: event})
}

func (b *Bus) publish(event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) == 0 {
		return
	}
	dropped := 0
	for sub := range b.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 && b.log != nil {
		b.log.Trace("eventbus dropped", "count", dropped, "type", event.Type)
	}
}
