package eventbus

import (
	"testing"
	"time"

	"pkt.systems/paveurpath/schema"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	event := schema.MessageEvent{Type: schema.MessageAppended, Message: schema.Message{ID: "m1", Content: "hi"}}
	bus.OnMessage(event)

	select {
	case got := <-ch:
		if got.Type != EventMessage {
			t.Fatalf("expected message event, got %v", got.Type)
		}
		if got.Message.Message.ID != "m1" || got.Message.Message.Content != "hi" {
			t.Fatalf("unexpected payload: %+v", got.Message)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for event")
	}
}

func TestPublishQuotaReachesAllSubscribers(t *testing.T) {
	bus := New(nil)
	first, cancelFirst := bus.Subscribe()
	defer cancelFirst()
	second, cancelSecond := bus.Subscribe()
	defer cancelSecond()

	bus.OnQuota(schema.QuotaEvent{Gate: schema.GateClosed, Notice: schema.QuotaExhaustedNotice})
	for _, ch := range []<-chan Event{first, second} {
		select {
		case got := <-ch:
			if got.Type != EventQuota || got.Quota.Gate != schema.GateClosed {
				t.Fatalf("unexpected event %+v", got)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timed out waiting for quota event")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe()
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
	bus.OnSession(schema.SessionEvent{})
}

func TestPublishDoesNotBlockWhenFull(t *testing.T) {
	bus := New(nil)
	bus.depth = 1
	_, cancel := bus.Subscribe()
	defer cancel()

	var sendCh chan Event
	bus.mu.Lock()
	for ch := range bus.subs {
		sendCh = ch
		break
	}
	bus.mu.Unlock()
	if sendCh == nil {
		t.Fatalf("expected subscriber channel")
	}
	sendCh <- Event{Type: EventMessage}
	done := make(chan struct{})
	go func() {
		bus.OnSendFailed(schema.SendFailedEvent{MessageID: "m1"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("publish blocked on full channel")
	}
}
