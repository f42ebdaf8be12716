package persist

import (
	"errors"
	"testing"

	"pkt.systems/paveurpath/schema"
)

func TestWriterFlushPersistsLatest(t *testing.T) {
	adapter := NewMemoryStore()
	writer := NewWriter(adapter, nil)
	defer writer.Close()

	writer.Enqueue(schema.Session{Token: "a"})
	writer.Enqueue(schema.Session{Token: "b", Email: "b@c.de"})
	writer.Observe(schema.SessionEvent{Current: schema.Session{Token: "c", Email: "c@d.ef"}})
	writer.Flush()

	got, ok, err := adapter.Load()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.Token != "c" || got.Email != "c@d.ef" {
		t.Fatalf("expected latest snapshot, got %+v", got)
	}
	if adapter.Saves() < 1 || adapter.Saves() > 3 {
		t.Fatalf("unexpected save count %d", adapter.Saves())
	}
}

func TestWriterCloseDrains(t *testing.T) {
	adapter := NewMemoryStore()
	writer := NewWriter(adapter, nil)
	writer.Enqueue(schema.Session{Token: "final"})
	writer.Close()
	got, _, _ := adapter.Load()
	if got.Token != "final" {
		t.Fatalf("expected final snapshot after close, got %+v", got)
	}
	writer.Enqueue(schema.Session{Token: "late"})
	writer.Flush()
	got, _, _ = adapter.Load()
	if got.Token != "final" {
		t.Fatalf("expected enqueue after close to be ignored, got %+v", got)
	}
}

func TestWriterCountsFailures(t *testing.T) {
	adapter := NewMemoryStore()
	adapter.SetError(errors.New("disk full"))
	writer := NewWriter(adapter, nil)
	defer writer.Close()
	writer.Enqueue(schema.Session{Token: "x"})
	writer.Flush()
	if writer.Failures() != 1 {
		t.Fatalf("expected one failure, got %d", writer.Failures())
	}
}
