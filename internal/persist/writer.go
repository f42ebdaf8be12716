package persist

import (
	"sync"

	"pkt.systems/paveurpath/schema"
	"pkt.systems/pslog"
)

// Writer saves session snapshots in the background. Bursts of updates
// coalesce into a single write of the latest snapshot.
type Writer struct {
	adapter Adapter
	log     pslog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending schema.Session
	dirty   bool
	busy    bool
	closed  bool
	failed  int

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewWriter starts a writer for adapter.
func NewWriter(adapter Adapter, logger pslog.Logger) *Writer {
	w := &Writer{
		adapter: adapter,
		log:     logger,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.loop()
	return w
}

// Observe queues the post-transition session of event. It matches the
// session store listener signature.
func (w *Writer) Observe(event schema.SessionEvent) {
	w.Enqueue(event.Current)
}

// Enqueue schedules session for writing.
func (w *Writer) Enqueue(session schema.Session) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.pending = session
	w.dirty = true
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Flush blocks until every queued snapshot has been written.
func (w *Writer) Flush() {
	w.mu.Lock()
	for w.dirty || w.busy {
		w.cond.Wait()
	}
	w.mu.Unlock()
}

// Failures returns how many saves failed.
func (w *Writer) Failures() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed
}

// Close drains pending writes and stops the writer.
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.stop)
		<-w.done
	})
}

func (w *Writer) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.wake:
			w.drain()
		case <-w.stop:
			w.drain()
			return
		}
	}
}

func (w *Writer) drain() {
	for {
		w.mu.Lock()
		if !w.dirty {
			w.busy = false
			w.cond.Broadcast()
			w.mu.Unlock()
			return
		}
		session := w.pending
		w.dirty = false
		w.busy = true
		w.mu.Unlock()

		if err := w.adapter.Save(session); err != nil {
			w.mu.Lock()
			w.failed++
			w.mu.Unlock()
			if w.log != nil {
				w.log.Warn("state persist failed", "err", err)
			}
		}
	}
}
