// ABOUTME: Asynchronous ledger writer fed by the collaboration Manager's observer hook
// ABOUTME: A bounded queue keeps SQLite latency out of the mutation path; overflow is dropped

package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/disco-collab/internal/collab"
)

// RecordFromEvent converts a committed event into a ledger record. Cursor
// moves and other ephemeral events return nil.
func RecordFromEvent(ev *collab.Event) *ActivityRecord {
	rec := &ActivityRecord{
		ID:          uuid.New().String(),
		SessionID:   ev.SessionID,
		ContainerID: ev.ContainerID,
		FilePath:    ev.FilePath,
		Type:        string(ev.Type),
		UserID:      ev.UserID,
		Timestamp:   ev.Timestamp,
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	switch ev.Type {
	case collab.EventUserJoined, collab.EventUserLeft, collab.EventSessionExpired:
	case collab.EventFileUpdated:
		rec.Version = ev.Version
		if ev.Content != nil {
			n := len(*ev.Content)
			rec.ContentBytes = &n
		}
	case collab.EventConflictDetected:
		rec.Conflict = true
		rec.Version = ev.Version
		rec.BaseVersion = ev.BaseVersion
	case collab.EventFileLockChanged, collab.EventLockFailed:
		if ev.Locked != nil && *ev.Locked {
			rec.Detail = ev.LockedBy
		}
	case collab.EventSystemBroadcast:
		rec.Detail = ev.Message
	default:
		return nil
	}
	return rec
}

// AsyncWriter persists committed events in the background. It implements
// collab.Observer.
type AsyncWriter struct {
	store   Store
	queue   chan *ActivityRecord
	onDrop  func()
	logger  *slog.Logger
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

// NewAsyncWriter starts a writer with a queue of the given size. onDrop may be nil.
func NewAsyncWriter(s Store, queueSize int, onDrop func(), logger *slog.Logger) *AsyncWriter {
	if logger == nil {
		logger = slog.Default()
	}
	w := &AsyncWriter{
		store:  s,
		queue:  make(chan *ActivityRecord, queueSize),
		onDrop: onDrop,
		logger: logger.With("component", "ledger"),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Observe enqueues ev without blocking.
func (w *AsyncWriter) Observe(ev *collab.Event) {
	rec := RecordFromEvent(ev)
	if rec == nil {
		return
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.queue <- rec:
	default:
		w.logger.Warn("ledger queue full, dropping event", "type", rec.Type, "session_id", rec.SessionID)
		if w.onDrop != nil {
			w.onDrop()
		}
	}
}

func (w *AsyncWriter) run() {
	defer w.wg.Done()
	for rec := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.store.SaveEvent(ctx, rec); err != nil {
			w.logger.Error("failed to save ledger event", "type", rec.Type, "session_id", rec.SessionID, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (w *AsyncWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.queue)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
