// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	records []*ActivityRecord // insertion order
	byID    map[string]*ActivityRecord
	closed  bool

	// SaveErr, when set, is returned by SaveEvent.
	SaveErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{byID: make(map[string]*ActivityRecord)}
}

// SaveEvent stores a copy of rec.
func (m *MockStore) SaveEvent(_ context.Context, rec *ActivityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	if m.closed {
		return errors.New("store closed")
	}
	if _, dup := m.byID[rec.ID]; dup {
		return errors.New("duplicate event id")
	}
	r := *rec
	m.records = append(m.records, &r)
	m.byID[r.ID] = &r
	return nil
}

// GetEvent retrieves a record by ID.
func (m *MockStore) GetEvent(_ context.Context, id string) (*ActivityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// ListEventsByFile returns the newest records for a file, oldest first.
func (m *MockStore) ListEventsByFile(_ context.Context, containerID, filePath string, limit int) ([]*ActivityRecord, error) {
	return m.tail(func(r *ActivityRecord) bool {
		return r.ContainerID == containerID && r.FilePath == filePath
	}, clampLimit(limit)), nil
}

// ListEventsBySession returns the newest records for a session, oldest first.
func (m *MockStore) ListEventsBySession(_ context.Context, sessionID string, limit int) ([]*ActivityRecord, error) {
	return m.tail(func(r *ActivityRecord) bool { return r.SessionID == sessionID }, clampLimit(limit)), nil
}

func (m *MockStore) tail(match func(*ActivityRecord) bool, limit int) []*ActivityRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ActivityRecord
	for _, r := range m.records {
		if match(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// PruneBefore drops records older than cutoff.
func (m *MockStore) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	var n int64
	for _, r := range m.records {
		if r.Timestamp.Before(cutoff) {
			delete(m.byID, r.ID)
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return n, nil
}

// Len returns how many records are stored.
func (m *MockStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

var _ Store = (*MockStore)(nil)
var _ Store = (*SQLiteStore)(nil)
