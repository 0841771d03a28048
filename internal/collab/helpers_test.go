// ABOUTME: Shared test helpers for the collab package
// ABOUTME: recordingTransport captures per-user deliveries for assertions

package collab

import (
	"sync"
	"testing"
)

type recordingTransport struct {
	mu     sync.Mutex
	events map[string][]*Event
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{events: make(map[string][]*Event)}
}

func (r *recordingTransport) SendTo(userID string, ev *Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[userID] = append(r.events[userID], ev)
}

func (r *recordingTransport) of(userID string, typ EventType) []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Event
	for _, ev := range r.events[userID] {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recordingTransport) count(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events[userID])
}

func (r *recordingTransport) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = make(map[string][]*Event)
}

func newTestManager(t *testing.T, opts Options) (*Manager, *recordingTransport) {
	t.Helper()
	rt := newRecordingTransport()
	opts.Transport = rt
	return NewManager(opts), rt
}
