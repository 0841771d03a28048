// ABOUTME: Per-user fan-out of collaboration events to live WebSocket connections
// ABOUTME: Implements collab.Transport with non-blocking sends and slow-consumer detection

package hub

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/disco-collab/internal/collab"
)

const (
	// connBufferSize is the outbound channel buffer for each connection.
	connBufferSize = 64
)

type outbox struct {
	ch       chan *collab.Event
	overflow chan struct{} // closed once when an event had to be dropped
	once     sync.Once
}

// userGate serializes Register and Release for one user.
type userGate struct {
	mu   sync.Mutex
	refs int
}

// Fanout routes events to every connection a user has open. A user may be
// connected from several tabs; each connection gets its own buffered channel.
type Fanout struct {
	mu      sync.RWMutex
	conns   map[string]map[string]*outbox // userID -> connID -> outbox
	onDrop  func(userID string, ev *collab.Event)
	logger  *slog.Logger
	closing bool

	gatesMu sync.Mutex
	gates   map[string]*userGate
}

// NewFanout creates an empty fan-out registry. Pass nil logger for default.
func NewFanout(logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		conns:  make(map[string]map[string]*outbox),
		gates:  make(map[string]*userGate),
		logger: logger.With("component", "fanout"),
	}
}

// OnDrop installs a callback invoked whenever an event is dropped for a full
// connection buffer. Must be called before connections register.
func (f *Fanout) OnDrop(fn func(userID string, ev *collab.Event)) {
	f.mu.Lock()
	f.onDrop = fn
	f.mu.Unlock()
}

// Register adds a connection for userID. The returned events channel is
// closed by Unregister; overflow is closed if the connection ever falls so
// far behind that an event is dropped.
func (f *Fanout) Register(userID string) (connID string, events <-chan *collab.Event, overflow <-chan struct{}) {
	unlock := f.lockUser(userID)
	defer unlock()

	connID = uuid.New().String()
	box := &outbox{
		ch:       make(chan *collab.Event, connBufferSize),
		overflow: make(chan struct{}),
	}

	f.mu.Lock()
	if _, ok := f.conns[userID]; !ok {
		f.conns[userID] = make(map[string]*outbox)
	}
	f.conns[userID][connID] = box
	f.mu.Unlock()

	f.logger.Debug("connection registered", "user_id", userID, "conn_id", connID)
	return connID, box.ch, box.overflow
}

// Unregister removes a connection and closes its channel. It reports whether
// this was the user's last connection.
func (f *Fanout) Unregister(userID, connID string) (last bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	boxes, ok := f.conns[userID]
	if !ok {
		return false
	}
	box, ok := boxes[connID]
	if !ok {
		return false
	}
	delete(boxes, connID)
	close(box.ch)

	if len(boxes) == 0 {
		delete(f.conns, userID)
		last = true
	}
	f.logger.Debug("connection unregistered", "user_id", userID, "conn_id", connID, "last", last)
	return last
}

// Release unregisters a connection. If it was the user's last one, onLast
// runs before any new connection of the same user can register, so teardown
// of the user's presence never overlaps a reconnect. It reports whether the
// connection was the last.
func (f *Fanout) Release(userID, connID string, onLast func()) bool {
	unlock := f.lockUser(userID)
	defer unlock()

	last := f.Unregister(userID, connID)
	if last && onLast != nil {
		onLast()
	}
	return last
}

// lockUser acquires the gate for userID and returns its release func.
func (f *Fanout) lockUser(userID string) func() {
	f.gatesMu.Lock()
	g, ok := f.gates[userID]
	if !ok {
		g = &userGate{}
		f.gates[userID] = g
	}
	g.refs++
	f.gatesMu.Unlock()

	g.mu.Lock()
	return func() {
		g.mu.Unlock()
		f.gatesMu.Lock()
		g.refs--
		if g.refs == 0 {
			delete(f.gates, userID)
		}
		f.gatesMu.Unlock()
	}
}

// SendTo delivers ev to every connection of userID without blocking. Sends
// happen under the read lock so Unregister cannot close a channel mid-send.
func (f *Fanout) SendTo(userID string, ev *collab.Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, box := range f.conns[userID] {
		f.deliverLocked(userID, box, ev)
	}
}

// SendToConn delivers ev to a single connection. Returns false if the
// connection is gone.
func (f *Fanout) SendToConn(userID, connID string, ev *collab.Event) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	box, ok := f.conns[userID][connID]
	if !ok {
		return false
	}
	f.deliverLocked(userID, box, ev)
	return true
}

func (f *Fanout) deliverLocked(userID string, box *outbox, ev *collab.Event) {
	select {
	case box.ch <- ev:
	default:
		box.once.Do(func() { close(box.overflow) })
		f.logger.Warn("dropped event for slow connection",
			"user_id", userID,
			"event_type", ev.Type,
			"session_id", ev.SessionID)
		if f.onDrop != nil {
			f.onDrop(userID, ev)
		}
	}
}

// Connected reports whether userID has at least one live connection.
func (f *Fanout) Connected(userID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.conns[userID]) > 0
}

// ConnectionCount returns the number of live connections across all users.
func (f *Fanout) ConnectionCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, boxes := range f.conns {
		n += len(boxes)
	}
	return n
}

// Close closes every connection channel. Connection handlers observe the
// closed channel and shut their sockets down.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closing {
		return
	}
	f.closing = true
	for userID, boxes := range f.conns {
		for connID, box := range boxes {
			close(box.ch)
			delete(boxes, connID)
		}
		delete(f.conns, userID)
	}
	f.logger.Debug("fanout closed")
}
