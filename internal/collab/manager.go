// ABOUTME: Collaboration Manager coordinating presence, locks, updates and fan-out
// ABOUTME: Every mutation is serialized on the owning session's mutex; fan-out happens after commit

package collab

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Transport delivers an event to every live connection of a user.
// Implementations must not block: the Manager calls SendTo while holding the
// session's ordering point so recipients see a session's events in order.
type Transport interface {
	SendTo(userID string, ev *Event)
}

// Observer receives every committed event after the session lock is released.
// Used for the ledger and metrics; observers must not call back into the Manager.
type Observer interface {
	Observe(ev *Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev *Event)

// Observe calls f.
func (f ObserverFunc) Observe(ev *Event) { f(ev) }

type nopTransport struct{}

func (nopTransport) SendTo(string, *Event) {}

// Options configures a Manager.
type Options struct {
	Transport Transport
	Source    ContentSource
	Logger    *slog.Logger

	// EchoToAuthor sends file-updated back to the author of an update.
	// By default the author is excluded.
	EchoToAuthor bool

	// MaxContentBytes bounds update content; 0 means unbounded.
	MaxContentBytes int
}

// Manager is the collaboration session manager.
type Manager struct {
	registry        *Registry
	transport       Transport
	echoToAuthor    bool
	maxContentBytes int
	now             func() time.Time
	logger          *slog.Logger

	obsMu     sync.RWMutex
	observers []Observer
}

// NewManager creates a Manager with its own Registry.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	transport := opts.Transport
	if transport == nil {
		transport = nopTransport{}
	}
	return &Manager{
		registry:        NewRegistry(opts.Source, logger.With("component", "registry")),
		transport:       transport,
		echoToAuthor:    opts.EchoToAuthor,
		maxContentBytes: opts.MaxContentBytes,
		now:             time.Now,
		logger:          logger,
	}
}

// AddObserver registers an observer for committed events.
func (m *Manager) AddObserver(o Observer) {
	m.obsMu.Lock()
	m.observers = append(m.observers, o)
	m.obsMu.Unlock()
}

// Registry exposes the session store.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// SessionCount returns the number of live sessions.
func (m *Manager) SessionCount() int {
	return m.registry.Len()
}

// Sessions summarizes every live session.
func (m *Manager) Sessions() []SessionInfo {
	all := m.registry.sessions()
	out := make([]SessionInfo, 0, len(all))
	for _, s := range all {
		s.mu.Lock()
		if !s.closed {
			out = append(out, s.infoLocked())
		}
		s.mu.Unlock()
	}
	return out
}

// Session summarizes one session.
func (m *Manager) Session(sessionID string) (SessionInfo, error) {
	s, err := m.lockSession(sessionID)
	if err != nil {
		return SessionInfo{}, err
	}
	defer s.mu.Unlock()
	return s.infoLocked(), nil
}

// lockSession resolves and locks a live session. On success the caller owns s.mu.
func (m *Manager) lockSession(sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, required("sessionId")
	}
	s, err := m.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// fanoutLocked sends ev to every participant except exclude. Caller holds s.mu.
func (m *Manager) fanoutLocked(s *Session, ev *Event, exclude string) {
	for id := range s.participants {
		if exclude != "" && id == exclude {
			continue
		}
		m.transport.SendTo(id, ev)
	}
}

// notify hands committed events to observers. Must be called without any session lock.
func (m *Manager) notify(events ...*Event) {
	m.obsMu.RLock()
	observers := m.observers
	m.obsMu.RUnlock()
	for _, ev := range events {
		for _, o := range observers {
			o.Observe(ev)
		}
	}
}

// touchLocked records activity for idle tracking. Caller holds s.mu.
func (m *Manager) touchLocked(s *Session) time.Time {
	now := m.now()
	s.lastActivity = now
	return now
}

// destroyLocked marks s dead and drops it from the registry. Caller holds s.mu.
func (m *Manager) destroyLocked(s *Session) {
	s.closed = true
	s.lockHolder = ""
	m.registry.Remove(s.ID)
}

// Broadcast delivers ev to every participant of the session except excludeUserID.
func (m *Manager) Broadcast(sessionID string, ev *Event, excludeUserID string) error {
	s, err := m.lockSession(sessionID)
	if err != nil {
		return err
	}
	m.fanoutLocked(s, ev, excludeUserID)
	s.mu.Unlock()

	m.notify(ev)
	return nil
}

// SystemMessage is an operator notice with no effect on session state.
type SystemMessage struct {
	Message   string
	Level     string
	SessionID string // empty targets every participant of every session
}

// SystemBroadcast delivers an operator notice. With no SessionID every user
// in any session receives it exactly once. Returns the number of recipients.
func (m *Manager) SystemBroadcast(_ context.Context, msg SystemMessage) (int, error) {
	if msg.Message == "" {
		return 0, required("message")
	}
	level := msg.Level
	if level == "" {
		level = "info"
	}
	ev := &Event{
		Type:      EventSystemBroadcast,
		SessionID: msg.SessionID,
		Message:   msg.Message,
		Level:     level,
		Timestamp: m.now(),
	}

	if msg.SessionID != "" {
		s, err := m.lockSession(msg.SessionID)
		if err != nil {
			return 0, err
		}
		n := len(s.participants)
		m.fanoutLocked(s, ev, "")
		s.mu.Unlock()
		m.notify(ev)
		return n, nil
	}

	seen := make(map[string]struct{})
	for _, s := range m.registry.sessions() {
		s.mu.Lock()
		if !s.closed {
			for id := range s.participants {
				seen[id] = struct{}{}
			}
		}
		s.mu.Unlock()
	}
	for id := range seen {
		m.transport.SendTo(id, ev)
	}
	m.notify(ev)
	return len(seen), nil
}

// IdleFor reports how long the session has had no activity. The core never
// evicts on its own; callers apply their own policy.
func (m *Manager) IdleFor(sessionID string) (time.Duration, error) {
	s, err := m.lockSession(sessionID)
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	return m.now().Sub(s.lastActivity), nil
}

// EvictIdle destroys sessions idle for longer than threshold, sending
// session-expired to their participants. Returns the evicted session IDs.
func (m *Manager) EvictIdle(_ context.Context, threshold time.Duration) []string {
	var evicted []string
	var events []*Event
	for _, s := range m.registry.sessions() {
		s.mu.Lock()
		now := m.now()
		if s.closed || now.Sub(s.lastActivity) <= threshold {
			s.mu.Unlock()
			continue
		}
		ev := &Event{
			Type:        EventSessionExpired,
			SessionID:   s.ID,
			ContainerID: s.ContainerID,
			FilePath:    s.FilePath,
			Message:     "session closed after inactivity",
			Timestamp:   now,
		}
		m.fanoutLocked(s, ev, "")
		m.destroyLocked(s)
		s.mu.Unlock()

		evicted = append(evicted, s.ID)
		events = append(events, ev)
		m.logger.Info("evicted idle session",
			"session_id", s.ID,
			"container_id", s.ContainerID,
			"file_path", s.FilePath,
		)
	}
	m.notify(events...)
	return evicted
}
