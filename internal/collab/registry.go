// ABOUTME: Session store keyed by (container, file path) with atomic get-or-insert
// ABOUTME: Single source of truth for session existence; seed content is loaded outside the lock

package collab

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type sessionKey struct {
	containerID string
	filePath    string
}

// Registry owns every live session. It is constructed once per process and
// passed to the Manager; there is no package-level registry.
//
// Lock order: a session's mu may be held while taking r.mu, never the reverse.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Session
	byKey  map[sessionKey]*Session
	source ContentSource
	now    func() time.Time
	logger *slog.Logger
}

// NewRegistry creates an empty registry. source may be nil, in which case new
// sessions start with empty content.
func NewRegistry(source ContentSource, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byID:   make(map[string]*Session),
		byKey:  make(map[sessionKey]*Session),
		source: source,
		now:    time.Now,
		logger: logger,
	}
}

// GetOrCreate returns the session for (containerID, filePath), creating it
// with version 0 and seed content if absent. Concurrent callers for the same
// key always get the same session.
func (r *Registry) GetOrCreate(ctx context.Context, containerID, filePath string) *Session {
	key := sessionKey{containerID: containerID, filePath: filePath}

	r.mu.RLock()
	s, ok := r.byKey[key]
	r.mu.RUnlock()
	if ok {
		return s
	}

	seed := r.loadSeed(ctx, containerID, filePath)

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byKey[key]; ok {
		// Lost the race; our seed is discarded.
		return s
	}
	s = newSession(uuid.New().String(), containerID, filePath, seed, r.now())
	r.byKey[key] = s
	r.byID[s.ID] = s
	r.logger.Debug("session created",
		"session_id", s.ID,
		"container_id", containerID,
		"file_path", filePath,
		"total_sessions", len(r.byID),
	)
	return s
}

func (r *Registry) loadSeed(ctx context.Context, containerID, filePath string) string {
	if r.source == nil {
		return ""
	}
	seed, err := r.source.Load(ctx, containerID, filePath)
	if err != nil {
		r.logger.Warn("loading seed content failed, starting empty",
			"container_id", containerID,
			"file_path", filePath,
			"error", err,
		)
		return ""
	}
	return seed
}

// Get looks up a session by ID.
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Lookup finds a session by its natural key without creating it.
func (r *Registry) Lookup(containerID, filePath string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byKey[sessionKey{containerID: containerID, filePath: filePath}]
	return s, ok
}

// Remove destroys the mapping for sessionID. Removing an absent session is a no-op.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	if !ok {
		return
	}
	delete(r.byID, sessionID)
	key := sessionKey{containerID: s.ContainerID, filePath: s.FilePath}
	if r.byKey[key] == s {
		delete(r.byKey, key)
	}
	r.logger.Debug("session removed",
		"session_id", sessionID,
		"total_sessions", len(r.byID),
	)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// sessions returns a point-in-time copy of all sessions. Callers must lock
// each session themselves and re-check closed.
func (r *Registry) sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}
