// ABOUTME: Collaboration session state for one (container, file path) pair
// ABOUTME: Holds content, version, participants, lock and activity timestamps

package collab

import (
	"sort"
	"sync"
	"time"
)

// Position is a cursor location inside a file.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Participant is a user currently joined to a session.
type Participant struct {
	UserID   string
	Cursor   *Position
	JoinedAt time.Time
}

// Session is the collaboration state for one file in one container.
// All fields below mu are guarded by it; mu is the per-session ordering point
// every mutation goes through.
type Session struct {
	ID          string
	ContainerID string
	FilePath    string
	CreatedAt   time.Time

	mu           sync.Mutex
	content      string
	version      int64
	participants map[string]*Participant
	lockHolder   string // empty means unlocked
	lastModified time.Time
	lastActivity time.Time
	closed       bool // set once the session is destroyed; never cleared
}

func newSession(id, containerID, filePath, seed string, now time.Time) *Session {
	return &Session{
		ID:           id,
		ContainerID:  containerID,
		FilePath:     filePath,
		CreatedAt:    now,
		content:      seed,
		participants: make(map[string]*Participant),
		lastModified: now,
		lastActivity: now,
	}
}

// Snapshot is the full state a joiner needs to rebuild the session locally.
type Snapshot struct {
	SessionID    string
	ContainerID  string
	FilePath     string
	Content      string
	Version      int64
	Users        []string
	Cursors      map[string]Position
	LockedBy     string
	LastModified time.Time
}

// SessionInfo is a read-only summary used by the HTTP API and metrics.
type SessionInfo struct {
	ID           string    `json:"id"`
	ContainerID  string    `json:"container_id"`
	FilePath     string    `json:"file_path"`
	Version      int64     `json:"version"`
	Participants []string  `json:"participants"`
	LockedBy     string    `json:"locked_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
	LastActivity time.Time `json:"last_activity"`
}

// userIDsLocked returns the sorted participant IDs. Caller holds s.mu.
func (s *Session) userIDsLocked() []string {
	ids := make([]string, 0, len(s.participants))
	for id := range s.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Session) snapshotLocked() *Snapshot {
	cursors := make(map[string]Position)
	for id, p := range s.participants {
		if p.Cursor != nil {
			cursors[id] = *p.Cursor
		}
	}
	return &Snapshot{
		SessionID:    s.ID,
		ContainerID:  s.ContainerID,
		FilePath:     s.FilePath,
		Content:      s.content,
		Version:      s.version,
		Users:        s.userIDsLocked(),
		Cursors:      cursors,
		LockedBy:     s.lockHolder,
		LastModified: s.lastModified,
	}
}

func (s *Session) infoLocked() SessionInfo {
	return SessionInfo{
		ID:           s.ID,
		ContainerID:  s.ContainerID,
		FilePath:     s.FilePath,
		Version:      s.version,
		Participants: s.userIDsLocked(),
		LockedBy:     s.lockHolder,
		CreatedAt:    s.CreatedAt,
		LastModified: s.lastModified,
		LastActivity: s.lastActivity,
	}
}

func (s *Session) isParticipantLocked(userID string) bool {
	_, ok := s.participants[userID]
	return ok
}
