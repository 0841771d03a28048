// ABOUTME: Outbound event catalog delivered to collaboration participants
// ABOUTME: One tagged Event struct with optional fields per event type, JSON-encoded on the wire

package collab

import "time"

// EventType tags each outbound message.
type EventType string

// Event types. collaboration-state, lock-failed, file-update-result and error
// go to a single user; everything else fans out to session participants.
const (
	EventCollaborationState EventType = "collaboration-state"
	EventUserJoined         EventType = "user-joined"
	EventUserLeft           EventType = "user-left"
	EventFileUpdated        EventType = "file-updated"
	EventFileUpdateResult   EventType = "file-update-result"
	EventConflictDetected   EventType = "conflict-detected"
	EventFileLockChanged    EventType = "file-lock-changed"
	EventLockFailed         EventType = "lock-failed"
	EventCursorMoved        EventType = "cursor-moved"
	EventSystemBroadcast    EventType = "system-broadcast"
	EventSessionExpired     EventType = "session-expired"
	EventError              EventType = "error"
	EventPong               EventType = "pong"
)

// ResolutionLastWriteWins is the only conflict resolution strategy.
const ResolutionLastWriteWins = "last-write-wins"

// Event is a single outbound message. Pointer fields distinguish "absent"
// from zero values that matter on the wire (version 0, empty content, unlocked).
type Event struct {
	Type        EventType `json:"type"`
	SessionID   string    `json:"sessionId,omitempty"`
	ContainerID string    `json:"containerId,omitempty"`
	FilePath    string    `json:"filePath,omitempty"`
	UserID      string    `json:"userId,omitempty"`
	ReplyTo     string    `json:"replyTo,omitempty"`

	// collaboration-state
	Content *string             `json:"content,omitempty"`
	Version *int64              `json:"version,omitempty"`
	Users   []string            `json:"users,omitempty"`
	Locks   map[string]string   `json:"locks,omitempty"` // file path -> holder
	Cursors map[string]Position `json:"cursors,omitempty"`

	// user-joined
	UserCount *int `json:"userCount,omitempty"`

	// file-lock-changed / lock-failed
	Locked   *bool  `json:"locked,omitempty"`
	LockedBy string `json:"lockedBy,omitempty"`

	// conflict-detected / file-update-result
	Resolution     string `json:"resolution,omitempty"`
	CurrentVersion *int64 `json:"currentVersion,omitempty"`
	BaseVersion    *int64 `json:"baseVersion,omitempty"`
	Conflict       *bool  `json:"conflict,omitempty"`

	// cursor-moved
	Position *Position `json:"position,omitempty"`

	// system-broadcast
	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`

	// error
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

func ptr[T any](v T) *T { return &v }

func stateEvent(snap *Snapshot, now time.Time) *Event {
	locks := map[string]string{}
	if snap.LockedBy != "" {
		locks[snap.FilePath] = snap.LockedBy
	}
	return &Event{
		Type:        EventCollaborationState,
		SessionID:   snap.SessionID,
		ContainerID: snap.ContainerID,
		FilePath:    snap.FilePath,
		Content:     ptr(snap.Content),
		Version:     ptr(snap.Version),
		Users:       snap.Users,
		Locks:       locks,
		Cursors:     snap.Cursors,
		Locked:      ptr(snap.LockedBy != ""),
		LockedBy:    snap.LockedBy,
		Timestamp:   now,
	}
}

func lockChangedEvent(s *Session, userID string, locked bool, now time.Time) *Event {
	ev := &Event{
		Type:        EventFileLockChanged,
		SessionID:   s.ID,
		ContainerID: s.ContainerID,
		FilePath:    s.FilePath,
		UserID:      userID,
		Locked:      ptr(locked),
		Timestamp:   now,
	}
	if locked {
		ev.LockedBy = userID
	}
	return ev
}

// ErrorEvent builds an error message addressed to the sender of a failed command.
func ErrorEvent(replyTo, code string, err error) *Event {
	return &Event{
		Type:      EventError,
		ReplyTo:   replyTo,
		Code:      code,
		Error:     err.Error(),
		Timestamp: time.Now(),
	}
}

// UpdateResultEvent acknowledges an applied update to its author.
func UpdateResultEvent(replyTo, sessionID string, out Outcome) *Event {
	return &Event{
		Type:           EventFileUpdateResult,
		SessionID:      sessionID,
		ReplyTo:        replyTo,
		Version:        ptr(out.Version),
		Conflict:       ptr(out.Conflict),
		BaseVersion:    ptr(out.BaseVersion),
		CurrentVersion: ptr(out.VersionAtReceipt),
		Resolution:     out.Resolution,
		Timestamp:      time.Now(),
	}
}
