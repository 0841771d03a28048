// ABOUTME: Version/conflict resolver: last-write-wins with conflict notification
// ABOUTME: Every valid update is applied; a stale base version additionally emits conflict-detected

package collab

import (
	"context"
	"fmt"
)

// UpdateRequest is a content edit submitted by a participant.
type UpdateRequest struct {
	SessionID   string
	UserID      string
	Content     string
	BaseVersion int64 // the version the client edited against
}

// Outcome describes an applied update.
type Outcome struct {
	Version          int64  // version after the update
	VersionAtReceipt int64  // version the session was at when the update arrived
	BaseVersion      int64  // version the client edited against
	Conflict         bool   // BaseVersion != VersionAtReceipt
	Resolution       string // set when Conflict
}

func (m *Manager) checkContent(content string) error {
	if m.maxContentBytes > 0 && len(content) > m.maxContentBytes {
		return &ValidationError{
			Field:  "content",
			Reason: fmt.Sprintf("%d bytes exceeds limit of %d", len(content), m.maxContentBytes),
		}
	}
	return nil
}

// ApplyUpdate replaces the session content and bumps the version by exactly
// one. Updates are never rejected for being stale: a mismatched BaseVersion
// is reported as a conflict and the update still wins.
func (m *Manager) ApplyUpdate(_ context.Context, req UpdateRequest) (Outcome, error) {
	if req.UserID == "" {
		return Outcome{}, required("userId")
	}
	if req.BaseVersion < 0 {
		return Outcome{}, &ValidationError{Field: "version", Reason: "must be non-negative"}
	}
	if err := m.checkContent(req.Content); err != nil {
		return Outcome{}, err
	}

	s, err := m.lockSession(req.SessionID)
	if err != nil {
		return Outcome{}, err
	}
	if !s.isParticipantLocked(req.UserID) {
		s.mu.Unlock()
		return Outcome{}, ErrNotAParticipant
	}

	out, events := m.applyLocked(s, req.UserID, req.Content, req.BaseVersion, m.authorExclusion(req.UserID))
	s.mu.Unlock()

	if out.Conflict {
		m.logger.Info("conflicting update applied",
			"session_id", s.ID,
			"user_id", req.UserID,
			"base_version", out.BaseVersion,
			"version_at_receipt", out.VersionAtReceipt,
			"new_version", out.Version,
		)
	}
	m.notify(events...)
	return out, nil
}

func (m *Manager) authorExclusion(userID string) string {
	if m.echoToAuthor {
		return ""
	}
	return userID
}

// applyLocked commits the content and fans out the resulting events. Caller holds s.mu.
func (m *Manager) applyLocked(s *Session, author, content string, base int64, exclude string) (Outcome, []*Event) {
	atReceipt := s.version
	s.content = content
	s.version++
	now := m.touchLocked(s)
	s.lastModified = now

	out := Outcome{
		Version:          s.version,
		VersionAtReceipt: atReceipt,
		BaseVersion:      base,
		Conflict:         base != atReceipt,
	}

	updated := &Event{
		Type:        EventFileUpdated,
		SessionID:   s.ID,
		ContainerID: s.ContainerID,
		FilePath:    s.FilePath,
		UserID:      author,
		Content:     ptr(content),
		Version:     ptr(s.version),
		Timestamp:   now,
	}
	m.fanoutLocked(s, updated, exclude)
	events := []*Event{updated}

	if out.Conflict {
		out.Resolution = ResolutionLastWriteWins
		conflict := &Event{
			Type:           EventConflictDetected,
			SessionID:      s.ID,
			ContainerID:    s.ContainerID,
			FilePath:       s.FilePath,
			UserID:         author,
			Resolution:     ResolutionLastWriteWins,
			CurrentVersion: ptr(atReceipt),
			BaseVersion:    ptr(base),
			Version:        ptr(s.version),
			Timestamp:      now,
		}
		m.fanoutLocked(s, conflict, "")
		events = append(events, conflict)
	}
	return out, events
}

// ExternalWrite is a completed file write reported by the REST file layer.
type ExternalWrite struct {
	ContainerID string
	FilePath    string
	WriterID    string
	Content     string
}

// ApplyExternalWrite pushes a file written outside the session into the live
// session for that file, if there is one. The writer is always excluded from
// the fan-out so it does not receive an echo of its own change, and need not
// be a participant. Returns false when nobody is collaborating on the file.
func (m *Manager) ApplyExternalWrite(_ context.Context, w ExternalWrite) (Outcome, bool, error) {
	switch {
	case w.ContainerID == "":
		return Outcome{}, false, required("containerId")
	case w.FilePath == "":
		return Outcome{}, false, required("filePath")
	case w.WriterID == "":
		return Outcome{}, false, required("userId")
	}
	if err := m.checkContent(w.Content); err != nil {
		return Outcome{}, false, err
	}

	s, ok := m.registry.Lookup(w.ContainerID, w.FilePath)
	if !ok {
		return Outcome{}, false, nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Outcome{}, false, nil
	}
	out, events := m.applyLocked(s, w.WriterID, w.Content, s.version, w.WriterID)
	s.mu.Unlock()

	m.notify(events...)
	return out, true, nil
}
