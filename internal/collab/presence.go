// ABOUTME: Presence tracking: join, leave, disconnect and cursor sharing
// ABOUTME: Leaving while holding the lock releases it in the same critical section

package collab

import (
	"context"
)

// JoinRequest identifies the file a user wants to collaborate on.
type JoinRequest struct {
	ContainerID string
	FilePath    string
	UserID      string

	// Reply, if set, receives the collaboration-state snapshot instead of
	// every connection of UserID. It runs under the session lock and must
	// not block.
	Reply func(*Event)
}

func (r JoinRequest) validate() error {
	switch {
	case r.ContainerID == "":
		return required("containerId")
	case r.FilePath == "":
		return required("filePath")
	case r.UserID == "":
		return required("userId")
	}
	return nil
}

// Join adds the user to the session for (ContainerID, FilePath), creating it
// if needed. The joiner receives collaboration-state; everyone else receives
// user-joined. Joining twice is a no-op on the set but re-sends the snapshot.
func (m *Manager) Join(ctx context.Context, req JoinRequest) (*Snapshot, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := m.registry.GetOrCreate(ctx, req.ContainerID, req.FilePath)

		s.mu.Lock()
		if s.closed {
			// Destroyed between lookup and lock; the registry no longer maps
			// this key to s, so the next GetOrCreate yields a fresh session.
			s.mu.Unlock()
			continue
		}

		now := m.touchLocked(s)
		var joined *Event
		if !s.isParticipantLocked(req.UserID) {
			s.participants[req.UserID] = &Participant{UserID: req.UserID, JoinedAt: now}
			joined = &Event{
				Type:        EventUserJoined,
				SessionID:   s.ID,
				ContainerID: s.ContainerID,
				FilePath:    s.FilePath,
				UserID:      req.UserID,
				UserCount:   ptr(len(s.participants)),
				Timestamp:   now,
			}
		}

		snap := s.snapshotLocked()
		state := stateEvent(snap, now)
		if req.Reply != nil {
			req.Reply(state)
		} else {
			m.transport.SendTo(req.UserID, state)
		}
		if joined != nil {
			m.fanoutLocked(s, joined, req.UserID)
		}
		s.mu.Unlock()

		if joined != nil {
			m.logger.Info("user joined session",
				"session_id", s.ID,
				"user_id", req.UserID,
				"participants", *joined.UserCount,
			)
			m.notify(joined)
		}
		return snap, nil
	}
}

// Leave removes the user from the session. If the user held the lock it is
// released, and if nobody remains the session is destroyed. Leaving a session
// the user is not in is a no-op.
func (m *Manager) Leave(_ context.Context, sessionID, userID string) error {
	if userID == "" {
		return required("userId")
	}
	s, err := m.lockSession(sessionID)
	if err != nil {
		return err
	}
	events := m.leaveLocked(s, userID)
	s.mu.Unlock()

	m.notify(events...)
	return nil
}

// leaveLocked performs the leave as one atomic step. Caller holds s.mu.
func (m *Manager) leaveLocked(s *Session, userID string) []*Event {
	if !s.isParticipantLocked(userID) {
		return nil
	}
	delete(s.participants, userID)
	now := m.touchLocked(s)

	var events []*Event
	if s.lockHolder == userID {
		s.lockHolder = ""
		unlocked := lockChangedEvent(s, userID, false, now)
		m.fanoutLocked(s, unlocked, "")
		events = append(events, unlocked)
	}

	left := &Event{
		Type:        EventUserLeft,
		SessionID:   s.ID,
		ContainerID: s.ContainerID,
		FilePath:    s.FilePath,
		UserID:      userID,
		UserCount:   ptr(len(s.participants)),
		Timestamp:   now,
	}
	events = append(events, left)

	if len(s.participants) == 0 {
		m.destroyLocked(s)
		m.logger.Info("session destroyed, last participant left",
			"session_id", s.ID,
			"user_id", userID,
		)
		return events
	}

	m.fanoutLocked(s, left, "")
	m.logger.Info("user left session",
		"session_id", s.ID,
		"user_id", userID,
		"participants", len(s.participants),
	)
	return events
}

// Disconnect applies Leave to every session the user participates in. It is
// called by the transport when the user's last connection drops. Returns the
// IDs of the sessions that were left.
func (m *Manager) Disconnect(_ context.Context, userID string) []string {
	if userID == "" {
		return nil
	}
	var left []string
	var events []*Event
	for _, s := range m.registry.sessions() {
		s.mu.Lock()
		if s.closed || !s.isParticipantLocked(userID) {
			s.mu.Unlock()
			continue
		}
		events = append(events, m.leaveLocked(s, userID)...)
		s.mu.Unlock()
		left = append(left, s.ID)
	}
	m.notify(events...)
	return left
}

// UpdateCursor records the user's cursor and shares it with the other
// participants. Cursor state is ephemeral and not versioned.
func (m *Manager) UpdateCursor(_ context.Context, sessionID, userID string, pos Position) error {
	if userID == "" {
		return required("userId")
	}
	if pos.Line < 0 || pos.Column < 0 {
		return &ValidationError{Field: "position", Reason: "line and column must be non-negative"}
	}
	s, err := m.lockSession(sessionID)
	if err != nil {
		return err
	}
	p, ok := s.participants[userID]
	if !ok {
		s.mu.Unlock()
		return ErrNotAParticipant
	}
	p.Cursor = &pos
	now := m.touchLocked(s)

	ev := &Event{
		Type:      EventCursorMoved,
		SessionID: s.ID,
		UserID:    userID,
		Position:  &pos,
		Timestamp: now,
	}
	m.fanoutLocked(s, ev, userID)
	s.mu.Unlock()

	m.notify(ev)
	return nil
}
