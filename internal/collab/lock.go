// ABOUTME: Advisory single-writer lock per session: Unlocked -> Locked(holder) -> Unlocked
// ABOUTME: Acquire by a non-holder fails with LockHeldError and a lock-failed event to the requester

package collab

import "context"

// AcquireLock takes the session's lock for userID. Re-acquiring an owned lock
// succeeds. A lock held by someone else yields *LockHeldError.
func (m *Manager) AcquireLock(_ context.Context, sessionID, userID string) error {
	if userID == "" {
		return required("userId")
	}
	s, err := m.lockSession(sessionID)
	if err != nil {
		return err
	}
	if !s.isParticipantLocked(userID) {
		s.mu.Unlock()
		return ErrNotAParticipant
	}

	now := m.touchLocked(s)
	if s.lockHolder != "" && s.lockHolder != userID {
		holder := s.lockHolder
		failed := &Event{
			Type:        EventLockFailed,
			SessionID:   s.ID,
			ContainerID: s.ContainerID,
			FilePath:    s.FilePath,
			UserID:      userID,
			Locked:      ptr(true),
			LockedBy:    holder,
			Timestamp:   now,
		}
		m.transport.SendTo(userID, failed)
		s.mu.Unlock()

		m.notify(failed)
		return &LockHeldError{Holder: holder}
	}

	s.lockHolder = userID
	ev := lockChangedEvent(s, userID, true, now)
	m.fanoutLocked(s, ev, "")
	s.mu.Unlock()

	m.logger.Debug("lock acquired", "session_id", sessionID, "user_id", userID)
	m.notify(ev)
	return nil
}

// ReleaseLock clears the lock if userID holds it. Releasing an unlocked
// session succeeds; releasing someone else's lock returns ErrNotLockHolder.
func (m *Manager) ReleaseLock(_ context.Context, sessionID, userID string) error {
	if userID == "" {
		return required("userId")
	}
	s, err := m.lockSession(sessionID)
	if err != nil {
		return err
	}
	if !s.isParticipantLocked(userID) {
		s.mu.Unlock()
		return ErrNotAParticipant
	}
	if s.lockHolder != "" && s.lockHolder != userID {
		s.mu.Unlock()
		return ErrNotLockHolder
	}

	s.lockHolder = ""
	now := m.touchLocked(s)
	ev := lockChangedEvent(s, userID, false, now)
	m.fanoutLocked(s, ev, "")
	s.mu.Unlock()

	m.logger.Debug("lock released", "session_id", sessionID, "user_id", userID)
	m.notify(ev)
	return nil
}

// LockHolder returns the current holder, or "" when unlocked.
func (m *Manager) LockHolder(sessionID string) (string, error) {
	s, err := m.lockSession(sessionID)
	if err != nil {
		return "", err
	}
	defer s.mu.Unlock()
	return s.lockHolder, nil
}
