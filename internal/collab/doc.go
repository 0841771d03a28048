// Package collab implements the collaboration session manager: a
// process-local coordinator for users editing the same file in a shared
// container.
//
// # Sessions
//
// A Session exists per (container, file path) pair and is created by the
// first Join. It tracks the authoritative content, a version counter, the
// participant set with cursors, and an advisory lock. The session is
// destroyed the moment its last participant leaves; a later Join creates a
// brand-new session at version 0.
//
// # Serialization
//
// Every mutation of a session runs under that session's mutex. The Registry
// map is guarded separately and offers an atomic get-or-insert, so two
// concurrent joins for the same key never produce two sessions. No I/O
// happens while a session mutex is held: seed content is loaded before the
// registry insert, and Transport.SendTo is required to be non-blocking.
//
// # Conflicts
//
// Updates follow last-write-wins. An update whose base version differs from
// the session's version is still applied, and a conflict-detected event is
// sent to all participants so clients can warn the user.
//
// # Events
//
//   - collaboration-state: full snapshot, joiner only
//   - user-joined, user-left
//   - file-updated (author excluded unless EchoToAuthor)
//   - conflict-detected
//   - file-lock-changed, lock-failed (requester only)
//   - cursor-moved (sender excluded)
//   - system-broadcast, session-expired
package collab
