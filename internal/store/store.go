// ABOUTME: Ledger store interface and record types for collaboration history
// ABOUTME: Records who did what to which file and at which version; file content is never stored

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// ActivityRecord is one committed collaboration event in the ledger.
type ActivityRecord struct {
	ID           string
	SessionID    string
	ContainerID  string
	FilePath     string
	Type         string // collab event type, e.g. "file-updated"
	UserID       string
	Version      *int64 // version after the event, for updates
	BaseVersion  *int64 // version the author edited against
	ContentBytes *int   // size of the content written, never the content itself
	Conflict     bool
	Detail       string // lock holder, broadcast message, etc.
	Timestamp    time.Time
}

// Store persists the collaboration ledger.
type Store interface {
	SaveEvent(ctx context.Context, rec *ActivityRecord) error
	GetEvent(ctx context.Context, id string) (*ActivityRecord, error)
	ListEventsByFile(ctx context.Context, containerID, filePath string, limit int) ([]*ActivityRecord, error)
	ListEventsBySession(ctx context.Context, sessionID string, limit int) ([]*ActivityRecord, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
