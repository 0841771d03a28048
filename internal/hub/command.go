// ABOUTME: Inbound client command frames and their validation
// ABOUTME: Validation runs before any session logic and yields collab.ValidationError

package hub

import (
	"fmt"

	"github.com/2389/disco-collab/internal/collab"
)

// CommandType tags each inbound frame.
type CommandType string

// Inbound command types.
const (
	CommandJoin           CommandType = "join"
	CommandLeave          CommandType = "leave"
	CommandFileUpdate     CommandType = "file-update"
	CommandFileLock       CommandType = "file-lock"
	CommandCursorPosition CommandType = "cursor-position"
	CommandPing           CommandType = "ping"
)

// Command is one inbound JSON frame. The acting user always comes from the
// authenticated connection; frames cannot act on behalf of someone else.
type Command struct {
	ID          string           `json:"id,omitempty"`
	Type        CommandType      `json:"type"`
	SessionID   string           `json:"sessionId,omitempty"`
	ContainerID string           `json:"containerId,omitempty"`
	FilePath    string           `json:"filePath,omitempty"`
	Content     *string          `json:"content,omitempty"`
	Version     *int64           `json:"version,omitempty"`
	Lock        *bool            `json:"lock,omitempty"`
	Position    *collab.Position `json:"position,omitempty"`
}

func missing(field string) error {
	return &collab.ValidationError{Field: field, Reason: "required"}
}

// Validate checks the fields required by the command type.
func (c *Command) Validate() error {
	switch c.Type {
	case "":
		return missing("type")
	case CommandPing:
		return nil
	case CommandJoin:
		if c.ContainerID == "" {
			return missing("containerId")
		}
		if c.FilePath == "" {
			return missing("filePath")
		}
		return nil
	case CommandLeave, CommandFileUpdate, CommandFileLock, CommandCursorPosition:
		if c.SessionID == "" {
			return missing("sessionId")
		}
	default:
		return &collab.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown command %q", c.Type)}
	}

	switch c.Type {
	case CommandFileUpdate:
		if c.Content == nil {
			return missing("content")
		}
		if c.Version == nil {
			return missing("version")
		}
	case CommandFileLock:
		if c.Lock == nil {
			return missing("lock")
		}
	case CommandCursorPosition:
		if c.Position == nil {
			return missing("position")
		}
	}
	return nil
}
