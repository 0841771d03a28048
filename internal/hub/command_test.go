package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/disco-collab/internal/collab"
)

func strPtr(s string) *string { return &s }
func int64Ptr(v int64) *int64 { return &v }
func boolPtr(b bool) *bool    { return &b }

func TestCommand_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cmd       Command
		wantField string
	}{
		{name: "ping", cmd: Command{Type: CommandPing}},
		{name: "join", cmd: Command{Type: CommandJoin, ContainerID: "c1", FilePath: "/a.js"}},
		{name: "update with empty content", cmd: Command{Type: CommandFileUpdate, SessionID: "s", Content: strPtr(""), Version: int64Ptr(0)}},
		{name: "release lock", cmd: Command{Type: CommandFileLock, SessionID: "s", Lock: boolPtr(false)}},
		{name: "cursor", cmd: Command{Type: CommandCursorPosition, SessionID: "s", Position: &collab.Position{}}},

		{name: "missing type", cmd: Command{}, wantField: "type"},
		{name: "unknown type", cmd: Command{Type: "teleport"}, wantField: "type"},
		{name: "join without container", cmd: Command{Type: CommandJoin, FilePath: "/a.js"}, wantField: "containerId"},
		{name: "join without path", cmd: Command{Type: CommandJoin, ContainerID: "c1"}, wantField: "filePath"},
		{name: "leave without session", cmd: Command{Type: CommandLeave}, wantField: "sessionId"},
		{name: "update without content", cmd: Command{Type: CommandFileUpdate, SessionID: "s", Version: int64Ptr(1)}, wantField: "content"},
		{name: "update without version", cmd: Command{Type: CommandFileUpdate, SessionID: "s", Content: strPtr("x")}, wantField: "version"},
		{name: "lock without flag", cmd: Command{Type: CommandFileLock, SessionID: "s"}, wantField: "lock"},
		{name: "cursor without position", cmd: Command{Type: CommandCursorPosition, SessionID: "s"}, wantField: "position"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verr *collab.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}
