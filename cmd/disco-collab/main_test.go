// ABOUTME: Tests for CLI argument parsing, starter config writing, token minting and logging
// ABOUTME: Exercises helpers directly without starting a server

package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/disco-collab/internal/auth"
	"github.com/2389/disco-collab/internal/config"
)

func TestParseTokenArgs(t *testing.T) {
	got, err := parseTokenArgs([]string{"--user", "alice"})
	require.NoError(t, err)
	assert.Equal(t, tokenArgs{userID: "alice", ttl: defaultTokenTTL}, got)

	got, err = parseTokenArgs([]string{"--user=bob", "--admin", "--ttl=1h"})
	require.NoError(t, err)
	assert.Equal(t, tokenArgs{userID: "bob", admin: true, ttl: time.Hour}, got)

	for _, args := range [][]string{
		{},
		{"--user"},
		{"--user", "  "},
		{"--user", "a", "--ttl", "forever"},
		{"--user", "a", "--ttl", "-1h"},
		{"--user", "a", "--admin=yes"},
		{"--user", "a", "--verbose"},
		{"--user", "a", "extra"},
	} {
		_, err := parseTokenArgs(args)
		assert.Error(t, err, "args %q", args)
	}
}

func TestMintToken(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"

	token, err := mintToken(secret, tokenArgs{userID: "root", admin: true, ttl: time.Hour})
	require.NoError(t, err)

	verifier, err := auth.NewJWTVerifier([]byte(secret))
	require.NoError(t, err)
	id, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "root", id.UserID)
	assert.True(t, id.IsAdmin())

	_, err = mintToken("short", tokenArgs{userID: "root", ttl: time.Hour})
	assert.Error(t, err)
}

func TestWriteStarter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, writeStarter(path, false))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.Starter, string(data))

	assert.Error(t, writeStarter(path, false), "existing file must not be overwritten")
	assert.NoError(t, writeStarter(path, true))
}

func TestGenerateSecretIsStrongEnough(t *testing.T) {
	secret, err := generateSecret()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(secret), auth.MinSecretLength)
}

func TestSetupLogger_Color(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn"}, &buf)

	logger.Info("hidden")
	logger.With("component", "hub").WithGroup("conn").Warn("slow consumer", "user_id", "alice")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WRN slow consumer")
	assert.Contains(t, out, " component=hub")
	assert.Contains(t, out, "conn.user_id=alice")
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("hello", "n", 1)
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}
