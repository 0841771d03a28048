// ABOUTME: HTTP API handlers for session inspection, history, file writes and broadcasts
// ABOUTME: All routes run behind the auth middleware and answer with JSON

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/disco-collab/internal/auth"
	"github.com/2389/disco-collab/internal/collab"
	"github.com/2389/disco-collab/internal/hub"
	"github.com/2389/disco-collab/internal/store"
)

// requestOverhead bounds request bodies that carry no file content.
const requestOverhead = 64 << 10

// HistoryEntry is one ledger row in the /api/history response.
type HistoryEntry struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	ContainerID  string    `json:"container_id"`
	FilePath     string    `json:"file_path"`
	Type         string    `json:"type"`
	UserID       string    `json:"user_id,omitempty"`
	Version      *int64    `json:"version,omitempty"`
	BaseVersion  *int64    `json:"base_version,omitempty"`
	ContentBytes *int      `json:"content_bytes,omitempty"`
	Conflict     bool      `json:"conflict,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// FileWriteRequest is the body of POST /api/files/write. The writer is the
// authenticated user.
type FileWriteRequest struct {
	ContainerID string `json:"container_id"`
	FilePath    string `json:"file_path"`
	Content     string `json:"content"`
}

// FileWriteResponse reports whether a live session received the write.
type FileWriteResponse struct {
	Delivered bool  `json:"delivered"`
	Version   int64 `json:"version,omitempty"`
}

// BroadcastRequest is the body of POST /api/broadcast.
type BroadcastRequest struct {
	Message   string `json:"message"`
	Level     string `json:"level,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// BroadcastResponse reports local delivery and whether the message went to
// other instances.
type BroadcastResponse struct {
	Recipients int  `json:"recipients"`
	Relayed    bool `json:"relayed"`
}

// handleListSessions returns a summary of every live session.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sessions := g.manager.Sessions()
	if sessions == nil {
		sessions = []collab.SessionInfo{}
	}
	g.sendJSON(w, http.StatusOK, sessions)
}

// handleGetSession returns one session: GET /api/sessions/{id}
func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		g.sendJSONError(w, http.StatusBadRequest, "invalid path")
		return
	}

	info, err := g.manager.Session(sessionID)
	if err != nil {
		g.sendCollabError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, info)
}

// handleHistory returns ledger rows for one file or one session, oldest first.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	sessionID := q.Get("session_id")
	containerID := q.Get("container_id")
	filePath := q.Get("file_path")

	limit := 0
	if limitStr := q.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	var (
		records []*store.ActivityRecord
		err     error
	)
	switch {
	case sessionID != "":
		records, err = g.store.ListEventsBySession(r.Context(), sessionID, limit)
	case containerID != "" && filePath != "":
		records, err = g.store.ListEventsByFile(r.Context(), containerID, filePath, limit)
	default:
		g.sendJSONError(w, http.StatusBadRequest, "session_id or container_id and file_path are required")
		return
	}
	if err != nil {
		g.logger.Error("failed to list history", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]HistoryEntry, 0, len(records))
	for _, rec := range records {
		response = append(response, HistoryEntry{
			ID:           rec.ID,
			SessionID:    rec.SessionID,
			ContainerID:  rec.ContainerID,
			FilePath:     rec.FilePath,
			Type:         rec.Type,
			UserID:       rec.UserID,
			Version:      rec.Version,
			BaseVersion:  rec.BaseVersion,
			ContentBytes: rec.ContentBytes,
			Conflict:     rec.Conflict,
			Detail:       rec.Detail,
			Timestamp:    rec.Timestamp,
		})
	}
	g.sendJSON(w, http.StatusOK, response)
}

// handleFileWrite is the completion hook for the REST file layer. A write to
// a file with a live session is pushed to its participants.
func (g *Gateway) handleFileWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := auth.FromContext(r.Context())
	if id == nil {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if limit := hub.FrameLimit(g.config.Collaboration.MaxContentBytes); limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	var req FileWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	out, delivered, err := g.manager.ApplyExternalWrite(r.Context(), collab.ExternalWrite{
		ContainerID: req.ContainerID,
		FilePath:    req.FilePath,
		WriterID:    id.UserID,
		Content:     req.Content,
	})
	if err != nil {
		g.sendCollabError(w, err)
		return
	}

	resp := FileWriteResponse{Delivered: delivered}
	if delivered {
		resp.Version = out.Version
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleBroadcast sends an operator notice to local sessions. Global notices
// are also published to other instances when the relay is enabled.
func (g *Gateway) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, requestOverhead)
	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg := collab.SystemMessage{
		Message:   req.Message,
		Level:     req.Level,
		SessionID: req.SessionID,
	}
	n, err := g.manager.SystemBroadcast(r.Context(), msg)
	if err != nil {
		g.sendCollabError(w, err)
		return
	}

	resp := BroadcastResponse{Recipients: n}
	if g.relay != nil && msg.SessionID == "" {
		if err := g.relay.Publish(r.Context(), msg); err != nil {
			g.logger.Error("failed to relay broadcast", "error", err)
		} else {
			resp.Relayed = true
		}
	}

	g.logger.Info("system broadcast sent", "recipients", n, "session_id", msg.SessionID, "relayed", resp.Relayed)
	g.sendJSON(w, http.StatusOK, resp)
}

// sendCollabError maps a session error onto an HTTP status.
func (g *Gateway) sendCollabError(w http.ResponseWriter, err error) {
	var verr *collab.ValidationError
	switch {
	case errors.As(err, &verr):
		g.sendJSONError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, collab.ErrSessionNotFound):
		g.sendJSONError(w, http.StatusNotFound, "session not found")
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// sendJSON writes v as a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
