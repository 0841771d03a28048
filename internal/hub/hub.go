// ABOUTME: WebSocket hub translating client commands into collaboration Manager calls
// ABOUTME: One read loop and one write pump per connection, with dedupe and rate limiting

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/time/rate"

	"github.com/2389/disco-collab/internal/auth"
	"github.com/2389/disco-collab/internal/collab"
	"github.com/2389/disco-collab/internal/dedupe"
)

const (
	writeTimeout   = 10 * time.Second
	dedupeTTL      = 2 * time.Minute
	dedupeCapacity = 50_000
	frameOverhead  = 64 << 10

	// escapeFactor covers JSON escaping of content; \u00XX turns one byte into six.
	escapeFactor = 6
)

// Error codes carried by error events.
const (
	CodeBadFrame        = "bad_frame"
	CodeInvalidRequest  = "invalid_request"
	CodeSessionNotFound = "session_not_found"
	CodeNotParticipant  = "not_participant"
	CodeNotLockHolder   = "not_lock_holder"
	CodeRateLimited     = "rate_limited"
	CodeInternal        = "internal"
)

// Recorder receives hub activity for metrics.
type Recorder interface {
	CommandHandled(commandType, status string)
	ConnectionOpened()
	ConnectionClosed()
}

type nopRecorder struct{}

func (nopRecorder) CommandHandled(string, string) {}
func (nopRecorder) ConnectionOpened()             {}
func (nopRecorder) ConnectionClosed()             {}

// Options configures a Hub.
type Options struct {
	Logger          *slog.Logger
	Recorder        Recorder
	PingInterval    time.Duration
	RateLimit       float64 // commands per second per connection; 0 disables
	RateBurst       int
	MaxContentBytes int
	OriginPatterns  []string
}

// Hub serves the collaboration WebSocket endpoint.
type Hub struct {
	manager  *collab.Manager
	fanout   *Fanout
	seen     *dedupe.Cache[*collab.Event]
	recorder Recorder
	opts     Options
	logger   *slog.Logger
}

// New creates a Hub. fanout must be the Transport the manager was built with.
func New(manager *collab.Manager, fanout *Fanout, opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Hub{
		manager:  manager,
		fanout:   fanout,
		seen:     dedupe.New[*collab.Event](dedupeTTL, dedupeCapacity),
		recorder: recorder,
		opts:     opts,
		logger:   logger.With("component", "hub"),
	}
}

// Close releases the hub's background resources.
func (h *Hub) Close() {
	h.seen.Close()
}

// ServeHTTP upgrades an authenticated request to a WebSocket connection and
// runs it until either side closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil {
		http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", id.UserID, "error", err)
		return
	}
	conn.SetReadLimit(FrameLimit(h.opts.MaxContentBytes))

	h.serveConn(context.WithoutCancel(r.Context()), conn, id.UserID)
}

// FrameLimit is the largest encoded command accepted for a content limit of
// maxContentBytes, so oversized content fails validation instead of tearing
// the socket down. It returns -1, meaning no limit, when maxContentBytes is 0.
func FrameLimit(maxContentBytes int) int64 {
	if maxContentBytes <= 0 {
		return -1
	}
	return int64(maxContentBytes)*escapeFactor + frameOverhead
}

func (h *Hub) serveConn(parent context.Context, conn *websocket.Conn, userID string) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	connID, events, overflow := h.fanout.Register(userID)
	h.recorder.ConnectionOpened()
	logger := h.logger.With("user_id", userID, "conn_id", connID)
	logger.Info("client connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		h.writePump(ctx, conn, events, overflow, logger)
	}()

	h.readLoop(ctx, conn, userID, connID, logger)

	cancel()
	h.fanout.Release(userID, connID, func() {
		left := h.manager.Disconnect(context.WithoutCancel(parent), userID)
		if len(left) > 0 {
			logger.Info("last connection closed, left sessions", "sessions", len(left))
		}
	})
	<-writerDone
	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.recorder.ConnectionClosed()
	logger.Info("client disconnected")
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn, userID, connID string, logger *slog.Logger) {
	var limiter *rate.Limiter
	if h.opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.opts.RateLimit), max(h.opts.RateBurst, 1))
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					logger.Debug("read failed", "error", err)
				}
			}
			return
		}

		if typ != websocket.MessageText {
			h.reply(userID, connID, collab.ErrorEvent("", CodeBadFrame, errors.New("expected a text frame")))
			continue
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.recorder.CommandHandled("unknown", CodeBadFrame)
			h.reply(userID, connID, collab.ErrorEvent("", CodeBadFrame, errors.New("frame is not a JSON command")))
			continue
		}

		if limiter != nil && !limiter.Allow() {
			h.recorder.CommandHandled(string(cmd.Type), CodeRateLimited)
			h.reply(userID, connID, collab.ErrorEvent(cmd.ID, CodeRateLimited, errors.New("too many commands")))
			continue
		}

		if ev := h.Dispatch(ctx, userID, connID, &cmd); ev != nil {
			h.reply(userID, connID, ev)
		}
	}
}

func (h *Hub) reply(userID, connID string, ev *collab.Event) {
	h.fanout.SendToConn(userID, connID, ev)
}

func (h *Hub) writePump(ctx context.Context, conn *websocket.Conn, events <-chan *collab.Event, overflow <-chan struct{}, logger *slog.Logger) {
	var pings <-chan time.Time
	if h.opts.PingInterval > 0 {
		ticker := time.NewTicker(h.opts.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				logger.Debug("write failed", "error", err)
				return
			}

		case <-overflow:
			logger.Warn("closing slow connection")
			_ = conn.Close(websocket.StatusPolicyViolation, "slow consumer, rejoin to resync")
			return

		case <-pings:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Debug("ping failed", "error", err)
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// Dispatch validates and executes one command from connection connID of
// userID and returns the reply for the sender, or nil. Session events produced
// by the command are delivered through the Manager's transport, not returned
// here; the collaboration-state snapshot for a join goes to connID alone. A
// command carrying an ID is applied at most once per user within the dedupe
// window and a retry gets the original reply again. Joins and pings are
// idempotent and always run.
func (h *Hub) Dispatch(ctx context.Context, userID, connID string, cmd *Command) *collab.Event {
	if cmd.ID == "" || cmd.Type == CommandPing || cmd.Type == CommandJoin {
		return h.execute(ctx, userID, connID, cmd)
	}

	key := dedupe.Key(userID, cmd.ID)
	if prev, dup := h.seen.Claim(key); dup {
		h.recorder.CommandHandled(string(cmd.Type), "duplicate")
		h.logger.Debug("duplicate command dropped", "user_id", userID, "command_id", cmd.ID)
		return prev
	}
	reply := h.execute(ctx, userID, connID, cmd)
	h.seen.Store(key, reply)
	return reply
}

func (h *Hub) execute(ctx context.Context, userID, connID string, cmd *Command) *collab.Event {
	reply, err := h.handle(ctx, userID, connID, cmd)
	if err != nil {
		if errors.Is(err, collab.ErrLockHeld) {
			// The manager already sent lock-failed to the requester.
			h.recorder.CommandHandled(string(cmd.Type), "lock_held")
			return nil
		}
		code := errorCode(err)
		h.recorder.CommandHandled(string(cmd.Type), code)
		if code == CodeInternal {
			h.logger.Error("command failed", "user_id", userID, "type", cmd.Type, "error", err)
		}
		return collab.ErrorEvent(cmd.ID, code, err)
	}
	h.recorder.CommandHandled(string(cmd.Type), "ok")
	return reply
}

func (h *Hub) handle(ctx context.Context, userID, connID string, cmd *Command) (*collab.Event, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	switch cmd.Type {
	case CommandPing:
		return &collab.Event{Type: collab.EventPong, ReplyTo: cmd.ID, Timestamp: time.Now()}, nil

	case CommandJoin:
		req := collab.JoinRequest{
			ContainerID: cmd.ContainerID,
			FilePath:    cmd.FilePath,
			UserID:      userID,
		}
		if connID != "" {
			req.Reply = func(ev *collab.Event) {
				ev.ReplyTo = cmd.ID
				h.fanout.SendToConn(userID, connID, ev)
			}
		}
		_, err := h.manager.Join(ctx, req)
		return nil, err

	case CommandLeave:
		return nil, h.manager.Leave(ctx, cmd.SessionID, userID)

	case CommandFileUpdate:
		out, err := h.manager.ApplyUpdate(ctx, collab.UpdateRequest{
			SessionID:   cmd.SessionID,
			UserID:      userID,
			Content:     *cmd.Content,
			BaseVersion: *cmd.Version,
		})
		if err != nil {
			return nil, err
		}
		return collab.UpdateResultEvent(cmd.ID, cmd.SessionID, out), nil

	case CommandFileLock:
		if *cmd.Lock {
			return nil, h.manager.AcquireLock(ctx, cmd.SessionID, userID)
		}
		return nil, h.manager.ReleaseLock(ctx, cmd.SessionID, userID)

	case CommandCursorPosition:
		return nil, h.manager.UpdateCursor(ctx, cmd.SessionID, userID, *cmd.Position)
	}
	return nil, nil
}

func errorCode(err error) string {
	var verr *collab.ValidationError
	switch {
	case errors.As(err, &verr):
		return CodeInvalidRequest
	case errors.Is(err, collab.ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, collab.ErrNotAParticipant):
		return CodeNotParticipant
	case errors.Is(err, collab.ErrNotLockHolder):
		return CodeNotLockHolder
	default:
		return CodeInternal
	}
}
