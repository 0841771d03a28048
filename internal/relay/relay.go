// ABOUTME: Redis pub/sub relay carrying operator system broadcasts between gateway instances
// ABOUTME: Session state stays process-local; only stateless notices cross instances

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/2389/disco-collab/internal/collab"
)

// Envelope is the wire format published on the relay channel.
type Envelope struct {
	Origin    string    `json:"origin"`
	Message   string    `json:"message"`
	Level     string    `json:"level,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	SentAt    time.Time `json:"sentAt"`
}

// DeliverFunc hands a relayed broadcast to the local Manager.
type DeliverFunc func(ctx context.Context, msg collab.SystemMessage)

// Options configures a Relay.
type Options struct {
	Channel string
	Logger  *slog.Logger
	// Count, if set, is called with "out" for every publish and "in" for
	// every envelope accepted from another instance.
	Count func(direction string)
}

// Relay publishes and receives system broadcasts over Redis.
type Relay struct {
	client  *redis.Client
	channel string
	origin  string
	count   func(string)
	logger  *slog.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

// Dial connects to the Redis server at url (redis://host:port/db) and
// verifies it with a PING.
func Dial(ctx context.Context, url string, opts Options) (*Relay, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return New(client, opts), nil
}

// New wraps an existing client. Each Relay gets a fresh origin ID.
func New(client *redis.Client, opts Options) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	count := opts.Count
	if count == nil {
		count = func(string) {}
	}
	return &Relay{
		client:  client,
		channel: opts.Channel,
		origin:  uuid.New().String(),
		count:   count,
		logger:  logger.With("component", "relay"),
		ready:   make(chan struct{}),
	}
}

// Origin identifies this instance on the channel.
func (r *Relay) Origin() string {
	return r.origin
}

// Ready is closed once the subscription is confirmed by Redis.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Publish sends msg to every other instance.
func (r *Relay) Publish(ctx context.Context, msg collab.SystemMessage) error {
	data, err := json.Marshal(Envelope{
		Origin:    r.origin,
		Message:   msg.Message,
		Level:     msg.Level,
		SessionID: msg.SessionID,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publishing broadcast: %w", err)
	}
	r.count("out")
	return nil
}

// Run subscribes to the channel and delivers envelopes from other instances
// until ctx is cancelled. Envelopes from this instance are skipped since the
// local broadcast already happened.
func (r *Relay) Run(ctx context.Context, deliver DeliverFunc) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	r.logger.Info("relay subscribed", "channel", r.channel, "origin", r.origin)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("relay subscription closed")
			}
			r.handle(ctx, m.Payload, deliver)
		}
	}
}

func (r *Relay) handle(ctx context.Context, payload string, deliver DeliverFunc) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn("discarding malformed relay envelope", "error", err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	if env.Message == "" {
		r.logger.Warn("discarding empty relay envelope", "origin", env.Origin)
		return
	}
	r.count("in")
	r.logger.Debug("relayed broadcast received", "origin", env.Origin, "session_id", env.SessionID)
	deliver(ctx, collab.SystemMessage{
		Message:   env.Message,
		Level:     env.Level,
		SessionID: env.SessionID,
	})
}

// Close closes the Redis client.
func (r *Relay) Close() error {
	return r.client.Close()
}
