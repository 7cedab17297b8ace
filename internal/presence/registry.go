// Package presence mirrors live hub sessions into Redis with a TTL so
// out-of-band callers can see who is viewing a design. Best-effort only:
// the hub never depends on it and failures must not affect command
// processing.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is one live session as seen by the registry.
type Entry struct {
	ConnectionID string    `json:"connectionId"`
	DesignID     string    `json:"designId"`
	Role         string    `json:"role"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// Registry stores entries under presence:<designId>:<connectionId> with a
// TTL. A session that stops heartbeating ages out on its own, so a crashed
// client never leaves a permanent ghost.
type Registry struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRegistry(redisURL string, ttl time.Duration) (*Registry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRegistryWithClient(client, ttl), nil
}

// NewRegistryWithClient builds a registry from an existing client.
func NewRegistryWithClient(client *redis.Client, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Registry{client: client, ttl: ttl, prefix: "presence:"}
}

func (r *Registry) key(designID, connectionID string) string {
	return r.prefix + designID + ":" + connectionID
}

// Register records a session, stamping ConnectedAt if unset.
func (r *Registry) Register(ctx context.Context, entry Entry) error {
	if entry.ConnectedAt.IsZero() {
		entry.ConnectedAt = time.Now()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal presence entry: %w", err)
	}
	if err := r.client.Set(ctx, r.key(entry.DesignID, entry.ConnectionID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("save presence entry: %w", err)
	}
	return nil
}

// Heartbeat pushes the entry's expiry out. A missing key is not an error;
// the next Register recreates it.
func (r *Registry) Heartbeat(ctx context.Context, designID, connectionID string) error {
	if err := r.client.Expire(ctx, r.key(designID, connectionID), r.ttl).Err(); err != nil {
		return fmt.Errorf("refresh presence entry: %w", err)
	}
	return nil
}

// Unregister drops a session immediately.
func (r *Registry) Unregister(ctx context.Context, designID, connectionID string) error {
	if err := r.client.Del(ctx, r.key(designID, connectionID)).Err(); err != nil {
		return fmt.Errorf("delete presence entry: %w", err)
	}
	return nil
}

// List returns every live session for a design.
func (r *Registry) List(ctx context.Context, designID string) ([]Entry, error) {
	pattern := r.prefix + designID + ":*"
	entries := make([]Entry, 0)

	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		payload, err := r.client.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("read presence entry: %w", err)
		}
		var entry Entry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal presence entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan presence entries: %w", err)
	}
	return entries, nil
}

// Close closes the Redis connection.
func (r *Registry) Close() error {
	return r.client.Close()
}

// Ping checks if Redis is reachable.
func (r *Registry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
