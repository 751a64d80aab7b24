package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlineSetKey    = "lobby:online"
	nicknameHashKey = "lobby:nicknames"
)

// Tracker keeps the online-user set in Redis so other services (and the REST
// facade) can see who is connected without touching the lobby server. All
// methods are nil-safe: without Redis the tracker is a no-op, which is how
// tests and local development run.
type Tracker struct {
	client *redis.Client
}

// constructor for Tracker
func NewTracker(redisAddr string) (*Tracker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Tracker{client: rdb}, nil
}

// MarkOnline records a user as connected.
func (t *Tracker) MarkOnline(ctx context.Context, userID, nickname string) error {
	if t == nil || t.client == nil {
		return nil
	}
	if err := t.client.SAdd(ctx, onlineSetKey, userID).Err(); err != nil {
		return fmt.Errorf("mark online: %w", err)
	}
	return t.client.HSet(ctx, nicknameHashKey, userID, nickname).Err()
}

// MarkOffline clears a user's connected state.
func (t *Tracker) MarkOffline(ctx context.Context, userID string) error {
	if t == nil || t.client == nil {
		return nil
	}
	if err := t.client.SRem(ctx, onlineSetKey, userID).Err(); err != nil {
		return fmt.Errorf("mark offline: %w", err)
	}
	return t.client.HDel(ctx, nicknameHashKey, userID).Err()
}

// OnlineCount returns how many users are currently connected.
func (t *Tracker) OnlineCount(ctx context.Context) (int64, error) {
	if t == nil || t.client == nil {
		return 0, nil
	}
	count, err := t.client.SCard(ctx, onlineSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("online count: %w", err)
	}
	return count, nil
}

// IsOnline reports whether the user is currently connected.
func (t *Tracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	if t == nil || t.client == nil {
		return false, nil
	}
	online, err := t.client.SIsMember(ctx, onlineSetKey, userID).Result()
	if err != nil {
		return false, fmt.Errorf("is online: %w", err)
	}
	return online, nil
}

// Close releases the Redis connection.
func (t *Tracker) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}
