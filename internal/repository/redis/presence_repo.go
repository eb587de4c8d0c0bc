package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"callhub-backend/pkg/constants"
)

// PresenceRepository tracks user online/offline status in Redis. The
// orchestrator uses it to decide between live WebSocket delivery and a
// push notification for incoming calls.
type PresenceRepository struct {
	client *redis.Client
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *redis.Client) *PresenceRepository {
	return &PresenceRepository{client: client}
}

// SetOnline marks a user online. The flag expires unless refreshed.
func (r *PresenceRepository) SetOnline(ctx context.Context, address string) error {
	key := fmt.Sprintf("presence:%s", address)
	if err := r.client.Set(ctx, key, "online", constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	return nil
}

// SetOffline clears a user's presence flag.
func (r *PresenceRepository) SetOffline(ctx context.Context, address string) error {
	key := fmt.Sprintf("presence:%s", address)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}
	return nil
}

// Refresh extends the presence TTL (heartbeat).
func (r *PresenceRepository) Refresh(ctx context.Context, address string) error {
	key := fmt.Sprintf("presence:%s", address)
	if err := r.client.Expire(ctx, key, constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// IsOnline checks whether a user currently has a live session.
func (r *PresenceRepository) IsOnline(ctx context.Context, address string) (bool, error) {
	key := fmt.Sprintf("presence:%s", address)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return exists > 0, nil
}
