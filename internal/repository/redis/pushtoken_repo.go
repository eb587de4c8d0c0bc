package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"callhub-backend/pkg/push"
)

// PushTokenRepository stores device push tokens in Redis, one hash per
// user keyed by token value so re-registration overwrites in place.
type PushTokenRepository struct {
	client *redis.Client
}

// NewPushTokenRepository creates a new PushTokenRepository
func NewPushTokenRepository(client *redis.Client) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

func pushTokenKey(address string) string {
	return fmt.Sprintf("pushtokens:%s", address)
}

// Store saves a device token for a user
func (r *PushTokenRepository) Store(ctx context.Context, address string, token *push.Token) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal push token: %w", err)
	}

	if err := r.client.HSet(ctx, pushTokenKey(address), token.Token, payload).Err(); err != nil {
		return fmt.Errorf("failed to store push token: %w", err)
	}
	return nil
}

// ByAddress returns all registered device tokens for a user
func (r *PushTokenRepository) ByAddress(ctx context.Context, address string) ([]*push.Token, error) {
	values, err := r.client.HGetAll(ctx, pushTokenKey(address)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read push tokens: %w", err)
	}

	tokens := make([]*push.Token, 0, len(values))
	for _, raw := range values {
		var token push.Token
		if err := json.Unmarshal([]byte(raw), &token); err != nil {
			// A corrupt entry should not break alerting for the rest.
			continue
		}
		tokens = append(tokens, &token)
	}
	return tokens, nil
}

// Remove deletes a single device token for a user
func (r *PushTokenRepository) Remove(ctx context.Context, address, tokenValue string) error {
	if err := r.client.HDel(ctx, pushTokenKey(address), tokenValue).Err(); err != nil {
		return fmt.Errorf("failed to remove push token: %w", err)
	}
	return nil
}
