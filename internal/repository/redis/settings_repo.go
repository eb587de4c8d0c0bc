package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"callhub-backend/internal/domain"
)

// SettingsRepository reads user call settings (DND, sound) from Redis.
// The settings surface is written elsewhere in the product; the call core
// only ever consults it.
type SettingsRepository struct {
	client *redis.Client
}

// NewSettingsRepository creates a new SettingsRepository
func NewSettingsRepository(client *redis.Client) *SettingsRepository {
	return &SettingsRepository{client: client}
}

// Get returns the call settings for a user. A missing hash yields the
// defaults: DND off, sound on.
func (r *SettingsRepository) Get(ctx context.Context, address string) (domain.CallSettings, error) {
	settings := domain.CallSettings{SoundEnabled: true}

	key := fmt.Sprintf("callsettings:%s", address)
	values, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return settings, nil
		}
		return settings, fmt.Errorf("failed to read call settings: %w", err)
	}

	if v, ok := values["dnd"]; ok {
		settings.IsDND = v == "1" || v == "true"
	}
	if v, ok := values["sound"]; ok {
		settings.SoundEnabled = v == "1" || v == "true"
	}

	return settings, nil
}
