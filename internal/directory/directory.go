package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/messaging"
	"callhub-backend/pkg/constants"
	apperrors "callhub-backend/pkg/errors"
	"callhub-backend/pkg/logger"
)

// AvatarSigner presigns read access to avatar objects. *minio.Client
// satisfies it.
type AvatarSigner interface {
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
}

// Service is the read-only friend/group directory the call UI renders
// from: display names, nicknames, and presigned avatar URLs. Listings
// come from the messaging substrate and are cached in Redis; the cache
// is an optimization, a Redis outage degrades to substrate reads.
type Service struct {
	client messaging.Client
	redis  *redis.Client
	signer AvatarSigner
	bucket string
}

// NewService creates a directory service. redisClient and signer may be
// nil; lookups then skip caching and avatar URLs respectively.
func NewService(client messaging.Client, redisClient *redis.Client, signer AvatarSigner, avatarBucket string) *Service {
	return &Service{
		client: client,
		redis:  redisClient,
		signer: signer,
		bucket: avatarBucket,
	}
}

func friendsCacheKey(address string) string {
	return fmt.Sprintf("directory:friends:%s", address)
}

func groupsCacheKey(address string) string {
	return fmt.Sprintf("directory:groups:%s", address)
}

// Friends lists the user's contacts with avatar URLs resolved.
func (s *Service) Friends(ctx context.Context) ([]*domain.Friend, error) {
	key := friendsCacheKey(s.client.Self())

	var friends []*domain.Friend
	if s.cacheGet(ctx, key, &friends) {
		return friends, nil
	}

	friends, err := s.client.Friends(ctx)
	if err != nil {
		return nil, messaging.Classify(err)
	}

	for _, friend := range friends {
		s.resolveAvatar(ctx, friend)
	}

	s.cacheSet(ctx, key, friends)
	return friends, nil
}

// Friend looks one contact up by address.
func (s *Service) Friend(ctx context.Context, address string) (*domain.Friend, error) {
	friends, err := s.Friends(ctx)
	if err != nil {
		return nil, err
	}
	for _, friend := range friends {
		if friend.Address == address {
			return friend, nil
		}
	}
	return nil, apperrors.UserNotFoundError()
}

// DisplayName resolves the name to show for an address, falling back to
// the address itself for strangers.
func (s *Service) DisplayName(ctx context.Context, address string) string {
	friend, err := s.Friend(ctx, address)
	if err != nil {
		return address
	}
	return friend.DisplayName()
}

// Groups lists the groups the user belongs to.
func (s *Service) Groups(ctx context.Context) ([]*domain.Group, error) {
	key := groupsCacheKey(s.client.Self())

	var groups []*domain.Group
	if s.cacheGet(ctx, key, &groups) {
		return groups, nil
	}

	groups, err := s.client.Groups(ctx)
	if err != nil {
		return nil, messaging.Classify(err)
	}

	s.cacheSet(ctx, key, groups)
	return groups, nil
}

// Group looks one group up by id.
func (s *Service) Group(ctx context.Context, groupID string) (*domain.Group, error) {
	groups, err := s.Groups(ctx)
	if err != nil {
		return nil, err
	}
	for _, group := range groups {
		if group.ID == groupID {
			return group, nil
		}
	}
	return nil, apperrors.GroupNotFoundError()
}

// GroupIDs lists just the ids of the user's groups, the shape the group
// call subscription wants.
func (s *Service) GroupIDs(ctx context.Context) ([]string, error) {
	groups, err := s.Groups(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(groups))
	for i, group := range groups {
		ids[i] = group.ID
	}
	return ids, nil
}

// Invalidate drops the cached listings, e.g. after a roster change
// pushed by the messaging substrate.
func (s *Service) Invalidate(ctx context.Context) {
	if s.redis == nil {
		return
	}
	self := s.client.Self()
	if err := s.redis.Del(ctx, friendsCacheKey(self), groupsCacheKey(self)).Err(); err != nil {
		logger.Warn("failed to invalidate directory cache", zap.Error(err))
	}
}

func (s *Service) resolveAvatar(ctx context.Context, friend *domain.Friend) {
	if s.signer == nil || friend.AvatarObject == "" {
		return
	}
	signed, err := s.signer.PresignedGetObject(ctx, s.bucket, friend.AvatarObject, constants.AvatarURLExpiry, nil)
	if err != nil {
		logger.Warn("failed to presign avatar",
			zap.String("object", friend.AvatarObject),
			zap.Error(err))
		return
	}
	friend.AvatarURL = signed.String()
}

func (s *Service) cacheGet(ctx context.Context, key string, out any) bool {
	if s.redis == nil {
		return false
	}
	payload, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("directory cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(payload, out); err != nil {
		logger.Warn("directory cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *Service) cacheSet(ctx context.Context, key string, value any) {
	if s.redis == nil {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, key, payload, constants.DirectoryCacheTTL).Err(); err != nil {
		logger.Warn("directory cache write failed", zap.String("key", key), zap.Error(err))
	}
}
