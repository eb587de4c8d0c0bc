package push

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"callhub-backend/pkg/logger"
)

// Provider defines interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"  // Firebase Cloud Messaging
	TokenTypeAPNs TokenType = "apns" // Apple Push Notification Service
)

// Token represents a push notification token for a device
type Token struct {
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	DeviceID  string    `json:"device_id,omitempty"`
	Platform  string    `json:"platform,omitempty"` // ios, android
	CreatedAt int64     `json:"created_at"`
}

// TokenRepository defines interface for storing and retrieving push tokens
type TokenRepository interface {
	Store(ctx context.Context, address string, token *Token) error
	ByAddress(ctx context.Context, address string) ([]*Token, error)
	Remove(ctx context.Context, address, tokenValue string) error
}

// Service fans call alerts out to the user's registered devices. It is
// the escalation path for callees with no live event socket: the alert
// carries enough data for the app to render the incoming-call prompt
// and answer through the normal REST surface.
type Service struct {
	providers map[TokenType]Provider
	repo      TokenRepository
}

// NewService creates a new push notification service
func NewService(repo TokenRepository, providers map[TokenType]Provider) *Service {
	return &Service{
		providers: providers,
		repo:      repo,
	}
}

// RegisterToken registers a device token for a user. Re-registering the
// same token value overwrites the previous entry.
func (s *Service) RegisterToken(ctx context.Context, address string, token *Token) error {
	if _, ok := s.providers[token.Type]; !ok {
		return fmt.Errorf("no provider configured for token type %q", token.Type)
	}
	return s.repo.Store(ctx, address, token)
}

// UnregisterToken removes a device token for a user
func (s *Service) UnregisterToken(ctx context.Context, address, tokenValue string) error {
	return s.repo.Remove(ctx, address, tokenValue)
}

// SendCallAlert delivers an incoming-call alert to all of the user's
// registered devices. Data keys come from the caller; caller_name is
// used for the visible alert text.
func (s *Service) SendCallAlert(ctx context.Context, address string, data map[string]string) error {
	callerName := data["caller_name"]
	if callerName == "" {
		callerName = data["caller"]
	}

	notification := &Notification{
		Title:    "Incoming Call",
		Body:     fmt.Sprintf("%s is calling you", callerName),
		Priority: "high",
		Sound:    "default",
		Category: "INCOMING_CALL",
		Data:     data,
	}

	tokens, err := s.repo.ByAddress(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to load push tokens: %w", err)
	}
	if len(tokens) == 0 {
		logger.Debug("no push tokens registered", zap.String("address", address))
		return nil
	}

	byType := make(map[TokenType][]string)
	for _, token := range tokens {
		byType[token.Type] = append(byType[token.Type], token.Token)
	}

	var lastErr error
	for tokenType, values := range byType {
		provider, ok := s.providers[tokenType]
		if !ok {
			logger.Warn("no provider for registered token type",
				zap.String("token_type", string(tokenType)),
				zap.Int("token_count", len(values)))
			continue
		}

		result, err := provider.Send(ctx, notification, values)
		if err != nil {
			logger.Error("call alert send failed",
				zap.String("address", address),
				zap.String("token_type", string(tokenType)),
				zap.Error(err))
			lastErr = err
			continue
		}

		logger.Info("call alert sent",
			zap.String("address", address),
			zap.String("token_type", string(tokenType)),
			zap.Int("success_count", result.SuccessCount),
			zap.Int("failure_count", result.FailureCount))

		s.pruneInvalidTokens(ctx, address, result.InvalidTokens)
	}

	return lastErr
}

// pruneInvalidTokens drops tokens the provider reported as dead
func (s *Service) pruneInvalidTokens(ctx context.Context, address string, invalidTokens []string) {
	for _, tokenValue := range invalidTokens {
		if err := s.repo.Remove(ctx, address, tokenValue); err != nil {
			logger.Warn("failed to remove invalid push token",
				zap.String("address", address),
				zap.String("token_prefix", maskPushToken(tokenValue)),
				zap.Error(err))
		}
	}
}

// MockProvider is a mock implementation for development/testing
type MockProvider struct {
	NotificationsSent int
}

// Send implements Provider interface
func (m *MockProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.NotificationsSent++

	logger.Debug("MockProvider: sending notification",
		zap.String("title", notification.Title),
		zap.Int("token_count", len(tokens)))

	return &SendResult{SuccessCount: len(tokens)}, nil
}

// maskPushToken returns a safe masked version of a push token for logging
func maskPushToken(token string) string {
	if len(token) <= 16 {
		return "********"
	}
	return token[:8] + "..." + token[len(token)-8:]
}
