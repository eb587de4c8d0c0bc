package push

import (
	"go.uber.org/zap"

	"callhub-backend/pkg/logger"
)

// Config selects which providers get constructed. Providers with empty
// credentials are skipped; an empty map falls back to mock in
// development so call flows stay testable without real credentials.
type Config struct {
	FCMCredentialsFile string
	APNsKeyFile        string
	APNsKeyID          string
	APNsTeamID         string
	APNsTopic          string
	APNsProduction     bool
}

// NewProviders builds the provider set from configuration
func NewProviders(cfg Config, development bool) (map[TokenType]Provider, error) {
	providers := make(map[TokenType]Provider)

	if cfg.FCMCredentialsFile != "" {
		fcm, err := NewFCMProvider(cfg.FCMCredentialsFile)
		if err != nil {
			return nil, err
		}
		providers[TokenTypeFCM] = fcm
	}

	if cfg.APNsKeyFile != "" {
		apns, err := NewAPNsProvider(&APNsConfig{
			KeyFile:    cfg.APNsKeyFile,
			KeyID:      cfg.APNsKeyID,
			TeamID:     cfg.APNsTeamID,
			Topic:      cfg.APNsTopic,
			Production: cfg.APNsProduction,
		})
		if err != nil {
			return nil, err
		}
		providers[TokenTypeAPNs] = apns
	}

	if len(providers) == 0 && development {
		logger.Info("no push providers configured, using mock provider")
		providers[TokenTypeFCM] = &MockProvider{}
		providers[TokenTypeAPNs] = &MockProvider{}
	}

	if len(providers) == 0 {
		logger.Warn("no push providers configured, offline call alerts disabled",
			zap.Bool("development", development))
	}

	return providers, nil
}
