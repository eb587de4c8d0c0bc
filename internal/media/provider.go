package media

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"callhub-backend/pkg/logger"
)

// ProviderTransport is the control-plane adapter for the external RTC
// provider. Media itself flows device-to-provider; this side authorizes
// the join by minting a channel token and mirrors the lifecycle so the
// coordinators can enforce the single-session policy.
type ProviderTransport struct {
	provider string
	appID    string
	appKey   string

	mu      sync.Mutex
	channel string
	token   string
}

// NewProviderTransport creates a transport for the configured provider.
// Returns nil when no provider is configured, which leaves the media
// session unconfigured and calls refused.
func NewProviderTransport(provider, appID, appKey string) *ProviderTransport {
	if provider == "" {
		return nil
	}
	return &ProviderTransport{
		provider: provider,
		appID:    appID,
		appKey:   appKey,
	}
}

// Join authorizes the channel and records the live session.
func (t *ProviderTransport) Join(ctx context.Context, channel string, videoEnabled bool) error {
	if channel == "" {
		return fmt.Errorf("empty media channel")
	}

	token := t.channelToken(channel)

	t.mu.Lock()
	t.channel = channel
	t.token = token
	t.mu.Unlock()

	logger.Info("media channel authorized",
		zap.String("provider", t.provider),
		zap.String("channel", channel),
		zap.Bool("video", videoEnabled))
	return nil
}

// Leave drops the live session.
func (t *ProviderTransport) Leave(ctx context.Context) error {
	t.mu.Lock()
	t.channel = ""
	t.token = ""
	t.mu.Unlock()
	return nil
}

// Credentials returns what the device needs to join the channel through
// the provider: the app id and the minted token.
func (t *ProviderTransport) Credentials() (appID, channel, token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appID, t.channel, t.token
}

// SetMuted forwards the microphone state. Device-side state; nothing to
// do on the control plane.
func (t *ProviderTransport) SetMuted(muted bool) error { return nil }

// SetVideoEnabled forwards the camera state.
func (t *ProviderTransport) SetVideoEnabled(enabled bool) error { return nil }

// SetScreenShare forwards the screen share state.
func (t *ProviderTransport) SetScreenShare(enabled bool) error { return nil }

// AttachLocalContainer is a no-op on the control plane.
func (t *ProviderTransport) AttachLocalContainer(c Container) {}

// AttachRemoteContainer is a no-op on the control plane.
func (t *ProviderTransport) AttachRemoteContainer(c Container) {}

// AttachScreenContainer is a no-op on the control plane.
func (t *ProviderTransport) AttachScreenContainer(c Container) {}

// channelToken mints a time-boxed join token the provider validates
// against the shared app key.
func (t *ProviderTransport) channelToken(channel string) string {
	expiry := time.Now().Add(time.Hour).Unix()
	mac := hmac.New(sha256.New, []byte(t.appKey))
	fmt.Fprintf(mac, "%s:%s:%d", t.appID, channel, expiry)
	return fmt.Sprintf("%d.%s", expiry, hex.EncodeToString(mac.Sum(nil)))
}
