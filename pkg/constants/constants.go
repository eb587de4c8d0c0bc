// Package constants defines application-wide constants for call timing,
// timeouts, and limits.
package constants

import "time"

// Call timing constants
const (
	// DialGracePeriod is how long an outbound caller waits after creating
	// a ringing record before joining media, so a near-immediate reject
	// (DND auto-reject in particular) can land first. A heuristic, not a
	// rendezvous: if it elapses un-rejected the caller joins regardless.
	DialGracePeriod = 500 * time.Millisecond

	// RingTimeout is how long an unanswered incoming call keeps ringing
	// before the local prompt is dropped.
	RingTimeout = 45 * time.Second

	// ActiveCallRefreshInterval is the poll cadence for group active-call
	// discovery when membership has not changed.
	ActiveCallRefreshInterval = 30 * time.Second
)

// Subscription constants
const (
	// SubscribeRetryBase is the initial backoff after a subscription
	// stream disconnect.
	SubscribeRetryBase = 1 * time.Second

	// SubscribeRetryMax caps the subscription reconnect backoff.
	SubscribeRetryMax = 30 * time.Second

	// StreamBuffer is the per-subscription channel buffer. Delivery is
	// at-least-once; consumers de-duplicate by record state.
	StreamBuffer = 16
)

// Time-related constants
const (
	// DefaultTimeout is the fallback timeout for outbound internal HTTP
	// requests when the caller supplies no client of its own.
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Presence constants
const (
	// PresenceTTL is how long a presence heartbeat keeps a user online.
	PresenceTTL = 5 * time.Minute
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute

	// RefreshTokenExpiry is the default refresh token lifetime
	RefreshTokenExpiry = 30 * 24 * time.Hour
)

// Storage constants
const (
	// AvatarURLExpiry is the validity period for presigned avatar URLs.
	AvatarURLExpiry = 15 * time.Minute
)

// Directory constants
const (
	// DirectoryCacheTTL is how long friend/group listings stay cached
	// before re-reading the messaging substrate.
	DirectoryCacheTTL = 1 * time.Minute
)
