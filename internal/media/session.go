package media

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"callhub-backend/pkg/logger"
)

// State is the coarse local lifecycle of the media session. It is
// reconciled against, but never identical to, the signaling record state:
// a record can be accepted while the local session is still joining.
type State string

const (
	StateIdle      State = "idle"
	StateJoining   State = "joining"
	StateConnected State = "connected"
	StateLeaving   State = "leaving"
	StateError     State = "error"
)

// Session wraps the external transport with a single-owner lifecycle.
// Exactly one Session exists per user session and at most one channel is
// joined at a time; both coordinators share it and must check Busy before
// joining.
type Session struct {
	mu        sync.Mutex
	transport Transport

	state         State
	channel       string
	muted         bool
	videoEnabled  bool
	screenSharing bool
	lastError     string
}

// NewSession creates a session over the given transport. A nil transport
// means the deployment has no media provider configured; all joins will
// refuse synchronously.
func NewSession(t Transport) *Session {
	return &Session{
		transport: t,
		state:     StateIdle,
	}
}

// Configured reports whether a media transport is available at all.
func (s *Session) Configured() bool {
	return s.transport != nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Busy reports whether the session is in any non-idle, non-error state.
// Coordinators refuse to start or join a call while the session is busy.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateJoining || s.state == StateConnected || s.state == StateLeaving
}

// Channel returns the currently joined (or joining) channel name.
func (s *Session) Channel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// LastError returns the transport error string surfaced to the call UI,
// empty when the session is healthy.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Join joins the given channel. It returns false without side effects if
// the transport is unconfigured or the session is already busy, and false
// with state=error if the transport join itself failed. The signaling
// record is never touched here: a local media failure must not retract an
// accepted record, the peer may already be connected.
func (s *Session) Join(ctx context.Context, channel string, videoEnabled bool) bool {
	s.mu.Lock()
	if s.transport == nil {
		s.mu.Unlock()
		return false
	}
	if s.state == StateJoining || s.state == StateConnected || s.state == StateLeaving {
		s.mu.Unlock()
		return false
	}
	s.state = StateJoining
	s.channel = channel
	s.videoEnabled = videoEnabled
	s.muted = false
	s.screenSharing = false
	s.lastError = ""
	s.mu.Unlock()

	err := s.transport.Join(ctx, channel, videoEnabled)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateError
		s.channel = ""
		s.lastError = err.Error()
		logger.Warn("media join failed",
			zap.String("channel", channel),
			zap.Error(err))
		return false
	}
	// A hangup can race the join; if something reset us to idle while the
	// transport call was in flight, leave the state alone.
	if s.state != StateJoining {
		return false
	}
	s.state = StateConnected
	return true
}

// Leave leaves the current channel and returns the session to idle.
// Leaving an idle session is a no-op.
func (s *Session) Leave(ctx context.Context) {
	s.mu.Lock()
	if s.transport == nil || s.state == StateIdle || s.state == StateLeaving || s.state == StateError {
		// Clear a sticky error state on explicit leave. An errored session
		// never joined the transport, so there is nothing to leave there.
		s.state = StateIdle
		s.channel = ""
		s.lastError = ""
		s.mu.Unlock()
		return
	}
	s.state = StateLeaving
	channel := s.channel
	s.mu.Unlock()

	if err := s.transport.Leave(ctx); err != nil {
		logger.Warn("media leave failed",
			zap.String("channel", channel),
			zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
	s.channel = ""
	s.screenSharing = false
}

// ToggleMute flips the microphone state and returns the new muted flag.
func (s *Session) ToggleMute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return s.muted
	}
	next := !s.muted
	if err := s.transport.SetMuted(next); err != nil {
		logger.Warn("media mute toggle failed", zap.Error(err))
		return s.muted
	}
	s.muted = next
	return s.muted
}

// ToggleVideo flips the camera state and returns the new enabled flag.
func (s *Session) ToggleVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return s.videoEnabled
	}
	next := !s.videoEnabled
	if err := s.transport.SetVideoEnabled(next); err != nil {
		logger.Warn("media video toggle failed", zap.Error(err))
		return s.videoEnabled
	}
	s.videoEnabled = next
	return s.videoEnabled
}

// ToggleScreenShare flips screen sharing and returns the new flag.
func (s *Session) ToggleScreenShare() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return s.screenSharing
	}
	next := !s.screenSharing
	if err := s.transport.SetScreenShare(next); err != nil {
		logger.Warn("screen share toggle failed", zap.Error(err))
		return s.screenSharing
	}
	s.screenSharing = next
	return s.screenSharing
}

// Muted returns the current microphone state.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// VideoEnabled returns the current camera state.
func (s *Session) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoEnabled
}

// ScreenSharing returns the current screen share state.
func (s *Session) ScreenSharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenSharing
}

// AttachLocalContainer hands the local-preview rendering surface to the
// transport.
func (s *Session) AttachLocalContainer(c Container) {
	if s.transport != nil {
		s.transport.AttachLocalContainer(c)
	}
}

// AttachRemoteContainer hands the remote-video rendering surface to the
// transport.
func (s *Session) AttachRemoteContainer(c Container) {
	if s.transport != nil {
		s.transport.AttachRemoteContainer(c)
	}
}

// AttachScreenContainer hands the screen-share rendering surface to the
// transport.
func (s *Session) AttachScreenContainer(c Container) {
	if s.transport != nil {
		s.transport.AttachScreenContainer(c)
	}
}
