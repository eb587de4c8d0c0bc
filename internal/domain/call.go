package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallState is the lifecycle state of a 1:1 call signaling record.
type CallState string

const (
	CallStateRinging  CallState = "ringing"
	CallStateAccepted CallState = "accepted"
	CallStateRejected CallState = "rejected"
	CallStateEnded    CallState = "ended"
)

// Terminal reports whether no further transition is allowed out of s.
func (s CallState) Terminal() bool {
	return s == CallStateRejected || s == CallStateEnded
}

// Active reports whether the record still represents a live call attempt.
func (s CallState) Active() bool {
	return s == CallStateRinging || s == CallStateAccepted
}

// DirectCall is the signaling record for a 1:1 call. It is owned by the
// caller on creation, mutated by the callee (accept/reject) or by either
// party (end), and never reused: a new call always creates a new record.
type DirectCall struct {
	ID                uuid.UUID `json:"id"`
	CallerAddress     string    `json:"caller_address"`
	CalleeAddress     string    `json:"callee_address"`
	ChannelName       string    `json:"channel_name"`
	CallerDisplayName string    `json:"caller_display_name,omitempty"`
	State             CallState `json:"state"`
	CreatedAt         time.Time `json:"created_at"`
}

// CallEndReason classifies how a direct call reached a terminal state.
type CallEndReason string

const (
	EndReasonHangup     CallEndReason = "hangup"
	EndReasonRejected   CallEndReason = "rejected"
	EndReasonDND        CallEndReason = "dnd_auto_reject"
	EndReasonMediaError CallEndReason = "media_error"
)
