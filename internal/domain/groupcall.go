package domain

import (
	"time"

	"github.com/google/uuid"
)

// GroupCallState is the lifecycle state of a group call record.
// There is no rejected state: a member either joins or ignores.
type GroupCallState string

const (
	GroupCallActive GroupCallState = "active"
	GroupCallEnded  GroupCallState = "ended"
)

// GroupCall is the signaling record for a group call. It is created by
// whoever starts (or is first to join) a call for a group with no active
// record; later joiners attach to the same record. It ends when the
// roster empties.
type GroupCall struct {
	ID               uuid.UUID      `json:"id"`
	GroupID          string         `json:"group_id"`
	GroupName        string         `json:"group_name"`
	StartedBy        string         `json:"started_by"`
	ChannelName      string         `json:"channel_name"`
	IsVideo          bool           `json:"is_video"`
	State            GroupCallState `json:"state"`
	ParticipantCount int            `json:"participant_count"`
	CreatedAt        time.Time      `json:"created_at"`
}

// GroupCallParticipant is a member of the transient roster of an active
// group call.
type GroupCallParticipant struct {
	CallID      uuid.UUID `json:"call_id"`
	UserAddress string    `json:"user_address"`
	JoinedAt    time.Time `json:"joined_at"`
}
