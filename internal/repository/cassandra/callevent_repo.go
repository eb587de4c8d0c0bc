package cassandra

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
)

// CallEvent is one row of the append-only call event log. Events exist
// for history and debugging; writing them is always best-effort and never
// blocks a signaling transition.
type CallEvent struct {
	UserAddress string    `json:"user_address"`
	CallID      uuid.UUID `json:"call_id"`
	Kind        string    `json:"kind"` // created, accepted, rejected, ended, joined, left
	PeerAddress string    `json:"peer_address,omitempty"`
	GroupID     string    `json:"group_id,omitempty"`
	ChannelName string    `json:"channel_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// CallEventRepository stores the call event log in Cassandra, partitioned
// by user address with time-ordered clustering for history reads.
type CallEventRepository struct {
	session *gocql.Session
}

// NewCallEventRepository creates a new CallEventRepository
func NewCallEventRepository(session *gocql.Session) *CallEventRepository {
	return &CallEventRepository{session: session}
}

// Append writes one event row
func (r *CallEventRepository) Append(event *CallEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO call_events (
			user_address, created_at, call_id, kind,
			peer_address, group_id, channel_name
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		event.UserAddress,
		event.CreatedAt,
		event.CallID,
		event.Kind,
		event.PeerAddress,
		event.GroupID,
		event.ChannelName,
	).Exec()

	if err != nil {
		return fmt.Errorf("failed to append call event: %w", err)
	}

	return nil
}

// HistoryForUser retrieves the most recent call events for a user
func (r *CallEventRepository) HistoryForUser(address string, limit int) ([]*CallEvent, error) {
	if limit == 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	query := `
		SELECT user_address, created_at, call_id, kind,
		       peer_address, group_id, channel_name
		FROM call_events
		WHERE user_address = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	iter := r.session.Query(query, address, limit).Iter()
	defer iter.Close()

	var events []*CallEvent
	for {
		event := &CallEvent{}
		if !iter.Scan(
			&event.UserAddress,
			&event.CreatedAt,
			&event.CallID,
			&event.Kind,
			&event.PeerAddress,
			&event.GroupID,
			&event.ChannelName,
		) {
			break
		}
		events = append(events, event)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to read call history: %w", err)
	}

	return events, nil
}
