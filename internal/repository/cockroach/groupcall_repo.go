package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"callhub-backend/internal/domain"
	apperrors "callhub-backend/pkg/errors"
)

// ErrActiveCallExists is returned by Create when another active record
// already holds the group's slot. The schema enforces this with a partial
// unique index on (group_id) WHERE state = 'active', which is what makes
// start-group-call a safe find-or-create under concurrency.
var ErrActiveCallExists = errors.New("active group call already exists")

const pgUniqueViolation = "23505"

// GroupCallRepository handles group call records and their rosters.
type GroupCallRepository struct {
	pool *pgxpool.Pool
}

// NewGroupCallRepository creates a new group call repository
func NewGroupCallRepository(pool *pgxpool.Pool) *GroupCallRepository {
	return &GroupCallRepository{pool: pool}
}

// Create inserts a new active group call record. Returns
// ErrActiveCallExists when the group already has an active call.
func (r *GroupCallRepository) Create(ctx context.Context, call *domain.GroupCall) error {
	query := `
		INSERT INTO group_calls (
			id, group_id, group_name, started_by, channel_name,
			is_video, state, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		call.ID,
		call.GroupID,
		call.GroupName,
		call.StartedBy,
		call.ChannelName,
		call.IsVideo,
		call.State,
		call.CreatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrActiveCallExists
		}
		return fmt.Errorf("failed to create group call: %w", err)
	}

	return nil
}

// GetByID retrieves a group call with its live participant count
func (r *GroupCallRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.GroupCall, error) {
	query := `
		SELECT c.id, c.group_id, c.group_name, c.started_by, c.channel_name,
		       c.is_video, c.state, c.created_at,
		       (SELECT count(*) FROM group_call_participants p WHERE p.call_id = c.id)
		FROM group_calls c
		WHERE c.id = $1
	`

	call := &domain.GroupCall{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&call.ID,
		&call.GroupID,
		&call.GroupName,
		&call.StartedBy,
		&call.ChannelName,
		&call.IsVideo,
		&call.State,
		&call.CreatedAt,
		&call.ParticipantCount,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, fmt.Errorf("failed to get group call: %w", err)
	}

	return call, nil
}

// GetActiveByGroup retrieves the active call for a group, if any.
func (r *GroupCallRepository) GetActiveByGroup(ctx context.Context, groupID string) (*domain.GroupCall, error) {
	query := `
		SELECT c.id, c.group_id, c.group_name, c.started_by, c.channel_name,
		       c.is_video, c.state, c.created_at,
		       (SELECT count(*) FROM group_call_participants p WHERE p.call_id = c.id)
		FROM group_calls c
		WHERE c.group_id = $1 AND c.state = 'active'
	`

	call := &domain.GroupCall{}
	err := r.pool.QueryRow(ctx, query, groupID).Scan(
		&call.ID,
		&call.GroupID,
		&call.GroupName,
		&call.StartedBy,
		&call.ChannelName,
		&call.IsVideo,
		&call.State,
		&call.CreatedAt,
		&call.ParticipantCount,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, fmt.Errorf("failed to get active group call: %w", err)
	}

	return call, nil
}

// ActiveByGroups lists active calls across the given group ids.
func (r *GroupCallRepository) ActiveByGroups(ctx context.Context, groupIDs []string) ([]*domain.GroupCall, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT c.id, c.group_id, c.group_name, c.started_by, c.channel_name,
		       c.is_video, c.state, c.created_at,
		       (SELECT count(*) FROM group_call_participants p WHERE p.call_id = c.id)
		FROM group_calls c
		WHERE c.group_id = ANY($1) AND c.state = 'active'
		ORDER BY c.created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list active group calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.GroupCall
	for rows.Next() {
		call := &domain.GroupCall{}
		err := rows.Scan(
			&call.ID,
			&call.GroupID,
			&call.GroupName,
			&call.StartedBy,
			&call.ChannelName,
			&call.IsVideo,
			&call.State,
			&call.CreatedAt,
			&call.ParticipantCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group call: %w", err)
		}
		calls = append(calls, call)
	}

	return calls, nil
}

// AddParticipant attaches a user to the roster of an active call. It is a
// no-op for a user already on the roster, and returns CallNotFound when
// the call ended between discovery and join.
func (r *GroupCallRepository) AddParticipant(ctx context.Context, callID uuid.UUID, address string) error {
	query := `
		INSERT INTO group_call_participants (call_id, user_address, joined_at)
		SELECT $1, $2, now()
		WHERE EXISTS (
			SELECT 1 FROM group_calls WHERE id = $1 AND state = 'active'
		)
		ON CONFLICT (call_id, user_address) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query, callID, address)
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Either the call is no longer active, or the user is already on
		// the roster. Only the former is an error condition.
		if _, err := r.participantJoinedAt(ctx, callID, address); err == nil {
			return nil
		}
		return apperrors.CallNotFoundError()
	}

	return nil
}

// RemoveParticipant detaches a user from the roster and returns the
// number of participants remaining.
func (r *GroupCallRepository) RemoveParticipant(ctx context.Context, callID uuid.UUID, address string) (int, error) {
	query := `
		DELETE FROM group_call_participants
		WHERE call_id = $1 AND user_address = $2
	`

	if _, err := r.pool.Exec(ctx, query, callID, address); err != nil {
		return 0, fmt.Errorf("failed to remove participant: %w", err)
	}

	var remaining int
	countQuery := `SELECT count(*) FROM group_call_participants WHERE call_id = $1`
	if err := r.pool.QueryRow(ctx, countQuery, callID).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}

	return remaining, nil
}

// Participants lists the roster of a call.
func (r *GroupCallRepository) Participants(ctx context.Context, callID uuid.UUID) ([]*domain.GroupCallParticipant, error) {
	query := `
		SELECT call_id, user_address, joined_at
		FROM group_call_participants
		WHERE call_id = $1
		ORDER BY joined_at ASC
	`

	rows, err := r.pool.Query(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []*domain.GroupCallParticipant
	for rows.Next() {
		p := &domain.GroupCallParticipant{}
		if err := rows.Scan(&p.CallID, &p.UserAddress, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, nil
}

// End marks a call ended. Ending an already-ended call is a no-op.
func (r *GroupCallRepository) End(ctx context.Context, callID uuid.UUID) error {
	query := `
		UPDATE group_calls
		SET state = 'ended', ended_at = now()
		WHERE id = $1 AND state = 'active'
	`

	if _, err := r.pool.Exec(ctx, query, callID); err != nil {
		return fmt.Errorf("failed to end group call: %w", err)
	}

	return nil
}

func (r *GroupCallRepository) participantJoinedAt(ctx context.Context, callID uuid.UUID, address string) (string, error) {
	var joinedAt string
	query := `SELECT joined_at FROM group_call_participants WHERE call_id = $1 AND user_address = $2`
	err := r.pool.QueryRow(ctx, query, callID, address).Scan(&joinedAt)
	return joinedAt, err
}
