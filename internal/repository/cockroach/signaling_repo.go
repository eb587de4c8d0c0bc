package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"callhub-backend/internal/domain"
	apperrors "callhub-backend/pkg/errors"
)

// SignalingRepository handles 1:1 call signaling records.
type SignalingRepository struct {
	pool *pgxpool.Pool
}

// NewSignalingRepository creates a new signaling repository
func NewSignalingRepository(pool *pgxpool.Pool) *SignalingRepository {
	return &SignalingRepository{pool: pool}
}

// Create inserts a new ringing record
func (r *SignalingRepository) Create(ctx context.Context, call *domain.DirectCall) error {
	query := `
		INSERT INTO direct_calls (
			id, caller_address, callee_address, channel_name,
			caller_display_name, state, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		call.ID,
		call.CallerAddress,
		call.CalleeAddress,
		call.ChannelName,
		call.CallerDisplayName,
		call.State,
		call.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create call record: %w", err)
	}

	return nil
}

// GetByID retrieves a call record by ID
func (r *SignalingRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DirectCall, error) {
	query := `
		SELECT id, caller_address, callee_address, channel_name,
		       caller_display_name, state, created_at
		FROM direct_calls
		WHERE id = $1
	`

	call := &domain.DirectCall{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&call.ID,
		&call.CallerAddress,
		&call.CalleeAddress,
		&call.ChannelName,
		&call.CallerDisplayName,
		&call.State,
		&call.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, fmt.Errorf("failed to get call record: %w", err)
	}

	return call, nil
}

// Transition performs a compare-and-set state change: the record moves to
// the target state only if its current state is one of from. It returns
// the updated record, or nil without error when the precondition did not
// hold (the caller decides whether that is a lost race or idempotent
// success by re-reading).
func (r *SignalingRepository) Transition(ctx context.Context, id uuid.UUID, from []domain.CallState, to domain.CallState) (*domain.DirectCall, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}

	query := `
		UPDATE direct_calls
		SET state = $2
		WHERE id = $1 AND state = ANY($3)
		RETURNING id, caller_address, callee_address, channel_name,
		          caller_display_name, state, created_at
	`

	call := &domain.DirectCall{}
	err := r.pool.QueryRow(ctx, query, id, to, states).Scan(
		&call.ID,
		&call.CallerAddress,
		&call.CalleeAddress,
		&call.ChannelName,
		&call.CallerDisplayName,
		&call.State,
		&call.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to transition call record: %w", err)
	}

	return call, nil
}

// ActiveForCallee lists still-ringing records addressed to the given
// callee, used to resync a subscription after a gap.
func (r *SignalingRepository) ActiveForCallee(ctx context.Context, address string) ([]*domain.DirectCall, error) {
	query := `
		SELECT id, caller_address, callee_address, channel_name,
		       caller_display_name, state, created_at
		FROM direct_calls
		WHERE callee_address = $1 AND state = 'ringing'
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("failed to list ringing calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.DirectCall
	for rows.Next() {
		call := &domain.DirectCall{}
		err := rows.Scan(
			&call.ID,
			&call.CallerAddress,
			&call.CalleeAddress,
			&call.ChannelName,
			&call.CallerDisplayName,
			&call.State,
			&call.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		calls = append(calls, call)
	}

	return calls, nil
}
