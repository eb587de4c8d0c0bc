package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/repository/cassandra"
	"callhub-backend/internal/repository/cockroach"
	apperrors "callhub-backend/pkg/errors"
	"callhub-backend/pkg/logger"
)

// Store is the signaling adapter: typed create/read/update operations
// over call signaling records plus a change-notification subscription.
// Records live in the relational store; change events fan out over Redis
// Pub/Sub keyed by recipient address (1:1) or group id.
type Store struct {
	calls  *cockroach.SignalingRepository
	groups *cockroach.GroupCallRepository
	events *cassandra.CallEventRepository // optional, best-effort
	redis  *redis.Client
}

// NewStore creates a signaling store. events may be nil.
func NewStore(calls *cockroach.SignalingRepository, groups *cockroach.GroupCallRepository, events *cassandra.CallEventRepository, redisClient *redis.Client) *Store {
	return &Store{
		calls:  calls,
		groups: groups,
		events: events,
		redis:  redisClient,
	}
}

func directChannel(address string) string {
	return fmt.Sprintf("signal:direct:%s", address)
}

func groupChannel(groupID string) string {
	return fmt.Sprintf("signal:group:%s", groupID)
}

// CreateDirectCall persists a new ringing record and notifies both
// parties' subscriptions.
func (s *Store) CreateDirectCall(ctx context.Context, call *domain.DirectCall) error {
	if err := s.calls.Create(ctx, call); err != nil {
		return err
	}

	s.publishDirect(ctx, call)
	s.logEvent(&cassandra.CallEvent{
		UserAddress: call.CallerAddress,
		CallID:      call.ID,
		Kind:        "created",
		PeerAddress: call.CalleeAddress,
		ChannelName: call.ChannelName,
	})

	return nil
}

// GetDirectCall reads the current state of a record.
func (s *Store) GetDirectCall(ctx context.Context, id uuid.UUID) (*domain.DirectCall, error) {
	return s.calls.GetByID(ctx, id)
}

// TransitionDirectCall moves a record to the target state if its current
// state is one of from. The returned bool reports whether this call
// performed the transition; when false with a non-nil record, someone
// else got there first and the record is returned as-is so the caller can
// decide between idempotent success and lost race.
func (s *Store) TransitionDirectCall(ctx context.Context, id uuid.UUID, from []domain.CallState, to domain.CallState) (*domain.DirectCall, bool, error) {
	updated, err := s.calls.Transition(ctx, id, from, to)
	if err != nil {
		return nil, false, err
	}
	if updated == nil {
		current, err := s.calls.GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return current, false, nil
	}

	s.publishDirect(ctx, updated)
	s.logEvent(&cassandra.CallEvent{
		UserAddress: updated.CalleeAddress,
		CallID:      updated.ID,
		Kind:        string(to),
		PeerAddress: updated.CallerAddress,
		ChannelName: updated.ChannelName,
	})

	return updated, true, nil
}

// RingingForCallee lists still-ringing records addressed to a callee.
func (s *Store) RingingForCallee(ctx context.Context, address string) ([]*domain.DirectCall, error) {
	return s.calls.ActiveForCallee(ctx, address)
}

// CreateGroupCall persists a new active group call record. Returns
// cockroach.ErrActiveCallExists if the group's slot is taken.
func (s *Store) CreateGroupCall(ctx context.Context, call *domain.GroupCall) error {
	if err := s.groups.Create(ctx, call); err != nil {
		return err
	}

	s.publishGroup(ctx, call)
	s.logEvent(&cassandra.CallEvent{
		UserAddress: call.StartedBy,
		CallID:      call.ID,
		Kind:        "created",
		GroupID:     call.GroupID,
		ChannelName: call.ChannelName,
	})

	return nil
}

// GetGroupCall reads one group call record by id.
func (s *Store) GetGroupCall(ctx context.Context, id uuid.UUID) (*domain.GroupCall, error) {
	return s.groups.GetByID(ctx, id)
}

// ActiveGroupCall returns the active call for a group, if any.
func (s *Store) ActiveGroupCall(ctx context.Context, groupID string) (*domain.GroupCall, error) {
	return s.groups.GetActiveByGroup(ctx, groupID)
}

// ActiveGroupCalls snapshots active calls across the given groups.
func (s *Store) ActiveGroupCalls(ctx context.Context, groupIDs []string) ([]*domain.GroupCall, error) {
	return s.groups.ActiveByGroups(ctx, groupIDs)
}

// JoinGroupCall attaches a user to the roster. Returns the refreshed
// record, or CallNotFound when the call ended before the join landed.
func (s *Store) JoinGroupCall(ctx context.Context, callID uuid.UUID, address string) (*domain.GroupCall, error) {
	if err := s.groups.AddParticipant(ctx, callID, address); err != nil {
		return nil, err
	}

	call, err := s.groups.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}

	s.publishGroup(ctx, call)
	s.logEvent(&cassandra.CallEvent{
		UserAddress: address,
		CallID:      call.ID,
		Kind:        "joined",
		GroupID:     call.GroupID,
		ChannelName: call.ChannelName,
	})

	return call, nil
}

// LeaveGroupCall detaches a user from the roster. When the roster
// empties, the record transitions to ended.
func (s *Store) LeaveGroupCall(ctx context.Context, callID uuid.UUID, address string) error {
	remaining, err := s.groups.RemoveParticipant(ctx, callID, address)
	if err != nil {
		return err
	}

	if remaining == 0 {
		if err := s.groups.End(ctx, callID); err != nil {
			return err
		}
	}

	call, err := s.groups.GetByID(ctx, callID)
	if err != nil {
		if apperrors.IsCallNotFound(err) {
			return nil
		}
		return err
	}

	s.publishGroup(ctx, call)
	s.logEvent(&cassandra.CallEvent{
		UserAddress: address,
		CallID:      call.ID,
		Kind:        "left",
		GroupID:     call.GroupID,
		ChannelName: call.ChannelName,
	})

	return nil
}

// GroupParticipants lists the roster of a call.
func (s *Store) GroupParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.GroupCallParticipant, error) {
	return s.groups.Participants(ctx, callID)
}

// CallHistory reads the most recent call events for a user. Returns nil
// when no event log is configured.
func (s *Store) CallHistory(address string, limit int) ([]*cassandra.CallEvent, error) {
	if s.events == nil {
		return nil, nil
	}
	return s.events.HistoryForUser(address, limit)
}

func (s *Store) publishDirect(ctx context.Context, call *domain.DirectCall) {
	payload, err := json.Marshal(call)
	if err != nil {
		logger.Error("failed to marshal direct call", zap.Error(err))
		return
	}

	// Both parties observe the record: the callee for ringing, the caller
	// for remote accept/reject/hangup.
	for _, address := range []string{call.CalleeAddress, call.CallerAddress} {
		if err := s.redis.Publish(ctx, directChannel(address), payload).Err(); err != nil {
			logger.Warn("failed to publish direct call change",
				zap.String("call_id", call.ID.String()),
				zap.String("address", address),
				zap.Error(err))
		}
	}
}

func (s *Store) publishGroup(ctx context.Context, call *domain.GroupCall) {
	payload, err := json.Marshal(call)
	if err != nil {
		logger.Error("failed to marshal group call", zap.Error(err))
		return
	}

	if err := s.redis.Publish(ctx, groupChannel(call.GroupID), payload).Err(); err != nil {
		logger.Warn("failed to publish group call change",
			zap.String("call_id", call.ID.String()),
			zap.String("group_id", call.GroupID),
			zap.Error(err))
	}
}

// logEvent appends to the call event log. Failures are logged, never
// propagated: the event log must not fail a signaling transition.
func (s *Store) logEvent(event *cassandra.CallEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Append(event); err != nil {
		logger.Warn("failed to append call event",
			zap.String("call_id", event.CallID.String()),
			zap.String("kind", event.Kind),
			zap.Error(err))
	}
}
