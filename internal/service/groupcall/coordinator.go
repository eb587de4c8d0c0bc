package groupcall

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/media"
	"callhub-backend/internal/repository/cockroach"
	"callhub-backend/internal/signaling"
	apperrors "callhub-backend/pkg/errors"
	"callhub-backend/pkg/logger"
	"callhub-backend/pkg/metrics"
)

// SignalingStore is the slice of the signaling adapter the group call
// coordinator consumes.
type SignalingStore interface {
	CreateGroupCall(ctx context.Context, call *domain.GroupCall) error
	GetGroupCall(ctx context.Context, id uuid.UUID) (*domain.GroupCall, error)
	ActiveGroupCall(ctx context.Context, groupID string) (*domain.GroupCall, error)
	ActiveGroupCalls(ctx context.Context, groupIDs []string) ([]*domain.GroupCall, error)
	JoinGroupCall(ctx context.Context, callID uuid.UUID, address string) (*domain.GroupCall, error)
	LeaveGroupCall(ctx context.Context, callID uuid.UUID, address string) error
	SubscribeGroups(ctx context.Context, groupIDs []string) *signaling.Stream[domain.GroupCall]
}

// EventKind classifies group call transitions surfaced to the
// orchestrator.
type EventKind string

const (
	// EventStarted is an active call in one of the user's groups that the
	// user has not joined or dismissed.
	EventStarted EventKind = "started"
	// EventUpdated is a roster change on an already-known call.
	EventUpdated EventKind = "updated"
	// EventEnded means a call went inactive; clears banners, or tears the
	// local session down when it was the joined call.
	EventEnded EventKind = "ended"
	// EventJoinFailed means the local media join failed after the roster
	// attach; the coordinator already detached and released the line.
	EventJoinFailed EventKind = "join_failed"
)

// Event is one observable group call transition.
type Event struct {
	Kind   EventKind
	Record domain.GroupCall
}

// Coordinator owns the group call lifecycle for one user session: at
// most one joined call, plus awareness of active calls in the user's
// other groups.
type Coordinator struct {
	store   SignalingStore
	session *media.Session
	line    *media.Line
	metrics *metrics.Metrics

	self string

	events chan Event

	mu      sync.Mutex
	current *domain.GroupCall
	// dismissed suppresses re-prompting for calls the user waved away.
	// Local only: dismissing never touches the record.
	dismissed map[uuid.UUID]bool
	// known maps observed active calls to their last seen roster size,
	// separating first sight (started) from churn (updated).
	known map[uuid.UUID]int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics attaches call metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a group call coordinator for the given user.
func NewCoordinator(store SignalingStore, session *media.Session, line *media.Line, self string, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		session:   session,
		line:      line,
		self:      self,
		events:    make(chan Event, 32),
		dismissed: make(map[uuid.UUID]bool),
		known:     make(map[uuid.UUID]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events is the stream of coordinator transitions consumed by the
// orchestrator.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// Current returns the record of the joined call, if any.
func (c *Coordinator) Current() *domain.GroupCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	rec := *c.current
	return &rec
}

// ActiveCalls snapshots the active calls across the user's groups, for
// rendering ongoing-call banners on startup or reconnect.
func (c *Coordinator) ActiveCalls(ctx context.Context, groupIDs []string) ([]*domain.GroupCall, error) {
	return c.store.ActiveGroupCalls(ctx, groupIDs)
}

// Start joins the group's active call, creating one first if the group
// has none. The find-or-create is racy by nature; the store's uniqueness
// guarantee (one active call per group) resolves concurrent starts and
// the loser degrades to joining the winner's call. Returns nil when
// refused: media unconfigured, or another call of either kind holds the
// line.
func (c *Coordinator) Start(ctx context.Context, groupID, groupName string, video bool) *domain.GroupCall {
	if groupID == "" {
		return nil
	}
	if !c.session.Configured() {
		logger.Debug("group call refused: media transport not configured")
		return nil
	}
	if !c.line.Acquire(media.OwnerGroup) {
		logger.Debug("group call refused: line busy",
			zap.String("holder", string(c.line.Holder())))
		return nil
	}

	call, err := c.store.ActiveGroupCall(ctx, groupID)
	if err != nil && !apperrors.IsCallNotFound(err) {
		c.line.Release(media.OwnerGroup)
		logger.Error("failed to look up active group call",
			zap.String("group_id", groupID),
			zap.Error(err))
		return nil
	}

	created := false
	if call == nil {
		id := uuid.New()
		call = &domain.GroupCall{
			ID:          id,
			GroupID:     groupID,
			GroupName:   groupName,
			StartedBy:   c.self,
			ChannelName: fmt.Sprintf("gc-%s", id),
			IsVideo:     video,
			State:       domain.GroupCallActive,
			CreatedAt:   time.Now().UTC(),
		}
		switch err := c.store.CreateGroupCall(ctx, call); {
		case err == nil:
			created = true
		case errors.Is(err, cockroach.ErrActiveCallExists):
			// Lost the start race; join the winner's call instead.
			call, err = c.store.ActiveGroupCall(ctx, groupID)
			if err != nil || call == nil {
				c.line.Release(media.OwnerGroup)
				return nil
			}
		default:
			c.line.Release(media.OwnerGroup)
			logger.Error("failed to create group call",
				zap.String("group_id", groupID),
				zap.Error(err))
			return nil
		}
	}

	joined := c.attach(ctx, call, video)
	if joined == nil {
		return nil
	}
	if created {
		c.metrics.RecordCallStarted("group")
		logger.Info("group call started",
			zap.String("call_id", joined.ID.String()),
			zap.String("group_id", groupID))
	}
	return joined
}

// Join attaches to a known active call, typically from an ongoing-call
// banner. Returns nil silently when the call ended before the join
// landed; the banner was simply stale, not an error the user can act on.
func (c *Coordinator) Join(ctx context.Context, call *domain.GroupCall, video bool) *domain.GroupCall {
	if !c.session.Configured() {
		return nil
	}
	if !c.line.Acquire(media.OwnerGroup) {
		return nil
	}
	return c.attach(ctx, call, video)
}

// attach adds the user to the roster and joins media. The caller must
// hold the line; attach releases it on every failure path.
func (c *Coordinator) attach(ctx context.Context, call *domain.GroupCall, video bool) *domain.GroupCall {
	joined, err := c.store.JoinGroupCall(ctx, call.ID, c.self)
	if err != nil {
		c.line.Release(media.OwnerGroup)
		if apperrors.IsCallNotFound(err) {
			logger.Info("group call ended before join landed",
				zap.String("call_id", call.ID.String()))
			return nil
		}
		logger.Error("failed to join group call roster",
			zap.String("call_id", call.ID.String()),
			zap.Error(err))
		return nil
	}

	if !c.session.Join(ctx, joined.ChannelName, video) {
		// Roll the roster attach back; staying listed in a call we have
		// no media in would strand the record active.
		if err := c.store.LeaveGroupCall(ctx, joined.ID, c.self); err != nil {
			logger.Warn("failed to detach after media join failure",
				zap.String("call_id", joined.ID.String()),
				zap.Error(err))
		}
		c.line.Release(media.OwnerGroup)
		c.metrics.RecordJoinFailure()
		c.emit(Event{Kind: EventJoinFailed, Record: *joined})
		return nil
	}

	c.mu.Lock()
	c.current = joined
	c.known[joined.ID] = joined.ParticipantCount
	delete(c.dismissed, joined.ID)
	c.mu.Unlock()

	c.metrics.RecordCallAccepted("group")
	logger.Info("joined group call",
		zap.String("call_id", joined.ID.String()),
		zap.String("channel", joined.ChannelName))
	return joined
}

// Leave detaches from the joined call. The record ends when the roster
// empties; leaving is idempotent and leaving with no joined call is a
// no-op.
func (c *Coordinator) Leave(ctx context.Context) {
	c.mu.Lock()
	call := c.current
	c.current = nil
	c.mu.Unlock()
	if call == nil {
		return
	}

	if err := c.store.LeaveGroupCall(ctx, call.ID, c.self); err != nil {
		logger.Warn("failed to leave group call",
			zap.String("call_id", call.ID.String()),
			zap.Error(err))
	}

	c.line.Release(media.OwnerGroup)
	c.metrics.RecordCallEnded("group")
}

// Dismiss suppresses further prompts for a call the user waved away.
// Purely local: the call stays active for everyone else and the user can
// still join it from the group itself.
func (c *Coordinator) Dismiss(callID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dismissed[callID] = true
}

// Dismissed reports whether the user waved this call's prompt away.
func (c *Coordinator) Dismissed(callID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dismissed[callID]
}

// Observe starts consuming the subscription for the user's groups and
// returns the coordinator's event stream. Tear down by cancelling ctx.
func (c *Coordinator) Observe(ctx context.Context, groupIDs []string) <-chan Event {
	stream := c.store.SubscribeGroups(ctx, groupIDs)
	go func() {
		for {
			select {
			case <-ctx.Done():
				stream.Close()
				return
			case <-stream.Done():
				return
			case record := <-stream.Records():
				c.handleRecord(record)
			}
		}
	}()
	return c.events
}

func (c *Coordinator) handleRecord(record domain.GroupCall) {
	c.mu.Lock()

	if c.current != nil && c.current.ID == record.ID {
		if record.State == domain.GroupCallEnded {
			c.current = nil
			delete(c.known, record.ID)
			c.mu.Unlock()

			c.line.Release(media.OwnerGroup)
			c.metrics.RecordCallEnded("group")
			c.emit(Event{Kind: EventEnded, Record: record})
			return
		}
		last := c.known[record.ID]
		c.known[record.ID] = record.ParticipantCount
		c.current = &record
		c.mu.Unlock()

		if record.ParticipantCount != last {
			c.emit(Event{Kind: EventUpdated, Record: record})
		}
		return
	}

	if record.State == domain.GroupCallEnded {
		_, wasKnown := c.known[record.ID]
		delete(c.known, record.ID)
		delete(c.dismissed, record.ID)
		c.mu.Unlock()

		if wasKnown {
			c.emit(Event{Kind: EventEnded, Record: record})
		}
		return
	}

	if c.dismissed[record.ID] || record.StartedBy == c.self {
		c.mu.Unlock()
		return
	}

	last, seen := c.known[record.ID]
	c.known[record.ID] = record.ParticipantCount
	c.mu.Unlock()

	switch {
	case !seen:
		c.emit(Event{Kind: EventStarted, Record: record})
	case record.ParticipantCount != last:
		c.emit(Event{Kind: EventUpdated, Record: record})
	}
}

func (c *Coordinator) emit(event Event) {
	select {
	case c.events <- event:
	default:
		logger.Warn("group call event dropped, no consumer",
			zap.String("kind", string(event.Kind)),
			zap.String("call_id", event.Record.ID.String()))
	}
}
