package directcall

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/media"
	"callhub-backend/internal/signaling"
	"callhub-backend/pkg/constants"
	apperrors "callhub-backend/pkg/errors"
	"callhub-backend/pkg/logger"
	"callhub-backend/pkg/metrics"
)

// SignalingStore is the slice of the signaling adapter the coordinator
// consumes.
type SignalingStore interface {
	CreateDirectCall(ctx context.Context, call *domain.DirectCall) error
	GetDirectCall(ctx context.Context, id uuid.UUID) (*domain.DirectCall, error)
	TransitionDirectCall(ctx context.Context, id uuid.UUID, from []domain.CallState, to domain.CallState) (*domain.DirectCall, bool, error)
	SubscribeDirect(ctx context.Context, address string) *signaling.Stream[domain.DirectCall]
}

// SettingsSource reads the user's call settings.
type SettingsSource interface {
	Get(ctx context.Context, address string) (domain.CallSettings, error)
}

// EventKind classifies coordinator transitions surfaced to the
// orchestrator.
type EventKind string

const (
	// EventIncoming is a ringing record that passed the DND rule and may
	// be presented to the user.
	EventIncoming EventKind = "incoming"
	// EventAutoRejected is a ringing record rejected by the DND rule. No
	// ring side effect may be driven from it.
	EventAutoRejected EventKind = "auto_rejected"
	// EventRingingCancelled means the caller tore an unanswered incoming
	// call down; stop ringing and drop the prompt.
	EventRingingCancelled EventKind = "ringing_cancelled"
	// EventRemoteAccepted means the callee accepted our outbound call.
	EventRemoteAccepted EventKind = "remote_accepted"
	// EventUnavailable means our outbound call was rejected (typically a
	// DND auto-reject landing during the grace wait).
	EventUnavailable EventKind = "unavailable"
	// EventRemoteEnded means the peer hung an established call up.
	EventRemoteEnded EventKind = "remote_ended"
	// EventConnected means the local media join succeeded.
	EventConnected EventKind = "connected"
	// EventJoinFailed means the local media join failed. The signaling
	// record is left untouched; the peer may still be connected.
	EventJoinFailed EventKind = "join_failed"
)

// Event is one observable coordinator transition.
type Event struct {
	Kind   EventKind
	Record domain.DirectCall
}

// attempt is the single owned call session value. It is replaced
// atomically on every transition; no call state lives anywhere else in
// the coordinator.
type attempt struct {
	record   *domain.DirectCall
	outbound bool
	video    bool
}

// Coordinator owns the 1:1 call lifecycle for one user session: at most
// one outbound or inbound call attempt at a time.
type Coordinator struct {
	store    SignalingStore
	settings SettingsSource
	session  *media.Session
	line     *media.Line
	metrics  *metrics.Metrics

	self        string
	displayName string
	gracePeriod time.Duration
	ringTimeout time.Duration

	events chan Event

	mu           sync.Mutex
	current      *attempt
	graceCancel  context.CancelFunc
	remoteHangup *domain.DirectCall
	// seen tracks incoming records so at-least-once delivery cannot ring
	// twice. Entries stay through accept and reject and are dropped only
	// on the terminal echo; a redelivered ringing publish must stay a dup
	// for the record's whole local lifetime.
	seen map[uuid.UUID]domain.CallState
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithGracePeriod overrides the post-create wait before joining media.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Coordinator) { c.gracePeriod = d }
}

// WithRingTimeout overrides how long an unanswered incoming call rings.
func WithRingTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.ringTimeout = d }
}

// WithMetrics attaches call metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a 1:1 call coordinator for the given user.
func NewCoordinator(store SignalingStore, settings SettingsSource, session *media.Session, line *media.Line, self, displayName string, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:       store,
		settings:    settings,
		session:     session,
		line:        line,
		self:        self,
		displayName: displayName,
		gracePeriod: constants.DialGracePeriod,
		ringTimeout: constants.RingTimeout,
		events:      make(chan Event, 32),
		seen:        make(map[uuid.UUID]domain.CallState),
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

// Active reports whether a call attempt currently owns this coordinator.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Current returns the record of the in-flight call attempt, if any.
func (c *Coordinator) Current() *domain.DirectCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	rec := *c.current.record
	return &rec
}

// StartCall creates an outbound ringing record for the callee and
// schedules the media join after the grace wait. Returns nil, never an
// error, when refused: media transport unconfigured, or another call of
// either kind already holds the line.
func (c *Coordinator) StartCall(ctx context.Context, calleeAddress string, video bool) *domain.DirectCall {
	if calleeAddress == "" || calleeAddress == c.self {
		return nil
	}
	if !c.session.Configured() {
		logger.Debug("start call refused: media transport not configured")
		return nil
	}
	if !c.line.Acquire(media.OwnerDirect) {
		logger.Debug("start call refused: line busy",
			zap.String("holder", string(c.line.Holder())))
		return nil
	}

	record := &domain.DirectCall{
		ID:                uuid.New(),
		CallerAddress:     c.self,
		CalleeAddress:     calleeAddress,
		ChannelName:       DeriveChannel(c.self, calleeAddress),
		CallerDisplayName: c.displayName,
		State:             domain.CallStateRinging,
		CreatedAt:         time.Now().UTC(),
	}

	if err := c.store.CreateDirectCall(ctx, record); err != nil {
		c.line.Release(media.OwnerDirect)
		logger.Error("failed to create call record",
			zap.String("callee", calleeAddress),
			zap.Error(err))
		return nil
	}

	graceCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.current = &attempt{record: record, outbound: true, video: video}
	c.graceCancel = cancel
	c.mu.Unlock()

	c.metrics.RecordCallStarted("direct")
	logger.Info("outbound call created",
		zap.String("call_id", record.ID.String()),
		zap.String("channel", record.ChannelName))

	go c.joinAfterGrace(graceCtx, record, video)

	return record
}

// joinAfterGrace waits the grace period so a near-immediate reject (DND
// auto-reject above all) can land, then joins media unless the record
// went terminal or the local user hung up during the wait. There is no
// rendezvous with the callee: both sides join the same derived channel
// independently.
func (c *Coordinator) joinAfterGrace(ctx context.Context, record *domain.DirectCall, video bool) {
	timer := time.NewTimer(c.gracePeriod)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		// Local hangup during the wait: never join.
		return
	case <-timer.C:
	}

	current, err := c.store.GetDirectCall(ctx, record.ID)
	switch {
	case err != nil && isNotFound(err):
		c.teardownOutbound(record, EventUnavailable)
		return
	case err != nil:
		// Transient read failure. The record existed moments ago; join on
		// what we have instead of killing a healthy call.
		logger.Warn("pre-join record read failed, joining anyway",
			zap.String("call_id", record.ID.String()),
			zap.Error(err))
		current = record
	case current.State.Terminal():
		c.teardownOutbound(current, EventUnavailable)
		return
	}
	if ctx.Err() != nil {
		return
	}

	if c.session.Join(ctx, record.ChannelName, video) {
		c.emit(Event{Kind: EventConnected, Record: *current})
		return
	}
	if ctx.Err() != nil {
		return
	}
	// The record is left as-is: a local media failure must not retract
	// the call, the callee may already be connected and waiting.
	c.metrics.RecordJoinFailure()
	c.emit(Event{Kind: EventJoinFailed, Record: *current})
}

// Observe starts consuming the subscription for this user's address and
// returns the coordinator's event stream. The DND rule is applied here,
// once per record at first observation, before anything reaches the
// orchestrator. Tear down by cancelling ctx.
func (c *Coordinator) Observe(ctx context.Context) <-chan Event {
	stream := c.store.SubscribeDirect(ctx, c.self)
	go func() {
		for {
			select {
			case <-ctx.Done():
				stream.Close()
				return
			case <-stream.Done():
				return
			case record := <-stream.Records():
				c.handleRecord(ctx, record)
			}
		}
	}()
	return c.events
}

func (c *Coordinator) handleRecord(ctx context.Context, record domain.DirectCall) {
	switch {
	case record.CalleeAddress == c.self:
		c.handleInbound(ctx, record)
	case record.CallerAddress == c.self:
		c.handleOutboundEcho(record)
	}
}

func (c *Coordinator) handleInbound(ctx context.Context, record domain.DirectCall) {
	switch record.State {
	case domain.CallStateRinging:
		c.mu.Lock()
		_, dup := c.seen[record.ID]
		if !dup {
			c.seen[record.ID] = record.State
		}
		c.mu.Unlock()
		if dup {
			return
		}

		settings, err := c.settings.Get(ctx, c.self)
		if err != nil {
			logger.Warn("failed to read call settings, treating as default",
				zap.Error(err))
		}

		if settings.IsDND {
			// Evaluated once per record at first observation: reject
			// silently, no ring side effect ever fires.
			if _, _, err := c.store.TransitionDirectCall(ctx, record.ID,
				[]domain.CallState{domain.CallStateRinging}, domain.CallStateRejected); err != nil {
				logger.Warn("DND auto-reject failed",
					zap.String("call_id", record.ID.String()),
					zap.Error(err))
			}
			c.mu.Lock()
			// Keep the seen entry so a redelivered ringing record cannot
			// re-fire the auto-reject; the terminal echo cleans it up.
			c.seen[record.ID] = domain.CallStateRejected
			c.mu.Unlock()
			c.metrics.RecordCallRejected(true)
			c.emit(Event{Kind: EventAutoRejected, Record: record})
			return
		}

		c.emit(Event{Kind: EventIncoming, Record: record})
		go c.expireRing(ctx, record)

	case domain.CallStateAccepted:
		// Echo of our own accept; nothing to do.

	case domain.CallStateRejected, domain.CallStateEnded:
		c.mu.Lock()
		ringing := c.seen[record.ID] == domain.CallStateRinging
		delete(c.seen, record.ID)
		inCall := c.current != nil && !c.current.outbound && c.current.record.ID == record.ID
		if inCall {
			c.current = nil
			c.remoteHangup = &record
			if c.graceCancel != nil {
				c.graceCancel()
				c.graceCancel = nil
			}
		}
		c.mu.Unlock()

		if inCall {
			c.line.Release(media.OwnerDirect)
			c.metrics.RecordCallEnded("direct")
			c.emit(Event{Kind: EventRemoteEnded, Record: record})
		} else if ringing && record.State == domain.CallStateEnded {
			// Caller gave up before we answered.
			c.emit(Event{Kind: EventRingingCancelled, Record: record})
		}
	}
}

// expireRing drops the local prompt for an incoming call that nobody
// answered within the ring timeout. Local only: the record is left for
// the caller's side to tear down, which also covers a caller client
// that died mid-ring.
func (c *Coordinator) expireRing(ctx context.Context, record domain.DirectCall) {
	timer := time.NewTimer(c.ringTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	c.mu.Lock()
	state, tracked := c.seen[record.ID]
	expired := tracked && state == domain.CallStateRinging
	if expired {
		// Mark the entry so a redelivered ringing publish stays a dup;
		// the terminal echo still cleans it up.
		c.seen[record.ID] = domain.CallStateEnded
	}
	c.mu.Unlock()
	if !expired {
		return
	}

	logger.Info("incoming call rang out unanswered",
		zap.String("call_id", record.ID.String()))
	c.emit(Event{Kind: EventRingingCancelled, Record: record})
}

func (c *Coordinator) handleOutboundEcho(record domain.DirectCall) {
	c.mu.Lock()
	mine := c.current != nil && c.current.outbound && c.current.record.ID == record.ID
	if mine {
		c.current.record.State = record.State
	}
	c.mu.Unlock()
	if !mine {
		return
	}

	switch record.State {
	case domain.CallStateAccepted:
		c.emit(Event{Kind: EventRemoteAccepted, Record: record})
	case domain.CallStateRejected:
		c.teardownOutbound(&record, EventUnavailable)
	case domain.CallStateEnded:
		c.teardownOutbound(&record, EventRemoteEnded)
	}
}

// teardownOutbound resolves the in-flight outbound attempt after a
// peer-initiated terminal transition. Idempotent: subscription echo and
// the grace-wait re-read can both observe the same rejection.
func (c *Coordinator) teardownOutbound(record *domain.DirectCall, kind EventKind) {
	c.mu.Lock()
	if c.current == nil || !c.current.outbound || c.current.record.ID != record.ID {
		c.mu.Unlock()
		return
	}
	if c.graceCancel != nil {
		c.graceCancel()
		c.graceCancel = nil
	}
	c.current = nil
	c.remoteHangup = record
	c.mu.Unlock()

	c.line.Release(media.OwnerDirect)
	c.metrics.RecordCallEnded("direct")
	c.emit(Event{Kind: kind, Record: *record})
}

// Accept transitions an incoming record to accepted and claims the call
// attempt. It returns the media channel to join, or "" when the record
// vanished underneath us (peer ended it first) or another call already
// holds the line; both are silent no-ops, never user-facing errors.
func (c *Coordinator) Accept(ctx context.Context, record *domain.DirectCall) string {
	if !c.line.Acquire(media.OwnerDirect) {
		return ""
	}

	updated, changed, err := c.store.TransitionDirectCall(ctx, record.ID,
		[]domain.CallState{domain.CallStateRinging}, domain.CallStateAccepted)
	if err != nil || !changed {
		// Lost the race: the caller already rejected or ended it.
		c.line.Release(media.OwnerDirect)
		return ""
	}

	c.mu.Lock()
	c.current = &attempt{record: updated}
	// Keep the seen entry: a redelivery of the original ringing publish
	// must not re-prompt for the call we are already in.
	c.seen[record.ID] = domain.CallStateAccepted
	c.mu.Unlock()

	c.metrics.RecordCallAccepted("direct")
	c.metrics.RecordRingDuration(time.Since(updated.CreatedAt))
	logger.Info("incoming call accepted",
		zap.String("call_id", updated.ID.String()),
		zap.String("channel", updated.ChannelName))

	return updated.ChannelName
}

// Reject transitions an incoming record to rejected. Rejecting an
// already-terminal record is a no-op success.
func (c *Coordinator) Reject(ctx context.Context, record *domain.DirectCall) bool {
	_, changed, err := c.store.TransitionDirectCall(ctx, record.ID,
		[]domain.CallState{domain.CallStateRinging}, domain.CallStateRejected)
	if err != nil {
		if isNotFound(err) {
			return true
		}
		logger.Error("failed to reject call",
			zap.String("call_id", record.ID.String()),
			zap.Error(err))
		return false
	}

	c.mu.Lock()
	c.seen[record.ID] = domain.CallStateRejected
	c.mu.Unlock()

	if changed {
		c.metrics.RecordCallRejected(false)
		c.metrics.RecordRingDuration(time.Since(record.CreatedAt))
	}
	return true
}

// End transitions a record to ended. Must be called by whichever party
// leaves the media session, independent of who initiated. Cancels a
// still-open grace wait so a voluntary abort cannot be followed by a
// stale media join. Ending an already-terminal record is a no-op
// success.
func (c *Coordinator) End(ctx context.Context, record *domain.DirectCall) bool {
	c.mu.Lock()
	mine := c.current != nil && c.current.record.ID == record.ID
	if mine {
		if c.graceCancel != nil {
			c.graceCancel()
			c.graceCancel = nil
		}
		c.current = nil
	}
	if _, ok := c.seen[record.ID]; ok {
		c.seen[record.ID] = domain.CallStateEnded
	}
	c.mu.Unlock()

	if mine {
		c.line.Release(media.OwnerDirect)
		c.metrics.RecordCallEnded("direct")
	}

	_, _, err := c.store.TransitionDirectCall(ctx, record.ID,
		[]domain.CallState{domain.CallStateRinging, domain.CallStateAccepted}, domain.CallStateEnded)
	if err != nil {
		if isNotFound(err) {
			return true
		}
		logger.Error("failed to end call",
			zap.String("call_id", record.ID.String()),
			zap.Error(err))
		return false
	}

	return true
}

// PendingRemoteHangup returns the record of a peer-initiated teardown the
// local session has not yet reacted to.
func (c *Coordinator) PendingRemoteHangup() *domain.DirectCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteHangup
}

// ClearRemoteHangup acknowledges that the local session has reacted to a
// peer-initiated teardown.
func (c *Coordinator) ClearRemoteHangup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteHangup = nil
}

func (c *Coordinator) emit(event Event) {
	select {
	case c.events <- event:
	default:
		logger.Warn("call event dropped, no consumer",
			zap.String("kind", string(event.Kind)),
			zap.String("call_id", event.Record.ID.String()))
	}
}

func isNotFound(err error) bool {
	return apperrors.IsCallNotFound(err)
}
