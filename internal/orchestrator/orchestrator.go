package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/media"
	"callhub-backend/internal/service/directcall"
	"callhub-backend/internal/service/groupcall"
	"callhub-backend/internal/service/notify"
	"callhub-backend/pkg/constants"
	apperrors "callhub-backend/pkg/errors"
	"callhub-backend/pkg/logger"
)

// SettingsSource reads the user's call settings.
type SettingsSource interface {
	Get(ctx context.Context, address string) (domain.CallSettings, error)
}

// PresenceSource reports whether a user has a live session.
type PresenceSource interface {
	IsOnline(ctx context.Context, address string) (bool, error)
}

// Pusher escalates a call alert to a push notification.
type Pusher interface {
	SendCallAlert(ctx context.Context, address string, data map[string]string) error
}

// Directory resolves display names and the user's group memberships.
type Directory interface {
	DisplayName(ctx context.Context, address string) string
	GroupIDs(ctx context.Context) ([]string, error)
}

// RecordSource fetches signaling records by id, for operations addressed
// by id from the transport layer.
type RecordSource interface {
	GetDirectCall(ctx context.Context, id uuid.UUID) (*domain.DirectCall, error)
}

// Phase is the coarse call UI phase.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseIncoming  Phase = "incoming"
	PhaseDialing   Phase = "dialing"
	PhaseConnected Phase = "connected"
)

// Banner is an active group call the user may join.
type Banner struct {
	CallID           uuid.UUID `json:"call_id"`
	GroupID          string    `json:"group_id"`
	GroupName        string    `json:"group_name"`
	ParticipantCount int       `json:"participant_count"`
}

// Snapshot is everything a call UI renders, rebuilt on every transition.
type Snapshot struct {
	Phase Phase  `json:"phase"`
	Kind  string `json:"kind,omitempty"` // direct or group

	CallID      uuid.UUID `json:"call_id,omitempty"`
	PeerAddress string    `json:"peer_address,omitempty"`
	PeerName    string    `json:"peer_name,omitempty"`
	GroupID     string    `json:"group_id,omitempty"`
	GroupName   string    `json:"group_name,omitempty"`

	MediaState    media.State `json:"media_state"`
	Muted         bool        `json:"muted"`
	VideoEnabled  bool        `json:"video_enabled"`
	ScreenSharing bool        `json:"screen_sharing"`

	Incoming *domain.DirectCall `json:"incoming,omitempty"`
	Banners  []Banner           `json:"banners,omitempty"`
}

// Notice is one transition pushed to the transport layer: the refreshed
// snapshot plus the side effects to apply.
type Notice struct {
	Effect   notify.Effect `json:"effect"`
	Snapshot Snapshot      `json:"snapshot"`
}

// Orchestrator is the composition root of the call subsystem for one
// user session. It owns both coordinators, funnels their events into a
// single notice stream, and enforces that one media session serves both
// call kinds.
type Orchestrator struct {
	self string

	direct  *directcall.Coordinator
	group   *groupcall.Coordinator
	session *media.Session

	settings  SettingsSource
	presence  PresenceSource
	pusher    Pusher
	directory Directory
	records   RecordSource

	notices chan Notice

	mu       sync.Mutex
	incoming *domain.DirectCall
	banners  map[uuid.UUID]Banner
}

// New creates an orchestrator. pusher and presence may be nil; offline
// escalation is then skipped.
func New(self string, direct *directcall.Coordinator, group *groupcall.Coordinator, session *media.Session, settings SettingsSource, presence PresenceSource, pusher Pusher, dir Directory, records RecordSource) *Orchestrator {
	return &Orchestrator{
		self:      self,
		direct:    direct,
		group:     group,
		session:   session,
		settings:  settings,
		presence:  presence,
		pusher:    pusher,
		directory: dir,
		records:   records,
		notices:   make(chan Notice, 32),
	}
}

// Notices is the stream the transport layer (WS handler) forwards to the
// client.
func (o *Orchestrator) Notices() <-chan Notice {
	return o.notices
}

// Run subscribes both coordinators and pumps their events until ctx is
// cancelled. It is the only goroutine that mutates view state, so the
// snapshot never tears.
func (o *Orchestrator) Run(ctx context.Context) error {
	groupIDs, err := o.directory.GroupIDs(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeSubscription, "failed to resolve group memberships", err)
	}

	directEvents := o.direct.Observe(ctx)
	groupEvents := o.group.Observe(ctx, groupIDs)

	o.seedBanners(ctx, groupIDs)

	// Periodic re-read catches active calls whose publishes this session
	// missed entirely, and drops banners for calls that died without a
	// final publish reaching us.
	refresh := time.NewTicker(constants.ActiveCallRefreshInterval)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-directEvents:
			o.handleDirect(ctx, event)
		case event := <-groupEvents:
			o.handleGroup(ctx, event)
		case <-refresh.C:
			o.seedBanners(ctx, groupIDs)
		}
	}
}

func (o *Orchestrator) seedBanners(ctx context.Context, groupIDs []string) {
	calls, err := o.group.ActiveCalls(ctx, groupIDs)
	if err != nil {
		logger.Warn("failed to seed active group calls", zap.Error(err))
		return
	}

	joined := o.group.Current()

	o.mu.Lock()
	had := len(o.banners)
	o.banners = make(map[uuid.UUID]Banner)
	for _, call := range calls {
		if call.StartedBy == o.self || o.group.Dismissed(call.ID) {
			continue
		}
		if joined != nil && joined.ID == call.ID {
			continue
		}
		o.banners[call.ID] = bannerFor(call)
	}
	now := len(o.banners)
	o.mu.Unlock()

	if had > 0 || now > 0 {
		o.publish(notify.Effect{})
	}
}

func (o *Orchestrator) handleDirect(ctx context.Context, event directcall.Event) {
	settings := o.currentSettings(ctx)

	if event.Kind == directcall.EventIncoming && event.Record.CallerDisplayName == "" {
		event.Record.CallerDisplayName = o.directory.DisplayName(ctx, event.Record.CallerAddress)
	}

	o.mu.Lock()
	switch event.Kind {
	case directcall.EventIncoming:
		record := event.Record
		o.incoming = &record
	case directcall.EventRingingCancelled, directcall.EventAutoRejected:
		if o.incoming != nil && o.incoming.ID == event.Record.ID {
			o.incoming = nil
		}
	case directcall.EventRemoteEnded, directcall.EventUnavailable:
		if o.incoming != nil && o.incoming.ID == event.Record.ID {
			o.incoming = nil
		}
	}
	o.mu.Unlock()

	// A peer-initiated teardown leaves the media session joined; reconcile
	// it here rather than in the coordinator so every leave goes through
	// one place.
	switch event.Kind {
	case directcall.EventRemoteEnded, directcall.EventUnavailable:
		o.session.Leave(ctx)
		o.direct.ClearRemoteHangup()
	}

	o.publish(notify.ForDirectEvent(event.Kind, event.Record, settings))
}

func (o *Orchestrator) handleGroup(ctx context.Context, event groupcall.Event) {
	settings := o.currentSettings(ctx)

	o.mu.Lock()
	if o.banners == nil {
		o.banners = make(map[uuid.UUID]Banner)
	}
	switch event.Kind {
	case groupcall.EventStarted, groupcall.EventUpdated:
		if current := o.group.Current(); current == nil || current.ID != event.Record.ID {
			o.banners[event.Record.ID] = bannerFor(&event.Record)
		}
	case groupcall.EventEnded:
		delete(o.banners, event.Record.ID)
	}
	o.mu.Unlock()

	if event.Kind == groupcall.EventEnded && o.group.Current() == nil {
		// Covers both the joined call ending remotely and a banner call
		// ending; leaving an idle session is a no-op.
		o.session.Leave(ctx)
	}

	o.publish(notify.ForGroupEvent(event.Kind, event.Record, settings))
}

// StartDirectCall places a 1:1 call and escalates to push when the
// callee has no live session.
func (o *Orchestrator) StartDirectCall(ctx context.Context, callee string, video bool) (*domain.DirectCall, error) {
	if !o.session.Configured() {
		return nil, apperrors.MediaNotConfiguredError()
	}

	record := o.direct.StartCall(ctx, callee, video)
	if record == nil {
		return nil, apperrors.CallBusyError()
	}

	o.escalateIfOffline(ctx, record)
	o.publish(notify.Effect{})
	return record, nil
}

// AcceptCall answers an incoming call by id and joins its media channel.
// video is the answerer's camera choice; the record itself carries no
// video flag.
func (o *Orchestrator) AcceptCall(ctx context.Context, callID uuid.UUID, video bool) (*domain.DirectCall, error) {
	record, err := o.records.GetDirectCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	channel := o.direct.Accept(ctx, record)
	if channel == "" {
		// Lost the race or line busy; the prompt just goes away.
		o.clearIncoming(callID)
		o.publish(notify.Effect{StopRing: true})
		return nil, nil
	}

	o.clearIncoming(callID)

	if !o.session.Join(ctx, channel, video) {
		o.publish(notify.ForDirectEvent(directcall.EventJoinFailed, *record, o.currentSettings(ctx)))
		return nil, apperrors.MediaJoinFailedError(nil)
	}

	o.publish(notify.Effect{StopRing: true})
	return record, nil
}

// RejectCall declines an incoming call by id.
func (o *Orchestrator) RejectCall(ctx context.Context, callID uuid.UUID) error {
	record, err := o.records.GetDirectCall(ctx, callID)
	if err != nil {
		if apperrors.IsCallNotFound(err) {
			o.clearIncoming(callID)
			o.publish(notify.Effect{StopRing: true})
			return nil
		}
		return err
	}

	o.direct.Reject(ctx, record)
	o.clearIncoming(callID)
	o.publish(notify.Effect{StopRing: true})
	return nil
}

// EndCall hangs the current 1:1 call up by id, leaving media first.
func (o *Orchestrator) EndCall(ctx context.Context, callID uuid.UUID) error {
	record, err := o.records.GetDirectCall(ctx, callID)
	if err != nil {
		if apperrors.IsCallNotFound(err) {
			return nil
		}
		return err
	}

	o.session.Leave(ctx)
	o.direct.End(ctx, record)
	o.publish(notify.Effect{StopRing: true})
	return nil
}

// StartGroupCall starts or joins the group's call.
func (o *Orchestrator) StartGroupCall(ctx context.Context, groupID, groupName string, video bool) (*domain.GroupCall, error) {
	if !o.session.Configured() {
		return nil, apperrors.MediaNotConfiguredError()
	}

	call := o.group.Start(ctx, groupID, groupName, video)
	if call == nil {
		return nil, apperrors.CallBusyError()
	}

	o.mu.Lock()
	delete(o.banners, call.ID)
	o.mu.Unlock()

	o.publish(notify.Effect{})
	return call, nil
}

// JoinGroupCall joins a known active group call from a banner. A nil
// record with a nil error means the banner was stale.
func (o *Orchestrator) JoinGroupCall(ctx context.Context, call *domain.GroupCall, video bool) (*domain.GroupCall, error) {
	if !o.session.Configured() {
		return nil, apperrors.MediaNotConfiguredError()
	}

	joined := o.group.Join(ctx, call, video)

	o.mu.Lock()
	delete(o.banners, call.ID)
	o.mu.Unlock()

	o.publish(notify.Effect{})
	return joined, nil
}

// LeaveGroupCall leaves the joined group call.
func (o *Orchestrator) LeaveGroupCall(ctx context.Context) {
	o.session.Leave(ctx)
	o.group.Leave(ctx)
	o.publish(notify.Effect{})
}

// DismissGroupCall hides a group call banner locally.
func (o *Orchestrator) DismissGroupCall(callID uuid.UUID) {
	o.group.Dismiss(callID)
	o.mu.Lock()
	delete(o.banners, callID)
	o.mu.Unlock()
	o.publish(notify.Effect{})
}

// ToggleMute flips the microphone and returns the new state.
func (o *Orchestrator) ToggleMute() bool {
	muted := o.session.ToggleMute()
	o.publish(notify.Effect{})
	return muted
}

// ToggleVideo flips the camera and returns the new state.
func (o *Orchestrator) ToggleVideo() bool {
	enabled := o.session.ToggleVideo()
	o.publish(notify.Effect{})
	return enabled
}

// ToggleScreenShare flips screen sharing and returns the new state.
func (o *Orchestrator) ToggleScreenShare() bool {
	sharing := o.session.ToggleScreenShare()
	o.publish(notify.Effect{})
	return sharing
}

// Snapshot renders the current call state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	incoming := o.incoming
	banners := make([]Banner, 0, len(o.banners))
	for _, banner := range o.banners {
		banners = append(banners, banner)
	}
	o.mu.Unlock()

	snap := Snapshot{
		Phase:         PhaseIdle,
		MediaState:    o.session.State(),
		Muted:         o.session.Muted(),
		VideoEnabled:  o.session.VideoEnabled(),
		ScreenSharing: o.session.ScreenSharing(),
		Incoming:      incoming,
		Banners:       banners,
	}

	if current := o.direct.Current(); current != nil {
		snap.Kind = "direct"
		snap.CallID = current.ID
		if current.CallerAddress == o.self {
			snap.PeerAddress = current.CalleeAddress
		} else {
			snap.PeerAddress = current.CallerAddress
			snap.PeerName = current.CallerDisplayName
		}
		switch {
		case o.session.State() == media.StateConnected && current.State == domain.CallStateAccepted:
			snap.Phase = PhaseConnected
		default:
			snap.Phase = PhaseDialing
		}
		return snap
	}

	if current := o.group.Current(); current != nil {
		snap.Kind = "group"
		snap.CallID = current.ID
		snap.GroupID = current.GroupID
		snap.GroupName = current.GroupName
		if o.session.State() == media.StateConnected {
			snap.Phase = PhaseConnected
		} else {
			snap.Phase = PhaseDialing
		}
		return snap
	}

	if incoming != nil {
		snap.Phase = PhaseIncoming
	}
	return snap
}

func (o *Orchestrator) clearIncoming(callID uuid.UUID) {
	o.mu.Lock()
	if o.incoming != nil && o.incoming.ID == callID {
		o.incoming = nil
	}
	o.mu.Unlock()
}

func (o *Orchestrator) currentSettings(ctx context.Context) domain.CallSettings {
	settings, err := o.settings.Get(ctx, o.self)
	if err != nil {
		logger.Warn("failed to read call settings", zap.Error(err))
	}
	return settings
}

// escalateIfOffline sends a push alert when the callee has no live
// session to ring on. Best-effort: a push failure never fails the call.
func (o *Orchestrator) escalateIfOffline(ctx context.Context, record *domain.DirectCall) {
	if o.presence == nil || o.pusher == nil {
		return
	}

	online, err := o.presence.IsOnline(ctx, record.CalleeAddress)
	if err != nil {
		logger.Warn("presence check failed",
			zap.String("callee", record.CalleeAddress),
			zap.Error(err))
		return
	}
	if online {
		return
	}

	data := map[string]string{
		"type":        "incoming_call",
		"call_id":     record.ID.String(),
		"caller":      record.CallerAddress,
		"caller_name": record.CallerDisplayName,
		"channel":     record.ChannelName,
	}
	if err := o.pusher.SendCallAlert(ctx, record.CalleeAddress, data); err != nil {
		logger.Warn("call push escalation failed",
			zap.String("callee", record.CalleeAddress),
			zap.Error(err))
	}
}

func (o *Orchestrator) publish(effect notify.Effect) {
	notice := Notice{Effect: effect, Snapshot: o.Snapshot()}
	select {
	case o.notices <- notice:
	default:
		logger.Warn("notice dropped, no consumer")
	}
}

func bannerFor(call *domain.GroupCall) Banner {
	return Banner{
		CallID:           call.ID,
		GroupID:          call.GroupID,
		GroupName:        call.GroupName,
		ParticipantCount: call.ParticipantCount,
	}
}
