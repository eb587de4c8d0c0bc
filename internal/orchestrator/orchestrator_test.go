package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/media"
	"callhub-backend/internal/service/directcall"
	"callhub-backend/internal/service/groupcall"
	"callhub-backend/internal/signaling"
	apperrors "callhub-backend/pkg/errors"
)

type fakeTransport struct{}

func (fakeTransport) Join(context.Context, string, bool) error { return nil }
func (fakeTransport) Leave(context.Context) error              { return nil }
func (fakeTransport) SetMuted(bool) error                      { return nil }
func (fakeTransport) SetVideoEnabled(bool) error               { return nil }
func (fakeTransport) SetScreenShare(bool) error                { return nil }
func (fakeTransport) AttachLocalContainer(media.Container)     {}
func (fakeTransport) AttachRemoteContainer(media.Container)    {}
func (fakeTransport) AttachScreenContainer(media.Container)    {}

type fakeDirectStore struct {
	mu      sync.Mutex
	calls   map[uuid.UUID]*domain.DirectCall
	streams []*signaling.Stream[domain.DirectCall]
}

func newFakeDirectStore() *fakeDirectStore {
	return &fakeDirectStore{calls: make(map[uuid.UUID]*domain.DirectCall)}
}

func (f *fakeDirectStore) CreateDirectCall(_ context.Context, call *domain.DirectCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *call
	f.calls[call.ID] = &copied
	return nil
}

func (f *fakeDirectStore) GetDirectCall(_ context.Context, id uuid.UUID) (*domain.DirectCall, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call, ok := f.calls[id]
	if !ok {
		return nil, apperrors.CallNotFoundError()
	}
	copied := *call
	return &copied, nil
}

func (f *fakeDirectStore) TransitionDirectCall(_ context.Context, id uuid.UUID, from []domain.CallState, to domain.CallState) (*domain.DirectCall, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call, ok := f.calls[id]
	if !ok {
		return nil, false, apperrors.CallNotFoundError()
	}
	for _, state := range from {
		if call.State == state {
			call.State = to
			copied := *call
			return &copied, true, nil
		}
	}
	copied := *call
	return &copied, false, nil
}

func (f *fakeDirectStore) SubscribeDirect(context.Context, string) *signaling.Stream[domain.DirectCall] {
	stream := signaling.NewStream[domain.DirectCall](16)
	f.mu.Lock()
	f.streams = append(f.streams, stream)
	f.mu.Unlock()
	return stream
}

func (f *fakeDirectStore) deliver(call domain.DirectCall) {
	f.mu.Lock()
	streams := append([]*signaling.Stream[domain.DirectCall]{}, f.streams...)
	f.mu.Unlock()
	for _, stream := range streams {
		stream.Publish(call)
	}
}

type fakeGroupStore struct {
	mu      sync.Mutex
	streams []*signaling.Stream[domain.GroupCall]
}

func (f *fakeGroupStore) CreateGroupCall(context.Context, *domain.GroupCall) error { return nil }
func (f *fakeGroupStore) GetGroupCall(context.Context, uuid.UUID) (*domain.GroupCall, error) {
	return nil, apperrors.CallNotFoundError()
}
func (f *fakeGroupStore) ActiveGroupCall(context.Context, string) (*domain.GroupCall, error) {
	return nil, apperrors.CallNotFoundError()
}
func (f *fakeGroupStore) ActiveGroupCalls(context.Context, []string) ([]*domain.GroupCall, error) {
	return nil, nil
}
func (f *fakeGroupStore) JoinGroupCall(_ context.Context, id uuid.UUID, _ string) (*domain.GroupCall, error) {
	return &domain.GroupCall{ID: id, State: domain.GroupCallActive, ParticipantCount: 1, ChannelName: "gc-test"}, nil
}
func (f *fakeGroupStore) LeaveGroupCall(context.Context, uuid.UUID, string) error { return nil }

func (f *fakeGroupStore) SubscribeGroups(context.Context, []string) *signaling.Stream[domain.GroupCall] {
	stream := signaling.NewStream[domain.GroupCall](16)
	f.mu.Lock()
	f.streams = append(f.streams, stream)
	f.mu.Unlock()
	return stream
}

func (f *fakeGroupStore) deliver(call domain.GroupCall) {
	f.mu.Lock()
	streams := append([]*signaling.Stream[domain.GroupCall]{}, f.streams...)
	f.mu.Unlock()
	for _, stream := range streams {
		stream.Publish(call)
	}
}

type fakeSettings struct {
	settings domain.CallSettings
}

func (f *fakeSettings) Get(context.Context, string) (domain.CallSettings, error) {
	return f.settings, nil
}

type fakePresence struct {
	online map[string]bool
}

func (f *fakePresence) IsOnline(_ context.Context, address string) (bool, error) {
	return f.online[address], nil
}

type fakePusher struct {
	mu    sync.Mutex
	sends []map[string]string
}

func (f *fakePusher) SendCallAlert(_ context.Context, _ string, data map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, data)
	return nil
}

func (f *fakePusher) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

type fakeDirectory struct {
	names  map[string]string
	groups []string
}

func (f *fakeDirectory) DisplayName(_ context.Context, address string) string {
	if name, ok := f.names[address]; ok {
		return name
	}
	return address
}

func (f *fakeDirectory) GroupIDs(context.Context) ([]string, error) {
	return f.groups, nil
}

type harness struct {
	orch     *Orchestrator
	direct   *fakeDirectStore
	group    *fakeGroupStore
	presence *fakePresence
	pusher   *fakePusher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	directStore := newFakeDirectStore()
	groupStore := &fakeGroupStore{}
	presence := &fakePresence{online: make(map[string]bool)}
	pusher := &fakePusher{}
	settings := &fakeSettings{settings: domain.CallSettings{SoundEnabled: true}}

	line := media.NewLine()
	session := media.NewSession(fakeTransport{})
	direct := directcall.NewCoordinator(directStore, settings, session, line, "alice", "Alice",
		directcall.WithGracePeriod(5*time.Millisecond))
	group := groupcall.NewCoordinator(groupStore, session, line, "alice")

	orch := New("alice", direct, group, session, settings, presence, pusher,
		&fakeDirectory{names: map[string]string{"bob": "Bob"}, groups: []string{"grp-1"}},
		directStore)

	return &harness{orch: orch, direct: directStore, group: groupStore, presence: presence, pusher: pusher}
}

func (h *harness) run(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = h.orch.Run(ctx)
	}()
	// Give the subscriptions a beat to attach.
	time.Sleep(20 * time.Millisecond)
	return cancel
}

func waitNotice(t *testing.T, h *harness, match func(Notice) bool) Notice {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case notice := <-h.orch.Notices():
			if match(notice) {
				return notice
			}
		case <-deadline:
			t.Fatal("timed out waiting for notice")
			return Notice{}
		}
	}
}

func TestStartDirectCallEscalatesToPushWhenCalleeOffline(t *testing.T) {
	h := newHarness(t)

	record, err := h.orch.StartDirectCall(context.Background(), "bob", false)
	require.NoError(t, err)
	require.NotNil(t, record)

	require.Equal(t, 1, h.pusher.sent())
	assert.Equal(t, "incoming_call", h.pusher.sends[0]["type"])
	assert.Equal(t, record.ID.String(), h.pusher.sends[0]["call_id"])
	assert.Equal(t, "Alice", h.pusher.sends[0]["caller_name"])
}

func TestStartDirectCallSkipsPushWhenCalleeOnline(t *testing.T) {
	h := newHarness(t)
	h.presence.online["bob"] = true

	_, err := h.orch.StartDirectCall(context.Background(), "bob", false)
	require.NoError(t, err)
	assert.Equal(t, 0, h.pusher.sent())
}

func TestStartDirectCallWhileBusyReturnsBusy(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.StartDirectCall(context.Background(), "bob", false)
	require.NoError(t, err)

	_, err = h.orch.StartDirectCall(context.Background(), "carol", false)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeCallBusy, apperrors.GetAppError(err).Code)
}

func TestIncomingCallRingsAndRendersSnapshot(t *testing.T) {
	h := newHarness(t)
	cancel := h.run(t)
	defer cancel()

	incoming := domain.DirectCall{
		ID:            uuid.New(),
		CallerAddress: "bob",
		CalleeAddress: "alice",
		ChannelName:   "dc-test",
		State:         domain.CallStateRinging,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, h.direct.CreateDirectCall(context.Background(), &incoming))
	h.direct.deliver(incoming)

	notice := waitNotice(t, h, func(n Notice) bool { return n.Effect.Ring })
	assert.True(t, notice.Effect.RingAudible)
	assert.Equal(t, PhaseIncoming, notice.Snapshot.Phase)
	require.NotNil(t, notice.Snapshot.Incoming)
	assert.Equal(t, "Bob", notice.Snapshot.Incoming.CallerDisplayName)
}

func TestAcceptCallConnects(t *testing.T) {
	h := newHarness(t)

	incoming := domain.DirectCall{
		ID:            uuid.New(),
		CallerAddress: "bob",
		CalleeAddress: "alice",
		ChannelName:   "dc-test",
		State:         domain.CallStateRinging,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, h.direct.CreateDirectCall(context.Background(), &incoming))

	record, err := h.orch.AcceptCall(context.Background(), incoming.ID, false)
	require.NoError(t, err)
	require.NotNil(t, record)

	snap := h.orch.Snapshot()
	assert.Equal(t, PhaseConnected, snap.Phase)
	assert.Equal(t, "direct", snap.Kind)
	assert.Equal(t, "bob", snap.PeerAddress)
	assert.False(t, snap.VideoEnabled)
}

func TestAcceptCallWithVideoJoinsWithCamera(t *testing.T) {
	h := newHarness(t)

	incoming := domain.DirectCall{
		ID:            uuid.New(),
		CallerAddress: "bob",
		CalleeAddress: "alice",
		ChannelName:   "dc-test",
		State:         domain.CallStateRinging,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, h.direct.CreateDirectCall(context.Background(), &incoming))

	record, err := h.orch.AcceptCall(context.Background(), incoming.ID, true)
	require.NoError(t, err)
	require.NotNil(t, record)

	snap := h.orch.Snapshot()
	assert.Equal(t, PhaseConnected, snap.Phase)
	assert.True(t, snap.VideoEnabled)
}

func TestAcceptCallRaceLostIsSilent(t *testing.T) {
	h := newHarness(t)

	// The caller already ended the call.
	incoming := domain.DirectCall{
		ID:            uuid.New(),
		CallerAddress: "bob",
		CalleeAddress: "alice",
		State:         domain.CallStateEnded,
	}
	require.NoError(t, h.direct.CreateDirectCall(context.Background(), &incoming))

	record, err := h.orch.AcceptCall(context.Background(), incoming.ID, false)
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Equal(t, PhaseIdle, h.orch.Snapshot().Phase)
}

func TestEndCallLeavesMediaAndEndsRecord(t *testing.T) {
	h := newHarness(t)

	record, err := h.orch.StartDirectCall(context.Background(), "bob", false)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond) // let the grace join finish

	require.NoError(t, h.orch.EndCall(context.Background(), record.ID))

	stored, err := h.direct.GetDirectCall(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStateEnded, stored.State)
	assert.Equal(t, PhaseIdle, h.orch.Snapshot().Phase)
	assert.Equal(t, media.StateIdle, h.orch.Snapshot().MediaState)
}

func TestGroupBannerLifecycle(t *testing.T) {
	h := newHarness(t)
	cancel := h.run(t)
	defer cancel()

	started := domain.GroupCall{
		ID:               uuid.New(),
		GroupID:          "grp-1",
		GroupName:        "Climbing Crew",
		StartedBy:        "bob",
		State:            domain.GroupCallActive,
		ParticipantCount: 1,
	}
	h.group.deliver(started)

	notice := waitNotice(t, h, func(n Notice) bool { return len(n.Snapshot.Banners) == 1 })
	assert.Equal(t, "Climbing Crew", notice.Snapshot.Banners[0].GroupName)

	h.orch.DismissGroupCall(started.ID)
	assert.Empty(t, h.orch.Snapshot().Banners)
}
