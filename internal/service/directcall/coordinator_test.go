package directcall

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/media"
	"callhub-backend/internal/signaling"
	apperrors "callhub-backend/pkg/errors"
)

type fakeTransport struct {
	mu      sync.Mutex
	joins   []string
	joinErr error
}

func (t *fakeTransport) Join(_ context.Context, channel string, _ bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.joinErr != nil {
		return t.joinErr
	}
	t.joins = append(t.joins, channel)
	return nil
}

func (t *fakeTransport) Leave(context.Context) error      { return nil }
func (t *fakeTransport) SetMuted(bool) error              { return nil }
func (t *fakeTransport) SetVideoEnabled(bool) error       { return nil }
func (t *fakeTransport) SetScreenShare(bool) error        { return nil }
func (t *fakeTransport) AttachLocalContainer(media.Container)  {}
func (t *fakeTransport) AttachRemoteContainer(media.Container) {}
func (t *fakeTransport) AttachScreenContainer(media.Container) {}

func (t *fakeTransport) joinCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.joins)
}

type fakeStore struct {
	mu      sync.Mutex
	calls   map[uuid.UUID]*domain.DirectCall
	streams []*signaling.Stream[domain.DirectCall]
	getErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{calls: make(map[uuid.UUID]*domain.DirectCall)}
}

func (f *fakeStore) CreateDirectCall(_ context.Context, call *domain.DirectCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *call
	f.calls[call.ID] = &copied
	return nil
}

func (f *fakeStore) GetDirectCall(_ context.Context, id uuid.UUID) (*domain.DirectCall, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	call, ok := f.calls[id]
	if !ok {
		return nil, apperrors.CallNotFoundError()
	}
	copied := *call
	return &copied, nil
}

func (f *fakeStore) TransitionDirectCall(_ context.Context, id uuid.UUID, from []domain.CallState, to domain.CallState) (*domain.DirectCall, bool, error) {
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

func (f *fakeStore) SubscribeDirect(context.Context, string) *signaling.Stream[domain.DirectCall] {
	stream := signaling.NewStream[domain.DirectCall](16)
	f.mu.Lock()
	f.streams = append(f.streams, stream)
	f.mu.Unlock()
	return stream
}

// deliver simulates a subscription delivery without touching store state.
func (f *fakeStore) deliver(call domain.DirectCall) {
	f.mu.Lock()
	streams := append([]*signaling.Stream[domain.DirectCall]{}, f.streams...)
	f.mu.Unlock()
	for _, stream := range streams {
		stream.Publish(call)
	}
}

func (f *fakeStore) state(id uuid.UUID) domain.CallState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if call, ok := f.calls[id]; ok {
		return call.State
	}
	return ""
}

type fakeSettings struct {
	settings domain.CallSettings
	err      error
}

func (f *fakeSettings) Get(context.Context, string) (domain.CallSettings, error) {
	return f.settings, f.err
}

func newTestCoordinator(t *testing.T, store *fakeStore, settings *fakeSettings, transport media.Transport, opts ...Option) (*Coordinator, *media.Line) {
	t.Helper()
	line := media.NewLine()
	session := media.NewSession(transport)
	opts = append([]Option{WithGracePeriod(10 * time.Millisecond)}, opts...)
	c := NewCoordinator(store, settings, session, line, "alice", "Alice", opts...)
	return c, line
}

func waitEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for call event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, events <-chan Event, within time.Duration) {
	t.Helper()
	select {
	case event := <-events:
		t.Fatalf("unexpected event %s for call %s", event.Kind, event.Record.ID)
	case <-time.After(within):
	}
}

func TestStartCallCreatesRingingRecord(t *testing.T) {
	store := newFakeStore()
	c, line := newTestCoordinator(t, store, &fakeSettings{}, &fakeTransport{})

	record := c.StartCall(context.Background(), "bob", false)
	require.NotNil(t, record)

	assert.Equal(t, domain.CallStateRinging, record.State)
	assert.Equal(t, "alice", record.CallerAddress)
	assert.Equal(t, "bob", record.CalleeAddress)
	assert.Equal(t, DeriveChannel("alice", "bob"), record.ChannelName)
	assert.Equal(t, "Alice", record.CallerDisplayName)
	assert.Equal(t, media.OwnerDirect, line.Holder())
	assert.Equal(t, domain.CallStateRinging, store.state(record.ID))
}

func TestStartCallRefusedWhileLineHeld(t *testing.T) {
	store := newFakeStore()
	c, line := newTestCoordinator(t, store, &fakeSettings{}, &fakeTransport{})
	require.True(t, line.Acquire(media.OwnerGroup))

	record := c.StartCall(context.Background(), "bob", false)
	assert.Nil(t, record)
	assert.Empty(t, store.calls)
}

func TestStartCallRefusedWithoutTransport(t *testing.T) {
	store := newFakeStore()
	c, line := newTestCoordinator(t, store, &fakeSettings{}, nil)

	record := c.StartCall(context.Background(), "bob", false)
	assert.Nil(t, record)
	assert.Equal(t, media.OwnerNone, line.Holder())
}

func TestStartCallRefusesSelfCall(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestCoordinator(t, store, &fakeSettings{}, &fakeTransport{})

	assert.Nil(t, c.StartCall(context.Background(), "alice", false))
	assert.Nil(t, c.StartCall(context.Background(), "", false))
}

func TestOutboundJoinsMediaAfterGrace(t *testing.T) {
	store := newFakeStore()
	transport := &fakeTransport{}
	c, _ := newTestCoordinator(t, store, &fakeSettings{}, transport)

	record := c.StartCall(context.Background(), "bob", false)
	require.NotNil(t, record)

	event := waitEvent(t, c.Events())
	assert.Equal(t, EventConnected, event.Kind)
	assert.Equal(t, 1, transport.joinCount())
	assert.Equal(t, record.ChannelName, transport.joins[0])
}

func TestEndDuringGracePreventsJoin(t *testing.T) {
	store := newFakeStore()
	transport := &fakeTransport{}
	line := media.NewLine()
	session := media.NewSession(transport)
	c := NewCoordinator(store, &fakeSettings{}, session, line, "alice", "Alice",
		WithGracePeriod(150*time.Millisecond))

	record := c.StartCall(context.Background(), "bob", false)
	require.NotNil(t, record)

	// Hang up well inside the grace window.
	assert.True(t, c.End(context.Background(), record))

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, transport.joinCount())
	assert.Equal(t, domain.CallStateEnded, store.state(record.ID))
	assert.Equal(t, media.OwnerNone, line.Holder())
	assert.False(t, c.Active())
}

func TestRejectLandingDuringGraceSkipsJoin(t *testing.T) {
	store := newFakeStore()
	transport := &fakeTransport{}
	line := media.NewLine()
	session := media.NewSession(transport)
	c := NewCoordinator(store, &fakeSettings{}, session, line, "alice", "Alice",
		WithGracePeriod(100*time.Millisecond))

	record := c.StartCall(context.Background(), "bob", false)
	require.NotNil(t, record)

	// The callee's side rejects before the grace wait expires.
	_, changed, err := store.TransitionDirectCall(context.Background(), record.ID,
		[]domain.CallState{domain.CallStateRinging}, domain.CallStateRejected)
	require.NoError(t, err)
	require.True(t, changed)

	event := waitEvent(t, c.Events())
	assert.Equal(t, EventUnavailable, event.Kind)
	assert.Equal(t, 0, transport.joinCount())
	assert.Equal(t, media.OwnerNone, line.Holder())
}

func TestMediaJoinFailureLeavesRecordIntact(t *testing.T) {
	store := newFakeStore()
	transport := &fakeTransport{joinErr: assert.AnError}
	c, _ := newTestCoordinator(t, store, &fakeSettings{}, transport)

	record := c.StartCall(context.Background(), "bob", false)
	require.NotNil(t, record)

	event := waitEvent(t, c.Events())
	assert.Equal(t, EventJoinFailed, event.Kind)
	// The record stays ringing: a local transport failure must not retract
	// the call out from under the callee.
	assert.Equal(t, domain.CallStateRinging, store.state(record.ID))
}

func TestIncomingRingingEmitsOnce(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestCoordinator(t, store, &fakeSettings{}, &fakeTransport{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := c.Observe(ctx)

	incoming := domain.DirectCall{
		ID:            uuid.New(),
		CallerAddress: "bob",
		CalleeAddress: "alice",
		ChannelName:   DeriveChannel("alice", "bob"),
		State:         domain.CallStateRinging,
		CreatedAt:     time.Now().UTC(),
	}
	store.deliver(incoming)
	store.deliver(incoming) // at-least-once redelivery

	event := waitEvent(t, events)
	assert.Equal(t, EventIncoming, event.Kind)
	assert.Equal(t, incoming.ID, event.Record.ID)

	assertNoEvent(t, events, 100*time.Millisecond)
}

func TestDNDAutoRejectsWithoutRinging(t *testing.T) {
	store := newFakeStore()
	settings := &fakeSettings{settings: domain.CallSettings{IsDND: true}}
	c, _ := newTestCoordinator(t, store, settings, &fakeTransport{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := c.Observe(ctx)

	incoming := domain.DirectCall{
		ID:            uuid.New(),
		CallerAddress: "bob",
		CalleeAddress: "alice",
		State:         domain.CallStateRinging,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.CreateDirectCall(ctx, &incoming))
	store.deliver(incoming)
	store.deliver(incoming)

	event := waitEvent(t, events)
	assert.Equal(t, EventAutoRejected, event.Kind)
	assert.Equal(t, domain.CallStateRejected, store.state(incoming.ID))

	// Redelivery must not re-fire the rejection.
	assertNoEvent(t, events, 100*time.Millisecond)
}

func TestAcceptReturnsChannel(t *testing.T) {
	store := newFakeStore()
	c, line := newTestCoordinator(t, store, &fakeSettings{}, &fakeTransport{})

	incoming := domain.DirectCall{
		ID:            uuid.New(),
		CallerAddress: "bob",
		CalleeAddress: "alice",
		ChannelName:   DeriveChannel("alice", "bob"),
		State:         domain.CallStateRinging,
	}
	require.NoError(t, store.CreateDirectCall(context.Background(), &incoming))

	channel := c.Accept(context.Background(), &incoming)
	assert.Equal(t, incoming.ChannelName, channel)
	assert.Equal(t, domain.CallStateAccepted, store.state(incoming.ID))
	assert.Equal(t, media.OwnerDirect, line.Holder())
	assert.True(t, c.Active())
}

func TestRedeliveredRingingAfterAcceptStaysSilent(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestCoordinator(t, store, &fakeSettings{}, &fakeTransport{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := c.Observe(ctx)

	incoming := domain.DirectCall{
		ID:            uuid.New(),
		CallerAddress: "bob",
		CalleeAddress: "alice",
		ChannelName:   DeriveChannel("alice", "bob"),
		State:         domain.CallStateRinging,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.CreateDirectCall(ctx, &incoming))
	store.deliver(incoming)
	require.Equal(t, EventIncoming, waitEvent(t, events).Kind)

	require.NotEmpty(t, c.Accept(ctx, &incoming))

	// A late redelivery of the original ringing publish must not re-prompt
	// for the call we are already in.
	store.deliver(incoming)
	assertNoEvent(t, events, 100*time.Millisecond)
}

func TestRedeliveredRingingAfterRejectStaysSilent(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestCoordinator(t, store, &fakeSettings{}, &fakeTransport{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := c.Observe(ctx)

	incoming := domain.DirectCall{
		ID:            uuid.New(),
		CallerAddress: "bob",
		CalleeAddress: "alice",
		State:         domain.CallStateRinging,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.CreateDirectCall(ctx, &incoming))
	store.deliver(incoming)
	require.Equal(t, EventIncoming, waitEvent(t, events).Kind)

	require.True(t, c.Reject(ctx, &incoming))

	store.deliver(incoming)
	assertNoEvent(t, events, 100*time.Millisecond)
}

func TestUnansweredIncomingRingsOut(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestCoordinator(t, store, &fakeSettings{}, &fakeTransport{},
		WithRingTimeout(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := c.Observe(ctx)

	incoming := domain.DirectCall{
		ID:            uuid.New(),
		CallerAddress: "bob",
		CalleeAddress: "alice",
		State:         domain.CallStateRinging,
		CreatedAt:     time.Now().UTC(),
	}
	store.deliver(incoming)
	require.Equal(t, EventIncoming, waitEvent(t, events).Kind)

	event := waitEvent(t, events)
	assert.Equal(t, EventRingingCancelled, event.Kind)
	assert.Equal(t, incoming.ID, event.Record.ID)

	// A stale redelivery after the ring-out must not re-prompt.
	store.deliver(incoming)
	assertNoEvent(t, events, 100*time.Millisecond)
}

func TestAnsweredCallDoesNotRingOut(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestCoordinator(t, store, &fakeSettings{}, &fakeTransport{},
		WithRingTimeout(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := c.Observe(ctx)

	incoming := domain.DirectCall{
		ID:            uuid.New(),
		CallerAddress: "bob",
		CalleeAddress: "alice",
		ChannelName:   DeriveChannel("alice", "bob"),
		State:         domain.CallStateRinging,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.CreateDirectCall(ctx, &incoming))
	store.deliver(incoming)
	require.Equal(t, EventIncoming, waitEvent(t, events).Kind)

	require.NotEmpty(t, c.Accept(ctx, &incoming))
	assertNoEvent(t, events, 200*time.Millisecond)
	assert.True(t, c.Active())
}

func TestTransientReadFailureStillJoins(t *testing.T) {
	store := newFakeStore()
	transport := &fakeTransport{}
	c, line := newTestCoordinator(t, store, &fakeSettings{}, transport)

	// Break the pre-join re-read only; record creation still works.
	store.mu.Lock()
	store.getErr = errors.New("connection reset by peer")
	store.mu.Unlock()

	record := c.StartCall(context.Background(), "bob", false)
	require.NotNil(t, record)

	event := waitEvent(t, c.Events())
	assert.Equal(t, EventConnected, event.Kind)
	assert.Equal(t, 1, transport.joinCount())
	assert.Equal(t, media.OwnerDirect, line.Holder())
}

func TestAcceptRaceLostIsSilent(t *testing.T) {
	store := newFakeStore()
	c, line := newTestCoordinator(t, store, &fakeSettings{}, &fakeTransport{})

	// The caller ended the call before we answered.
	incoming := domain.DirectCall{
		ID:            uuid.New(),
		CallerAddress: "bob",
		CalleeAddress: "alice",
		State:         domain.CallStateEnded,
	}
	require.NoError(t, store.CreateDirectCall(context.Background(), &incoming))

	channel := c.Accept(context.Background(), &incoming)
	assert.Empty(t, channel)
	assert.Equal(t, media.OwnerNone, line.Holder())
	assert.False(t, c.Active())
}

func TestAcceptOnVanishedRecordIsSilent(t *testing.T) {
	store := newFakeStore()
	c, line := newTestCoordinator(t, store, &fakeSettings{}, &fakeTransport{})

	ghost := domain.DirectCall{ID: uuid.New(), CallerAddress: "bob", CalleeAddress: "alice"}
	assert.Empty(t, c.Accept(context.Background(), &ghost))
	assert.Equal(t, media.OwnerNone, line.Holder())
}

func TestEndIsIdempotent(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestCoordinator(t, store, &fakeSettings{}, &fakeTransport{})

	record := c.StartCall(context.Background(), "bob", false)
	require.NotNil(t, record)

	assert.True(t, c.End(context.Background(), record))
	assert.True(t, c.End(context.Background(), record))
	assert.Equal(t, domain.CallStateEnded, store.state(record.ID))

	// Ending a record that no longer exists anywhere is still a success.
	ghost := domain.DirectCall{ID: uuid.New()}
	assert.True(t, c.End(context.Background(), &ghost))
}

func TestRejectAlreadyTerminalIsNoOp(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestCoordinator(t, store, &fakeSettings{}, &fakeTransport{})

	record := domain.DirectCall{
		ID:            uuid.New(),
		CallerAddress: "bob",
		CalleeAddress: "alice",
		State:         domain.CallStateEnded,
	}
	require.NoError(t, store.CreateDirectCall(context.Background(), &record))

	assert.True(t, c.Reject(context.Background(), &record))
	assert.Equal(t, domain.CallStateEnded, store.state(record.ID))
}

func TestRemoteHangupTearsDownAcceptedCall(t *testing.T) {
	store := newFakeStore()
	c, line := newTestCoordinator(t, store, &fakeSettings{}, &fakeTransport{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := c.Observe(ctx)

	incoming := domain.DirectCall{
		ID:            uuid.New(),
		CallerAddress: "bob",
		CalleeAddress: "alice",
		ChannelName:   DeriveChannel("alice", "bob"),
		State:         domain.CallStateRinging,
	}
	require.NoError(t, store.CreateDirectCall(ctx, &incoming))
	require.NotEmpty(t, c.Accept(ctx, &incoming))

	ended := incoming
	ended.State = domain.CallStateEnded
	store.deliver(ended)

	event := waitEvent(t, events)
	assert.Equal(t, EventRemoteEnded, event.Kind)
	assert.Equal(t, media.OwnerNone, line.Holder())
	assert.False(t, c.Active())

	require.NotNil(t, c.PendingRemoteHangup())
	c.ClearRemoteHangup()
	assert.Nil(t, c.PendingRemoteHangup())
}

func TestCallerCancelEmitsRingingCancelled(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestCoordinator(t, store, &fakeSettings{}, &fakeTransport{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := c.Observe(ctx)

	incoming := domain.DirectCall{
		ID:            uuid.New(),
		CallerAddress: "bob",
		CalleeAddress: "alice",
		State:         domain.CallStateRinging,
	}
	store.deliver(incoming)
	require.Equal(t, EventIncoming, waitEvent(t, events).Kind)

	ended := incoming
	ended.State = domain.CallStateEnded
	store.deliver(ended)
	assert.Equal(t, EventRingingCancelled, waitEvent(t, events).Kind)
}

func TestOutboundRemoteAccept(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestCoordinator(t, store, &fakeSettings{}, &fakeTransport{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := c.Observe(ctx)

	record := c.StartCall(ctx, "bob", false)
	require.NotNil(t, record)
	require.Equal(t, EventConnected, waitEvent(t, events).Kind)

	accepted := *record
	accepted.State = domain.CallStateAccepted
	store.deliver(accepted)

	assert.Equal(t, EventRemoteAccepted, waitEvent(t, events).Kind)
	current := c.Current()
	require.NotNil(t, current)
	assert.Equal(t, domain.CallStateAccepted, current.State)
}
