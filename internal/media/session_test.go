package media

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	joins   []string
	leaves  int
	joinErr error
	muteErr error
}

func (t *fakeTransport) Join(_ context.Context, channel string, _ bool) error {
	if t.joinErr != nil {
		return t.joinErr
	}
	t.joins = append(t.joins, channel)
	return nil
}

func (t *fakeTransport) Leave(context.Context) error {
	t.leaves++
	return nil
}

func (t *fakeTransport) SetMuted(bool) error        { return t.muteErr }
func (t *fakeTransport) SetVideoEnabled(bool) error { return nil }
func (t *fakeTransport) SetScreenShare(bool) error  { return nil }
func (t *fakeTransport) AttachLocalContainer(Container)  {}
func (t *fakeTransport) AttachRemoteContainer(Container) {}
func (t *fakeTransport) AttachScreenContainer(Container) {}

func TestJoinConnectsAndLeaveReturnsToIdle(t *testing.T) {
	transport := &fakeTransport{}
	session := NewSession(transport)
	ctx := context.Background()

	require.True(t, session.Join(ctx, "dc-abc", true))
	assert.Equal(t, StateConnected, session.State())
	assert.Equal(t, "dc-abc", session.Channel())
	assert.True(t, session.VideoEnabled())
	assert.True(t, session.Busy())

	session.Leave(ctx)
	assert.Equal(t, StateIdle, session.State())
	assert.Empty(t, session.Channel())
	assert.Equal(t, 1, transport.leaves)
}

func TestJoinRefusedWhileConnected(t *testing.T) {
	transport := &fakeTransport{}
	session := NewSession(transport)
	ctx := context.Background()

	require.True(t, session.Join(ctx, "dc-abc", false))
	assert.False(t, session.Join(ctx, "gc-other", false))
	assert.Equal(t, "dc-abc", session.Channel())
	assert.Len(t, transport.joins, 1)
}

func TestJoinWithoutTransportRefuses(t *testing.T) {
	session := NewSession(nil)

	assert.False(t, session.Configured())
	assert.False(t, session.Join(context.Background(), "dc-abc", false))
	assert.Equal(t, StateIdle, session.State())
}

func TestJoinFailureSurfacesError(t *testing.T) {
	transport := &fakeTransport{joinErr: errors.New("provider unreachable")}
	session := NewSession(transport)

	assert.False(t, session.Join(context.Background(), "dc-abc", false))
	assert.Equal(t, StateError, session.State())
	assert.Contains(t, session.LastError(), "provider unreachable")
	assert.False(t, session.Busy())
}

func TestLeaveClearsErrorState(t *testing.T) {
	transport := &fakeTransport{joinErr: errors.New("boom")}
	session := NewSession(transport)
	ctx := context.Background()

	session.Join(ctx, "dc-abc", false)
	require.Equal(t, StateError, session.State())

	session.Leave(ctx)
	assert.Equal(t, StateIdle, session.State())
	assert.Empty(t, session.LastError())

	// The transport was never joined, so nothing to leave.
	assert.Equal(t, 0, transport.leaves)
}

func TestLeaveIdleIsNoOp(t *testing.T) {
	transport := &fakeTransport{}
	session := NewSession(transport)

	session.Leave(context.Background())
	assert.Equal(t, 0, transport.leaves)
}

func TestTogglesFlipAndReportState(t *testing.T) {
	transport := &fakeTransport{}
	session := NewSession(transport)
	require.True(t, session.Join(context.Background(), "dc-abc", false))

	assert.True(t, session.ToggleMute())
	assert.False(t, session.ToggleMute())

	assert.True(t, session.ToggleVideo())
	assert.True(t, session.VideoEnabled())

	assert.True(t, session.ToggleScreenShare())
	assert.True(t, session.ScreenSharing())
}

func TestToggleMuteKeepsStateOnTransportError(t *testing.T) {
	transport := &fakeTransport{muteErr: errors.New("not connected")}
	session := NewSession(transport)

	assert.False(t, session.ToggleMute())
	assert.False(t, session.Muted())
}

func TestJoinResetsPerCallState(t *testing.T) {
	transport := &fakeTransport{}
	session := NewSession(transport)
	ctx := context.Background()

	require.True(t, session.Join(ctx, "dc-abc", false))
	session.ToggleMute()
	session.ToggleScreenShare()
	session.Leave(ctx)

	require.True(t, session.Join(ctx, "gc-xyz", false))
	assert.False(t, session.Muted())
	assert.False(t, session.ScreenSharing())
}

func TestLineSerializesOwnership(t *testing.T) {
	line := NewLine()

	require.True(t, line.Acquire(OwnerDirect))
	assert.False(t, line.Acquire(OwnerGroup))
	assert.False(t, line.Acquire(OwnerDirect))
	assert.Equal(t, OwnerDirect, line.Holder())

	// Releasing the wrong kind leaves the line held.
	line.Release(OwnerGroup)
	assert.Equal(t, OwnerDirect, line.Holder())

	line.Release(OwnerDirect)
	assert.Equal(t, OwnerNone, line.Holder())
	assert.True(t, line.Acquire(OwnerGroup))
}

func TestProviderTransportMintsChannelToken(t *testing.T) {
	transport := NewProviderTransport("rtc", "app-1", "secret")
	require.NotNil(t, transport)

	require.NoError(t, transport.Join(context.Background(), "dc-abc", false))
	appID, channel, token := transport.Credentials()
	assert.Equal(t, "app-1", appID)
	assert.Equal(t, "dc-abc", channel)
	assert.NotEmpty(t, token)

	require.NoError(t, transport.Leave(context.Background()))
	_, channel, token = transport.Credentials()
	assert.Empty(t, channel)
	assert.Empty(t, token)
}

func TestProviderTransportRequiresProvider(t *testing.T) {
	assert.Nil(t, NewProviderTransport("", "app", "key"))
}

func TestProviderTransportRejectsEmptyChannel(t *testing.T) {
	transport := NewProviderTransport("rtc", "app-1", "secret")
	assert.Error(t, transport.Join(context.Background(), "", false))
}
