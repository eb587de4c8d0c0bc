package directory

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callhub-backend/internal/domain"
	apperrors "callhub-backend/pkg/errors"
)

type fakeClient struct {
	friends    []*domain.Friend
	groups     []*domain.Group
	friendsErr error
	calls      int
}

func (f *fakeClient) Self() string { return "alice" }

func (f *fakeClient) SendMessage(context.Context, string, string) error      { return nil }
func (f *fakeClient) SendGroupMessage(context.Context, string, string) error { return nil }
func (f *fakeClient) CreateGroup(context.Context, string, []string) (string, error) {
	return "", nil
}
func (f *fakeClient) GroupMembers(context.Context, string) ([]string, error) { return nil, nil }
func (f *fakeClient) MarkRead(context.Context, string) error                 { return nil }

func (f *fakeClient) Friends(context.Context) ([]*domain.Friend, error) {
	f.calls++
	return f.friends, f.friendsErr
}

func (f *fakeClient) Groups(context.Context) ([]*domain.Group, error) {
	return f.groups, nil
}

type fakeSigner struct {
	signed []string
}

func (f *fakeSigner) PresignedGetObject(_ context.Context, bucket, object string, _ time.Duration, _ url.Values) (*url.URL, error) {
	f.signed = append(f.signed, object)
	return url.Parse("https://cdn.example.com/" + bucket + "/" + object + "?sig=abc")
}

func TestFriendLookup(t *testing.T) {
	client := &fakeClient{friends: []*domain.Friend{
		{Address: "bob", Username: "bob_w", Nickname: "Bob"},
		{Address: "carol", Username: "carol"},
	}}
	s := NewService(client, nil, nil, "")

	friend, err := s.Friend(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", friend.DisplayName())

	friend, err = s.Friend(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, "carol", friend.DisplayName())

	_, err = s.Friend(context.Background(), "mallory")
	assert.Equal(t, apperrors.ErrCodeUserNotFound, apperrors.GetAppError(err).Code)
}

func TestDisplayNameFallsBackToAddress(t *testing.T) {
	s := NewService(&fakeClient{}, nil, nil, "")
	assert.Equal(t, "mallory", s.DisplayName(context.Background(), "mallory"))
}

func TestFriendsClassifiesSubstrateErrors(t *testing.T) {
	client := &fakeClient{friendsErr: errors.New("dial tcp: connection refused")}
	s := NewService(client, nil, nil, "")

	_, err := s.Friends(context.Background())
	require.Error(t, err)
}

func TestAvatarPresigning(t *testing.T) {
	client := &fakeClient{friends: []*domain.Friend{
		{Address: "bob", Username: "bob_w", AvatarObject: "avatars/bob.png"},
		{Address: "carol", Username: "carol"},
	}}
	signer := &fakeSigner{}
	s := NewService(client, nil, signer, "media")

	friends, err := s.Friends(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"avatars/bob.png"}, signer.signed)
	assert.Contains(t, friends[0].AvatarURL, "avatars/bob.png")
	assert.Empty(t, friends[1].AvatarURL)
}

func TestGroupIDs(t *testing.T) {
	client := &fakeClient{groups: []*domain.Group{
		{ID: "grp-1", Name: "Climbing Crew"},
		{ID: "grp-2", Name: "Book Club"},
	}}
	s := NewService(client, nil, nil, "")

	ids, err := s.GroupIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"grp-1", "grp-2"}, ids)

	group, err := s.Group(context.Background(), "grp-2")
	require.NoError(t, err)
	assert.Equal(t, "Book Club", group.Name)

	_, err = s.Group(context.Background(), "grp-9")
	assert.Equal(t, apperrors.ErrCodeGroupNotFound, apperrors.GetAppError(err).Code)
}
