package directcall

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveChannelOrderIndependent(t *testing.T) {
	assert.Equal(t, DeriveChannel("alice", "bob"), DeriveChannel("bob", "alice"))
}

func TestDeriveChannelStable(t *testing.T) {
	first := DeriveChannel("alice", "bob")
	second := DeriveChannel("alice", "bob")
	assert.Equal(t, first, second)
}

func TestDeriveChannelDistinctPairs(t *testing.T) {
	assert.NotEqual(t, DeriveChannel("alice", "bob"), DeriveChannel("alice", "carol"))
	assert.NotEqual(t, DeriveChannel("alice", "bob"), DeriveChannel("alicebob", ""))
}

func TestDeriveChannelFormat(t *testing.T) {
	channel := DeriveChannel("alice", "bob")
	assert.True(t, strings.HasPrefix(channel, "dc-"))
	assert.Len(t, channel, len("dc-")+32)
}
