package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*Hub, *int) {
	t.Helper()

	built := 0
	factory := func(address, username string) *Orchestrator {
		built++
		return newHarness(t).orch
	}
	return NewHub(factory), &built
}

func TestAcquireReusesLiveSession(t *testing.T) {
	hub, built := newTestHub(t)

	first := hub.Acquire("alice", "Alice")
	second := hub.Acquire("alice", "Alice")

	assert.Same(t, first, second)
	assert.Equal(t, 1, *built)
	assert.Equal(t, 1, hub.Active())

	hub.Release("alice")
	hub.Release("alice")
	assert.Equal(t, 0, hub.Active())
}

func TestAcquireSeparatesUsers(t *testing.T) {
	hub, built := newTestHub(t)

	alice := hub.Acquire("alice", "Alice")
	bob := hub.Acquire("bob", "Bob")

	require.NotSame(t, alice, bob)
	assert.Equal(t, 2, *built)
	assert.Equal(t, 2, hub.Active())
}

func TestLastReleaseStopsSession(t *testing.T) {
	hub, built := newTestHub(t)

	hub.Acquire("alice", "Alice")
	hub.Release("alice")

	// A fresh acquire after teardown builds a new orchestrator.
	time.Sleep(10 * time.Millisecond)
	hub.Acquire("alice", "Alice")
	assert.Equal(t, 2, *built)
}

func TestReleaseUnknownAddressIsNoOp(t *testing.T) {
	hub, _ := newTestHub(t)
	hub.Release("nobody")
	assert.Equal(t, 0, hub.Active())
}
