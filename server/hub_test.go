package server

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uaroundserver/chatcore/internal/protocol"
)

// A connection that never drains its buffer must be evicted without
// stalling the hub loop: registers and broadcasts keep flowing after
// the eviction.
func TestSlowClientEvictionKeepsHubResponsive(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	stuck := hub.NewClient(nil, "conn-stuck", "stuck", "stuck")
	hub.Register(stuck)
	hub.Join(stuck, "room")

	// Nobody reads stuck.send, so the 256-slot buffer fills and the
	// overflowing delivery triggers the eviction.
	for i := 0; i < 300; i++ {
		hub.BroadcastRoom("room", protocol.TypeTypingUpdate,
			protocol.TypingUpdate{UserID: fmt.Sprintf("u%d", i), IsTyping: true})
	}

	// The hub must still accept registrations.
	fresh := hub.NewClient(nil, "conn-fresh", "fresh", "fresh")
	registered := make(chan struct{})
	go func() {
		hub.Register(fresh)
		hub.Join(fresh, "quiet")
		close(registered)
	}()
	select {
	case <-registered:
	case <-time.After(3 * time.Second):
		t.Fatal("hub stopped accepting registrations after slow-client overflow")
	}

	// And still deliver. Broadcasts are processed in order, so once
	// this presence event arrives every earlier one has been handled
	// and the eviction has happened.
	hub.BroadcastRoom("quiet", protocol.TypePresence,
		protocol.PresenceUpdate{UserID: "fresh", Online: true})
	env := recv(t, fresh, protocol.TypePresence)
	require.Equal(t, protocol.TypePresence, env.Type)

	// The evicted client kept its 256 buffered events and its channel
	// was closed; nothing sent after the eviction reached it.
	drained := 0
drain:
	for {
		select {
		case _, ok := <-stuck.send:
			if !ok {
				break drain
			}
			drained++
		case <-time.After(3 * time.Second):
			t.Fatal("slow client was not evicted")
		}
	}
	assert.Equal(t, 256, drained)

	// Direct sends to the evicted client are no-ops, not panics.
	assert.NotPanics(t, func() {
		stuck.Send([]byte("late"))
		stuck.Ack(1, nil)
	})
}

func TestDoubleUnregisterIsHarmless(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := hub.NewClient(nil, "conn-1", "u1", "u1")
	hub.Register(client)
	hub.Join(client, "room")

	hub.Unregister(client)
	hub.Unregister(client)

	// The loop is still alive afterwards.
	other := hub.NewClient(nil, "conn-2", "u2", "u2")
	registered := make(chan struct{})
	go func() {
		hub.Register(other)
		close(registered)
	}()
	select {
	case <-registered:
	case <-time.After(3 * time.Second):
		t.Fatal("hub stopped after repeated unregister")
	}
}
