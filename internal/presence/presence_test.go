package presence

import (
	"fmt"
	"sync"
	"testing"
)

func TestOnlineTransitions(t *testing.T) {
	r := NewRegistry()

	if !r.Add("alice", "c1") {
		t.Error("first connection should report online transition")
	}
	if r.Add("alice", "c2") {
		t.Error("second connection should not report a transition")
	}
	if !r.Online("alice") {
		t.Error("alice should be online")
	}

	if r.Remove("alice", "c1") {
		t.Error("removing one of two connections should not report offline")
	}
	if !r.Remove("alice", "c2") {
		t.Error("removing the last connection should report offline")
	}
	if r.Online("alice") {
		t.Error("alice should be offline")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Add("alice", "c1")

	if !r.Remove("alice", "c1") {
		t.Error("first remove should report offline")
	}
	if r.Remove("alice", "c1") {
		t.Error("replayed remove should be a no-op")
	}
	if r.Remove("alice", "never-added") {
		t.Error("unknown connection should be a no-op")
	}
	if r.Remove("nobody", "c1") {
		t.Error("unknown user should be a no-op")
	}
}

func TestOnlineUsers(t *testing.T) {
	r := NewRegistry()
	r.Add("alice", "c1")
	r.Add("bob", "c2")
	r.Add("bob", "c3")

	users := r.OnlineUsers()
	if len(users) != 2 {
		t.Fatalf("OnlineUsers = %v, want 2 entries", users)
	}
	seen := map[string]bool{}
	for _, u := range users {
		seen[u] = true
	}
	if !seen["alice"] || !seen["bob"] {
		t.Errorf("OnlineUsers = %v", users)
	}
}

func TestConcurrentChurn(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			r.Add("alice", conn)
			r.Remove("alice", conn)
		}(i)
	}
	wg.Wait()

	if r.Online("alice") {
		t.Error("all connections closed, alice still online")
	}
	if len(r.OnlineUsers()) != 0 {
		t.Errorf("registry not empty: %v", r.OnlineUsers())
	}
}
