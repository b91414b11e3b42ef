package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func setupTestPresence(t *testing.T) (PresenceCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisPresence(rdb), s
}

func TestAddAndListMembers(t *testing.T) {
	p, _ := setupTestPresence(t)
	ctx := context.Background()

	if err := p.AddMember(ctx, "doc-1", 1, "alice", 10*time.Minute); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := p.AddMember(ctx, "doc-1", 2, "bob", 10*time.Minute); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	// Re-adding refreshes, it must not duplicate.
	if err := p.AddMember(ctx, "doc-1", 1, "alice", 10*time.Minute); err != nil {
		t.Fatalf("AddMember refresh: %v", err)
	}

	members, err := p.AliveMembers(ctx, "doc-1")
	if err != nil {
		t.Fatalf("AliveMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d: %+v", len(members), members)
	}
	names := map[uint64]string{}
	for _, m := range members {
		names[m.UserID] = m.Username
	}
	if names[1] != "alice" || names[2] != "bob" {
		t.Fatalf("unexpected member names: %v", names)
	}
}

func TestRemoveMember(t *testing.T) {
	p, _ := setupTestPresence(t)
	ctx := context.Background()

	_ = p.AddMember(ctx, "doc-1", 1, "alice", 10*time.Minute)
	_ = p.AddMember(ctx, "doc-1", 2, "bob", 10*time.Minute)

	if err := p.RemoveMember(ctx, "doc-1", 1); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	members, err := p.AliveMembers(ctx, "doc-1")
	if err != nil {
		t.Fatalf("AliveMembers: %v", err)
	}
	if len(members) != 1 || members[0].UserID != 2 {
		t.Fatalf("expected only bob, got %+v", members)
	}
}

func TestExpiredMembersAreSwept(t *testing.T) {
	p, _ := setupTestPresence(t)
	ctx := context.Background()

	_ = p.AddMember(ctx, "doc-1", 1, "alice", -time.Minute) // already expired
	_ = p.AddMember(ctx, "doc-1", 2, "bob", 10*time.Minute)

	members, err := p.AliveMembers(ctx, "doc-1")
	if err != nil {
		t.Fatalf("AliveMembers: %v", err)
	}
	if len(members) != 1 || members[0].UserID != 2 {
		t.Fatalf("expected expired member swept, got %+v", members)
	}
}

func TestMembersAreScopedPerDocument(t *testing.T) {
	p, _ := setupTestPresence(t)
	ctx := context.Background()

	_ = p.AddMember(ctx, "doc-1", 1, "alice", 10*time.Minute)
	_ = p.AddMember(ctx, "doc-2", 2, "bob", 10*time.Minute)

	members, err := p.AliveMembers(ctx, "doc-1")
	if err != nil {
		t.Fatalf("AliveMembers: %v", err)
	}
	if len(members) != 1 || members[0].UserID != 1 {
		t.Fatalf("doc-1 must only see alice, got %+v", members)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	p, s := setupTestPresence(t)
	ctx := context.Background()

	payload := []byte(`{"anchor":3,"head":7}`)
	if err := p.SetCursor(ctx, "doc-1", 1, payload, time.Minute); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	got, err := p.GetCursor(ctx, "doc-1", 1)
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("expected %s, got %s", payload, got)
	}

	s.FastForward(2 * time.Minute)
	if _, err := p.GetCursor(ctx, "doc-1", 1); err == nil {
		t.Fatalf("expected cursor to expire")
	}
}
