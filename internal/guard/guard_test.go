package guard

import (
	"context"
	"testing"
	"time"

	"github.com/trackersync/trackersync/internal/mapping"
	"github.com/trackersync/trackersync/internal/storage/memory"
	"github.com/trackersync/trackersync/internal/types"
)

func newTestGuard(t *testing.T) (*Guard, *mapping.Store) {
	t.Helper()
	kv, err := memory.New()
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	mappings := mapping.New(kv)
	return New(kv, mappings, 30*time.Second, 10*time.Second), mappings
}

func TestSyncFlagLifecycle(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGuard(t)

	if g.IsSyncing(ctx, "LOC-1") {
		t.Fatal("fresh key reported as syncing")
	}
	g.MarkSyncing(ctx, "LOC-1")
	if !g.IsSyncing(ctx, "LOC-1") {
		t.Fatal("flag not visible after MarkSyncing")
	}
	if g.IsSyncing(ctx, "LOC-2") {
		t.Fatal("flag leaked to another key")
	}
}

func TestSyncFlagExpires(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGuard(t)
	g.SetFlagTTL(10 * time.Millisecond)

	g.MarkSyncing(ctx, "LOC-1")
	deadline := time.Now().Add(2 * time.Second)
	for g.IsSyncing(ctx, "LOC-1") {
		if time.Now().After(deadline) {
			t.Fatal("flag did not expire")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWasCreatedByCounterpart(t *testing.T) {
	ctx := context.Background()
	g, mappings := newTestGuard(t)

	if g.WasCreatedByCounterpart(ctx, types.OriginRemote, "REM-1") {
		t.Fatal("unmarked issue reported as counterpart-created")
	}
	if err := mappings.MarkCreatedByCounterpart(ctx, types.OriginRemote, "REM-1"); err != nil {
		t.Fatal(err)
	}
	if !g.WasCreatedByCounterpart(ctx, types.OriginRemote, "REM-1") {
		t.Fatal("marker not visible")
	}
	// The marker is per-origin: the same key on the other side is clean.
	if g.WasCreatedByCounterpart(ctx, types.OriginLocal, "REM-1") {
		t.Fatal("marker leaked across origins")
	}
}

func TestShouldDropUpdate(t *testing.T) {
	ctx := context.Background()
	g, mappings := newTestGuard(t)

	// No recorded create: never dropped.
	if g.ShouldDropUpdate(ctx, types.OriginLocal, "LOC-1") {
		t.Fatal("dropped update with no recorded create")
	}

	// Recent create, no mapping yet: dropped.
	if err := mappings.RecordCreatedAt(ctx, types.OriginLocal, "LOC-1", time.Now()); err != nil {
		t.Fatal(err)
	}
	if !g.ShouldDropUpdate(ctx, types.OriginLocal, "LOC-1") {
		t.Fatal("update within race window not dropped")
	}

	// Mapping exists: the create path completed, updates flow normally.
	if err := mappings.SetIssueMapping(ctx, "LOC-1", "REM-1"); err != nil {
		t.Fatal(err)
	}
	if g.ShouldDropUpdate(ctx, types.OriginLocal, "LOC-1") {
		t.Fatal("dropped update for a mapped issue")
	}
}

func TestShouldDropUpdateWindowExpires(t *testing.T) {
	ctx := context.Background()
	g, mappings := newTestGuard(t)
	g.SetCreateRaceWindow(10 * time.Second)

	created := time.Now().Add(-time.Minute)
	if err := mappings.RecordCreatedAt(ctx, types.OriginLocal, "LOC-2", created); err != nil {
		t.Fatal(err)
	}
	if g.ShouldDropUpdate(ctx, types.OriginLocal, "LOC-2") {
		t.Fatal("dropped update outside the race window")
	}
}
