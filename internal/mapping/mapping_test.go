package mapping

import (
	"context"
	"testing"
	"time"

	"github.com/trackersync/trackersync/internal/storage/memory"
	"github.com/trackersync/trackersync/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	kv, err := memory.New()
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return New(kv)
}

func TestIssueMappingBothDirections(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SetIssueMapping(ctx, "LOC-1", "REM-9"); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.CounterpartKey(ctx, types.OriginLocal, "LOC-1")
	if err != nil || !ok || got != "REM-9" {
		t.Fatalf("local lookup = %q ok=%v err=%v", got, ok, err)
	}
	got, ok, err = s.CounterpartKey(ctx, types.OriginRemote, "REM-9")
	if err != nil || !ok || got != "LOC-1" {
		t.Fatalf("remote lookup = %q ok=%v err=%v", got, ok, err)
	}

	_, ok, _ = s.CounterpartKey(ctx, types.OriginLocal, "LOC-404")
	if ok {
		t.Fatal("unmapped key reported as mapped")
	}
}

func TestAttachmentAndLinkMarkersArePerOrigin(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SetAttachmentMapping(ctx, types.OriginLocal, "a1", "b1"); err != nil {
		t.Fatal(err)
	}
	if got, ok, _ := s.AttachmentMapped(ctx, types.OriginLocal, "a1"); !ok || got != "b1" {
		t.Fatalf("attachment = %q ok=%v", got, ok)
	}
	if _, ok, _ := s.AttachmentMapped(ctx, types.OriginRemote, "a1"); ok {
		t.Fatal("attachment marker leaked across origins")
	}

	if err := s.MarkLinkSynced(ctx, types.OriginRemote, "l1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.LinkSynced(ctx, types.OriginRemote, "l1"); !ok {
		t.Fatal("link marker not visible")
	}
	if ok, _ := s.LinkSynced(ctx, types.OriginLocal, "l1"); ok {
		t.Fatal("link marker leaked across origins")
	}
}

func TestCreatedAtRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	at := time.Now().Truncate(time.Second)
	if err := s.RecordCreatedAt(ctx, types.OriginLocal, "LOC-1", at); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.CreatedAt(ctx, types.OriginLocal, "LOC-1")
	if err != nil || !ok {
		t.Fatalf("CreatedAt: ok=%v err=%v", ok, err)
	}
	if !got.Equal(at) {
		t.Fatalf("created at = %v, want %v", got, at)
	}
}

func TestPendingLinksDedupAndReplace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	pl := types.PendingLink{
		Origin: types.OriginLocal, IssueKey: "LOC-1", LinkID: "l1",
		LinkedIssueKey: "LOC-2", LinkType: "Blocks", Direction: types.LinkOutward,
	}
	if err := s.AddPendingLink(ctx, pl); err != nil {
		t.Fatal(err)
	}
	// Same origin+link id again is a no-op.
	if err := s.AddPendingLink(ctx, pl); err != nil {
		t.Fatal(err)
	}
	pending, err := s.PendingLinks(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v err=%v, want one entry", pending, err)
	}

	// Same link id on the other origin is a distinct deferral.
	other := pl
	other.Origin = types.OriginRemote
	if err := s.AddPendingLink(ctx, other); err != nil {
		t.Fatal(err)
	}
	pending, _ = s.PendingLinks(ctx)
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}

	if err := s.ReplacePendingLinks(ctx, nil); err != nil {
		t.Fatal(err)
	}
	pending, err = s.PendingLinks(ctx)
	if err != nil || len(pending) != 0 {
		t.Fatalf("pending after clear = %v err=%v", pending, err)
	}
}

func TestReconcileStatsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Missing stats load as zero values, not an error.
	stats, err := s.ReconcileStats(ctx)
	if err != nil || stats.Checked != 0 {
		t.Fatalf("empty stats = %+v err=%v", stats, err)
	}

	want := types.ReconcileStats{Checked: 12, Created: 2, Updated: 5, Skipped: 5, LastRun: time.Now().UTC().Truncate(time.Second)}
	if err := s.SaveReconcileStats(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := s.ReconcileStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Checked != 12 || got.Created != 2 || got.Updated != 5 || !got.LastRun.Equal(want.LastRun) {
		t.Fatalf("stats = %+v, want %+v", got, want)
	}
}
