// Package mapping persists the durable associations the engine relies on:
// issue key pairs, attachment id pairs, link sync markers, deferred links,
// origin markers, and reconciliation statistics. Everything is stored
// through the storage.Store boundary under stable key prefixes.
package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trackersync/trackersync/internal/storage"
	"github.com/trackersync/trackersync/internal/types"
)

const (
	prefixIssueL2R    = "map:l2r:"
	prefixIssueR2L    = "map:r2l:"
	prefixAttachment  = "att:"
	prefixLink        = "link:"
	prefixOrigin      = "origin:"
	prefixCreatedAt   = "created:"
	keyPendingLinks   = "pending_links"
	keyReconcileStats = "stats:reconcile"

	linkSyncedMarker  = "synced"
	counterpartMarker = "counterpart"
)

// Store wraps a storage.Store with the mapping vocabulary.
type Store struct {
	kv storage.Store
}

// New creates a mapping store over kv.
func New(kv storage.Store) *Store {
	return &Store{kv: kv}
}

// SetIssueMapping records localKey↔remoteKey as two inverse entries.
// Mappings are never mutated afterwards; at most one counterpart per key.
func (s *Store) SetIssueMapping(ctx context.Context, localKey, remoteKey string) error {
	if err := s.kv.Set(ctx, prefixIssueL2R+localKey, remoteKey); err != nil {
		return fmt.Errorf("store issue mapping %s->%s: %w", localKey, remoteKey, err)
	}
	if err := s.kv.Set(ctx, prefixIssueR2L+remoteKey, localKey); err != nil {
		return fmt.Errorf("store issue mapping %s->%s: %w", remoteKey, localKey, err)
	}
	return nil
}

// CounterpartKey returns the counterpart issue key for an issue on the given
// side, or ok=false when no mapping exists.
func (s *Store) CounterpartKey(ctx context.Context, origin types.Origin, key string) (string, bool, error) {
	prefix := prefixIssueL2R
	if origin == types.OriginRemote {
		prefix = prefixIssueR2L
	}
	return s.kv.Get(ctx, prefix+key)
}

// SetAttachmentMapping records that a source attachment has been transferred.
func (s *Store) SetAttachmentMapping(ctx context.Context, origin types.Origin, srcID, dstID string) error {
	return s.kv.Set(ctx, attachmentKey(origin, srcID), dstID)
}

// AttachmentMapped reports whether a source attachment was already
// transferred, returning the counterpart attachment id.
func (s *Store) AttachmentMapped(ctx context.Context, origin types.Origin, srcID string) (string, bool, error) {
	return s.kv.Get(ctx, attachmentKey(origin, srcID))
}

func attachmentKey(origin types.Origin, id string) string {
	return fmt.Sprintf("%s%s:%s", prefixAttachment, origin, id)
}

// MarkLinkSynced records a link as transferred.
func (s *Store) MarkLinkSynced(ctx context.Context, origin types.Origin, linkID string) error {
	return s.kv.Set(ctx, linkKey(origin, linkID), linkSyncedMarker)
}

// LinkSynced reports whether a link was already transferred.
func (s *Store) LinkSynced(ctx context.Context, origin types.Origin, linkID string) (bool, error) {
	_, ok, err := s.kv.Get(ctx, linkKey(origin, linkID))
	return ok, err
}

func linkKey(origin types.Origin, id string) string {
	return fmt.Sprintf("%s%s:%s", prefixLink, origin, id)
}

// SetCommentSynced records a comment as copied to the counterpart.
func (s *Store) SetCommentSynced(ctx context.Context, origin types.Origin, commentID string) error {
	return s.kv.Set(ctx, fmt.Sprintf("comment:%s:%s", origin, commentID), linkSyncedMarker)
}

// CommentSynced reports whether a comment was already copied.
func (s *Store) CommentSynced(ctx context.Context, origin types.Origin, commentID string) (bool, error) {
	_, ok, err := s.kv.Get(ctx, fmt.Sprintf("comment:%s:%s", origin, commentID))
	return ok, err
}

// MarkCreatedByCounterpart flags an issue as having been created by the sync
// engine rather than a human. Permanent; locally observed events for such
// issues are always echoes.
func (s *Store) MarkCreatedByCounterpart(ctx context.Context, origin types.Origin, key string) error {
	return s.kv.Set(ctx, originKey(origin, key), counterpartMarker)
}

// CreatedByCounterpart reports whether the issue on the given side exists
// because the counterpart created it.
func (s *Store) CreatedByCounterpart(ctx context.Context, origin types.Origin, key string) (bool, error) {
	_, ok, err := s.kv.Get(ctx, originKey(origin, key))
	return ok, err
}

func originKey(origin types.Origin, key string) string {
	return fmt.Sprintf("%s%s:%s", prefixOrigin, origin, key)
}

// RecordCreatedAt stores the wall-clock moment a source issue create was
// first observed, for the create/update race guard.
func (s *Store) RecordCreatedAt(ctx context.Context, origin types.Origin, key string, at time.Time) error {
	return s.kv.Set(ctx, createdKey(origin, key), at.UTC().Format(time.RFC3339Nano))
}

// CreatedAt returns the recorded create timestamp, if any.
func (s *Store) CreatedAt(ctx context.Context, origin types.Origin, key string) (time.Time, bool, error) {
	raw, ok, err := s.kv.Get(ctx, createdKey(origin, key))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, perr := time.Parse(time.RFC3339Nano, raw)
	if perr != nil {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

func createdKey(origin types.Origin, key string) string {
	return fmt.Sprintf("%s%s:%s", prefixCreatedAt, origin, key)
}

// AddPendingLink appends a deferred link. Duplicate link ids collapse to the
// existing entry so reconciliation retries never multiply them.
func (s *Store) AddPendingLink(ctx context.Context, pl types.PendingLink) error {
	pending, err := s.PendingLinks(ctx)
	if err != nil {
		return err
	}
	for _, existing := range pending {
		if existing.Origin == pl.Origin && existing.LinkID == pl.LinkID {
			return nil
		}
	}
	return s.ReplacePendingLinks(ctx, append(pending, pl))
}

// PendingLinks returns all deferred links.
func (s *Store) PendingLinks(ctx context.Context) ([]types.PendingLink, error) {
	raw, ok, err := s.kv.Get(ctx, keyPendingLinks)
	if err != nil || !ok {
		return nil, err
	}
	var pending []types.PendingLink
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		return nil, fmt.Errorf("decode pending links: %w", err)
	}
	return pending, nil
}

// ReplacePendingLinks overwrites the deferred link list.
func (s *Store) ReplacePendingLinks(ctx context.Context, pending []types.PendingLink) error {
	if len(pending) == 0 {
		return s.kv.Delete(ctx, keyPendingLinks)
	}
	raw, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("encode pending links: %w", err)
	}
	return s.kv.Set(ctx, keyPendingLinks, string(raw))
}

// SaveReconcileStats persists the counters of the latest reconciliation run.
func (s *Store) SaveReconcileStats(ctx context.Context, stats types.ReconcileStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode reconcile stats: %w", err)
	}
	return s.kv.Set(ctx, keyReconcileStats, string(raw))
}

// ReconcileStats returns the persisted counters of the latest run.
func (s *Store) ReconcileStats(ctx context.Context) (types.ReconcileStats, error) {
	var stats types.ReconcileStats
	raw, ok, err := s.kv.Get(ctx, keyReconcileStats)
	if err != nil || !ok {
		return stats, err
	}
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return stats, fmt.Errorf("decode reconcile stats: %w", err)
	}
	return stats, nil
}
