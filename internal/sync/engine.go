// Package sync implements the entity sync orchestrator: the state machine
// that turns one change event into a create or update on the counterpart
// tracker, with attachment, link, and status-transition sub-steps.
package sync

import (
	"context"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"github.com/trackersync/trackersync/internal/adf"
	"github.com/trackersync/trackersync/internal/debug"
	"github.com/trackersync/trackersync/internal/guard"
	"github.com/trackersync/trackersync/internal/mapping"
	"github.com/trackersync/trackersync/internal/retry"
	"github.com/trackersync/trackersync/internal/telemetry"
	"github.com/trackersync/trackersync/internal/translate"
	"github.com/trackersync/trackersync/internal/types"
)

// Limits holds the per-sync behavioral knobs.
type Limits struct {
	// MaxAttachmentSize is the largest attachment transferred, in bytes.
	// An attachment exactly at the limit syncs; one byte over is skipped.
	MaxAttachmentSize int64
	// DefaultStatus is the status new issues land in; a source issue in
	// any other status gets an initial transition after create.
	DefaultStatus string
	// MaxPendingLinkAttempts bounds pending-link retries before dropping.
	MaxPendingLinkAttempts int
}

// Engine orchestrates synchronization between the two tracker instances.
type Engine struct {
	Local  Tracker
	Remote Tracker

	Mappings *mapping.Store
	Guard    *guard.Guard
	Tables   *translate.Tables
	Retry    *retry.Executor

	// Limits holds the initial knobs. The admin API can replace them while
	// syncs are running, so sync paths read through CurrentLimits and
	// writers go through UpdateLimits.
	Limits   Limits
	limitsMu gosync.RWMutex

	// LocalProject and RemoteProject are the project keys issues are
	// created under on each side.
	LocalProject  string
	RemoteProject string

	// Callbacks for operator feedback (optional).
	OnMessage func(msg string)
	OnWarning func(msg string)
}

// CurrentLimits returns a consistent snapshot of the behavioral knobs.
func (e *Engine) CurrentLimits() Limits {
	e.limitsMu.RLock()
	defer e.limitsMu.RUnlock()
	return e.Limits
}

// UpdateLimits applies fn to the limits under the engine's lock.
func (e *Engine) UpdateLimits(fn func(*Limits)) {
	e.limitsMu.Lock()
	fn(&e.Limits)
	e.limitsMu.Unlock()
}

// source returns the tracker an event originated on.
func (e *Engine) source(origin types.Origin) Tracker {
	if origin == types.OriginLocal {
		return e.Local
	}
	return e.Remote
}

// target returns the counterpart tracker for an event origin.
func (e *Engine) target(origin types.Origin) Tracker {
	if origin == types.OriginLocal {
		return e.Remote
	}
	return e.Local
}

func (e *Engine) targetProject(origin types.Origin) string {
	if origin == types.OriginLocal {
		return e.RemoteProject
	}
	return e.LocalProject
}

// HandleEvent runs the loop guard over one change event and, if accepted,
// drives the create or update path against the counterpart.
func (e *Engine) HandleEvent(ctx context.Context, ev types.ChangeEvent) (*types.SyncResult, error) {
	result := types.NewSyncResult(ev.IssueKey)

	if e.Guard.IsSyncing(ctx, ev.IssueKey) {
		result.Action = "skipped"
		result.LoopPrevented = true
		telemetry.RecordLoopSkip(ctx, "sync_flag")
		e.msg("skipping %s: sync in flight", ev.IssueKey)
		return result, nil
	}
	if e.Guard.WasCreatedByCounterpart(ctx, ev.Origin, ev.IssueKey) {
		result.Action = "skipped"
		result.LoopPrevented = true
		telemetry.RecordLoopSkip(ctx, "origin_marker")
		e.msg("skipping %s: created by counterpart, event is an echo", ev.IssueKey)
		return result, nil
	}

	switch ev.Kind {
	case types.EventIssueDeleted:
		return e.handleDelete(ctx, ev, result)

	case types.EventIssueCreated:
		if err := e.Mappings.RecordCreatedAt(ctx, ev.Origin, ev.IssueKey, time.Now()); err != nil {
			debug.Logf("engine: record created-at for %s: %v", ev.IssueKey, err)
		}

	case types.EventIssueUpdated:
		if e.Guard.ShouldDropUpdate(ctx, ev.Origin, ev.IssueKey) {
			result.Action = "skipped"
			result.LoopPrevented = true
			telemetry.RecordLoopSkip(ctx, "create_race")
			e.msg("dropping update for %s: create still in flight", ev.IssueKey)
			return result, nil
		}

	case types.EventCommentCreated:
		return e.syncComment(ctx, ev, result)
	}

	issue, err := e.source(ev.Origin).GetIssue(ctx, ev.IssueKey)
	if err != nil {
		result.Errorf("fetch source issue: %v", err)
		return result, err
	}
	if issue == nil {
		result.Action = "skipped"
		result.Warnf("source issue %s no longer exists", ev.IssueKey)
		return result, nil
	}
	return e.SyncIssue(ctx, ev.Origin, issue, result)
}

// SyncIssue applies the create or update path for a source issue, keyed on
// whether a counterpart mapping already exists. Callers that do not come
// through HandleEvent (reconciler, bulk jobs, force sync) enter here.
func (e *Engine) SyncIssue(ctx context.Context, origin types.Origin, issue *types.Issue, result *types.SyncResult) (*types.SyncResult, error) {
	if result == nil {
		result = types.NewSyncResult(issue.Key)
	}

	counterpartKey, mapped, err := e.Mappings.CounterpartKey(ctx, origin, issue.Key)
	if err != nil {
		result.Errorf("mapping lookup: %v", err)
		return result, err
	}

	if mapped {
		err = e.updatePath(ctx, origin, issue, counterpartKey, result)
	} else {
		err = e.createPath(ctx, origin, issue, result)
	}

	telemetry.RecordSync(ctx, result.Action, result.Summary())
	e.msg("synced %s -> %s: %s (%s)", issue.Key, result.CounterpartKey, result.Action, result.Summary())
	return result, err
}

// handleDelete propagates a deletion. The issue mapping is retained so the
// pair can be recreated later; the origin marker stays to suppress the echo
// delete event from the counterpart.
func (e *Engine) handleDelete(ctx context.Context, ev types.ChangeEvent, result *types.SyncResult) (*types.SyncResult, error) {
	counterpartKey, mapped, err := e.Mappings.CounterpartKey(ctx, ev.Origin, ev.IssueKey)
	if err != nil {
		result.Errorf("mapping lookup: %v", err)
		return result, err
	}
	if !mapped {
		result.Action = "skipped"
		return result, nil
	}

	e.Guard.MarkSyncing(ctx, ev.IssueKey)
	e.Guard.MarkSyncing(ctx, counterpartKey)
	err = e.Retry.Do(ctx, func() error {
		return e.target(ev.Origin).DeleteIssue(ctx, counterpartKey)
	})
	if err != nil {
		result.Errorf("delete counterpart %s: %v", counterpartKey, err)
		return result, err
	}
	result.Action = "deleted"
	result.CounterpartKey = counterpartKey
	result.Record(types.CategoryIssue, types.OutcomeSuccess)
	return result, nil
}

// createPath builds a counterpart payload from the source record and
// creates it, then runs the post-create sub-steps.
func (e *Engine) createPath(ctx context.Context, origin types.Origin, issue *types.Issue, result *types.SyncResult) error {
	target := e.target(origin)
	fields := e.buildCreateFields(ctx, origin, issue, result)

	e.Guard.MarkSyncing(ctx, issue.Key)

	var created *types.Issue
	err := e.Retry.Do(ctx, func() error {
		var cerr error
		created, cerr = target.CreateIssue(ctx, fields)
		return cerr
	})
	if err != nil {
		result.Errorf("create counterpart for %s: %v", issue.Key, err)
		result.Record(types.CategoryIssue, types.OutcomeFailure)
		return err
	}

	result.Action = "created"
	result.CounterpartKey = created.Key
	result.Record(types.CategoryIssue, types.OutcomeSuccess)
	e.Guard.MarkSyncing(ctx, created.Key)

	// Persist the mapping and the permanent origin marker before any
	// sub-step, so a crash mid-sync never loses the association.
	if origin == types.OriginLocal {
		err = e.Mappings.SetIssueMapping(ctx, issue.Key, created.Key)
	} else {
		err = e.Mappings.SetIssueMapping(ctx, created.Key, issue.Key)
	}
	if err != nil {
		result.Errorf("persist mapping %s<->%s: %v", issue.Key, created.Key, err)
		return err
	}
	if err := e.Mappings.MarkCreatedByCounterpart(ctx, origin.Opposite(), created.Key); err != nil {
		result.Warnf("persist origin marker for %s: %v", created.Key, err)
	}

	// Non-default initial status is requested via a workflow transition.
	if !strings.EqualFold(issue.StatusName, e.CurrentLimits().DefaultStatus) {
		e.transition(ctx, origin, created.Key, issue.StatusName, result)
	}

	idMap := e.syncAttachments(ctx, origin, issue, created.Key, result)
	e.syncLinks(ctx, origin, issue, created.Key, result)

	// Documents with embedded media were degraded to plain text for the
	// create; re-issue them with corrected media ids now that the
	// attachments exist on the counterpart. Best effort.
	if issue.Description != nil && len(adf.MediaIDs(issue.Description)) > 0 {
		rewritten := adf.RewriteMedia(issue.Description, idMap)
		err := e.Retry.Do(ctx, func() error {
			return e.target(origin).UpdateIssue(ctx, created.Key, map[string]any{"description": rewritten})
		})
		if err != nil {
			result.Warnf("re-issue description with media for %s: %v (text-only content kept)", created.Key, err)
		}
	}
	return nil
}

// updatePath syncs sub-resources first (idempotent, safe before the field
// update), then scalar fields with explicit-null clears, then the status.
func (e *Engine) updatePath(ctx context.Context, origin types.Origin, issue *types.Issue, counterpartKey string, result *types.SyncResult) error {
	result.CounterpartKey = counterpartKey
	e.Guard.MarkSyncing(ctx, issue.Key)
	e.Guard.MarkSyncing(ctx, counterpartKey)

	e.syncAttachments(ctx, origin, issue, counterpartKey, result)
	e.syncLinks(ctx, origin, issue, counterpartKey, result)

	fields := e.buildUpdateFields(ctx, origin, issue, result)
	err := e.Retry.Do(ctx, func() error {
		return e.target(origin).UpdateIssue(ctx, counterpartKey, fields)
	})
	if err != nil {
		result.Errorf("update counterpart %s: %v", counterpartKey, err)
		result.Record(types.CategoryIssue, types.OutcomeFailure)
		return err
	}
	result.Action = "updated"
	result.Record(types.CategoryIssue, types.OutcomeSuccess)

	// Transition only when the counterpart's status actually differs.
	counterpart, err := e.target(origin).GetIssue(ctx, counterpartKey)
	if err != nil {
		result.Warnf("fetch counterpart %s for status compare: %v", counterpartKey, err)
		return nil
	}
	if counterpart != nil && !e.statusMatches(origin, issue.StatusName, counterpart.StatusName) {
		e.transition(ctx, origin, counterpartKey, issue.StatusName, result)
	}
	return nil
}

// syncComment copies one newly created comment to the counterpart, with the
// body degraded to plain paragraphs.
func (e *Engine) syncComment(ctx context.Context, ev types.ChangeEvent, result *types.SyncResult) (*types.SyncResult, error) {
	counterpartKey, mapped, err := e.Mappings.CounterpartKey(ctx, ev.Origin, ev.IssueKey)
	if err != nil {
		result.Errorf("mapping lookup: %v", err)
		return result, err
	}
	if !mapped {
		result.Action = "skipped"
		result.Warnf("no counterpart for %s yet, comment deferred to reconciliation", ev.IssueKey)
		return result, nil
	}

	synced, err := e.Mappings.CommentSynced(ctx, ev.Origin, ev.CommentID)
	if err == nil && synced {
		result.Action = "skipped"
		result.Record(types.CategoryComments, types.OutcomeSkip)
		return result, nil
	}

	comments, err := e.source(ev.Origin).GetComments(ctx, ev.IssueKey)
	if err != nil {
		result.Errorf("fetch comments for %s: %v", ev.IssueKey, err)
		return result, err
	}
	var found *types.Comment
	for i := range comments {
		if comments[i].ID == ev.CommentID {
			found = &comments[i]
			break
		}
	}
	if found == nil {
		result.Action = "skipped"
		result.Warnf("comment %s not found on %s", ev.CommentID, ev.IssueKey)
		return result, nil
	}

	body := adf.FromPlainText(adf.ToPlainText(found.Body))
	e.Guard.MarkSyncing(ctx, counterpartKey)
	err = e.Retry.Do(ctx, func() error {
		return e.target(ev.Origin).AddComment(ctx, counterpartKey, body)
	})
	if err != nil {
		result.Errorf("copy comment to %s: %v", counterpartKey, err)
		result.Record(types.CategoryComments, types.OutcomeFailure)
		return result, nil
	}
	if err := e.Mappings.SetCommentSynced(ctx, ev.Origin, ev.CommentID); err != nil {
		result.Warnf("persist comment marker: %v", err)
	}
	result.Action = "updated"
	result.CounterpartKey = counterpartKey
	result.Record(types.CategoryComments, types.OutcomeSuccess)
	return result, nil
}

func (e *Engine) msg(format string, args ...any) {
	debug.Logf("engine: "+format, args...)
	if e.OnMessage != nil {
		e.OnMessage(fmt.Sprintf(format, args...))
	}
}

func (e *Engine) warn(format string, args ...any) {
	debug.Logf("engine: warning: "+format, args...)
	if e.OnWarning != nil {
		e.OnWarning(fmt.Sprintf(format, args...))
	}
}
