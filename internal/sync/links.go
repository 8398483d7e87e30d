package sync

import (
	"context"

	"github.com/trackersync/trackersync/internal/types"
)

// syncLinks mirrors the source issue's relational links. A link whose far
// end has no counterpart yet becomes a pending link — retried later, not a
// failure.
func (e *Engine) syncLinks(ctx context.Context, origin types.Origin, issue *types.Issue, counterpartKey string, result *types.SyncResult) {
	for _, link := range issue.Links {
		synced, err := e.Mappings.LinkSynced(ctx, origin, link.ID)
		if err == nil && synced {
			result.Record(types.CategoryLinks, types.OutcomeSkip)
			continue
		}

		otherKey, ok, _ := e.Mappings.CounterpartKey(ctx, origin, link.OtherKey)
		if !ok {
			if err := e.Mappings.AddPendingLink(ctx, types.PendingLink{
				Origin:         origin,
				IssueKey:       issue.Key,
				LinkID:         link.ID,
				LinkedIssueKey: link.OtherKey,
				LinkType:       link.TypeName,
				Direction:      link.Direction,
			}); err != nil {
				result.Warnf("record pending link %s: %v", link.ID, err)
			}
			result.Record(types.CategoryLinks, types.OutcomeSkip)
			e.msg("link %s -> %s deferred: target unmapped", issue.Key, link.OtherKey)
			continue
		}

		if err := e.createLink(ctx, origin, counterpartKey, otherKey, link.TypeName, link.Direction); err != nil {
			result.Errorf("create link %s <-> %s: %v", counterpartKey, otherKey, err)
			result.Record(types.CategoryLinks, types.OutcomeFailure)
			continue
		}
		if err := e.Mappings.MarkLinkSynced(ctx, origin, link.ID); err != nil {
			result.Warnf("persist link marker %s: %v", link.ID, err)
		}
		result.Record(types.CategoryLinks, types.OutcomeSuccess)
	}
}

// createLink issues the directional link-creation call on the counterpart.
func (e *Engine) createLink(ctx context.Context, origin types.Origin, issueKey, otherKey, typeName string, dir types.LinkDirection) error {
	req := types.LinkRequest{TypeName: typeName}
	if dir == types.LinkOutward {
		req.InwardKey = issueKey
		req.OutwardKey = otherKey
	} else {
		req.InwardKey = otherKey
		req.OutwardKey = issueKey
	}
	return e.Retry.Do(ctx, func() error {
		return e.target(origin).CreateLink(ctx, req)
	})
}

// PendingLinkStats summarize one pending-link retry pass.
type PendingLinkStats struct {
	Resolved  int `json:"resolved"`
	Remaining int `json:"remaining"`
	Dropped   int `json:"dropped"`
}

// RetryPendingLinks re-drives every deferred link whose far end has gained
// a mapping, bumps the attempt count on the rest, and drops links past the
// attempt ceiling.
func (e *Engine) RetryPendingLinks(ctx context.Context) (PendingLinkStats, error) {
	var stats PendingLinkStats
	pending, err := e.Mappings.PendingLinks(ctx)
	if err != nil {
		return stats, err
	}
	if len(pending) == 0 {
		return stats, nil
	}

	maxAttempts := e.CurrentLimits().MaxPendingLinkAttempts
	var remaining []types.PendingLink
	for _, pl := range pending {
		issueKey, issueMapped, _ := e.Mappings.CounterpartKey(ctx, pl.Origin, pl.IssueKey)
		otherKey, otherMapped, _ := e.Mappings.CounterpartKey(ctx, pl.Origin, pl.LinkedIssueKey)

		if issueMapped && otherMapped {
			if synced, _ := e.Mappings.LinkSynced(ctx, pl.Origin, pl.LinkID); synced {
				stats.Resolved++
				continue
			}
			if err := e.createLink(ctx, pl.Origin, issueKey, otherKey, pl.LinkType, pl.Direction); err == nil {
				_ = e.Mappings.MarkLinkSynced(ctx, pl.Origin, pl.LinkID)
				stats.Resolved++
				continue
			}
			e.warn("pending link %s retry failed", pl.LinkID)
		}

		pl.Attempts++
		if pl.Attempts >= maxAttempts {
			e.warn("dropping pending link %s after %d attempts", pl.LinkID, pl.Attempts)
			stats.Dropped++
			continue
		}
		remaining = append(remaining, pl)
	}

	stats.Remaining = len(remaining)
	if err := e.Mappings.ReplacePendingLinks(ctx, remaining); err != nil {
		return stats, err
	}
	return stats, nil
}
