package sync

import (
	"context"
	"strings"

	"github.com/trackersync/trackersync/internal/types"
)

// transition moves the counterpart issue toward the source status. The
// destination is picked by case-insensitive name match first, then by
// consulting the status translation table; no match is a per-category
// failure, never fatal — fields and attachments have already been applied.
func (e *Engine) transition(ctx context.Context, origin types.Origin, counterpartKey, sourceStatus string, result *types.SyncResult) {
	transitions, err := e.target(origin).ListTransitions(ctx, counterpartKey)
	if err != nil {
		result.Errorf("list transitions for %s: %v", counterpartKey, err)
		result.Record(types.CategoryTransitions, types.OutcomeFailure)
		return
	}

	chosen := pickTransition(transitions, sourceStatus)
	if chosen == nil {
		if mapped, ok := e.translateID(origin, e.Tables.Status, sourceStatus); ok {
			chosen = pickTransition(transitions, mapped)
		}
	}
	if chosen == nil {
		result.Errorf("no transition on %s reaches status %q", counterpartKey, sourceStatus)
		result.Record(types.CategoryTransitions, types.OutcomeFailure)
		return
	}

	err = e.Retry.Do(ctx, func() error {
		return e.target(origin).DoTransition(ctx, counterpartKey, chosen.ID)
	})
	if err != nil {
		result.Errorf("transition %s to %q: %v", counterpartKey, chosen.ToName, err)
		result.Record(types.CategoryTransitions, types.OutcomeFailure)
		return
	}
	result.Record(types.CategoryTransitions, types.OutcomeSuccess)
}

// pickTransition matches a destination by name (case-insensitive) or id.
func pickTransition(transitions []types.Transition, status string) *types.Transition {
	for i := range transitions {
		t := &transitions[i]
		if strings.EqualFold(t.ToName, status) || t.ToID == status {
			return t
		}
	}
	return nil
}
