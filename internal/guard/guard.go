// Package guard suppresses feedback loops. Three independent signals gate
// every inbound change event: a TTL-bounded "currently syncing" flag, a
// permanent "created by the counterpart" marker, and a short race window
// that drops updates arriving on the heels of a still-unmapped create.
//
// Every check fails open toward "skip": a false positive only delays a
// sync, while a false negative costs at most one extra idempotent write.
package guard

import (
	"context"
	"sync"
	"time"

	"github.com/trackersync/trackersync/internal/debug"
	"github.com/trackersync/trackersync/internal/mapping"
	"github.com/trackersync/trackersync/internal/storage"
	"github.com/trackersync/trackersync/internal/types"
)

const flagPrefix = "syncing:"

// Guard evaluates loop-prevention signals. The TTL and race-window knobs
// are admin-tunable at runtime, so access goes through the mutex.
type Guard struct {
	kv       storage.Store
	mappings *mapping.Store

	mu         sync.RWMutex
	flagTTL    time.Duration
	raceWindow time.Duration

	now func() time.Time
}

// New builds a guard over the shared stores.
func New(kv storage.Store, mappings *mapping.Store, flagTTL, raceWindow time.Duration) *Guard {
	return &Guard{
		kv:         kv,
		mappings:   mappings,
		flagTTL:    flagTTL,
		raceWindow: raceWindow,
		now:        time.Now,
	}
}

// FlagTTL returns how long a sync-in-flight flag lives. Expiry relaxes the
// guard even if the write is still outstanding; that risk window is accepted
// and should be tuned against observed webhook latency.
func (g *Guard) FlagTTL() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.flagTTL
}

// SetFlagTTL replaces the sync-flag TTL for subsequent flags.
func (g *Guard) SetFlagTTL(d time.Duration) {
	g.mu.Lock()
	g.flagTTL = d
	g.mu.Unlock()
}

// CreateRaceWindow returns how long after a recorded create an update event
// for a still-unmapped issue is treated as superseded by the create.
func (g *Guard) CreateRaceWindow() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.raceWindow
}

// SetCreateRaceWindow replaces the race window.
func (g *Guard) SetCreateRaceWindow(d time.Duration) {
	g.mu.Lock()
	g.raceWindow = d
	g.mu.Unlock()
}

// MarkSyncing sets the in-flight flag for an issue before any remote write
// begins. The flag clears itself at TTL expiry; no explicit clear exists.
func (g *Guard) MarkSyncing(ctx context.Context, key string) {
	if err := g.kv.SetTTL(ctx, flagPrefix+key, "1", g.FlagTTL()); err != nil {
		debug.Logf("guard: failed to set sync flag for %s: %v", key, err)
	}
}

// IsSyncing reports whether a remote write for the issue is in flight.
func (g *Guard) IsSyncing(ctx context.Context, key string) bool {
	_, ok, err := g.kv.Get(ctx, flagPrefix+key)
	if err != nil {
		debug.Logf("guard: sync flag read failed for %s: %v", key, err)
		return false
	}
	return ok
}

// WasCreatedByCounterpart reports whether the issue exists because the
// counterpart created it. Events for such issues are always echoes.
func (g *Guard) WasCreatedByCounterpart(ctx context.Context, origin types.Origin, key string) bool {
	ok, err := g.mappings.CreatedByCounterpart(ctx, origin, key)
	if err != nil {
		debug.Logf("guard: origin marker read failed for %s: %v", key, err)
		return false
	}
	return ok
}

// ShouldDropUpdate reports whether a "just updated" event should be dropped
// because the recorded create is still in flight: the create timestamp is
// within the race window and no counterpart mapping exists yet, so the
// create will supersede the update.
func (g *Guard) ShouldDropUpdate(ctx context.Context, origin types.Origin, key string) bool {
	createdAt, ok, err := g.mappings.CreatedAt(ctx, origin, key)
	if err != nil || !ok {
		return false
	}
	if g.now().Sub(createdAt) > g.CreateRaceWindow() {
		return false
	}
	if _, mapped, err := g.mappings.CounterpartKey(ctx, origin, key); err != nil || mapped {
		return false
	}
	return true
}
