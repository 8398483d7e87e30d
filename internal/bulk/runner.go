// Package bulk runs operator-initiated migrations: sync every issue matching
// a query, as one cancellable background job.
package bulk

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/trackersync/trackersync/internal/debug"
	"github.com/trackersync/trackersync/internal/sync"
	"github.com/trackersync/trackersync/internal/types"
)

// ErrJobRunning is returned by Start while a previous job is still active.
// Bulk jobs hammer both APIs; one at a time is the point.
var ErrJobRunning = errors.New("a bulk job is already running")

// State is a bulk job's lifecycle phase.
type State string

const (
	StateRunning   State = "running"
	StateComplete  State = "complete"
	StateError     State = "error"
	StateCancelled State = "cancelled"
)

// Status is a point-in-time snapshot of a job, safe to hand to callers.
type Status struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Query     string    `json:"query"`
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Runner owns the single bulk-job slot.
type Runner struct {
	Engine *sync.Engine
	// Delay between issues, to stay under API rate limits.
	Delay time.Duration

	mu      gosync.Mutex
	current *Status
	cancel  context.CancelFunc
}

// Start launches a job syncing every local issue matching the JQL query.
// It returns the job id immediately; progress is polled via Status.
func (r *Runner) Start(query string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && r.current.State == StateRunning {
		return "", ErrJobRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	status := &Status{
		ID:        uuid.NewString(),
		State:     StateRunning,
		Query:     query,
		StartedAt: time.Now(),
	}
	r.current = status
	r.cancel = cancel

	go r.run(ctx, cancel, status)
	return status.ID, nil
}

// Cancel stops the running job, if any. Issues already synced stay synced.
func (r *Runner) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil || r.current.State != StateRunning {
		return false
	}
	r.cancel()
	return true
}

// Status returns a copy of the latest job's state, or false if no job has
// ever run.
func (r *Runner) Status() (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return Status{}, false
	}
	return *r.current, true
}

func (r *Runner) run(ctx context.Context, cancel context.CancelFunc, status *Status) {
	defer cancel()

	issues, err := r.Engine.Local.SearchIssues(ctx, status.Query)
	if err != nil {
		r.finish(status, StateError, fmt.Sprintf("search: %v", err))
		return
	}
	r.mu.Lock()
	status.Total = len(issues)
	r.mu.Unlock()

	for i := range issues {
		if ctx.Err() != nil {
			r.finish(status, StateCancelled, "")
			return
		}

		_, err := r.Engine.SyncIssue(ctx, types.OriginLocal, &issues[i], nil)

		r.mu.Lock()
		status.Processed++
		if err != nil {
			status.Failed++
			debug.Logf("bulk %s: sync %s: %v", status.ID, issues[i].Key, err)
		} else {
			status.Succeeded++
		}
		r.mu.Unlock()

		if r.Delay > 0 && i < len(issues)-1 {
			select {
			case <-ctx.Done():
				r.finish(status, StateCancelled, "")
				return
			case <-time.After(r.Delay):
			}
		}
	}
	r.finish(status, StateComplete, "")
}

func (r *Runner) finish(status *Status, state State, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status.State = state
	status.EndedAt = time.Now()
	status.Error = errMsg
	debug.Logf("bulk %s: %s (%d/%d, %d failed)", status.ID, state, status.Processed, status.Total, status.Failed)
}
