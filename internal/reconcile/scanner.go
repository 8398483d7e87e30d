// Package reconcile implements the scheduled safety net behind the webhook
// path: a periodic scan that re-syncs issues whose events were missed.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/trackersync/trackersync/internal/debug"
	"github.com/trackersync/trackersync/internal/mapping"
	"github.com/trackersync/trackersync/internal/sync"
	"github.com/trackersync/trackersync/internal/types"
)

// Scanner periodically sweeps the local tracker and drives the sync engine
// for every issue it finds. Webhook delivery is best effort; the scanner is
// what makes the two sides converge anyway.
type Scanner struct {
	Engine   *sync.Engine
	Mappings *mapping.Store

	// Interval between scans.
	Interval time.Duration
	// Projects restricts the scan; empty means the engine's local project.
	Projects []string
	// Window restricts the scan to issues updated recently; zero scans all.
	Window time.Duration
	// Delay is the pause between issues, to stay under API rate limits.
	Delay time.Duration

	OnMessage func(msg string)
}

// Run scans on every tick until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if stats, err := s.ScanOnce(ctx); err != nil {
				s.msg("reconcile pass failed: %v", err)
			} else {
				s.msg("reconcile pass: checked=%d created=%d updated=%d skipped=%d errors=%d",
					stats.Checked, stats.Created, stats.Updated, stats.Skipped, stats.Errors)
			}
		}
	}
}

// ScanOnce runs a single reconciliation pass and persists its counters.
func (s *Scanner) ScanOnce(ctx context.Context) (types.ReconcileStats, error) {
	started := time.Now()
	var stats types.ReconcileStats

	issues, err := s.Engine.Local.SearchIssues(ctx, s.query())
	if err != nil {
		return stats, fmt.Errorf("reconcile search: %w", err)
	}

	for i := range issues {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		issue := &issues[i]
		stats.Checked++

		// Issues we created ourselves are echoes of remote originals; their
		// changes flow through the remote side's own events.
		if created, _ := s.Mappings.CreatedByCounterpart(ctx, types.OriginLocal, issue.Key); created {
			stats.Skipped++
			continue
		}

		result, err := s.Engine.SyncIssue(ctx, types.OriginLocal, issue, nil)
		switch {
		case err != nil:
			stats.Errors++
			debug.Logf("reconcile: sync %s: %v", issue.Key, err)
		case result.Action == "created":
			stats.Created++
		case result.Action == "updated":
			stats.Updated++
		default:
			stats.Skipped++
		}

		if s.Delay > 0 && i < len(issues)-1 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(s.Delay):
			}
		}
	}

	// Each pass also re-drives links whose far end may have appeared since.
	if pl, err := s.Engine.RetryPendingLinks(ctx); err != nil {
		debug.Logf("reconcile: pending links: %v", err)
	} else if pl.Resolved > 0 || pl.Dropped > 0 {
		s.msg("pending links: resolved=%d remaining=%d dropped=%d", pl.Resolved, pl.Remaining, pl.Dropped)
	}

	stats.LastRun = started
	stats.Duration = time.Since(started).Round(time.Millisecond).String()
	if err := s.Mappings.SaveReconcileStats(ctx, stats); err != nil {
		debug.Logf("reconcile: persist stats: %v", err)
	}
	return stats, nil
}

// query builds the JQL for one pass from the project allow-list and the
// recency window.
func (s *Scanner) query() string {
	projects := s.Projects
	if len(projects) == 0 {
		projects = []string{s.Engine.LocalProject}
	}
	quoted := make([]string, len(projects))
	for i, p := range projects {
		quoted[i] = fmt.Sprintf("%q", p)
	}
	jql := fmt.Sprintf("project IN (%s)", strings.Join(quoted, ", "))
	if s.Window > 0 {
		jql += fmt.Sprintf(" AND updated >= -%dm", int(s.Window.Minutes()))
	}
	return jql + " ORDER BY updated DESC"
}

func (s *Scanner) msg(format string, args ...any) {
	debug.Logf("reconcile: "+format, args...)
	if s.OnMessage != nil {
		s.OnMessage(fmt.Sprintf(format, args...))
	}
}
