package types

import "fmt"

// Category names one sub-step of a sync attempt for result accounting.
type Category string

const (
	CategoryIssue       Category = "issue"
	CategoryAttachments Category = "attachments"
	CategoryLinks       Category = "links"
	CategoryTransitions Category = "transitions"
	CategoryComments    Category = "comments"
)

// Outcome is how a single sub-step item ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeSkip    Outcome = "skip"
)

// CategoryStats counts outcomes for one category.
type CategoryStats struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Skipped int `json:"skipped"`
}

// SyncResult aggregates one synchronization attempt. It is produced fresh
// per operation, logged, and discarded — never persisted.
type SyncResult struct {
	IssueKey       string                      `json:"issue_key"`
	CounterpartKey string                      `json:"counterpart_key,omitempty"`
	Action         string                      `json:"action"` // created | updated | skipped | deleted
	Categories     map[Category]*CategoryStats `json:"categories,omitempty"`
	Warnings       []string                    `json:"warnings,omitempty"`
	Errors         []string                    `json:"errors,omitempty"`
	LoopPrevented  bool                        `json:"loop_prevented,omitempty"`
}

// NewSyncResult returns an empty result for the given issue.
func NewSyncResult(issueKey string) *SyncResult {
	return &SyncResult{
		IssueKey:   issueKey,
		Categories: make(map[Category]*CategoryStats),
	}
}

// Record counts one outcome under the given category.
func (r *SyncResult) Record(cat Category, out Outcome) {
	s := r.Categories[cat]
	if s == nil {
		s = &CategoryStats{}
		r.Categories[cat] = s
	}
	switch out {
	case OutcomeSuccess:
		s.Success++
	case OutcomeFailure:
		s.Failure++
	case OutcomeSkip:
		s.Skipped++
	}
}

// Warnf records a non-fatal warning.
func (r *SyncResult) Warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Errorf records an error. Errors mark the attempt as failed or partial;
// warnings alone do not.
func (r *SyncResult) Errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Summary classifies the attempt: "success" when nothing failed, "partial"
// when sub-steps failed but the core operation applied, "failure" otherwise.
func (r *SyncResult) Summary() string {
	failed := len(r.Errors) > 0
	for _, s := range r.Categories {
		if s.Failure > 0 {
			failed = true
		}
	}
	if !failed {
		return "success"
	}
	if r.Action == "created" || r.Action == "updated" {
		return "partial"
	}
	return "failure"
}
