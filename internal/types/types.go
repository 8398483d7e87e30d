// Package types defines the core domain model shared by every trackersync
// component: issues as seen through the tracker REST boundary, change events
// entering the engine, and the result aggregates produced by a sync attempt.
package types

import (
	"time"

	"github.com/trackersync/trackersync/internal/adf"
)

// Origin identifies which tracker instance a record or event belongs to.
type Origin string

const (
	// OriginLocal is the tracker instance that owns the configuration.
	OriginLocal Origin = "local"
	// OriginRemote is the counterpart tracker instance.
	OriginRemote Origin = "remote"
)

// Opposite returns the counterpart side.
func (o Origin) Opposite() Origin {
	if o == OriginLocal {
		return OriginRemote
	}
	return OriginLocal
}

// EventKind classifies an inbound change notification.
type EventKind string

const (
	EventIssueCreated   EventKind = "issue_created"
	EventIssueUpdated   EventKind = "issue_updated"
	EventIssueDeleted   EventKind = "issue_deleted"
	EventCommentCreated EventKind = "comment_created"
)

// ChangeEvent is one inbound change notification from either tracker.
type ChangeEvent struct {
	Origin    Origin    `json:"origin"`
	Kind      EventKind `json:"kind"`
	IssueKey  string    `json:"issue_key"`
	CommentID string    `json:"comment_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Issue is a tracker issue in the shape both sides share. Descriptions stay
// in document form until the engine decides what the counterpart needs.
type Issue struct {
	ID          string         `json:"id"`
	Key         string         `json:"key"`
	Summary     string         `json:"summary"`
	Description *adf.Doc       `json:"description,omitempty"`
	StatusID    string         `json:"status_id"`
	StatusName  string         `json:"status_name"`
	IssueType   string         `json:"issue_type"`
	Priority    string         `json:"priority,omitempty"`
	AssigneeID  string         `json:"assignee_id,omitempty"`
	ReporterID  string         `json:"reporter_id,omitempty"`
	Labels      []string       `json:"labels,omitempty"`
	ParentKey   string         `json:"parent_key,omitempty"`
	ProjectKey  string         `json:"project_key"`
	Custom      map[string]any `json:"custom,omitempty"`
	Created     time.Time      `json:"created"`
	Updated     time.Time      `json:"updated"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Links       []IssueLink    `json:"links,omitempty"`

	// AssigneeCleared and ParentCleared mark fields explicitly emptied at
	// the source, which must propagate as explicit nulls rather than be
	// omitted from the counterpart update.
	AssigneeCleared bool `json:"assignee_cleared,omitempty"`
	ParentCleared   bool `json:"parent_cleared,omitempty"`
}

// Attachment describes one binary attached to an issue.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// LinkDirection tells which end of a link the owning issue sits on.
type LinkDirection string

const (
	LinkOutward LinkDirection = "outward"
	LinkInward  LinkDirection = "inward"
)

// IssueLink is a relational link between two issues on the same side.
type IssueLink struct {
	ID        string        `json:"id"`
	TypeName  string        `json:"type_name"`
	Direction LinkDirection `json:"direction"`
	OtherKey  string        `json:"other_key"`
}

// LinkRequest is the directional payload for creating an issue link.
type LinkRequest struct {
	TypeName   string `json:"type_name"`
	InwardKey  string `json:"inward_key"`
	OutwardKey string `json:"outward_key"`
}

// Comment is a tracker comment.
type Comment struct {
	ID       string    `json:"id"`
	AuthorID string    `json:"author_id"`
	Body     *adf.Doc  `json:"body,omitempty"`
	Created  time.Time `json:"created"`
}

// Transition is one workflow transition available on an issue.
type Transition struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ToID     string `json:"to_id"`
	ToName   string `json:"to_name"`
	ToStatus string `json:"to_status,omitempty"`
}

// PendingLink is a relational link deferred because its target has no
// counterpart mapping yet. Retried by the reconciliation scanner and dropped
// once Attempts passes the configured ceiling.
type PendingLink struct {
	Origin         Origin        `json:"origin"`
	IssueKey       string        `json:"issue_key"`
	LinkID         string        `json:"link_id"`
	LinkedIssueKey string        `json:"linked_issue_key"`
	LinkType       string        `json:"link_type"`
	Direction      LinkDirection `json:"direction"`
	Attempts       int           `json:"attempts"`
}

// ReconcileStats are the persisted counters of one reconciliation pass.
type ReconcileStats struct {
	Checked  int       `json:"checked"`
	Created  int       `json:"created"`
	Updated  int       `json:"updated"`
	Skipped  int       `json:"skipped"`
	Errors   int       `json:"errors"`
	LastRun  time.Time `json:"last_run"`
	Duration string    `json:"duration,omitempty"`
}
