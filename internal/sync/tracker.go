package sync

import (
	"context"

	"github.com/trackersync/trackersync/internal/adf"
	"github.com/trackersync/trackersync/internal/types"
)

// Tracker is the REST surface the engine needs from one tracker instance.
// Both sides of a sync implement it; the production implementation is
// jira.Client.
type Tracker interface {
	// Name identifies the side ("local" or "remote").
	Name() string

	// GetIssue fetches one issue by key. Returns (nil, nil) when the issue
	// does not exist.
	GetIssue(ctx context.Context, key string) (*types.Issue, error)

	// CreateIssue creates an issue from a fields payload and returns the
	// created issue.
	CreateIssue(ctx context.Context, fields map[string]any) (*types.Issue, error)

	// UpdateIssue applies a fields payload. Explicit nil values clear the
	// field on the counterpart.
	UpdateIssue(ctx context.Context, key string, fields map[string]any) error

	// DeleteIssue deletes an issue; deleting an absent issue succeeds.
	DeleteIssue(ctx context.Context, key string) error

	// SearchIssues runs a query-language search, following pagination.
	SearchIssues(ctx context.Context, jql string) ([]types.Issue, error)

	// ListTransitions returns the workflow transitions available on an issue.
	ListTransitions(ctx context.Context, key string) ([]types.Transition, error)

	// DoTransition executes a workflow transition.
	DoTransition(ctx context.Context, key, transitionID string) error

	// AddComment posts a document comment.
	AddComment(ctx context.Context, key string, body *adf.Doc) error

	// GetComments lists the comments on an issue.
	GetComments(ctx context.Context, key string) ([]types.Comment, error)

	// DownloadAttachment fetches attachment content.
	DownloadAttachment(ctx context.Context, id string) ([]byte, error)

	// UploadAttachment uploads content as a multipart body.
	UploadAttachment(ctx context.Context, issueKey, filename string, data []byte) (*types.Attachment, error)

	// CreateLink creates a directional issue link.
	CreateLink(ctx context.Context, req types.LinkRequest) error
}
