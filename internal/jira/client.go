// Package jira is the typed REST client for one tracker instance. Both the
// local and remote side of a sync are instances of this client; the engine
// talks to them through the sync.Tracker interface.
package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trackersync/trackersync/internal/adf"
	"github.com/trackersync/trackersync/internal/types"
)

const searchFields = "summary,description,status,priority,issuetype,project,assignee,reporter,labels,parent,created,updated,attachment,issuelinks"

// Client provides HTTP access to one Jira instance.
type Client struct {
	name       string
	baseURL    string
	username   string
	apiToken   string
	httpClient *http.Client
}

// NewClient creates a client for the instance at baseURL. name identifies
// the side ("local" or "remote") in logs and errors.
func NewClient(name, baseURL, username, apiToken string) *Client {
	return &Client{
		name:     name,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		username: username,
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name identifies which side this client talks to.
func (c *Client) Name() string { return c.name }

// GetIssue fetches a single issue by key. Returns (nil, nil) on 404 so
// "not found" is a normal branch.
func (c *Client) GetIssue(ctx context.Context, key string) (*types.Issue, error) {
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s?fields=%s", c.baseURL, url.PathEscape(key), searchFields)
	body, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}
	var wi wireIssue
	if err := json.Unmarshal(body, &wi); err != nil {
		return nil, fmt.Errorf("parse issue %s: %w", key, err)
	}
	return c.toIssue(&wi)
}

// CreateIssue creates an issue from a fields payload and returns the full
// created issue. The create response only carries id and key.
func (c *Client) CreateIssue(ctx context.Context, fields map[string]any) (*types.Issue, error) {
	data, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return nil, fmt.Errorf("marshal create request: %w", err)
	}
	body, err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/rest/api/3/issue", data)
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	var created wireCreated
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("parse create response: %w", err)
	}
	issue, err := c.GetIssue(ctx, created.Key)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, fmt.Errorf("created issue %s not readable", created.Key)
	}
	return issue, nil
}

// UpdateIssue applies a fields payload to an existing issue. Explicit nil
// values in fields propagate as JSON nulls, clearing the field.
func (c *Client) UpdateIssue(ctx context.Context, key string, fields map[string]any) error {
	data, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return fmt.Errorf("marshal update request: %w", err)
	}
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s", c.baseURL, url.PathEscape(key))
	if _, err := c.doRequest(ctx, http.MethodPut, apiURL, data); err != nil {
		return fmt.Errorf("update issue %s: %w", key, err)
	}
	return nil
}

// DeleteIssue deletes an issue. A 404 is success: the issue is gone.
func (c *Client) DeleteIssue(ctx context.Context, key string) error {
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s", c.baseURL, url.PathEscape(key))
	if _, err := c.doRequest(ctx, http.MethodDelete, apiURL, nil); err != nil && !IsNotFound(err) {
		return fmt.Errorf("delete issue %s: %w", key, err)
	}
	return nil
}

// SearchIssues runs a JQL query, following pagination to completion.
func (c *Client) SearchIssues(ctx context.Context, jql string) ([]types.Issue, error) {
	var all []types.Issue
	startAt := 0
	for {
		params := url.Values{
			"jql":        {jql},
			"fields":     {searchFields},
			"startAt":    {fmt.Sprintf("%d", startAt)},
			"maxResults": {"100"},
		}
		body, err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/rest/api/3/search?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("search issues: %w", err)
		}
		var result wireSearchResult
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("parse search response: %w", err)
		}
		for i := range result.Issues {
			issue, err := c.toIssue(&result.Issues[i])
			if err != nil {
				return nil, err
			}
			all = append(all, *issue)
		}
		if startAt+len(result.Issues) >= result.Total || len(result.Issues) == 0 {
			break
		}
		startAt += len(result.Issues)
	}
	return all, nil
}

// ListTransitions returns the workflow transitions available on an issue.
func (c *Client) ListTransitions(ctx context.Context, key string) ([]types.Transition, error) {
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/transitions", c.baseURL, url.PathEscape(key))
	body, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("list transitions for %s: %w", key, err)
	}
	var wt wireTransitions
	if err := json.Unmarshal(body, &wt); err != nil {
		return nil, fmt.Errorf("parse transitions: %w", err)
	}
	out := make([]types.Transition, 0, len(wt.Transitions))
	for _, t := range wt.Transitions {
		out = append(out, types.Transition{
			ID:     t.ID,
			Name:   t.Name,
			ToID:   t.To.ID,
			ToName: t.To.Name,
		})
	}
	return out, nil
}

// DoTransition executes a workflow transition on an issue.
func (c *Client) DoTransition(ctx context.Context, key, transitionID string) error {
	data, err := json.Marshal(map[string]any{
		"transition": map[string]string{"id": transitionID},
	})
	if err != nil {
		return fmt.Errorf("marshal transition request: %w", err)
	}
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/transitions", c.baseURL, url.PathEscape(key))
	if _, err := c.doRequest(ctx, http.MethodPost, apiURL, data); err != nil {
		return fmt.Errorf("transition issue %s: %w", key, err)
	}
	return nil
}

// AddComment posts a document comment on an issue.
func (c *Client) AddComment(ctx context.Context, key string, doc *adf.Doc) error {
	data, err := json.Marshal(map[string]any{"body": doc})
	if err != nil {
		return fmt.Errorf("marshal comment request: %w", err)
	}
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/comment", c.baseURL, url.PathEscape(key))
	if _, err := c.doRequest(ctx, http.MethodPost, apiURL, data); err != nil {
		return fmt.Errorf("add comment on %s: %w", key, err)
	}
	return nil
}

// GetComments lists the comments on an issue.
func (c *Client) GetComments(ctx context.Context, key string) ([]types.Comment, error) {
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/comment", c.baseURL, url.PathEscape(key))
	body, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("get comments for %s: %w", key, err)
	}
	var wc wireComments
	if err := json.Unmarshal(body, &wc); err != nil {
		return nil, fmt.Errorf("parse comments: %w", err)
	}
	out := make([]types.Comment, 0, len(wc.Comments))
	for _, cm := range wc.Comments {
		created, _ := ParseTimestamp(cm.Created)
		comment := types.Comment{ID: cm.ID, Created: created}
		if cm.Author != nil {
			comment.AuthorID = cm.Author.AccountID
		}
		if len(cm.Body) > 0 && string(cm.Body) != "null" {
			var doc adf.Doc
			if err := json.Unmarshal(cm.Body, &doc); err == nil {
				comment.Body = &doc
			}
		}
		out = append(out, comment)
	}
	return out, nil
}

// DownloadAttachment fetches the binary content of an attachment.
func (c *Client) DownloadAttachment(ctx context.Context, id string) ([]byte, error) {
	apiURL := fmt.Sprintf("%s/rest/api/3/attachment/content/%s", c.baseURL, url.PathEscape(id))
	body, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("download attachment %s: %w", id, err)
	}
	return body, nil
}

// UploadAttachment uploads a binary as a multipart body and returns the
// created attachment.
func (c *Client) UploadAttachment(ctx context.Context, issueKey, filename string, data []byte) (*types.Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}

	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/attachments", c.baseURL, url.PathEscape(issueKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("create upload request: %w", err)
	}
	c.setAuth(req)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Atlassian-Token", "no-check")

	body, err := c.send(req)
	if err != nil {
		return nil, fmt.Errorf("upload attachment to %s: %w", issueKey, err)
	}
	// The attachments endpoint returns an array of created attachments.
	var created []wireAttachment
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("parse upload response: %w", err)
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("upload to %s returned no attachments", issueKey)
	}
	a := created[0]
	return &types.Attachment{ID: a.ID, Filename: a.Filename, MimeType: a.MimeType, Size: a.Size}, nil
}

// CreateLink creates a directional issue link.
func (c *Client) CreateLink(ctx context.Context, req types.LinkRequest) error {
	data, err := json.Marshal(map[string]any{
		"type":         map[string]string{"name": req.TypeName},
		"inwardIssue":  map[string]string{"key": req.InwardKey},
		"outwardIssue": map[string]string{"key": req.OutwardKey},
	})
	if err != nil {
		return fmt.Errorf("marshal link request: %w", err)
	}
	if _, err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/rest/api/3/issueLink", data); err != nil {
		return fmt.Errorf("create link %s->%s: %w", req.OutwardKey, req.InwardKey, err)
	}
	return nil
}

// toIssue converts a wire issue into the shared domain form.
func (c *Client) toIssue(wi *wireIssue) (*types.Issue, error) {
	var f wireFields
	if err := json.Unmarshal(wi.Fields, &f); err != nil {
		return nil, fmt.Errorf("parse fields of %s: %w", wi.Key, err)
	}

	issue := &types.Issue{
		ID:      wi.ID,
		Key:     wi.Key,
		Summary: f.Summary,
		Labels:  f.Labels,
		Custom:  customFieldsOf(wi.Fields),
	}
	if f.Status != nil {
		issue.StatusID = f.Status.ID
		issue.StatusName = f.Status.Name
	}
	if f.Priority != nil {
		issue.Priority = f.Priority.Name
	}
	if f.IssueType != nil {
		issue.IssueType = f.IssueType.Name
	}
	if f.Project != nil {
		issue.ProjectKey = f.Project.Key
	}
	if f.Assignee != nil {
		issue.AssigneeID = f.Assignee.AccountID
	}
	if f.Reporter != nil {
		issue.ReporterID = f.Reporter.AccountID
	}
	if f.Parent != nil {
		issue.ParentKey = f.Parent.Key
	}
	if len(f.Description) > 0 && string(f.Description) != "null" {
		var doc adf.Doc
		if err := json.Unmarshal(f.Description, &doc); err != nil {
			return nil, fmt.Errorf("parse description of %s: %w", wi.Key, err)
		}
		issue.Description = &doc
	}

	var err error
	if issue.Created, err = ParseTimestamp(f.Created); err != nil {
		return nil, fmt.Errorf("issue %s: %w", wi.Key, err)
	}
	if issue.Updated, err = ParseTimestamp(f.Updated); err != nil {
		return nil, fmt.Errorf("issue %s: %w", wi.Key, err)
	}

	for _, a := range f.Attachments {
		issue.Attachments = append(issue.Attachments, types.Attachment{
			ID: a.ID, Filename: a.Filename, MimeType: a.MimeType, Size: a.Size,
		})
	}
	for _, l := range f.IssueLinks {
		link := types.IssueLink{ID: l.ID, TypeName: l.Type.Name}
		switch {
		case l.OutwardIssue != nil:
			link.Direction = types.LinkOutward
			link.OtherKey = l.OutwardIssue.Key
		case l.InwardIssue != nil:
			link.Direction = types.LinkInward
			link.OtherKey = l.InwardIssue.Key
		default:
			continue // malformed link, neither end present
		}
		issue.Links = append(issue.Links, link)
	}
	return issue, nil
}

// doRequest executes an authenticated JSON request and returns the body.
func (c *Client) doRequest(ctx context.Context, method, apiURL string, body []byte) ([]byte, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("%s tracker URL not configured", c.name)
	}
	if c.apiToken == "" {
		return nil, fmt.Errorf("%s tracker API token not configured", c.name)
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setAuth(req)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "trackersync/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req)
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// setAuth picks basic auth for cloud (username+token) or bearer for server.
func (c *Client) setAuth(req *http.Request) {
	if c.username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(c.username + ":" + c.apiToken))
		req.Header.Set("Authorization", "Basic "+auth)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
}
