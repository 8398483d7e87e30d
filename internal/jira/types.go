package jira

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Wire structs for the REST endpoints this client actually consumes.
// Unexpected shapes fail decoding loudly instead of being assumed away.

type wireIssue struct {
	ID  string `json:"id"`
	Key string `json:"key"`
	// Fields stays raw so typed fields and customfield_* values can be
	// decoded from the same payload.
	Fields json.RawMessage `json:"fields"`
}

type wireFields struct {
	Summary     string           `json:"summary"`
	Description json.RawMessage  `json:"description"`
	Status      *wireNamed       `json:"status"`
	Priority    *wireNamed       `json:"priority"`
	IssueType   *wireNamed       `json:"issuetype"`
	Project     *wireProject     `json:"project"`
	Assignee    *wireUser        `json:"assignee"`
	Reporter    *wireUser        `json:"reporter"`
	Labels      []string         `json:"labels"`
	Parent      *wireParent      `json:"parent"`
	Created     string           `json:"created"`
	Updated     string           `json:"updated"`
	Attachments []wireAttachment `json:"attachment"`
	IssueLinks  []wireIssueLink  `json:"issuelinks"`
}

type wireNamed struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type wireProject struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

type wireUser struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

type wireParent struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

type wireAttachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Content  string `json:"content"` // download URL
}

type wireIssueLink struct {
	ID   string `json:"id"`
	Type struct {
		Name    string `json:"name"`
		Inward  string `json:"inward"`
		Outward string `json:"outward"`
	} `json:"type"`
	InwardIssue  *wireLinkedIssue `json:"inwardIssue"`
	OutwardIssue *wireLinkedIssue `json:"outwardIssue"`
}

type wireLinkedIssue struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

type wireSearchResult struct {
	StartAt    int         `json:"startAt"`
	MaxResults int         `json:"maxResults"`
	Total      int         `json:"total"`
	Issues     []wireIssue `json:"issues"`
}

type wireTransitions struct {
	Transitions []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		To   struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"to"`
	} `json:"transitions"`
}

type wireComments struct {
	Comments []wireComment `json:"comments"`
}

type wireComment struct {
	ID      string          `json:"id"`
	Author  *wireUser       `json:"author"`
	Body    json.RawMessage `json:"body"`
	Created string          `json:"created"`
}

type wireCreated struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// timestampFormats are the layouts Jira emits, tried in order.
var timestampFormats = []string{
	"2006-01-02T15:04:05.000-0700",
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
}

// ParseTimestamp parses a Jira timestamp in any of its known layouts.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// customFieldsOf extracts customfield_* values from a raw fields object.
func customFieldsOf(rawFields json.RawMessage) map[string]any {
	if len(rawFields) == 0 {
		return nil
	}
	var all map[string]any
	if err := json.Unmarshal(rawFields, &all); err != nil {
		return nil
	}
	var custom map[string]any
	for k, v := range all {
		if strings.HasPrefix(k, "customfield_") && v != nil {
			if custom == nil {
				custom = make(map[string]any)
			}
			custom[k] = v
		}
	}
	return custom
}
