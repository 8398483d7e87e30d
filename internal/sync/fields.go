package sync

import (
	"context"
	"strings"

	"github.com/trackersync/trackersync/internal/adf"
	"github.com/trackersync/trackersync/internal/translate"
	"github.com/trackersync/trackersync/internal/types"
)

// translateID maps an identifier across the vocabulary boundary in the
// direction the event travels: events leaving the local side scan the
// forward table, events leaving the remote side use direct lookup.
func (e *Engine) translateID(origin types.Origin, table translate.Table, id string) (string, bool) {
	if origin == types.OriginLocal {
		return table.Outbound(id)
	}
	return table.Inbound(id)
}

// buildCreateFields assembles the counterpart create payload from the
// source record's scalars and translated vocabulary values.
func (e *Engine) buildCreateFields(ctx context.Context, origin types.Origin, issue *types.Issue, result *types.SyncResult) map[string]any {
	fields := map[string]any{
		"project": map[string]string{"key": e.targetProject(origin)},
		"summary": issue.Summary,
	}
	if issue.IssueType != "" {
		fields["issuetype"] = map[string]string{"name": issue.IssueType}
	}
	if issue.Priority != "" {
		fields["priority"] = map[string]string{"name": issue.Priority}
	}
	if len(issue.Labels) > 0 {
		fields["labels"] = issue.Labels
	}

	if issue.Description != nil {
		// Documents carrying media are degraded to plain text here; the
		// create path re-issues them once the counterpart attachment ids
		// exist. Media-free documents go through unchanged.
		if len(adf.MediaIDs(issue.Description)) > 0 {
			fields["description"] = adf.FromPlainText(adf.ToPlainText(issue.Description))
		} else {
			fields["description"] = issue.Description
		}
	}

	if issue.AssigneeID != "" {
		if mapped, ok := e.translateID(origin, e.Tables.User, issue.AssigneeID); ok {
			fields["assignee"] = map[string]string{"accountId": mapped}
		} else {
			result.Warnf("assignee %s has no translation, omitted", issue.AssigneeID)
		}
	}

	// Parents sync transitively but only one level deep per event: an
	// unmapped parent is simply omitted and picked up by reconciliation or
	// by the parent's own create event.
	if issue.ParentKey != "" {
		if parentKey, ok, _ := e.Mappings.CounterpartKey(ctx, origin, issue.ParentKey); ok {
			fields["parent"] = map[string]string{"key": parentKey}
		} else {
			result.Warnf("parent %s not mapped yet, omitted", issue.ParentKey)
		}
	}

	e.applyCustomFields(origin, issue, fields, result)
	return fields
}

// buildUpdateFields assembles the counterpart update payload, including
// explicit nulls for fields cleared at the source.
func (e *Engine) buildUpdateFields(ctx context.Context, origin types.Origin, issue *types.Issue, result *types.SyncResult) map[string]any {
	// Labels always ship so removals propagate; a nil slice would marshal
	// to JSON null, which the tracker rejects.
	labels := issue.Labels
	if labels == nil {
		labels = []string{}
	}
	fields := map[string]any{
		"summary": issue.Summary,
		"labels":  labels,
	}
	if issue.Priority != "" {
		fields["priority"] = map[string]string{"name": issue.Priority}
	}

	if issue.Description != nil {
		doc := issue.Description
		if ids := adf.MediaIDs(doc); len(ids) > 0 {
			idMap := make(map[string]string, len(ids))
			for _, id := range ids {
				if mapped, ok, _ := e.Mappings.AttachmentMapped(ctx, origin, id); ok {
					idMap[id] = mapped
				}
			}
			doc = adf.RewriteMedia(doc, idMap)
		}
		fields["description"] = doc
	}

	switch {
	case issue.AssigneeCleared:
		fields["assignee"] = nil // explicit clear, not omission
	case issue.AssigneeID != "":
		if mapped, ok := e.translateID(origin, e.Tables.User, issue.AssigneeID); ok {
			fields["assignee"] = map[string]string{"accountId": mapped}
		} else {
			result.Warnf("assignee %s has no translation, left unchanged", issue.AssigneeID)
		}
	}

	switch {
	case issue.ParentCleared:
		fields["parent"] = nil
	case issue.ParentKey != "":
		if parentKey, ok, _ := e.Mappings.CounterpartKey(ctx, origin, issue.ParentKey); ok {
			fields["parent"] = map[string]string{"key": parentKey}
		} else {
			result.Warnf("parent %s not mapped yet, left unchanged", issue.ParentKey)
		}
	}

	e.applyCustomFields(origin, issue, fields, result)
	return fields
}

// applyCustomFields translates custom field ids and normalizes their values.
func (e *Engine) applyCustomFields(origin types.Origin, issue *types.Issue, fields map[string]any, result *types.SyncResult) {
	for id, value := range issue.Custom {
		mapped, ok := e.translateID(origin, e.Tables.Field, id)
		if !ok {
			result.Warnf("field %s has no translation, omitted", id)
			continue
		}
		normalized, keep := translate.NormalizeFieldValue(value)
		if !keep {
			// Empty composite sequences trigger remote validation errors.
			continue
		}
		fields[mapped] = normalized
	}
}

// statusMatches reports whether the source status, seen through the status
// table, already equals the counterpart status.
func (e *Engine) statusMatches(origin types.Origin, sourceStatus, counterpartStatus string) bool {
	if strings.EqualFold(sourceStatus, counterpartStatus) {
		return true
	}
	if mapped, ok := e.translateID(origin, e.Tables.Status, sourceStatus); ok {
		return strings.EqualFold(mapped, counterpartStatus)
	}
	return false
}
