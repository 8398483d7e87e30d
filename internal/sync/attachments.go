package sync

import (
	"context"

	"github.com/trackersync/trackersync/internal/types"
)

// syncAttachments transfers every source attachment not yet on the
// counterpart, at most once each. Per-attachment failures are recorded and
// the remaining attachments still run. Returns the source→counterpart
// attachment id map for media rewriting.
func (e *Engine) syncAttachments(ctx context.Context, origin types.Origin, issue *types.Issue, counterpartKey string, result *types.SyncResult) map[string]string {
	maxSize := e.CurrentLimits().MaxAttachmentSize
	idMap := make(map[string]string, len(issue.Attachments))
	for _, att := range issue.Attachments {
		if dstID, ok, _ := e.Mappings.AttachmentMapped(ctx, origin, att.ID); ok {
			idMap[att.ID] = dstID
			result.Record(types.CategoryAttachments, types.OutcomeSkip)
			continue
		}
		if att.Size > maxSize {
			result.Warnf("attachment %s (%d bytes) exceeds limit of %d bytes, skipped",
				att.Filename, att.Size, maxSize)
			result.Record(types.CategoryAttachments, types.OutcomeSkip)
			continue
		}

		var data []byte
		err := e.Retry.Do(ctx, func() error {
			var derr error
			data, derr = e.source(origin).DownloadAttachment(ctx, att.ID)
			return derr
		})
		if err != nil {
			result.Errorf("download attachment %s: %v", att.Filename, err)
			result.Record(types.CategoryAttachments, types.OutcomeFailure)
			continue
		}

		var uploaded *types.Attachment
		err = e.Retry.Do(ctx, func() error {
			var uerr error
			uploaded, uerr = e.target(origin).UploadAttachment(ctx, counterpartKey, att.Filename, data)
			return uerr
		})
		if err != nil {
			result.Errorf("upload attachment %s to %s: %v", att.Filename, counterpartKey, err)
			result.Record(types.CategoryAttachments, types.OutcomeFailure)
			continue
		}

		if err := e.Mappings.SetAttachmentMapping(ctx, origin, att.ID, uploaded.ID); err != nil {
			result.Warnf("persist attachment mapping %s->%s: %v", att.ID, uploaded.ID, err)
		}
		idMap[att.ID] = uploaded.ID
		result.Record(types.CategoryAttachments, types.OutcomeSuccess)
	}
	return idMap
}
