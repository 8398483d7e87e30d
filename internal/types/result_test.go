package types

import "testing"

func TestSummary(t *testing.T) {
	tests := []struct {
		name  string
		build func() *SyncResult
		want  string
	}{
		{
			"clean create",
			func() *SyncResult {
				r := NewSyncResult("LOC-1")
				r.Action = "created"
				r.Record(CategoryIssue, OutcomeSuccess)
				return r
			},
			"success",
		},
		{
			"warnings alone stay success",
			func() *SyncResult {
				r := NewSyncResult("LOC-1")
				r.Action = "updated"
				r.Warnf("assignee unmapped")
				return r
			},
			"success",
		},
		{
			"sub-step failure after create is partial",
			func() *SyncResult {
				r := NewSyncResult("LOC-1")
				r.Action = "created"
				r.Record(CategoryIssue, OutcomeSuccess)
				r.Record(CategoryAttachments, OutcomeFailure)
				return r
			},
			"partial",
		},
		{
			"core failure",
			func() *SyncResult {
				r := NewSyncResult("LOC-1")
				r.Errorf("create failed")
				return r
			},
			"failure",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.build().Summary(); got != tt.want {
				t.Errorf("Summary = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOriginOpposite(t *testing.T) {
	if OriginLocal.Opposite() != OriginRemote || OriginRemote.Opposite() != OriginLocal {
		t.Fatal("Opposite is not an involution")
	}
}
