package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	gosync "sync"
	"testing"
	"time"

	"github.com/trackersync/trackersync/internal/bulk"
	"github.com/trackersync/trackersync/internal/guard"
	"github.com/trackersync/trackersync/internal/mapping"
	"github.com/trackersync/trackersync/internal/storage/memory"
	"github.com/trackersync/trackersync/internal/sync"
	"github.com/trackersync/trackersync/internal/translate"
	"github.com/trackersync/trackersync/internal/types"
)

func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()
	kv, err := memory.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kv.Close() })
	mappings := mapping.New(kv)
	engine := &sync.Engine{
		Mappings: mappings,
		Guard:    guard.New(kv, mappings, 30*time.Second, 10*time.Second),
		Tables:   &translate.Tables{User: translate.Table{}, Field: translate.Table{}, Status: translate.Table{}},
		Limits:   sync.Limits{MaxAttachmentSize: 1024, DefaultStatus: "To Do", MaxPendingLinkAttempts: 3},
	}
	s := &Server{
		Engine:   engine,
		Bulk:     &bulk.Runner{Engine: engine},
		Mappings: mappings,
		KV:       kv,
		Token:    "admin-token",
	}
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts, s
}

func do(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAuthRequired(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/api/config/options", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, ts.URL+"/api/config/options", "wrong", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token = %d, want 401", resp.StatusCode)
	}
	// Health stays open.
	resp = do(t, http.MethodGet, ts.URL+"/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d", resp.StatusCode)
	}
}

func TestEmptyTokenRejectsEverything(t *testing.T) {
	ts, s := newTestServer(t)
	s.Token = ""
	resp := do(t, http.MethodGet, ts.URL+"/api/config/options", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 when no token is configured", resp.StatusCode)
	}
}

func TestOptionsRoundTrip(t *testing.T) {
	ts, s := newTestServer(t)

	resp := do(t, http.MethodPut, ts.URL+"/api/config/options", "admin-token", Options{
		FlagTTL:           "90s",
		MaxAttachmentSize: 2048,
		DefaultStatus:     "Open",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put options = %d", resp.StatusCode)
	}
	if got := s.Engine.Guard.FlagTTL(); got != 90*time.Second {
		t.Fatalf("FlagTTL = %v", got)
	}
	if limits := s.Engine.CurrentLimits(); limits.MaxAttachmentSize != 2048 || limits.DefaultStatus != "Open" {
		t.Fatalf("limits = %+v", limits)
	}

	var got Options
	resp = do(t, http.MethodGet, ts.URL+"/api/config/options", "admin-token", nil)
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.FlagTTL != "1m30s" || got.DefaultStatus != "Open" {
		t.Fatalf("options = %+v", got)
	}
}

// Option writes share their locks with the sync paths that read the same
// knobs, so applying them mid-sync must be race-free.
func TestOptionsConcurrentWithSyncReads(t *testing.T) {
	ts, s := newTestServer(t)

	done := make(chan struct{})
	var wg gosync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx := context.Background()
		for {
			select {
			case <-done:
				return
			default:
			}
			s.Engine.Guard.MarkSyncing(ctx, "LOC-1")
			s.Engine.Guard.ShouldDropUpdate(ctx, types.OriginLocal, "LOC-1")
			_ = s.Engine.CurrentLimits().MaxAttachmentSize
		}
	}()

	for i := 0; i < 50; i++ {
		resp := do(t, http.MethodPut, ts.URL+"/api/config/options", "admin-token", Options{
			FlagTTL:           "45s",
			CreateRaceWindow:  "5s",
			MaxAttachmentSize: int64(1024 + i),
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("put options = %d", resp.StatusCode)
		}
	}
	close(done)
	wg.Wait()
}

func TestShutdownStopsListener(t *testing.T) {
	s := &Server{Addr: "127.0.0.1:0", Token: "x"}
	errc := make(chan error, 1)
	go func() { errc <- s.ListenAndServe() }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		started := s.srv != nil
		s.mu.Unlock()
		if started {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("listener never registered")
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("ListenAndServe after shutdown = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not return after shutdown")
	}
}

func TestOptionsRejectBadDuration(t *testing.T) {
	ts, s := newTestServer(t)
	before := s.Engine.Guard.FlagTTL()

	resp := do(t, http.MethodPut, ts.URL+"/api/config/options", "admin-token", Options{FlagTTL: "soon"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if s.Engine.Guard.FlagTTL() != before {
		t.Fatal("rejected option was still applied")
	}
}

func TestTranslationsRoundTrip(t *testing.T) {
	ts, s := newTestServer(t)

	table := translate.Table{"r-1": {LocalID: "l-1", RemoteName: "One"}}
	resp := do(t, http.MethodPut, ts.URL+"/api/translations/user", "admin-token", table)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put translations = %d", resp.StatusCode)
	}
	if got, ok := s.Engine.Tables.User.Inbound("r-1"); !ok || got != "l-1" {
		t.Fatalf("in-memory table not swapped: %q ok=%v", got, ok)
	}

	var got translate.Table
	resp = do(t, http.MethodGet, ts.URL+"/api/translations/user", "admin-token", nil)
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["r-1"].LocalID != "l-1" {
		t.Fatalf("table = %+v", got)
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/translations/bogus", "admin-token", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("bogus kind = %d, want 404", resp.StatusCode)
	}
}

func TestTranslationsRejectAmbiguousTable(t *testing.T) {
	ts, s := newTestServer(t)

	bad := translate.Table{"r-1": {LocalID: "dup"}, "r-2": {LocalID: "dup"}}
	resp := do(t, http.MethodPut, ts.URL+"/api/translations/status", "admin-token", bad)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if len(s.Engine.Tables.Status) != 0 {
		t.Fatal("invalid table was applied")
	}
}

func TestBulkStatusWithoutJob(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := do(t, http.MethodGet, ts.URL+"/api/bulk/status", "admin-token", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	resp = do(t, http.MethodPost, ts.URL+"/api/bulk/cancel", "admin-token", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("cancel = %d, want 409", resp.StatusCode)
	}
}

func TestBulkRequiresQuery(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := do(t, http.MethodPost, ts.URL+"/api/bulk", "admin-token", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStats(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := do(t, http.MethodGet, ts.URL+"/api/stats", "admin-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats = %d", resp.StatusCode)
	}
	var got map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if _, ok := got["reconcile"]; !ok {
		t.Fatalf("stats body = %v", got)
	}
}
