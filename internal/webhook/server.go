// Package webhook receives change notifications from both tracker instances
// and feeds them to the sync engine.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	gosync "sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/trackersync/trackersync/internal/debug"
	"github.com/trackersync/trackersync/internal/sync"
	"github.com/trackersync/trackersync/internal/types"
)

const maxBodySize = 1 << 20 // 1MB

// payload is the tracker's webhook body, reduced to the parts we read.
type payload struct {
	WebhookEvent string `json:"webhookEvent"`
	Issue        struct {
		Key string `json:"key"`
	} `json:"issue"`
	Comment struct {
		ID string `json:"id"`
	} `json:"comment"`
	Timestamp int64 `json:"timestamp"`
}

// Server is the webhook HTTP listener. Events are acknowledged immediately
// and synced in the background; the sending tracker only needs to know the
// notification was received.
type Server struct {
	Engine *sync.Engine
	Secret string
	Addr   string

	// SyncTimeout bounds one background sync. Zero means 5 minutes.
	SyncTimeout time.Duration

	// Handle is swapped out in tests; defaults to background engine dispatch.
	Handle func(ev types.ChangeEvent)

	mu   gosync.Mutex
	srv  *http.Server
	down bool
}

// Router builds the webhook mux.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/webhook", s.handleWebhook(types.OriginRemote))
	r.Post("/webhook/{origin}", func(w http.ResponseWriter, req *http.Request) {
		origin := types.Origin(chi.URLParam(req, "origin"))
		if origin != types.OriginLocal && origin != types.OriginRemote {
			writeError(w, http.StatusNotFound, "unknown origin")
			return
		}
		s.handleWebhook(origin)(w, req)
	})
	return r
}

// ListenAndServe runs the webhook listener until Shutdown is called or the
// server errors. A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		return nil
	}
	s.srv = srv
	s.mu.Unlock()
	debug.Logf("webhook: listening on %s", s.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the listener. Calling it before ListenAndServe
// prevents the listener from starting at all.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.down = true
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleWebhook(origin types.Origin) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		// The shared secret gates everything; mismatches are rejected before
		// the body is read. Constant-time compare keeps timing quiet.
		got := req.URL.Query().Get("secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.Secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid secret")
			return
		}

		body, err := io.ReadAll(io.LimitReader(req.Body, maxBodySize))
		if err != nil {
			writeError(w, http.StatusBadRequest, "read body")
			return
		}
		var p payload
		if err := json.Unmarshal(body, &p); err != nil {
			writeError(w, http.StatusBadRequest, "malformed payload")
			return
		}

		kind, ok := eventKind(p.WebhookEvent)
		if !ok {
			// Unhandled event types are acknowledged and ignored.
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		if p.Issue.Key == "" {
			writeError(w, http.StatusBadRequest, "missing issue key")
			return
		}

		ev := types.ChangeEvent{
			Origin:    origin,
			Kind:      kind,
			IssueKey:  p.Issue.Key,
			CommentID: p.Comment.ID,
			Timestamp: time.UnixMilli(p.Timestamp),
		}
		s.dispatch(ev)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

func (s *Server) dispatch(ev types.ChangeEvent) {
	if s.Handle != nil {
		s.Handle(ev)
		return
	}
	go func() {
		timeout := s.SyncTimeout
		if timeout == 0 {
			timeout = 5 * time.Minute
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := s.Engine.HandleEvent(ctx, ev); err != nil {
			debug.Logf("webhook: handle %s %s: %v", ev.Kind, ev.IssueKey, err)
		}
	}()
}

func eventKind(webhookEvent string) (types.EventKind, bool) {
	switch webhookEvent {
	case "jira:issue_created":
		return types.EventIssueCreated, true
	case "jira:issue_updated":
		return types.EventIssueUpdated, true
	case "jira:issue_deleted":
		return types.EventIssueDeleted, true
	case "comment_created":
		return types.EventCommentCreated, true
	}
	return "", false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Logf("webhook: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
