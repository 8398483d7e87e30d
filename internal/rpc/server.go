// Package rpc exposes the operator-facing admin HTTP API: runtime options,
// translation table management, forced syncs, bulk jobs, and stats.
package rpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	gosync "sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/trackersync/trackersync/internal/bulk"
	"github.com/trackersync/trackersync/internal/debug"
	"github.com/trackersync/trackersync/internal/mapping"
	"github.com/trackersync/trackersync/internal/storage"
	"github.com/trackersync/trackersync/internal/sync"
	"github.com/trackersync/trackersync/internal/translate"
	"github.com/trackersync/trackersync/internal/types"
)

const maxBodySize = 1 << 20

// Options is the runtime-tunable subset of engine behavior. Changes apply to
// the running process immediately; they do not rewrite the config file.
type Options struct {
	FlagTTL                string `json:"flag_ttl"`
	CreateRaceWindow       string `json:"create_race_window"`
	MaxAttachmentSize      int64  `json:"max_attachment_size"`
	MaxPendingLinkAttempts int    `json:"max_pending_link_attempts"`
	DefaultStatus          string `json:"default_status"`
}

// Server is the bearer-token admin listener.
type Server struct {
	Engine   *sync.Engine
	Bulk     *bulk.Runner
	Mappings *mapping.Store
	KV       storage.Store
	Token    string
	Addr     string

	mu   gosync.Mutex
	srv  *http.Server
	down bool
}

// Router builds the admin mux.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/api/config/options", s.getOptions)
		r.Put("/api/config/options", s.putOptions)
		r.Get("/api/translations/{kind}", s.getTranslations)
		r.Put("/api/translations/{kind}", s.putTranslations)
		r.Post("/api/sync/{key}", s.forceSync)
		r.Post("/api/bulk", s.startBulk)
		r.Get("/api/bulk/status", s.bulkStatus)
		r.Post("/api/bulk/cancel", s.cancelBulk)
		r.Post("/api/links/retry", s.retryLinks)
		r.Get("/api/stats", s.stats)
	})
	return r
}

// ListenAndServe runs the admin listener until Shutdown is called or the
// server errors. A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		return nil
	}
	s.srv = srv
	s.mu.Unlock()
	debug.Logf("rpc: admin listening on %s", s.Addr)
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

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		got := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		if s.Token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (s *Server) getOptions(w http.ResponseWriter, req *http.Request) {
	limits := s.Engine.CurrentLimits()
	writeJSON(w, http.StatusOK, Options{
		FlagTTL:                s.Engine.Guard.FlagTTL().String(),
		CreateRaceWindow:       s.Engine.Guard.CreateRaceWindow().String(),
		MaxAttachmentSize:      limits.MaxAttachmentSize,
		MaxPendingLinkAttempts: limits.MaxPendingLinkAttempts,
		DefaultStatus:          limits.DefaultStatus,
	})
}

// putOptions validates the whole payload before applying any of it, so a
// rejected request leaves the running options untouched. Applied changes go
// through the guard and engine setters; syncs read the same locks.
func (s *Server) putOptions(w http.ResponseWriter, req *http.Request) {
	var opts Options
	if !decodeBody(w, req, &opts) {
		return
	}
	var flagTTL, raceWindow time.Duration
	if opts.FlagTTL != "" {
		d, err := time.ParseDuration(opts.FlagTTL)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "flag_ttl must be a positive duration")
			return
		}
		flagTTL = d
	}
	if opts.CreateRaceWindow != "" {
		d, err := time.ParseDuration(opts.CreateRaceWindow)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "create_race_window must be a duration")
			return
		}
		raceWindow = d
	}
	if flagTTL > 0 {
		s.Engine.Guard.SetFlagTTL(flagTTL)
	}
	if opts.CreateRaceWindow != "" {
		s.Engine.Guard.SetCreateRaceWindow(raceWindow)
	}
	s.Engine.UpdateLimits(func(l *sync.Limits) {
		if opts.MaxAttachmentSize > 0 {
			l.MaxAttachmentSize = opts.MaxAttachmentSize
		}
		if opts.MaxPendingLinkAttempts > 0 {
			l.MaxPendingLinkAttempts = opts.MaxPendingLinkAttempts
		}
		if opts.DefaultStatus != "" {
			l.DefaultStatus = opts.DefaultStatus
		}
	})
	s.getOptions(w, req)
}

func parseKind(raw string) (translate.Kind, bool) {
	for _, k := range translate.Kinds {
		if string(k) == raw {
			return k, true
		}
	}
	return "", false
}

func (s *Server) getTranslations(w http.ResponseWriter, req *http.Request) {
	kind, ok := parseKind(chi.URLParam(req, "kind"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown table kind")
		return
	}
	writeJSON(w, http.StatusOK, s.Engine.Tables.Get(kind))
}

// putTranslations replaces a table wholesale. The payload is validated and
// persisted before the in-memory copy is swapped, so a rejected table never
// affects running syncs.
func (s *Server) putTranslations(w http.ResponseWriter, req *http.Request) {
	kind, ok := parseKind(chi.URLParam(req, "kind"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown table kind")
		return
	}
	var table translate.Table
	if !decodeBody(w, req, &table) {
		return
	}
	if err := translate.Save(req.Context(), s.KV, kind, table); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.Engine.Tables.Set(kind, table)
	writeJSON(w, http.StatusOK, table)
}

// forceSync runs a synchronous sync of one local issue, bypassing the loop
// guard's event gates (the operator asked for it explicitly).
func (s *Server) forceSync(w http.ResponseWriter, req *http.Request) {
	key := chi.URLParam(req, "key")
	issue, err := s.Engine.Local.GetIssue(req.Context(), key)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if issue == nil {
		writeError(w, http.StatusNotFound, "issue not found")
		return
	}
	result, err := s.Engine.SyncIssue(req.Context(), types.OriginLocal, issue, nil)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) startBulk(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Query string `json:"query"`
	}
	if !decodeBody(w, req, &body) {
		return
	}
	if body.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	id, err := s.Bulk.Start(body.Query)
	if err != nil {
		if errors.Is(err, bulk.ErrJobRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) bulkStatus(w http.ResponseWriter, req *http.Request) {
	status, ok := s.Bulk.Status()
	if !ok {
		writeError(w, http.StatusNotFound, "no bulk job has run")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) cancelBulk(w http.ResponseWriter, req *http.Request) {
	if !s.Bulk.Cancel() {
		writeError(w, http.StatusConflict, "no bulk job is running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) retryLinks(w http.ResponseWriter, req *http.Request) {
	stats, err := s.Engine.RetryPendingLinks(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) stats(w http.ResponseWriter, req *http.Request) {
	reconcile, err := s.Mappings.ReconcileStats(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pending, err := s.Mappings.PendingLinks(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reconcile":     reconcile,
		"pending_links": len(pending),
	})
}

func decodeBody(w http.ResponseWriter, req *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Logf("rpc: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
