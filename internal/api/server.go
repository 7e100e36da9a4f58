// Package api exposes the archive over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chatvault-io/chatvault/internal/export"
	"github.com/chatvault-io/chatvault/internal/ingest"
	"github.com/chatvault-io/chatvault/internal/model"
	"github.com/chatvault-io/chatvault/internal/repository"
	"github.com/chatvault-io/chatvault/internal/store"
)

// ConversationSummary is the list-view projection of a conversation.
type ConversationSummary struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Format   model.FormatTag `json:"format"`
	Created  model.Time      `json:"created"`
	Updated  model.Time      `json:"updated"`
	Messages int             `json:"messages"`
}

// ImportResponse reports what one import request did.
type ImportResponse struct {
	Format model.FormatTag `json:"format"`
	Found  int             `json:"found"`
	Added  int             `json:"added"`
}

type Server struct {
	router *chi.Mux
	repo   *repository.Repository
	runner *ingest.Runner
	logger *slog.Logger
	port   int
}

func NewServer(port int, repo *repository.Repository, runner *ingest.Runner, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		repo:   repo,
		runner: runner,
		logger: logger,
		port:   port,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/status", s.status)
	router.Get("/api/v1/conversations", s.listConversations)
	router.Get("/api/v1/conversations/{id}", s.getConversation)
	router.Delete("/api/v1/conversations", s.clearConversations)
	router.Post("/api/v1/import", s.importExport)
	router.Get("/api/v1/export", s.exportArchive)

	return s
}

// Run serves the API until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	s.logger.Info("api server listening", "addr", srv.Addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	size, err := s.repo.StorageSize(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"backend":       s.repo.Backend(),
		"conversations": s.repo.Count(),
		"storage_bytes": size,
	})
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	convs := s.repo.LoadConversations()
	summaries := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		summaries = append(summaries, ConversationSummary{
			ID:       c.ID,
			Title:    c.Title,
			Format:   c.Format,
			Created:  c.Created,
			Updated:  c.Updated,
			Messages: len(c.Messages),
		})
	}
	s.respond(w, http.StatusOK, summaries)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, ok := s.repo.Conversation(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("no conversation %q", id))
		return
	}
	s.respond(w, http.StatusOK, conv)
}

func (s *Server) clearConversations(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.ClearConversations(r.Context()); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// importExport accepts a raw platform export as the request body. The
// persist query parameter defaults to true; persist=false keeps the
// merge in memory only.
func (s *Server) importExport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
		return
	}

	persist := true
	if v := r.URL.Query().Get("persist"); v != "" {
		persist, err = strconv.ParseBool(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid persist value %q", v))
			return
		}
	}

	res := s.runner.IngestBytes(r.Context(), "http import", data, persist)
	if res.Err != nil {
		s.respondError(w, importStatus(res.Err), res.Err.Error())
		return
	}
	s.respond(w, http.StatusOK, ImportResponse{Format: res.Format, Found: res.Found, Added: res.Added})
}

func (s *Server) exportArchive(w http.ResponseWriter, r *http.Request) {
	data, err := export.JSON(s.repo.LoadConversations())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// importStatus maps pipeline failures onto HTTP codes.
func importStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrQuotaExceeded):
		return http.StatusInsufficientStorage
	case errors.Is(err, store.ErrTransactionAborted):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) respond(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, code int, msg string) {
	s.respond(w, code, map[string]string{"error": msg})
}
