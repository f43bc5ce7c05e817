package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/secondbrain/internal/models"
)

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var input models.NoteInput
	if !s.decode(w, r, &input) {
		return
	}
	s.logger.Debug("create note request", zap.String("title", input.Title), zap.Int("content_len", len(input.Content)))
	note, err := s.indexer.CreateNote(r.Context(), &input)
	if err != nil {
		s.respondErr(w, r, "create note failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, note)
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.repo.List(r.Context())
	if err != nil {
		s.respondErr(w, r, "list notes failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	note, err := s.repo.Get(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, "get note failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, note)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.AskRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.logger.Debug("chat request", zap.String("question", req.Question), zap.Int("top_k", req.TopK))
	resp, err := s.engine.Ask(r.Context(), &req)
	if err != nil {
		s.respondErr(w, r, "chat failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type ingestRequest struct {
	Directory string `json:"directory"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	// An empty body means the configured directory.
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	dir := req.Directory
	if dir == "" {
		dir = s.config.Ingest.Directory
	}
	if dir == "" {
		s.respondError(w, http.StatusBadRequest, "directory is required")
		return
	}
	s.logger.Debug("ingest request", zap.String("directory", dir))
	// A client that goes away must not leave the directory half imported.
	report, err := s.indexer.IngestDirectory(context.WithoutCancel(r.Context()), dir)
	if err != nil {
		if report != nil && report.Created() > 0 {
			status, _ := s.logErr(r, "ingest stopped partway", err)
			s.respondJSON(w, status, map[string]any{"error": err.Error(), "report": report})
			return
		}
		s.respondErr(w, r, "ingest failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.indexer.Status(r.Context())
	if err != nil {
		s.respondErr(w, r, "status failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into v. On failure it writes a 400 and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			s.respondError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// respondErr maps domain errors to HTTP status codes.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status, retriable := s.logErr(r, msg, err)
	if retriable {
		s.respondJSON(w, status, map[string]any{"error": err.Error(), "retriable": true})
		return
	}
	s.respondError(w, status, err.Error())
}

// logErr logs err at the level its class deserves and returns the matching HTTP status.
func (s *Server) logErr(r *http.Request, msg string, err error) (status int, retriable bool) {
	fields := []zap.Field{zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err)}
	switch {
	case errors.Is(err, models.ErrInvalidArgument):
		s.logger.Debug(msg, fields...)
		return http.StatusBadRequest, false
	case errors.Is(err, models.ErrNotFound):
		s.logger.Debug(msg, fields...)
		return http.StatusNotFound, false
	case models.IsRetriable(err):
		s.logger.Warn(msg, fields...)
		return http.StatusBadGateway, true
	case errors.Is(err, models.ErrInterrupted):
		s.logger.Warn(msg, fields...)
		return http.StatusServiceUnavailable, false
	default:
		s.logger.Error(msg, fields...)
		return http.StatusInternalServerError, false
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
