package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/michaelbrown/crucible/internal/execution"
	"github.com/michaelbrown/crucible/internal/history"
	"github.com/michaelbrown/crucible/internal/report"
	"github.com/michaelbrown/crucible/internal/request"
	"github.com/michaelbrown/crucible/internal/runner"
)

// maxBodyBytes caps request bodies; sources are small.
const maxBodyBytes = 4 << 20

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

type errorResponse struct {
	Error       string `json:"error"`
	Environment bool   `json:"environment,omitempty"`
}

// runResponse is the body of a completed run.
type runResponse struct {
	ID string `json:"id"`
	report.Result
}

// statusFor maps a run error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, execution.ErrInvalidRequest), errors.Is(err, request.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, errShuttingDown), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"active_runs": s.active.Len(),
	})
}

// --- Run handler ---

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var enc request.Encoded
	if err := decodeJSON(w, r, &enc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	id := uuid.NewString()
	res, err := s.execute(r.Context(), id, enc)
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{
			Error:       err.Error(),
			Environment: runner.IsEnvironment(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, runResponse{ID: id, Result: res})
}

// execute decodes enc and runs it under an execution slot. Shared by the
// HTTP and WebSocket handlers.
func (s *Server) execute(ctx context.Context, id string, enc request.Encoded) (report.Result, error) {
	req, err := request.Decode(enc)
	if err != nil {
		return report.Result{}, err
	}

	ctx, done, err := s.active.Begin(ctx, id)
	if err != nil {
		return report.Result{}, err
	}
	defer done()

	release, err := s.acquire(ctx)
	if err != nil {
		return report.Result{}, err
	}
	defer release()

	return s.exec.Run(runner.WithRunID(ctx, id), req)
}

// --- History handlers ---

func (s *Server) historyEnabled(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "run history is disabled")
		return false
	}
	return true
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w) {
		return
	}

	opts := history.ListOptions{}
	q := r.URL.Query()

	if m := q.Get("mode"); m != "" {
		parsed, err := execution.ParseMode(m)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Mode = parsed
	}
	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "success must be true or false")
			return
		}
		opts.Success = &b
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := q.Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			opts.Offset = n
		}
	}

	runs, err := s.store.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if runs == nil {
		runs = []history.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w) {
		return
	}
	run, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, historyStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w) {
		return
	}
	if err := s.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, historyStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func historyStatus(err error) int {
	switch {
	case errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, history.ErrAmbiguous):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
