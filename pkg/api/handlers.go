package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/devicelab-dev/screencast-runner/pkg/core"
	"github.com/devicelab-dev/screencast-runner/pkg/encoder"
	"github.com/devicelab-dev/screencast-runner/pkg/flow"
	"github.com/devicelab-dev/screencast-runner/pkg/logger"
	"github.com/devicelab-dev/screencast-runner/pkg/report"
	"github.com/devicelab-dev/screencast-runner/pkg/store"
)

const maxBodyBytes = 1 << 20

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error     string                `json:"error"`
	Details   []string              `json:"details,omitempty"`
	Recording *core.RecordingResult `json:"recording,omitempty"`
}

// OptimizeRequest is the optional body of the optimize endpoint.
type OptimizeRequest struct {
	Colors int    `json:"colors"`
	Dither string `json:"dither"`
}

// OptimizeResponse reports the outcome of an optimize call.
type OptimizeResponse struct {
	Recording     *core.RecordingResult `json:"recording"`
	OriginalSize  int64                 `json:"originalSize"`
	OptimizedSize int64                 `json:"optimizedSize"`
	Path          string                `json:"path"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleStatus reports running recordings and index totals.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions()
	body := map[string]interface{}{
		"uptime":           time.Since(s.started).Round(time.Second).String(),
		"activeRecordings": len(sessions),
		"maxConcurrent":    s.cfg.Server.MaxConcurrent,
		"sessions":         sessions,
	}
	if s.deps.Index != nil {
		body["summary"] = s.deps.Index.Summary()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.deps.Flows.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list flows: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, flows)
}

func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	f, ok := s.decodeFlow(w, r)
	if !ok {
		return
	}
	if !s.validate(w, f) {
		return
	}

	if _, err := s.deps.Flows.Get(r.Context(), f.ID); err == nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("flow %q already exists", f.ID))
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.deps.Flows.Save(r.Context(), f); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save flow: %v", err))
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	f, ok := s.lookupFlow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleUpdateFlow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.lookupFlow(w, r); !ok {
		return
	}

	f, ok := s.decodeFlow(w, r)
	if !ok {
		return
	}
	if f.ID == "" {
		f.ID = id
	}
	if f.ID != id {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("flow id %q does not match path id %q", f.ID, id))
		return
	}
	if !s.validate(w, f) {
		return
	}

	if err := s.deps.Flows.Save(r.Context(), f); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save flow: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Flows.Delete(r.Context(), mux.Vars(r)["id"])
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "flow not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleRecord runs a stored flow and responds with the recording result.
// Failures respond 500 with the recorder's error message unchanged.
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	f, ok := s.lookupFlow(w, r)
	if !ok {
		return
	}
	if !s.validate(w, f) {
		return
	}

	if !s.sem.TryAcquire(1) {
		writeError(w, http.StatusTooManyRequests,
			fmt.Sprintf("too many concurrent recordings (max %d)", s.cfg.Server.MaxConcurrent))
		return
	}
	defer s.sem.Release(1)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout())
	defer cancel()

	rec := s.deps.NewRecorder()
	untrack := s.track(rec)
	defer untrack()
	defer func() {
		if err := rec.Close(); err != nil {
			logger.Warn("Failed to close browser: %v", err)
		}
	}()

	result, err := rec.Run(ctx, f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Recording: result})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Index.List())
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookupRecording(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleRecordingGif serves the recording's GIF.
func (s *Server) handleRecordingGif(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookupRecording(w, r)
	if !ok {
		return
	}
	if rec.GifPath == "" {
		writeError(w, http.StatusNotFound, "recording has no gif")
		return
	}
	w.Header().Set("Content-Type", "image/gif")
	http.ServeFile(w, r, rec.GifPath)
}

// handleOptimize re-quantizes a recording's GIF and points the index at
// the smaller file.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookupRecording(w, r)
	if !ok {
		return
	}
	if rec.Status != core.RecordingCompleted || rec.GifPath == "" {
		writeError(w, http.StatusConflict, "only completed recordings can be optimized")
		return
	}

	req := OptimizeRequest{Colors: encoder.DefaultOptimizeColors, Dither: encoder.DefaultDither}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Colors == 0 {
			req.Colors = encoder.DefaultOptimizeColors
		}
		if req.Dither == "" {
			req.Dither = encoder.DefaultDither
		}
	}
	if err := encoder.ValidateDither(req.Dither); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Colors < 2 || req.Colors > 256 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("colors must be between 2 and 256, got %d", req.Colors))
		return
	}

	originalSize := rec.GifSize
	if info, err := os.Stat(rec.GifPath); err == nil {
		originalSize = info.Size()
	}

	out := encoder.OptimizedPath(rec.GifPath, req.Colors)
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout())
	defer cancel()
	result, err := s.deps.Optimizer.Optimize(ctx, rec.GifPath, out, req.Colors, req.Dither)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	updated, err := s.deps.Index.Update(rec.ID, func(r *core.RecordingResult) {
		r.GifPath = result.Path
		r.GifSize = result.Size
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, OptimizeResponse{
		Recording:     updated,
		OriginalSize:  originalSize,
		OptimizedSize: result.Size,
		Path:          result.Path,
	})
}

func (s *Server) decodeFlow(w http.ResponseWriter, r *http.Request) (*flow.Flow, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	// The parser sniffs JSON from YAML when there is no file name.
	f, err := flow.Parse(data, "")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return f, true
}

func (s *Server) validate(w http.ResponseWriter, f *flow.Flow) bool {
	result := s.validator.ValidateFlow(f)
	for _, warn := range result.Warnings {
		logger.Warn("Flow %s: %s", f.ID, warn)
	}
	if result.IsValid() {
		return true
	}
	details := make([]string, len(result.Errors))
	for i, err := range result.Errors {
		details[i] = err.Error()
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid flow", Details: details})
	return false
}

func (s *Server) lookupFlow(w http.ResponseWriter, r *http.Request) (*flow.Flow, bool) {
	f, err := s.deps.Flows.Get(r.Context(), mux.Vars(r)["id"])
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Flow not found")
		return nil, false
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return f, true
}

func (s *Server) lookupRecording(w http.ResponseWriter, r *http.Request) (*core.RecordingResult, bool) {
	rec, err := s.deps.Index.Get(mux.Vars(r)["id"])
	switch {
	case errors.Is(err, report.ErrNotFound):
		writeError(w, http.StatusNotFound, "Recording not found")
		return nil, false
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return rec, true
}
