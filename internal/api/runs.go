package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nebulaforge/nebulaforge/internal/core"
)

// Per-file and per-payload limits for user edits.
const (
	maxEditFileBytes  = 250_000
	maxEditTotalBytes = 2_000_000
	maxEditPathLength = 300
)

// handleListRuns returns summaries of all runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.List(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"runs":  summaries,
		"count": len(summaries),
	})
}

// handleGetRun returns the full run record including workflow state.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.loadRun(w, r)
	if err != nil {
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// handleDeleteRun removes a run from the store.
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := core.RunID(chi.URLParam(r, "runID"))
	if err := s.store.Delete(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": string(id)})
}

// handleGetRunFiles returns the generated file set plus the designer
// output for a run.
func (s *Server) handleGetRunFiles(w http.ResponseWriter, r *http.Request) {
	run, err := s.loadRun(w, r)
	if err != nil {
		return
	}

	files := run.State.CodeFiles
	if files == nil {
		files = map[string]string{}
	}
	prompts := run.State.ImagePrompts
	if prompts == nil {
		prompts = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"run_id":        run.ID,
		"status":        run.Status,
		"files":         files,
		"image_prompts": prompts,
		"review_passed": run.State.ReviewPassed,
		"review_notes":  run.State.ReviewNotes,
	})
}

// updateFilesRequest is the PUT /runs/{runID}/files payload.
type updateFilesRequest struct {
	Files map[string]string `json:"files"`
}

// handleUpdateRunFiles replaces the generated file set with a
// user-edited one. The run is marked edited and the change lands in the
// timeline.
func (s *Server) handleUpdateRunFiles(w http.ResponseWriter, r *http.Request) {
	run, err := s.loadRun(w, r)
	if err != nil {
		return
	}

	var req updateFilesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validateFiles(req.Files); err != nil {
		respondDomainError(w, err)
		return
	}

	run.State.CodeFiles = req.Files
	run.Status = core.RunStatusEdited
	run.UpdatedAt = time.Now()
	run.State.Timeline = append(run.State.Timeline, core.TimelineEntry{
		Stage:  "User",
		Event:  "edited_files",
		Detail: map[string]any{"files": len(req.Files)},
	})

	if err := s.store.Save(r.Context(), run); err != nil {
		respondDomainError(w, err)
		return
	}

	s.logger.Info("run files edited", "run_id", run.ID, "files", len(req.Files))
	respondJSON(w, http.StatusOK, map[string]any{
		"run_id": run.ID,
		"status": run.Status,
		"files":  len(req.Files),
	})
}

// handleGetArtifact serves the packaged zip for a completed run.
func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	run, err := s.loadRun(w, r)
	if err != nil {
		return
	}
	if run.ArtifactID == "" {
		respondError(w, http.StatusNotFound, "run has no artifact yet")
		return
	}

	data, err := s.artifacts.Open(run.ArtifactID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("nebulaforge-%s.zip", run.ID)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// loadRun fetches the run named in the URL, writing the error response
// itself on failure.
func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (*core.Run, error) {
	id := core.RunID(chi.URLParam(r, "runID"))
	run, err := s.store.Load(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return nil, err
	}
	return run, nil
}

// validateFiles enforces the edit payload limits: safe relative paths
// and bounded sizes.
func validateFiles(files map[string]string) error {
	if len(files) == 0 {
		return core.ErrValidation(core.CodeEmptyGeneration, "files payload cannot be empty")
	}

	total := 0
	for path, content := range files {
		if path == "" || len(path) > maxEditPathLength {
			return core.ErrValidation(core.CodeInvalidPath, fmt.Sprintf("invalid file path length: %q", path))
		}
		if strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
			return core.ErrValidation(core.CodeInvalidPath, fmt.Sprintf("unsafe file path: %q", path))
		}
		if len(content) > maxEditFileBytes {
			return core.ErrValidation(core.CodeFileTooLarge, fmt.Sprintf("file %q exceeds %d bytes", path, maxEditFileBytes))
		}
		total += len(content)
	}
	if total > maxEditTotalBytes {
		return core.ErrValidation(core.CodeFileTooLarge, fmt.Sprintf("payload exceeds %d bytes total", maxEditTotalBytes))
	}
	return nil
}
