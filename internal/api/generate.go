package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/nebulaforge/nebulaforge/internal/core"
	"github.com/nebulaforge/nebulaforge/internal/events"
	"github.com/nebulaforge/nebulaforge/internal/workflow"
)

// generateRequest is the POST /generate payload.
type generateRequest struct {
	Prompt    string `json:"prompt"`
	Kind      string `json:"kind"`
	Title     string `json:"title,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

// handleGenerate starts a generation run and streams its progress as
// Server-Sent Events until the run reaches a terminal state. Each
// request gets its own event bus and engine; nothing is shared between
// concurrent runs except the store and the provider client.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if err := s.limiter.Allow(clientKey(r)); err != nil {
		respondDomainError(w, err)
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Kind == "" {
		req.Kind = core.KindWebApp
	}

	run := core.NewRun(core.RunID(uuid.NewString()), req.Prompt, req.Kind, req.Title)
	run.ProjectID = req.ProjectID
	if err := run.Validate(); err != nil {
		respondDomainError(w, err)
		return
	}

	if err := s.store.Save(r.Context(), run); err != nil {
		s.logger.Warn("failed to persist new run", "run_id", run.ID, "error", err.Error())
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Subscribe before the engine starts so no event can slip past.
	bus := events.New(100)
	eventCh := bus.Subscribe()

	chains, swarmMode, maxIter := s.settings()
	engine := workflow.NewEngine(workflow.Config{
		Caller:        s.caller,
		Chains:        chains,
		Store:         s.store,
		Bus:           bus,
		Archiver:      s.archiver,
		Artifacts:     s.artifacts,
		Logger:        s.logger,
		SwarmMode:     swarmMode,
		MaxIterations: maxIter,
	})

	// The run keeps going if the client hangs up; its state and
	// artifact stay retrievable through the runs endpoints.
	runCtx := context.WithoutCancel(r.Context())
	go func() {
		_ = engine.Execute(runCtx, run)
		bus.Close()
	}()

	s.logger.Info("generation stream opened", "run_id", run.ID, "kind", run.Kind)
	s.sendSSE(w, flusher, events.NewStatusEvent(string(run.ID), "accepted"))

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("generation client disconnected", "run_id", run.ID)
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			s.sendSSE(w, flusher, event)
			if isTerminal(event) {
				return
			}
		}
	}
}

// sendSSE writes one event frame to the stream.
func (s *Server) sendSSE(w http.ResponseWriter, flusher http.Flusher, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal SSE event", "error", err.Error())
		return
	}
	fmt.Fprintf(w, "event: %s\n", event.EventType())
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// isTerminal reports whether an event ends the stream.
func isTerminal(event events.Event) bool {
	st, ok := event.(events.StatusEvent)
	if !ok {
		return false
	}
	return st.Message == "completed" || st.Message == "failed"
}

// clientKey derives the rate-limit key from the request. RealIP
// middleware has already resolved proxy headers into RemoteAddr.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
