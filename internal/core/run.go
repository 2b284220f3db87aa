package core

import (
	"fmt"
	"time"
)

// RunID uniquely identifies a generation run.
type RunID string

// RunStatus represents the current state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusEdited    RunStatus = "edited"
)

// Run represents a complete generation request: the immutable request
// fields plus the mutable workflow state and artifact references.
type Run struct {
	ID        RunID  `json:"id"`
	ProjectID string `json:"project_id,omitempty"`
	Title     string `json:"title"`
	Kind      string `json:"kind"`
	Prompt    string `json:"prompt"`

	Status RunStatus `json:"status"`
	State  *RunState `json:"state"`

	ArtifactID   string `json:"artifact_id,omitempty"`
	ArtifactPath string `json:"artifact_path,omitempty"`

	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewRun creates a pending run with freshly initialized state.
func NewRun(id RunID, prompt, kind, title string) *Run {
	if title == "" {
		title = "Untitled Project"
	}
	now := time.Now()
	return &Run{
		ID:        id,
		Title:     title,
		Kind:      kind,
		Prompt:    prompt,
		Status:    RunStatusPending,
		State:     NewRunState(prompt, kind),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Start transitions the run to running state.
func (r *Run) Start() error {
	if r.Status != RunStatusPending && r.Status != RunStatusFailed {
		return fmt.Errorf("cannot start run in %s state", r.Status)
	}
	r.Status = RunStatusRunning
	if r.StartedAt == nil {
		now := time.Now()
		r.StartedAt = &now
	}
	r.UpdatedAt = time.Now()
	return nil
}

// Complete transitions the run to completed state.
func (r *Run) Complete() error {
	if r.Status != RunStatusRunning {
		return fmt.Errorf("cannot complete run in %s state", r.Status)
	}
	r.Status = RunStatusCompleted
	now := time.Now()
	r.CompletedAt = &now
	r.UpdatedAt = now
	return nil
}

// Fail transitions the run to failed state, preserving the last
// successfully-completed stage's state for the caller to act on.
func (r *Run) Fail(err error) {
	r.Status = RunStatusFailed
	if err != nil {
		r.Error = err.Error()
	}
	now := time.Now()
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// IsTerminal returns true if the run is in a terminal state.
func (r *Run) IsTerminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// Duration returns the run execution duration.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	return end.Sub(*r.StartedAt)
}

// Validate checks run invariants.
func (r *Run) Validate() error {
	if r.ID == "" {
		return ErrValidation(CodeInvalidState, "run ID cannot be empty")
	}
	if r.Prompt == "" {
		return ErrValidation(CodeEmptyPrompt, "run prompt cannot be empty")
	}
	if len(r.Prompt) > MaxPromptLength {
		return ErrValidation(CodeEmptyPrompt, "run prompt too long")
	}
	if !ValidKind(r.Kind) {
		return ErrValidation(CodeInvalidKind, fmt.Sprintf("unknown project kind: %s", r.Kind))
	}
	return nil
}

// Project kinds accepted by the generator.
const (
	KindWebApp = "webapp"
	KindAPI    = "api"
)

// ValidKind checks if a project kind is supported.
func ValidKind(kind string) bool {
	return kind == KindWebApp || kind == KindAPI
}
