package core

// DefaultMaxIterations bounds the reviewer-to-planner retry loop. A cap
// of 2 means at most 3 total passes through planner and reviewer.
const DefaultMaxIterations = 2

// MaxImagePrompts caps the designer output.
const MaxImagePrompts = 3

// TimelineEntry is one record in the append-only audit log of stage
// executions within a run.
type TimelineEntry struct {
	Stage  string         `json:"stage"`
	Event  string         `json:"event"`
	Detail map[string]any `json:"detail,omitempty"`
}

// RunState is the shared mutable state threaded through every stage of a
// generation run. It is owned exclusively by the single sequential run,
// so no locking is needed.
type RunState struct {
	Prompt string `json:"prompt"`
	Kind   string `json:"kind"`

	Plan         string            `json:"plan,omitempty"`
	CodeFiles    map[string]string `json:"code_files,omitempty"`
	ImagePrompts []string          `json:"image_prompts,omitempty"`

	ReviewPassed bool   `json:"review_passed"`
	ReviewNotes  string `json:"review_notes,omitempty"`

	Iterations    int `json:"iterations"`
	MaxIterations int `json:"max_iterations"`

	Timeline []TimelineEntry `json:"timeline"`
}

// NewRunState creates the initial state for a generation run.
func NewRunState(prompt, kind string) *RunState {
	return &RunState{
		Prompt:        prompt,
		Kind:          kind,
		MaxIterations: DefaultMaxIterations,
		Timeline:      make([]TimelineEntry, 0),
	}
}

// StageDelta is the additive state change a stage returns. Zero-valued
// fields leave the corresponding state untouched; applying a delta never
// drops unrelated state.
type StageDelta struct {
	// AppendPlan is appended to the accumulated plan text.
	AppendPlan string

	// CodeFiles replaces the generated file set when non-nil. The coder
	// regenerates the whole set on each pass, so per-key merging would
	// resurrect stale files on retry.
	CodeFiles map[string]string

	// ImagePrompts replaces the designer output when non-nil.
	ImagePrompts []string

	// ReviewPassed and ReviewNotes record the reviewer verdict when
	// ReviewPassed is non-nil.
	ReviewPassed *bool
	ReviewNotes  string

	// Timeline entries are appended to the run's timeline.
	Timeline []TimelineEntry
}

// Apply merges a stage delta into the state. The timeline only grows.
func (s *RunState) Apply(d StageDelta) {
	if d.AppendPlan != "" {
		s.Plan += d.AppendPlan
	}
	if d.CodeFiles != nil {
		s.CodeFiles = d.CodeFiles
	}
	if d.ImagePrompts != nil {
		s.ImagePrompts = d.ImagePrompts
	}
	if d.ReviewPassed != nil {
		s.ReviewPassed = *d.ReviewPassed
		s.ReviewNotes = d.ReviewNotes
	}
	s.Timeline = append(s.Timeline, d.Timeline...)
}

// Validate checks state invariants.
func (s *RunState) Validate() error {
	if s.Prompt == "" {
		return ErrValidation(CodeEmptyPrompt, "prompt cannot be empty")
	}
	if s.Iterations < 0 || s.Iterations > s.MaxIterations {
		return ErrState(CodeInvalidState, "iterations out of range")
	}
	return nil
}
