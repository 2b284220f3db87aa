package core

import "fmt"

// Stage represents one step of the generation workflow.
type Stage string

const (
	// StageResearcher analyzes the user prompt and seeds the plan with
	// research notes.
	StageResearcher Stage = "researcher"

	// StagePlanner produces a build plan section. It is re-entered on
	// review failure, so its output is always additive.
	StagePlanner Stage = "planner"

	// StageCoder generates the project files from the plan.
	StageCoder Stage = "coder"

	// StageDesigner produces image prompts for a thumbnail/hero image.
	StageDesigner Stage = "designer"

	// StageReviewer checks the generated files and decides whether the
	// workflow loops back to the planner or terminates.
	StageReviewer Stage = "reviewer"
)

// AllStages returns the stages in execution order.
func AllStages() []Stage {
	return []Stage{StageResearcher, StagePlanner, StageCoder, StageDesigner, StageReviewer}
}

// NextStage returns the stage following the given stage on the forward
// path. Returns empty string after the reviewer; the reviewer's back-edge
// to the planner is decided by the orchestrator, not here.
func NextStage(s Stage) Stage {
	switch s {
	case StageResearcher:
		return StagePlanner
	case StagePlanner:
		return StageCoder
	case StageCoder:
		return StageDesigner
	case StageDesigner:
		return StageReviewer
	default:
		return ""
	}
}

// ValidStage checks if a stage string is valid.
func ValidStage(s Stage) bool {
	switch s {
	case StageResearcher, StagePlanner, StageCoder, StageDesigner, StageReviewer:
		return true
	default:
		return false
	}
}

// ParseStage converts a string to a Stage with validation.
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if !ValidStage(st) {
		return "", fmt.Errorf("invalid stage: %s", s)
	}
	return st, nil
}

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// Title returns the display name used in timeline entries and events.
func (s Stage) Title() string {
	switch s {
	case StageResearcher:
		return "Researcher"
	case StagePlanner:
		return "Planner"
	case StageCoder:
		return "Coder"
	case StageDesigner:
		return "Designer"
	case StageReviewer:
		return "Reviewer"
	default:
		return "Unknown"
	}
}

// Description returns a human-readable description of the stage.
func (s Stage) Description() string {
	switch s {
	case StageResearcher:
		return "Extract requirements, assumptions and MVP scope from the prompt"
	case StagePlanner:
		return "Create a step-by-step build plan with file targets"
	case StageCoder:
		return "Generate the starter project files"
	case StageDesigner:
		return "Create thumbnail/hero image prompts"
	case StageReviewer:
		return "Review generated files and gate the retry loop"
	default:
		return "Unknown stage"
	}
}
