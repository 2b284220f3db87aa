package events

import "time"

// Wire event types. These names are what SSE clients see in the
// "event:" field, so they are part of the API surface.
const (
	TypeStatus   = "status"
	TypeNode     = "node"
	TypeArtifact = "artifact"
	TypeError    = "error"
)

// StatusEvent reports run-level progress ("queued", "generating",
// "packaging", "done").
type StatusEvent struct {
	BaseEvent
	Message string `json:"message"`
}

// NewStatusEvent creates a new status event.
func NewStatusEvent(runID, message string) StatusEvent {
	return StatusEvent{
		BaseEvent: NewBaseEvent(TypeStatus, runID),
		Message:   message,
	}
}

// NodeEvent reports a workflow stage transition.
type NodeEvent struct {
	BaseEvent
	Stage    string         `json:"stage"`
	Phase    string         `json:"phase"` // started | completed
	Detail   map[string]any `json:"detail,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
}

// NewNodeStartedEvent creates an event marking a stage entry.
func NewNodeStartedEvent(runID, stage string) NodeEvent {
	return NodeEvent{
		BaseEvent: NewBaseEvent(TypeNode, runID),
		Stage:     stage,
		Phase:     "started",
	}
}

// NewNodeCompletedEvent creates an event marking a stage exit.
func NewNodeCompletedEvent(runID, stage string, duration time.Duration, detail map[string]any) NodeEvent {
	return NodeEvent{
		BaseEvent: NewBaseEvent(TypeNode, runID),
		Stage:     stage,
		Phase:     "completed",
		Detail:    detail,
		Duration:  duration,
	}
}

// ArtifactEvent announces the packaged archive for a finished run.
type ArtifactEvent struct {
	BaseEvent
	ArtifactID string `json:"artifact_id"`
	URL        string `json:"url"`
	FileCount  int    `json:"file_count"`
}

// NewArtifactEvent creates a new artifact event.
func NewArtifactEvent(runID, artifactID, url string, fileCount int) ArtifactEvent {
	return ArtifactEvent{
		BaseEvent:  NewBaseEvent(TypeArtifact, runID),
		ArtifactID: artifactID,
		URL:        url,
		FileCount:  fileCount,
	}
}

// ErrorEvent reports a run failure. It is the terminal event of a
// failed run.
type ErrorEvent struct {
	BaseEvent
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// NewErrorEvent creates a new error event.
func NewErrorEvent(runID, code, message string) ErrorEvent {
	return ErrorEvent{
		BaseEvent: NewBaseEvent(TypeError, runID),
		Code:      code,
		Message:   message,
	}
}
