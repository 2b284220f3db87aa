package core

import (
	"context"
	"time"
)

// Message represents a single message in a model conversation.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ProviderClient invokes a single named model. Implementations supply the
// right credential for the model's provider family and report failures
// uniformly as provider errors. No retries at this layer; retry policy
// lives in the chain runner.
type ProviderClient interface {
	Call(ctx context.Context, model string, messages []Message) (string, error)
}

// ChainCaller runs an ordered model-chain fallback for one role.
type ChainCaller interface {
	// Try iterates the chain in order and returns the winning model and
	// its response text. Later models are never invoked once one
	// succeeds. Exhaustion fails with a providers-exhausted error
	// wrapping the last failure.
	Try(ctx context.Context, role string, models []string, messages []Message) (string, string, error)
}

// RunStore persists generation runs. Save is called after every stage
// transition; callers treat it as fire-and-forget and never abort a run
// on a save failure.
type RunStore interface {
	Save(ctx context.Context, run *Run) error
	Load(ctx context.Context, id RunID) (*Run, error)
	List(ctx context.Context) ([]RunSummary, error)
	Delete(ctx context.Context, id RunID) error
	Close() error
}

// RunSummary provides a lightweight view of a run for listing.
type RunSummary struct {
	ID        RunID     `json:"id"`
	Title     string    `json:"title"`
	Kind      string    `json:"kind"`
	Status    RunStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Archiver packages a generated file set into an archive blob. Pure
// function of its input; no side effects on run state.
type Archiver interface {
	Archive(files map[string]string) ([]byte, error)
}
