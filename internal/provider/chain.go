package provider

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/nebulaforge/nebulaforge/internal/core"
	"github.com/nebulaforge/nebulaforge/internal/logging"
)

// Runner executes model chains against a provider client. It implements
// core.ChainCaller.
type Runner struct {
	client core.ProviderClient
	creds  Credentials
	logger *logging.Logger
}

// NewRunner creates a chain runner.
func NewRunner(client core.ProviderClient, creds Credentials, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{client: client, creds: creds, logger: logger}
}

// reachable filters a chain down to models whose provider has a
// credential. A keyless provider is skipped, never attempted.
func (r *Runner) reachable(models []string) []string {
	out := make([]string, 0, len(models))
	for _, m := range models {
		if r.creds.Available(KindOfModel(m)) {
			out = append(out, m)
		}
	}
	return out
}

// Try iterates the chain in order: first success wins and later models
// are never invoked; each failure is recorded and the next model is
// tried; exhaustion fails with an error wrapping the last failure.
func (r *Runner) Try(ctx context.Context, role string, models []string, messages []core.Message) (string, string, error) {
	candidates := r.reachable(models)
	if len(candidates) == 0 {
		return "", "", core.ErrProvidersExhausted(role, &core.DomainError{
			Category: core.ErrCatProvider,
			Code:     core.CodeMissingCredential,
			Message:  "no reachable providers in chain",
		})
	}

	var lastErr error
	for _, model := range candidates {
		text, err := r.client.Call(ctx, model, messages)
		if err != nil {
			r.logger.Warn("model failed, falling back", "role", role, "model", model, "error", err.Error())
			lastErr = err
			continue
		}
		return model, text, nil
	}
	return "", "", core.ErrProvidersExhausted(role, lastErr)
}

// SwarmResult is the outcome of a broadcast call.
type SwarmResult struct {
	Model      string
	Text       string
	Candidates int // how many providers returned a valid response
}

// Swarm fires all reachable models concurrently, waits for every call to
// finish, and picks the first valid response in chain order. The
// list-order tie-break (rather than arrival order) is a deliberate
// simplification.
func (r *Runner) Swarm(ctx context.Context, role string, models []string, messages []core.Message) (SwarmResult, error) {
	candidates := r.reachable(models)
	if len(candidates) == 0 {
		return SwarmResult{}, core.ErrProvidersExhausted(role, &core.DomainError{
			Category: core.ErrCatProvider,
			Code:     core.CodeMissingCredential,
			Message:  "no reachable providers in chain",
		})
	}

	texts := make([]string, len(candidates))
	errs := make([]error, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	for i, model := range candidates {
		i, model := i, model
		g.Go(func() error {
			text, err := r.client.Call(gctx, model, messages)
			texts[i] = text
			errs[i] = err
			return nil // individual failures are tolerated; join on all
		})
	}
	_ = g.Wait()

	valid := 0
	winner := -1
	for i := range candidates {
		if errs[i] == nil {
			valid++
			if winner < 0 {
				winner = i
			}
		}
	}
	if winner < 0 {
		var lastErr error
		for _, err := range errs {
			if err != nil {
				lastErr = err
			}
		}
		return SwarmResult{}, core.ErrProvidersExhausted(role, lastErr)
	}

	r.logger.Debug("swarm winner selected", "role", role, "model", candidates[winner], "candidates", valid)
	return SwarmResult{Model: candidates[winner], Text: texts[winner], Candidates: valid}, nil
}
