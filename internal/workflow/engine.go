// Package workflow implements the multi-agent generation pipeline: a
// five-stage state machine (research, plan, code, design, review) with a
// bounded review-to-plan retry loop, persisted after every transition.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nebulaforge/nebulaforge/internal/core"
	"github.com/nebulaforge/nebulaforge/internal/events"
	"github.com/nebulaforge/nebulaforge/internal/logging"
	"github.com/nebulaforge/nebulaforge/internal/provider"
)

// ManifestName is the metadata file injected into every archive.
const ManifestName = "nebula.manifest.json"

// Caller runs model chains for the stages. Satisfied by
// *provider.Runner.
type Caller interface {
	core.ChainCaller
	Swarm(ctx context.Context, role string, models []string, messages []core.Message) (provider.SwarmResult, error)
}

// ArtifactSink stores packaged archives.
type ArtifactSink interface {
	// Store persists the archive blob and returns its storage path and a
	// client-facing download URL.
	Store(runID core.RunID, artifactID string, data []byte) (path string, url string, err error)
}

// Engine drives one generation run through the stage graph. An engine
// instance is created per request; it owns no shared mutable state
// beyond its injected dependencies.
type Engine struct {
	caller    Caller
	chains    provider.Chains
	store     core.RunStore
	bus       *events.Bus
	archiver  core.Archiver
	artifacts ArtifactSink
	logger    *logging.Logger
	swarm     bool
	maxIter   int
}

// Config assembles an engine.
type Config struct {
	Caller    Caller
	Chains    provider.Chains
	Store     core.RunStore
	Bus       *events.Bus
	Archiver  core.Archiver
	Artifacts ArtifactSink
	Logger    *logging.Logger
	SwarmMode bool

	// MaxIterations caps the review-to-plan retry loop. Values below 1
	// fall back to core.DefaultMaxIterations.
	MaxIterations int
}

// NewEngine creates a workflow engine.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	maxIter := cfg.MaxIterations
	if maxIter < 1 {
		maxIter = core.DefaultMaxIterations
	}
	return &Engine{
		caller:    cfg.Caller,
		chains:    cfg.Chains,
		store:     cfg.Store,
		bus:       cfg.Bus,
		archiver:  cfg.Archiver,
		artifacts: cfg.Artifacts,
		logger:    logger,
		swarm:     cfg.SwarmMode,
		maxIter:   maxIter,
	}
}

// Execute runs the full stage graph for a run, persisting state after
// every transition and publishing progress events throughout. On stage
// failure the run is marked failed with all state from completed stages
// intact.
func (e *Engine) Execute(ctx context.Context, run *core.Run) error {
	log := e.logger.WithRun(string(run.ID))

	if err := run.Start(); err != nil {
		return err
	}
	run.State.MaxIterations = e.maxIter
	e.save(ctx, run, log)
	e.bus.Publish(events.NewStatusEvent(string(run.ID), "swarm_started"))

	stage := core.StageResearcher
	for {
		stageLog := log.WithStage(stage.String())
		stageLog.Info("stage started")
		e.bus.Publish(events.NewNodeStartedEvent(string(run.ID), stage.Title()))

		started := time.Now()
		delta, c, err := e.runStage(ctx, stage, run.State)
		if err != nil {
			stageLog.Error("stage failed", "error", err.Error())
			return e.fail(ctx, run, err, log)
		}

		run.State.Apply(delta)
		e.save(ctx, run, log)

		detail := map[string]any{}
		if c.model != "" {
			detail["model"] = c.model
		}
		if e.swarm && c.candidates > 0 {
			detail["candidates"] = c.candidates
		}
		// Stream consumers see what each stage produced without a
		// round-trip to the runs endpoints.
		if delta.AppendPlan != "" {
			detail["plan"] = delta.AppendPlan
		}
		if delta.CodeFiles != nil {
			paths := make([]string, 0, len(delta.CodeFiles))
			for p := range delta.CodeFiles {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			detail["files"] = len(paths)
			detail["paths"] = paths
		}
		if delta.ImagePrompts != nil {
			detail["image_prompts"] = delta.ImagePrompts
		}
		if stage == core.StageReviewer {
			detail["passed"] = run.State.ReviewPassed
			detail["review"] = run.State.ReviewNotes
		}
		e.bus.Publish(events.NewNodeCompletedEvent(string(run.ID), stage.Title(), time.Since(started), detail))
		stageLog.Info("stage completed", "duration", time.Since(started))

		if stage != core.StageReviewer {
			stage = core.NextStage(stage)
			continue
		}
		if !run.State.ReviewPassed && run.State.Iterations < run.State.MaxIterations {
			run.State.Iterations++
			log.Info("review failed, replanning",
				"iteration", run.State.Iterations,
				"max_iterations", run.State.MaxIterations,
				"notes", run.State.ReviewNotes,
			)
			stage = core.StagePlanner
			continue
		}
		break
	}

	if err := e.finish(ctx, run, log); err != nil {
		return e.fail(ctx, run, err, log)
	}
	return nil
}

// finish packages the generated files, stores the artifact and completes
// the run.
func (e *Engine) finish(ctx context.Context, run *core.Run, log *logging.Logger) error {
	e.bus.Publish(events.NewStatusEvent(string(run.ID), "packaging"))

	files := make(map[string]string, len(run.State.CodeFiles)+1)
	for p, content := range run.State.CodeFiles {
		files[p] = content
	}

	manifest, err := json.MarshalIndent(map[string]any{
		"run_id":        run.ID,
		"kind":          run.Kind,
		"review_passed": run.State.ReviewPassed,
		"review_notes":  run.State.ReviewNotes,
		"image_prompts": run.State.ImagePrompts,
	}, "", "  ")
	if err != nil {
		return core.ErrState(core.CodeArchiveFailed, "marshaling manifest").WithCause(err)
	}
	files[ManifestName] = string(manifest)

	blob, err := e.archiver.Archive(files)
	if err != nil {
		return core.ErrState(core.CodeArchiveFailed, "packaging archive").WithCause(err)
	}

	artifactID := uuid.NewString()
	path, url, err := e.artifacts.Store(run.ID, artifactID, blob)
	if err != nil {
		return core.ErrState(core.CodeArchiveFailed, "storing artifact").WithCause(err)
	}

	run.ArtifactID = artifactID
	run.ArtifactPath = path
	if err := run.Complete(); err != nil {
		return err
	}
	e.save(ctx, run, log)

	e.bus.PublishPriority(events.NewArtifactEvent(string(run.ID), artifactID, url, len(files)))
	e.bus.PublishPriority(events.NewStatusEvent(string(run.ID), "completed"))
	log.Info("run completed", "artifact_id", artifactID, "files", len(files), "duration", run.Duration())
	return nil
}

// fail marks the run failed, preserving completed-stage state, and
// publishes the terminal error events.
func (e *Engine) fail(ctx context.Context, run *core.Run, cause error, log *logging.Logger) error {
	run.Fail(cause)
	e.save(ctx, run, log)

	code := ""
	var domErr *core.DomainError
	if errors.As(cause, &domErr) {
		code = domErr.Code
	}
	e.bus.PublishPriority(events.NewErrorEvent(string(run.ID), code, cause.Error()))
	e.bus.PublishPriority(events.NewStatusEvent(string(run.ID), "failed"))
	log.Error("run failed", "error", cause.Error())
	return cause
}

// save persists the run. Persistence failures are logged, never fatal;
// losing a checkpoint must not kill a run that is otherwise healthy.
func (e *Engine) save(ctx context.Context, run *core.Run, log *logging.Logger) {
	if err := e.store.Save(ctx, run); err != nil {
		log.Warn("failed to persist run state", "error", err.Error())
	}
}
