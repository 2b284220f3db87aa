package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nebulaforge/nebulaforge/internal/core"
	"github.com/nebulaforge/nebulaforge/internal/provider"
)

// Env-var names the reviewer refuses to see inlined in generated code.
var secretDenyList = []string{
	"SUPABASE_SERVICE_ROLE_KEY",
	"STRIPE_SECRET_KEY",
}

const readmePreviewLimit = 1200

// completion is the outcome of one chain invocation, carrying the
// winning model for observability.
type completion struct {
	text       string
	model      string
	candidates int
}

// complete runs the chain for a role, either sequentially or as a
// broadcast depending on engine mode.
func (e *Engine) complete(ctx context.Context, role provider.Role, messages []core.Message) (completion, error) {
	models := e.chains.ModelsFor(role)
	if e.swarm {
		res, err := e.caller.Swarm(ctx, string(role), models, messages)
		if err != nil {
			return completion{}, err
		}
		return completion{text: res.Text, model: res.Model, candidates: res.Candidates}, nil
	}
	model, text, err := e.caller.Try(ctx, string(role), models, messages)
	if err != nil {
		return completion{}, err
	}
	return completion{text: text, model: model, candidates: 1}, nil
}

func (e *Engine) runStage(ctx context.Context, stage core.Stage, state *core.RunState) (core.StageDelta, completion, error) {
	switch stage {
	case core.StageResearcher:
		return e.researchStage(ctx, state)
	case core.StagePlanner:
		return e.planStage(ctx, state)
	case core.StageCoder:
		return e.codeStage(ctx, state)
	case core.StageDesigner:
		return e.designStage(ctx, state)
	case core.StageReviewer:
		return e.reviewStage(ctx, state)
	default:
		return core.StageDelta{}, completion{}, core.ErrState(core.CodeInvalidState, fmt.Sprintf("unknown stage: %s", stage))
	}
}

func (e *Engine) researchStage(ctx context.Context, state *core.RunState) (core.StageDelta, completion, error) {
	messages := []core.Message{
		{Role: "system", Content: systemBase},
		{Role: "user", Content: fmt.Sprintf("%s\n\nUSER PROMPT:\n%s", researchPrompt, state.Prompt)},
	}
	c, err := e.complete(ctx, provider.RoleResearch, messages)
	if err != nil {
		return core.StageDelta{}, completion{}, err
	}
	return core.StageDelta{
		AppendPlan: fmt.Sprintf("[Research Notes]\n%s\n\n", c.text),
		Timeline:   []core.TimelineEntry{{Stage: core.StageResearcher.Title(), Event: "done"}},
	}, c, nil
}

func (e *Engine) planStage(ctx context.Context, state *core.RunState) (core.StageDelta, completion, error) {
	messages := []core.Message{
		{Role: "system", Content: systemBase},
		{Role: "user", Content: fmt.Sprintf("%s\n\nKIND=%s\nPROMPT:\n%s", plannerPrompt, state.Kind, state.Prompt)},
	}
	c, err := e.complete(ctx, provider.RolePlan, messages)
	if err != nil {
		return core.StageDelta{}, completion{}, err
	}
	return core.StageDelta{
		AppendPlan: fmt.Sprintf("[Plan]\n%s\n", c.text),
		Timeline:   []core.TimelineEntry{{Stage: core.StagePlanner.Title(), Event: "done"}},
	}, c, nil
}

// coderFiles is the strict JSON envelope the coder must return.
type coderFiles struct {
	Files []struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	} `json:"files"`
}

func (e *Engine) codeStage(ctx context.Context, state *core.RunState) (core.StageDelta, completion, error) {
	messages := []core.Message{
		{Role: "system", Content: systemBase},
		{Role: "user", Content: fmt.Sprintf("%s\n\nKIND=%s\nPROMPT:\n%s\n\nPLAN:\n%s", coderPrompt, state.Kind, state.Prompt, state.Plan)},
	}
	c, err := e.complete(ctx, provider.RoleCode, messages)
	if err != nil {
		return core.StageDelta{}, completion{}, err
	}

	var parsed coderFiles
	if err := extractJSON(c.text, &parsed); err != nil {
		return core.StageDelta{}, completion{}, core.ErrMalformedResponse(core.StageCoder.String(), err)
	}
	files := make(map[string]string)
	for _, f := range parsed.Files {
		if f.Path != "" {
			files[f.Path] = f.Content
		}
	}
	if len(files) == 0 {
		return core.StageDelta{}, completion{}, core.ErrEmptyGeneration()
	}

	return core.StageDelta{
		CodeFiles: files,
		Timeline: []core.TimelineEntry{{
			Stage:  core.StageCoder.Title(),
			Event:  "done",
			Detail: map[string]any{"files": len(files)},
		}},
	}, c, nil
}

// designerPrompts is the strict JSON envelope the designer must return.
type designerPrompts struct {
	ImagePrompts []string `json:"image_prompts"`
}

func (e *Engine) designStage(ctx context.Context, state *core.RunState) (core.StageDelta, completion, error) {
	messages := []core.Message{
		{Role: "system", Content: systemBase},
		{Role: "user", Content: fmt.Sprintf("%s\n\nPROMPT:\n%s\nPLAN:\n%s", designerPrompt, state.Prompt, state.Plan)},
	}
	c, err := e.complete(ctx, provider.RoleDesign, messages)
	if err != nil {
		return core.StageDelta{}, completion{}, err
	}

	var parsed designerPrompts
	if err := extractJSON(c.text, &parsed); err != nil {
		return core.StageDelta{}, completion{}, core.ErrMalformedResponse(core.StageDesigner.String(), err)
	}
	prompts := parsed.ImagePrompts
	if len(prompts) > core.MaxImagePrompts {
		prompts = prompts[:core.MaxImagePrompts]
	}
	if prompts == nil {
		prompts = []string{}
	}

	return core.StageDelta{
		ImagePrompts: prompts,
		Timeline: []core.TimelineEntry{{
			Stage:  core.StageDesigner.Title(),
			Event:  "done",
			Detail: map[string]any{"count": len(prompts)},
		}},
	}, c, nil
}

// reviewerVerdict is the strict JSON envelope the reviewer should
// return. The LLM verdict is advisory on top of the deterministic
// checks, so parse failures here degrade rather than fail the run.
type reviewerVerdict struct {
	Pass  *bool  `json:"pass"`
	Notes string `json:"notes"`
}

func (e *Engine) reviewStage(ctx context.Context, state *core.RunState) (core.StageDelta, completion, error) {
	files := state.CodeFiles

	var notes []string
	passed := true

	if _, ok := files["README.md"]; !ok {
		passed = false
		notes = append(notes, "Missing README.md")
	}

	var joined strings.Builder
	for _, content := range files {
		joined.WriteString(content)
		joined.WriteByte('\n')
	}
	for _, name := range secretDenyList {
		if strings.Contains(joined.String(), name) {
			passed = false
			notes = append(notes, "Hardcoded secret-looking env var name found. Use .env, never inline secrets.")
			break
		}
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	readme := files["README.md"]
	if readme == "" {
		readme = "(missing)"
	}
	if len(readme) > readmePreviewLimit {
		readme = readme[:readmePreviewLimit]
	}

	messages := []core.Message{
		{Role: "system", Content: systemBase},
		{Role: "user", Content: fmt.Sprintf("%s\n\nFILES:\n%v\n\nREADME PREVIEW:\n%s", reviewerPrompt, paths, readme)},
	}

	c, err := e.complete(ctx, provider.RoleReview, messages)
	if err == nil {
		var verdict reviewerVerdict
		if perr := extractJSON(c.text, &verdict); perr == nil {
			if verdict.Pass != nil && !*verdict.Pass {
				passed = false
			}
			if n := strings.TrimSpace(verdict.Notes); n != "" {
				notes = append(notes, n)
			}
		}
	} else {
		// The deterministic checks alone decide when no model is
		// reachable.
		e.logger.Warn("reviewer model unavailable, using deterministic checks only", "error", err.Error())
		c = completion{}
	}

	joinedNotes := strings.Join(notes, "; ")
	if joinedNotes == "" {
		if passed {
			joinedNotes = "OK"
		} else {
			joinedNotes = "Needs fixes"
		}
	}

	return core.StageDelta{
		ReviewPassed: &passed,
		ReviewNotes:  joinedNotes,
		Timeline: []core.TimelineEntry{{
			Stage:  core.StageReviewer.Title(),
			Event:  "done",
			Detail: map[string]any{"pass": passed},
		}},
	}, c, nil
}
