package workflow

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/nebulaforge/nebulaforge/internal/core"
	"github.com/nebulaforge/nebulaforge/internal/events"
	"github.com/nebulaforge/nebulaforge/internal/provider"
)

// scriptedCaller answers per role, tracking call order and counts.
type scriptedCaller struct {
	mu         sync.Mutex
	roles      []string
	counts     map[string]int
	respond    func(role string, nth int) (string, error)
	swarmCalls int
}

func (s *scriptedCaller) record(role string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.roles = append(s.roles, role)
	n := s.counts[role]
	s.counts[role]++
	return n
}

func (s *scriptedCaller) Try(_ context.Context, role string, models []string, _ []core.Message) (string, string, error) {
	nth := s.record(role)
	text, err := s.respond(role, nth)
	if err != nil {
		return "", "", err
	}
	model := "test/model"
	if len(models) > 0 {
		model = models[0]
	}
	return model, text, nil
}

func (s *scriptedCaller) Swarm(ctx context.Context, role string, models []string, messages []core.Message) (provider.SwarmResult, error) {
	s.mu.Lock()
	s.swarmCalls++
	s.mu.Unlock()
	model, text, err := s.Try(ctx, role, models, messages)
	if err != nil {
		return provider.SwarmResult{}, err
	}
	return provider.SwarmResult{Model: model, Text: text, Candidates: 2}, nil
}

// memStore counts saves and keeps the latest snapshot.
type memStore struct {
	mu    sync.Mutex
	saves int
	runs  map[core.RunID]*core.Run
}

func newMemStore() *memStore {
	return &memStore{runs: make(map[core.RunID]*core.Run)}
}

func (m *memStore) Save(_ context.Context, run *core.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.runs[run.ID] = run
	return nil
}

func (m *memStore) Load(_ context.Context, id core.RunID) (*core.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, core.ErrNotFound("run", string(id))
	}
	return run, nil
}

func (m *memStore) List(context.Context) ([]core.RunSummary, error) { return nil, nil }
func (m *memStore) Delete(context.Context, core.RunID) error        { return nil }
func (m *memStore) Close() error                                    { return nil }

type fakeArchiver struct{}

func (fakeArchiver) Archive(files map[string]string) ([]byte, error) {
	return []byte("zip"), nil
}

type fakeSink struct {
	mu     sync.Mutex
	stored []string
}

func (f *fakeSink) Store(runID core.RunID, artifactID string, data []byte) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, artifactID)
	return "/tmp/artifacts/" + artifactID + ".zip", "/api/v1/runs/" + string(runID) + "/artifact", nil
}

const goodCoderJSON = `{"files":[{"path":"README.md","content":"# App\nnpm install && npm run dev"},{"path":"src/app/page.tsx","content":"export default function Page() { return null }"}]}`

const noReadmeCoderJSON = `{"files":[{"path":"src/app/page.tsx","content":"export default function Page() { return null }"}]}`

// passingResponder scripts a clean single-pass run.
func passingResponder(role string, _ int) (string, error) {
	switch role {
	case "research":
		return "requirements and scope", nil
	case "plan":
		return "1. scaffold 2. implement", nil
	case "code":
		return goodCoderJSON, nil
	case "design":
		return `{"image_prompts":["hero shot"]}`, nil
	case "review":
		return `{"pass": true, "notes": ""}`, nil
	}
	return "", core.ErrProvider("test/model", "unknown role")
}

func newTestEngine(caller Caller, store core.RunStore, bus *events.Bus, swarm bool) *Engine {
	chains := provider.Chains{
		provider.RoleResearch: {"groq/llama3-70b-8192"},
		provider.RolePlan:     {"groq/llama3-70b-8192"},
		provider.RoleCode:     {"groq/llama3-70b-8192"},
		provider.RoleDesign:   {"groq/llama3-70b-8192"},
		provider.RoleReview:   {"groq/llama3-70b-8192"},
	}
	return NewEngine(Config{
		Caller:    caller,
		Chains:    chains,
		Store:     store,
		Bus:       bus,
		Archiver:  fakeArchiver{},
		Artifacts: &fakeSink{},
		SwarmMode: swarm,
	})
}

func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestExecute_HappyPath(t *testing.T) {
	caller := &scriptedCaller{respond: passingResponder}
	store := newMemStore()
	bus := events.New(100)
	defer bus.Close()
	ch := bus.Subscribe()

	run := core.NewRun("r1", "a todo app", core.KindWebApp, "")
	engine := newTestEngine(caller, store, bus, false)

	if err := engine.Execute(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Status != core.RunStatusCompleted {
		t.Fatalf("expected completed run, got %s", run.Status)
	}
	if run.ArtifactID == "" || run.ArtifactPath == "" {
		t.Fatal("expected artifact reference on completed run")
	}

	wantRoles := []string{"research", "plan", "code", "design", "review"}
	if len(caller.roles) != len(wantRoles) {
		t.Fatalf("expected roles %v, got %v", wantRoles, caller.roles)
	}
	for i, role := range wantRoles {
		if caller.roles[i] != role {
			t.Fatalf("stage order violated at %d: expected %s, got %s", i, role, caller.roles[i])
		}
	}

	// Research notes precede the plan in the accumulated text.
	ri := strings.Index(run.State.Plan, "[Research Notes]")
	pi := strings.Index(run.State.Plan, "[Plan]")
	if ri == -1 || pi == -1 || ri > pi {
		t.Fatalf("plan accumulation malformed: %q", run.State.Plan)
	}

	if len(run.State.Timeline) != 5 {
		t.Fatalf("expected 5 timeline entries, got %d", len(run.State.Timeline))
	}
	if !run.State.ReviewPassed || run.State.ReviewNotes != "OK" {
		t.Fatalf("expected passing review with OK notes, got %v %q", run.State.ReviewPassed, run.State.ReviewNotes)
	}

	evs := drain(ch)
	var statuses []string
	for _, ev := range evs {
		if st, ok := ev.(events.StatusEvent); ok {
			statuses = append(statuses, st.Message)
		}
	}
	want := []string{"swarm_started", "packaging", "completed"}
	if len(statuses) != len(want) {
		t.Fatalf("expected statuses %v, got %v", want, statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("status order: expected %v, got %v", want, statuses)
		}
	}
}

func TestExecute_ReviewFailureLoopIsBounded(t *testing.T) {
	// No README: deterministic review failure on every pass.
	responder := func(role string, nth int) (string, error) {
		switch role {
		case "code":
			return noReadmeCoderJSON, nil
		case "review":
			return `{"pass": false, "notes": "missing docs"}`, nil
		default:
			return passingResponder(role, nth)
		}
	}
	caller := &scriptedCaller{respond: responder}
	store := newMemStore()
	bus := events.New(200)
	defer bus.Close()

	run := core.NewRun("r2", "an api", core.KindAPI, "")
	engine := newTestEngine(caller, store, bus, false)

	if err := engine.Execute(context.Background(), run); err != nil {
		t.Fatalf("run with failing review must still complete: %v", err)
	}

	// 1 research + 3 each of plan/code/design/review: initial pass plus
	// two bounded retries.
	if got := caller.counts["research"]; got != 1 {
		t.Fatalf("research must run once, got %d", got)
	}
	for _, role := range []string{"plan", "code", "design", "review"} {
		if got := caller.counts[role]; got != 3 {
			t.Fatalf("expected 3 %s passes, got %d", role, got)
		}
	}
	if run.State.Iterations != run.State.MaxIterations {
		t.Fatalf("expected iterations to hit the cap, got %d", run.State.Iterations)
	}
	if run.State.ReviewPassed {
		t.Fatal("review must remain failed after exhausting retries")
	}
	if run.Status != core.RunStatusCompleted {
		t.Fatalf("run completes with failing review recorded, got %s", run.Status)
	}
	if !strings.Contains(run.State.ReviewNotes, "Missing README.md") {
		t.Fatalf("expected deterministic note, got %q", run.State.ReviewNotes)
	}
}

func TestExecute_ReviewRecoveryOnRetry(t *testing.T) {
	// First coder pass omits the README, second pass fixes it.
	responder := func(role string, nth int) (string, error) {
		if role == "code" && nth == 0 {
			return noReadmeCoderJSON, nil
		}
		return passingResponder(role, nth)
	}
	caller := &scriptedCaller{respond: responder}
	store := newMemStore()
	bus := events.New(200)
	defer bus.Close()

	run := core.NewRun("r3", "a todo app", core.KindWebApp, "")
	engine := newTestEngine(caller, store, bus, false)

	if err := engine.Execute(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !run.State.ReviewPassed {
		t.Fatal("expected review to pass after retry")
	}
	if run.State.Iterations != 1 {
		t.Fatalf("expected exactly one retry, got %d", run.State.Iterations)
	}
	// Stale files from the first pass must not survive: the file set is
	// replaced wholesale, and the fixed pass includes README.md.
	if _, ok := run.State.CodeFiles["README.md"]; !ok {
		t.Fatal("expected regenerated file set to contain README.md")
	}
}

func TestExecute_ConfiguredIterationCap(t *testing.T) {
	// No README: deterministic review failure on every pass.
	responder := func(role string, nth int) (string, error) {
		switch role {
		case "code":
			return noReadmeCoderJSON, nil
		case "review":
			return `{"pass": false, "notes": "missing docs"}`, nil
		default:
			return passingResponder(role, nth)
		}
	}
	caller := &scriptedCaller{respond: responder}
	bus := events.New(400)
	defer bus.Close()

	run := core.NewRun("r12", "an api", core.KindAPI, "")
	engine := NewEngine(Config{
		Caller: caller,
		Chains: provider.Chains{
			provider.RoleResearch: {"groq/llama3-70b-8192"},
			provider.RolePlan:     {"groq/llama3-70b-8192"},
			provider.RoleCode:     {"groq/llama3-70b-8192"},
			provider.RoleDesign:   {"groq/llama3-70b-8192"},
			provider.RoleReview:   {"groq/llama3-70b-8192"},
		},
		Store:         newMemStore(),
		Bus:           bus,
		Archiver:      fakeArchiver{},
		Artifacts:     &fakeSink{},
		MaxIterations: 4,
	})

	if err := engine.Execute(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Initial pass plus four configured retries.
	for _, role := range []string{"plan", "code", "design", "review"} {
		if got := caller.counts[role]; got != 5 {
			t.Fatalf("expected 5 %s passes with a cap of 4, got %d", role, got)
		}
	}
	if run.State.MaxIterations != 4 {
		t.Fatalf("expected configured cap on run state, got %d", run.State.MaxIterations)
	}
	if run.State.Iterations != 4 {
		t.Fatalf("expected iterations to hit the configured cap, got %d", run.State.Iterations)
	}
}

func TestExecute_CompletedNodesCarryStageOutput(t *testing.T) {
	caller := &scriptedCaller{respond: passingResponder}
	bus := events.New(100)
	defer bus.Close()
	ch := bus.Subscribe(events.TypeNode)

	run := core.NewRun("r13", "a todo app", core.KindWebApp, "")
	engine := newTestEngine(caller, newMemStore(), bus, false)
	if err := engine.Execute(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	completed := make(map[string]map[string]any)
	for _, ev := range drain(ch) {
		if node, ok := ev.(events.NodeEvent); ok && node.Phase == "completed" {
			completed[node.Stage] = node.Detail
		}
	}

	plan, _ := completed["Planner"]["plan"].(string)
	if !strings.Contains(plan, "[Plan]") {
		t.Fatalf("planner completion must carry the appended plan, got %v", completed["Planner"])
	}
	if files, _ := completed["Coder"]["files"].(int); files != 2 {
		t.Fatalf("coder completion must carry the file count, got %v", completed["Coder"])
	}
	paths, _ := completed["Coder"]["paths"].([]string)
	if len(paths) != 2 || paths[0] != "README.md" {
		t.Fatalf("coder completion must carry sorted file paths, got %v", paths)
	}
	prompts, _ := completed["Designer"]["image_prompts"].([]string)
	if len(prompts) != 1 || prompts[0] != "hero shot" {
		t.Fatalf("designer completion must carry the prompts, got %v", completed["Designer"])
	}
	if passed, _ := completed["Reviewer"]["passed"].(bool); !passed {
		t.Fatalf("reviewer completion must carry the verdict, got %v", completed["Reviewer"])
	}
	if notes, _ := completed["Reviewer"]["review"].(string); notes != "OK" {
		t.Fatalf("reviewer completion must carry the notes, got %v", completed["Reviewer"])
	}
}

func TestExecute_StageFailurePreservesCompletedState(t *testing.T) {
	responder := func(role string, nth int) (string, error) {
		if role == "code" {
			return "", core.ErrProvidersExhausted("code", core.ErrProvider("groq/llama3-70b-8192", "503"))
		}
		return passingResponder(role, nth)
	}
	caller := &scriptedCaller{respond: responder}
	store := newMemStore()
	bus := events.New(100)
	defer bus.Close()
	ch := bus.Subscribe()

	run := core.NewRun("r4", "a todo app", core.KindWebApp, "")
	engine := newTestEngine(caller, store, bus, false)

	err := engine.Execute(context.Background(), run)
	if err == nil {
		t.Fatal("expected error when a stage exhausts its chain")
	}
	if run.Status != core.RunStatusFailed {
		t.Fatalf("expected failed run, got %s", run.Status)
	}
	if !strings.Contains(run.State.Plan, "[Research Notes]") || !strings.Contains(run.State.Plan, "[Plan]") {
		t.Fatalf("completed-stage state must survive failure: %q", run.State.Plan)
	}

	var sawError, sawFailedStatus bool
	for _, ev := range drain(ch) {
		switch e := ev.(type) {
		case events.ErrorEvent:
			sawError = true
			if e.Code != core.CodeProvidersExhausted {
				t.Fatalf("expected providers-exhausted code on error event, got %q", e.Code)
			}
		case events.StatusEvent:
			if e.Message == "failed" {
				sawFailedStatus = true
			}
		}
	}
	if !sawError || !sawFailedStatus {
		t.Fatal("expected terminal error and failed-status events")
	}
}

func TestExecute_MalformedCoderOutput(t *testing.T) {
	responder := func(role string, nth int) (string, error) {
		if role == "code" {
			return "here are your files: README.md and page.tsx", nil
		}
		return passingResponder(role, nth)
	}
	caller := &scriptedCaller{respond: responder}
	run := core.NewRun("r5", "a todo app", core.KindWebApp, "")
	bus := events.New(100)
	defer bus.Close()
	engine := newTestEngine(caller, newMemStore(), bus, false)

	err := engine.Execute(context.Background(), run)
	if !core.IsCode(err, core.CodeMalformedResponse) {
		t.Fatalf("expected malformed-response error, got %v", err)
	}
}

func TestExecute_EmptyCoderOutput(t *testing.T) {
	responder := func(role string, nth int) (string, error) {
		if role == "code" {
			return `{"files": []}`, nil
		}
		return passingResponder(role, nth)
	}
	caller := &scriptedCaller{respond: responder}
	run := core.NewRun("r6", "a todo app", core.KindWebApp, "")
	bus := events.New(100)
	defer bus.Close()
	engine := newTestEngine(caller, newMemStore(), bus, false)

	err := engine.Execute(context.Background(), run)
	if !core.IsCode(err, core.CodeEmptyGeneration) {
		t.Fatalf("expected empty-generation error, got %v", err)
	}
}

func TestExecute_DesignerCapsPrompts(t *testing.T) {
	responder := func(role string, nth int) (string, error) {
		if role == "design" {
			return `{"image_prompts":["a","b","c","d","e"]}`, nil
		}
		return passingResponder(role, nth)
	}
	caller := &scriptedCaller{respond: responder}
	run := core.NewRun("r7", "a todo app", core.KindWebApp, "")
	bus := events.New(100)
	defer bus.Close()
	engine := newTestEngine(caller, newMemStore(), bus, false)

	if err := engine.Execute(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(run.State.ImagePrompts) != core.MaxImagePrompts {
		t.Fatalf("expected %d prompts, got %d", core.MaxImagePrompts, len(run.State.ImagePrompts))
	}
}

func TestExecute_ReviewerDenyList(t *testing.T) {
	responder := func(role string, nth int) (string, error) {
		if role == "code" {
			return `{"files":[{"path":"README.md","content":"# App"},{"path":".env.example","content":"STRIPE_SECRET_KEY=sk_live_abc"}]}`, nil
		}
		return passingResponder(role, nth)
	}
	caller := &scriptedCaller{respond: responder}
	run := core.NewRun("r8", "a shop", core.KindWebApp, "")
	bus := events.New(200)
	defer bus.Close()
	engine := newTestEngine(caller, newMemStore(), bus, false)

	if err := engine.Execute(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.State.ReviewPassed {
		t.Fatal("inlined secret names must fail review")
	}
	if !strings.Contains(run.State.ReviewNotes, "secret") {
		t.Fatalf("expected secret note, got %q", run.State.ReviewNotes)
	}
}

func TestExecute_ReviewerModelUnreachableDegrades(t *testing.T) {
	responder := func(role string, nth int) (string, error) {
		if role == "review" {
			return "", core.ErrProvidersExhausted("review", nil)
		}
		return passingResponder(role, nth)
	}
	caller := &scriptedCaller{respond: responder}
	run := core.NewRun("r9", "a todo app", core.KindWebApp, "")
	bus := events.New(100)
	defer bus.Close()
	engine := newTestEngine(caller, newMemStore(), bus, false)

	if err := engine.Execute(context.Background(), run); err != nil {
		t.Fatalf("reviewer degradation must not fail the run: %v", err)
	}
	if !run.State.ReviewPassed || run.State.ReviewNotes != "OK" {
		t.Fatalf("deterministic checks alone should pass clean output, got %v %q",
			run.State.ReviewPassed, run.State.ReviewNotes)
	}
}

func TestExecute_PersistsAfterEveryTransition(t *testing.T) {
	caller := &scriptedCaller{respond: passingResponder}
	store := newMemStore()
	bus := events.New(100)
	defer bus.Close()

	run := core.NewRun("r10", "a todo app", core.KindWebApp, "")
	engine := newTestEngine(caller, store, bus, false)
	if err := engine.Execute(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Start, five stages, completion: seven checkpoints minimum.
	if store.saves < 7 {
		t.Fatalf("expected at least 7 checkpoints, got %d", store.saves)
	}
}

func TestExecute_SwarmModeBroadcasts(t *testing.T) {
	caller := &scriptedCaller{respond: passingResponder}
	store := newMemStore()
	bus := events.New(100)
	defer bus.Close()
	ch := bus.Subscribe(events.TypeNode)

	run := core.NewRun("r11", "a todo app", core.KindWebApp, "")
	engine := newTestEngine(caller, store, bus, true)
	if err := engine.Execute(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caller.swarmCalls != 5 {
		t.Fatalf("expected every stage to broadcast, got %d swarm calls", caller.swarmCalls)
	}

	var tagged bool
	for _, ev := range drain(ch) {
		if node, ok := ev.(events.NodeEvent); ok && node.Phase == "completed" {
			if _, ok := node.Detail["candidates"]; ok {
				tagged = true
			}
		}
	}
	if !tagged {
		t.Fatal("expected swarm completions to carry the candidate count")
	}
}
