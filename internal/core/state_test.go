package core

import "testing"

func TestRunState_ApplyAdditive(t *testing.T) {
	st := NewRunState("build a todo app", KindWebApp)

	st.Apply(StageDelta{
		AppendPlan: "[Research Notes]\nnotes\n\n",
		Timeline:   []TimelineEntry{{Stage: "Researcher", Event: "done"}},
	})
	st.Apply(StageDelta{
		AppendPlan: "[Plan]\nsteps\n",
		Timeline:   []TimelineEntry{{Stage: "Planner", Event: "done"}},
	})

	if st.Plan != "[Research Notes]\nnotes\n\n[Plan]\nsteps\n" {
		t.Fatalf("unexpected plan: %q", st.Plan)
	}
	if len(st.Timeline) != 2 {
		t.Fatalf("expected 2 timeline entries, got %d", len(st.Timeline))
	}

	// A delta without code files must not drop the existing set.
	st.Apply(StageDelta{CodeFiles: map[string]string{"README.md": "hi"}})
	st.Apply(StageDelta{ImagePrompts: []string{"a", "b"}})
	if len(st.CodeFiles) != 1 {
		t.Fatalf("code files dropped by unrelated delta")
	}
}

func TestRunState_ApplyReplacesFilesOnRetry(t *testing.T) {
	st := NewRunState("p", KindAPI)
	st.Apply(StageDelta{CodeFiles: map[string]string{"stale.txt": "old", "README.md": "v1"}})
	st.Apply(StageDelta{CodeFiles: map[string]string{"README.md": "v2"}})

	if _, ok := st.CodeFiles["stale.txt"]; ok {
		t.Fatalf("stale file survived regeneration")
	}
	if st.CodeFiles["README.md"] != "v2" {
		t.Fatalf("expected regenerated README, got %q", st.CodeFiles["README.md"])
	}
}

func TestRunState_TimelineOnlyGrows(t *testing.T) {
	st := NewRunState("p", KindWebApp)
	for i := 0; i < 5; i++ {
		st.Apply(StageDelta{Timeline: []TimelineEntry{{Stage: "Planner", Event: "done"}}})
	}
	if len(st.Timeline) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(st.Timeline))
	}
}

func TestRunState_Validate(t *testing.T) {
	st := NewRunState("", KindWebApp)
	if err := st.Validate(); err == nil {
		t.Fatalf("expected error for empty prompt")
	}

	st = NewRunState("p", KindWebApp)
	st.Iterations = 3
	if err := st.Validate(); err == nil {
		t.Fatalf("expected error for iterations above cap")
	}

	st.Iterations = 2
	if err := st.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
