package state

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nebulaforge/nebulaforge/internal/core"
)

func newTestRun(id core.RunID) *core.Run {
	run := core.NewRun(id, "build a todo app", core.KindWebApp, "Todo App")
	run.State.Apply(core.StageDelta{
		AppendPlan: "[Research Notes]\nscope\n\n",
		Timeline:   []core.TimelineEntry{{Stage: "Researcher", Event: "done"}},
	})
	run.State.Apply(core.StageDelta{
		CodeFiles: map[string]string{"README.md": "# Todo App"},
		Timeline:  []core.TimelineEntry{{Stage: "Coder", Event: "done", Detail: map[string]any{"files": 1}}},
	})
	return run
}

// stores builds one of each backend against a temp dir.
func stores(t *testing.T) map[string]core.RunStore {
	t.Helper()
	tmp := t.TempDir()

	jsonStore, err := NewJSONRunStore(filepath.Join(tmp, "runs"))
	if err != nil {
		t.Fatalf("NewJSONRunStore() error = %v", err)
	}
	sqliteStore, err := NewSQLiteRunStore(filepath.Join(tmp, "state.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRunStore() error = %v", err)
	}
	t.Cleanup(func() {
		jsonStore.Close()
		sqliteStore.Close()
	})
	return map[string]core.RunStore{"json": jsonStore, "sqlite": sqliteStore}
}

func TestRunStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			run := newTestRun("run-1")
			if err := store.Save(ctx, run); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			loaded, err := store.Load(ctx, "run-1")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if loaded.Title != "Todo App" || loaded.Kind != core.KindWebApp {
				t.Fatalf("round-trip mismatch: %+v", loaded)
			}
			if loaded.State == nil || loaded.State.CodeFiles["README.md"] != "# Todo App" {
				t.Fatalf("state lost in round-trip: %+v", loaded.State)
			}
			if len(loaded.State.Timeline) != 2 {
				t.Fatalf("expected 2 timeline entries, got %d", len(loaded.State.Timeline))
			}
		})
	}
}

func TestRunStore_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			run := newTestRun("run-2")
			if err := store.Save(ctx, run); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			_ = run.Start()
			_ = run.Complete()
			run.ArtifactID = "art-1"
			if err := store.Save(ctx, run); err != nil {
				t.Fatalf("second Save() error = %v", err)
			}

			loaded, err := store.Load(ctx, "run-2")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if loaded.Status != core.RunStatusCompleted || loaded.ArtifactID != "art-1" {
				t.Fatalf("expected updated run, got %+v", loaded)
			}
		})
	}
}

func TestRunStore_LoadMissing(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load(ctx, "nope")
			if !core.IsCategory(err, core.ErrCatNotFound) {
				t.Fatalf("expected not-found error, got %v", err)
			}
		})
	}
}

func TestRunStore_ListOrdering(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Save(ctx, newTestRun("older")); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			time.Sleep(10 * time.Millisecond)
			if err := store.Save(ctx, newTestRun("newer")); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			summaries, err := store.List(ctx)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(summaries) != 2 {
				t.Fatalf("expected 2 summaries, got %d", len(summaries))
			}
			if summaries[0].ID != "newer" {
				t.Fatalf("expected most recently updated first, got %s", summaries[0].ID)
			}
		})
	}
}

func TestRunStore_Delete(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Save(ctx, newTestRun("gone")); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			if err := store.Delete(ctx, "gone"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := store.Load(ctx, "gone"); !core.IsCategory(err, core.ErrCatNotFound) {
				t.Fatalf("expected not-found after delete, got %v", err)
			}
			if err := store.Delete(ctx, "gone"); !core.IsCategory(err, core.ErrCatNotFound) {
				t.Fatalf("expected not-found on double delete, got %v", err)
			}
		})
	}
}

func TestJSONRunStore_ChecksumDetectsTampering(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	store, err := NewJSONRunStore(tmp)
	if err != nil {
		t.Fatalf("NewJSONRunStore() error = %v", err)
	}

	if err := store.Save(ctx, newTestRun("tampered")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	path := filepath.Join(tmp, "tampered.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading run file: %v", err)
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshaling envelope: %v", err)
	}
	var run core.Run
	if err := json.Unmarshal(envelope["run"], &run); err != nil {
		t.Fatalf("unmarshaling run: %v", err)
	}
	run.Prompt = "something else entirely"
	raw, _ := json.Marshal(&run)
	envelope["run"] = raw
	out, _ := json.Marshal(envelope)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		t.Fatalf("writing tampered file: %v", err)
	}

	_, err = store.Load(ctx, "tampered")
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr.Category != core.ErrCatState {
		t.Fatalf("expected state error for checksum mismatch, got %v", err)
	}
}

func TestFactory_Backends(t *testing.T) {
	tmp := t.TempDir()

	sqlite, err := NewRunStore(BackendSQLite, filepath.Join(tmp, "s.db"))
	if err != nil {
		t.Fatalf("sqlite factory error = %v", err)
	}
	defer sqlite.Close()

	jsonStore, err := NewRunStore(BackendJSON, filepath.Join(tmp, "runs"))
	if err != nil {
		t.Fatalf("json factory error = %v", err)
	}
	defer jsonStore.Close()

	if _, err := NewRunStore("postgres", tmp); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
