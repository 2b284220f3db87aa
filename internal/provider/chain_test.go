package provider

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nebulaforge/nebulaforge/internal/core"
)

// fakeClient scripts per-model responses and records invocation order.
type fakeClient struct {
	mu        sync.Mutex
	responses map[string]string
	failures  map[string]error
	calls     []string
}

func (f *fakeClient) Call(_ context.Context, model string, _ []core.Message) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, model)
	f.mu.Unlock()
	if err, ok := f.failures[model]; ok {
		return "", err
	}
	if text, ok := f.responses[model]; ok {
		return text, nil
	}
	return "", errors.New("unscripted model: " + model)
}

func allCreds() Credentials {
	return Credentials{
		KindGroq:       "gsk_test",
		KindOpenRouter: "sk-or-test",
		KindGemini:     "AIza-test",
	}
}

func TestTry_FallsBackInOrder(t *testing.T) {
	chain := []string{
		"groq/llama3-70b-8192",
		"openrouter/anthropic/claude-3.5-sonnet",
		"openrouter/openai/gpt-4o",
		"gemini/gemini-1.5-pro",
	}
	fake := &fakeClient{
		failures: map[string]error{
			"groq/llama3-70b-8192":                   core.ErrProvider("groq/llama3-70b-8192", "503"),
			"openrouter/anthropic/claude-3.5-sonnet": core.ErrProvider("openrouter/anthropic/claude-3.5-sonnet", "429"),
		},
		responses: map[string]string{
			"openrouter/openai/gpt-4o": "third time lucky",
			"gemini/gemini-1.5-pro":    "never reached",
		},
	}
	runner := NewRunner(fake, allCreds(), nil)

	model, text, err := runner.Try(context.Background(), "plan", chain, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "openrouter/openai/gpt-4o" || text != "third time lucky" {
		t.Fatalf("expected third model to win, got %s / %q", model, text)
	}
	// Failing models each tried exactly once, winner last, rest untouched.
	want := []string{chain[0], chain[1], chain[2]}
	if len(fake.calls) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), fake.calls)
	}
	for i, m := range want {
		if fake.calls[i] != m {
			t.Fatalf("call %d: expected %s, got %s", i, m, fake.calls[i])
		}
	}
}

func TestTry_SkipsKeylessProviders(t *testing.T) {
	chain := []string{"groq/llama3-70b-8192", "ollama/llama3:8b"}
	fake := &fakeClient{responses: map[string]string{"ollama/llama3:8b": "local answer"}}
	runner := NewRunner(fake, Credentials{}, nil) // no keys at all

	model, _, err := runner.Try(context.Background(), "code", chain, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "ollama/llama3:8b" {
		t.Fatalf("expected keyless groq to be skipped, got %s", model)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("groq must never be attempted without a key, calls: %v", fake.calls)
	}
}

func TestTry_ExhaustionWrapsLastFailure(t *testing.T) {
	lastErr := core.ErrProvider("gemini/gemini-1.5-pro", "quota exceeded")
	fake := &fakeClient{
		failures: map[string]error{
			"groq/llama3-70b-8192":  core.ErrProvider("groq/llama3-70b-8192", "503"),
			"gemini/gemini-1.5-pro": lastErr,
		},
	}
	runner := NewRunner(fake, allCreds(), nil)

	_, _, err := runner.Try(context.Background(), "review",
		[]string{"groq/llama3-70b-8192", "gemini/gemini-1.5-pro"}, nil)
	if err == nil {
		t.Fatalf("expected exhaustion error")
	}
	if !core.IsCode(err, core.CodeProvidersExhausted) {
		t.Fatalf("expected providers-exhausted code, got %v", err)
	}
	if !errors.Is(err, lastErr) {
		t.Fatalf("exhaustion error must wrap the final provider failure")
	}
	if !strings.Contains(err.Error(), "review") {
		t.Fatalf("expected role in error text, got %v", err)
	}
}

func TestTry_EmptyChainAfterFiltering(t *testing.T) {
	runner := NewRunner(&fakeClient{}, Credentials{}, nil)
	_, _, err := runner.Try(context.Background(), "design", []string{"groq/llama3-70b-8192"}, nil)
	if !core.IsCode(err, core.CodeProvidersExhausted) {
		t.Fatalf("expected providers-exhausted error, got %v", err)
	}
}

func TestSwarm_ListOrderWinsOverArrivalOrder(t *testing.T) {
	chain := []string{
		"groq/llama3-70b-8192",
		"openrouter/openai/gpt-4o",
		"gemini/gemini-1.5-pro",
	}
	fake := &fakeClient{
		failures: map[string]error{
			"groq/llama3-70b-8192": core.ErrProvider("groq/llama3-70b-8192", "503"),
		},
		responses: map[string]string{
			"openrouter/openai/gpt-4o": "preferred",
			"gemini/gemini-1.5-pro":    "also valid",
		},
	}
	runner := NewRunner(fake, allCreds(), nil)

	res, err := runner.Swarm(context.Background(), "code", chain, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Model != "openrouter/openai/gpt-4o" {
		t.Fatalf("first valid model in chain order must win, got %s", res.Model)
	}
	if res.Candidates != 2 {
		t.Fatalf("expected 2 valid candidates, got %d", res.Candidates)
	}
	if len(fake.calls) != 3 {
		t.Fatalf("swarm must attempt every reachable model, calls: %v", fake.calls)
	}
}

func TestSwarm_AllFail(t *testing.T) {
	fake := &fakeClient{
		failures: map[string]error{
			"groq/llama3-70b-8192":  core.ErrProvider("groq/llama3-70b-8192", "503"),
			"gemini/gemini-1.5-pro": core.ErrProvider("gemini/gemini-1.5-pro", "quota"),
		},
	}
	runner := NewRunner(fake, allCreds(), nil)

	_, err := runner.Swarm(context.Background(), "plan",
		[]string{"groq/llama3-70b-8192", "gemini/gemini-1.5-pro"}, nil)
	if !core.IsCode(err, core.CodeProvidersExhausted) {
		t.Fatalf("expected providers-exhausted error, got %v", err)
	}
}
