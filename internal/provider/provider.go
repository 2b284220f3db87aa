// Package provider implements the LLM provider clients and the ordered
// model-chain fallback used by the generation workflow.
package provider

import "strings"

// Kind identifies a provider family. Model IDs are prefixed with the
// family name ("groq/llama3-70b-8192"); the prefix is resolved to a Kind
// exactly once so nothing downstream dispatches on raw strings.
type Kind string

const (
	KindGroq       Kind = "groq"
	KindOpenRouter Kind = "openrouter"
	KindGemini     Kind = "gemini"
	KindOllama     Kind = "ollama"
	KindUnknown    Kind = ""
)

// KindOfModel resolves a model ID to its provider family.
func KindOfModel(model string) Kind {
	prefix, _, ok := strings.Cut(model, "/")
	if !ok {
		return KindUnknown
	}
	switch Kind(prefix) {
	case KindGroq, KindOpenRouter, KindGemini, KindOllama:
		return Kind(prefix)
	default:
		return KindUnknown
	}
}

// UpstreamModel strips the family prefix from a model ID, yielding the
// name the provider API expects. OpenRouter model names themselves
// contain slashes ("openrouter/anthropic/claude-3.5-sonnet"), so only
// the first segment is removed.
func UpstreamModel(model string) string {
	_, rest, ok := strings.Cut(model, "/")
	if !ok {
		return model
	}
	return rest
}

// Credentials maps provider families to optional API keys. A family with
// no key is skipped in every chain, never attempted. Ollama is local and
// needs no key.
type Credentials map[Kind]string

// Available reports whether a model's provider can be attempted.
func (c Credentials) Available(kind Kind) bool {
	if kind == KindOllama {
		return true
	}
	return c[kind] != ""
}

// Key returns the API key for a family, empty if unset.
func (c Credentials) Key(kind Kind) string {
	return c[kind]
}

// Role names one workflow role with its own model chain.
type Role string

const (
	RoleResearch Role = "research"
	RolePlan     Role = "plan"
	RoleCode     Role = "code"
	RoleDesign   Role = "design"
	RoleReview   Role = "review"
)

// Chains holds the per-role model preference lists. Order encodes
// preference, not redundancy: the first reachable model wins.
type Chains map[Role][]string

// ModelsFor returns the chain for a role, nil if unconfigured.
func (c Chains) ModelsFor(role Role) []string {
	return c[role]
}
