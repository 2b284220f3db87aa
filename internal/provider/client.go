package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nebulaforge/nebulaforge/internal/core"
	"github.com/nebulaforge/nebulaforge/internal/logging"
)

// Endpoints holds the base URLs for each provider family.
type Endpoints struct {
	Groq       string
	OpenRouter string
	Gemini     string
	Ollama     string
}

// DefaultEndpoints returns the public provider endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Groq:       "https://api.groq.com/openai/v1",
		OpenRouter: "https://openrouter.ai/api/v1",
		Gemini:     "https://generativelanguage.googleapis.com/v1beta",
		Ollama:     "http://127.0.0.1:11434",
	}
}

// timeoutFor returns the per-family call timeout. Each network call is a
// suspension point with an explicit deadline; expiry is treated as a
// plain failure for fallback purposes.
func timeoutFor(kind Kind) time.Duration {
	switch kind {
	case KindGroq:
		return 15 * time.Second
	case KindGemini:
		return 20 * time.Second
	default:
		return 30 * time.Second
	}
}

// Client implements core.ProviderClient over HTTP. Groq, OpenRouter and
// Ollama speak the OpenAI chat-completions dialect; Gemini has its own
// generateContent envelope.
type Client struct {
	httpClient *http.Client
	endpoints  Endpoints
	creds      Credentials
	logger     *logging.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client (used in tests).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithEndpoints overrides the provider base URLs.
func WithEndpoints(ep Endpoints) ClientOption {
	return func(c *Client) { c.endpoints = ep }
}

// WithLogger sets the client logger.
func WithLogger(logger *logging.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a provider client with the given credentials.
func NewClient(creds Credentials, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{},
		endpoints:  DefaultEndpoints(),
		creds:      creds,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call invokes a single named model and returns the response text. Fails
// with a provider error carrying the upstream status/detail on network
// failure, non-2xx response, or a response envelope missing the expected
// fields.
func (c *Client) Call(ctx context.Context, model string, messages []core.Message) (string, error) {
	kind := KindOfModel(model)
	if kind == KindUnknown {
		return "", core.ErrProvider(model, "unknown provider family")
	}
	if !c.creds.Available(kind) {
		return "", &core.DomainError{
			Category: core.ErrCatProvider,
			Code:     core.CodeMissingCredential,
			Message:  fmt.Sprintf("no API key configured for %s", kind),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutFor(kind))
	defer cancel()

	start := time.Now()
	var text string
	var err error
	if kind == KindGemini {
		text, err = c.callGemini(ctx, model, messages)
	} else {
		text, err = c.callOpenAICompatible(ctx, kind, model, messages)
	}
	if err != nil {
		c.logger.Debug("model call failed",
			"model", model,
			"duration", time.Since(start),
			"error", err.Error(),
		)
		return "", err
	}

	c.logger.Debug("model call succeeded", "model", model, "duration", time.Since(start))
	return text, nil
}

// chatRequest is the OpenAI-compatible request envelope.
type chatRequest struct {
	Model    string         `json:"model"`
	Messages []core.Message `json:"messages"`
}

// chatResponse is the subset of the OpenAI-compatible response we need.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) callOpenAICompatible(ctx context.Context, kind Kind, model string, messages []core.Message) (string, error) {
	var base string
	switch kind {
	case KindGroq:
		base = c.endpoints.Groq
	case KindOpenRouter:
		base = c.endpoints.OpenRouter
	case KindOllama:
		base = c.endpoints.Ollama + "/v1"
	}
	url := base + "/chat/completions"

	body, err := json.Marshal(chatRequest{
		Model:    UpstreamModel(model),
		Messages: messages,
	})
	if err != nil {
		return "", core.ErrProvider(model, "marshaling request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", core.ErrProvider(model, "building request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := c.creds.Key(kind); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	respBody, err := c.do(req, model)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", core.ErrProvider(model, "parsing response").WithCause(err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", core.ErrProvider(model, "response missing choices[0].message.content")
	}
	return parsed.Choices[0].Message.Content, nil
}

// geminiRequest is the generateContent request envelope.
type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (c *Client) callGemini(ctx context.Context, model string, messages []core.Message) (string, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent", c.endpoints.Gemini, UpstreamModel(model))

	// Gemini has no system role; system text is folded into the first
	// user turn.
	contents := make([]geminiContent, 0, len(messages))
	var system string
	for _, m := range messages {
		if m.Role == "system" {
			system += m.Content + "\n"
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		text := m.Content
		if system != "" && role == "user" && len(contents) == 0 {
			text = system + "\n" + text
			system = ""
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: text}}})
	}

	body, err := json.Marshal(geminiRequest{Contents: contents})
	if err != nil {
		return "", core.ErrProvider(model, "marshaling request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", core.ErrProvider(model, "building request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.creds.Key(KindGemini))

	respBody, err := c.do(req, model)
	if err != nil {
		return "", err
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", core.ErrProvider(model, "parsing response").WithCause(err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", core.ErrProvider(model, "response missing candidates[0].content.parts")
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

// do sends the request and returns the body, mapping transport and HTTP
// failures to provider errors.
func (c *Client) do(req *http.Request, model string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.ErrProvider(model, "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, core.ErrProvider(model, "reading response").WithCause(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := string(body)
		if len(detail) > 512 {
			detail = detail[:512]
		}
		return nil, core.ErrProvider(model, fmt.Sprintf("upstream returned %d: %s", resp.StatusCode, detail)).
			WithDetail("status", resp.StatusCode)
	}
	return body, nil
}
