// Package gemini communicates with the Google Generative Language API for
// text generation and embeddings. It is the engine's only generative and
// embedding capability; when no API key is configured every call fails
// with ErrUnavailable and callers degrade accordingly.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnavailable reports that the generative/embedding capability cannot
// be used: no credential is configured or the upstream is unreachable.
// Callers must treat it as a capability outage for the request, not a
// per-item error.
var ErrUnavailable = errors.New("gemini: capability unavailable")

// DefaultBaseURL is the production Generative Language API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// EmbedDimension is the output dimension of the embedding model. The
// vector index is created with this dimension; a mismatch is a fatal
// configuration error.
const EmbedDimension = 768

const callTimeout = 15 * time.Second

// Message is a single conversation turn passed as generation history.
type Message struct {
	Role string // "user" or "model"
	Text string
}

// GenerationConfig bounds the sampling behavior of Generate.
type GenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// DefaultGenerationConfig mirrors the settings the assistant was tuned
// with.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:     0.7,
		TopP:            0.95,
		TopK:            40,
		MaxOutputTokens: 2048,
	}
}

// Client calls the Generative Language API over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	httpClient *http.Client
}

// New creates a Client for the given models. An empty apiKey produces a
// client whose calls all fail with ErrUnavailable; construction itself
// never fails so capability absence stays explicit at the call sites.
func New(baseURL, apiKey, model, embedModel string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		embedModel: embedModel,
		httpClient: &http.Client{},
	}
}

// Configured reports whether a credential is present. The orchestrator
// derives its startup state from this.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type contentPart struct {
	Text string `json:"text"`
}

type content struct {
	Role  string        `json:"role,omitempty"`
	Parts []contentPart `json:"parts"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Generate sends the composed prompt plus a bounded history of prior turns
// to the generative model and returns the response text. Failures are
// wrapped in ErrUnavailable so the orchestrator can fall back for the
// request.
func (c *Client) Generate(ctx context.Context, prompt string, history []Message, cfg GenerationConfig) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("%w: no API key configured", ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	contents := make([]content, 0, len(history)+1)
	for _, m := range history {
		contents = append(contents, content{
			Role:  m.Role,
			Parts: []contentPart{{Text: m.Text}},
		})
	}
	contents = append(contents, content{
		Role:  "user",
		Parts: []contentPart{{Text: prompt}},
	})

	body, err := json.Marshal(generateRequest{
		Contents:         contents,
		GenerationConfig: &cfg,
	})
	if err != nil {
		return "", err
	}

	var result generateResponse
	if err := c.post(ctx, c.endpoint(c.model, "generateContent"), body, &result); err != nil {
		return "", err
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty candidate list", ErrUnavailable)
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}

type embedRequest struct {
	Content  content `json:"content"`
	TaskType string  `json:"taskType,omitempty"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// Embedding task types. The API tunes vectors differently for the two
// sides of retrieval, so indexed text and search queries must not share
// a task type.
const (
	taskTypeDocument = "retrieval_document"
	taskTypeQuery    = "retrieval_query"
)

// Embed returns the embedding vector for document text being indexed.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, taskTypeDocument)
}

// EmbedQuery returns the embedding vector for a search query.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, taskTypeQuery)
}

func (c *Client) embed(ctx context.Context, text, taskType string) ([]float32, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: no API key configured", ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{
		Content:  content{Parts: []contentPart{{Text: text}}},
		TaskType: taskType,
	})
	if err != nil {
		return nil, err
	}

	var result embedResponse
	if err := c.post(ctx, c.endpoint(c.embedModel, "embedContent"), body, &result); err != nil {
		return nil, err
	}

	if len(result.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrUnavailable)
	}
	return result.Embedding.Values, nil
}

func (c *Client) endpoint(model, method string) string {
	return fmt.Sprintf("%s/v1beta/models/%s:%s?key=%s",
		c.baseURL, model, method, url.QueryEscape(c.apiKey))
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
	}
	return nil
}
