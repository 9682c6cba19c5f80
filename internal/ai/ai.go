// Package ai defines the request/response contracts for the embedding and
// generation backends. Spec §1 explicitly scopes the model implementations
// themselves out of this system — only the wire contract is specified.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lanregistry/registryproxy/internal/upstream"
)

// Client talks to a configured embedding/generation backend base URL.
type Client struct {
	upstream          *upstream.Client
	embeddingBaseURL  string
	generationBaseURL string
	embeddingModel    string
	generationModel   string
	timeout           time.Duration
}

// New builds an ai.Client. Either base URL may be empty, in which case the
// corresponding operation always reports unavailable.
func New(u *upstream.Client, embeddingBaseURL, generationBaseURL, embeddingModel, generationModel string, timeout time.Duration) *Client {
	return &Client{
		upstream:          u,
		embeddingBaseURL:  embeddingBaseURL,
		generationBaseURL: generationBaseURL,
		embeddingModel:    embeddingModel,
		generationModel:   generationModel,
		timeout:           timeout,
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed requests an embedding vector for text. A nil slice with a non-nil
// error means "unavailable" (spec's Unavailable-degraded kind), which
// callers must treat as a valid absence, not a fatal error.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if c.embeddingBaseURL == "" {
		return nil, fmt.Errorf("ai: embedding backend not configured")
	}
	reqBody, err := json.Marshal(embedRequest{Model: c.embeddingModel, Input: text})
	if err != nil {
		return nil, fmt.Errorf("ai: encoding embed request: %w", err)
	}
	respBody, status, err := c.upstream.PostJSON(ctx, c.embeddingBaseURL+"/embeddings", reqBody, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("ai: embedding backend unreachable: %w", err)
	}
	if status != 200 {
		return nil, fmt.Errorf("ai: embedding backend returned status %d", status)
	}
	var out embedResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("ai: decoding embed response: %w", err)
	}
	return out.Embedding, nil
}

type generateRequest struct {
	Model    string `json:"model"`
	Question string `json:"question"`
	Context  string `json:"context"`
}

type generateResponse struct {
	Answer string `json:"answer"`
}

// Generate requests a chat answer given a question and retrieved context.
// Errors here are never surfaced to HTTP clients as failures (spec §7); the
// chat route maps an error into a canned error answer.
func (c *Client) Generate(ctx context.Context, question, context_ string) (string, error) {
	if c.generationBaseURL == "" {
		return "", fmt.Errorf("ai: generation backend not configured")
	}
	reqBody, err := json.Marshal(generateRequest{Model: c.generationModel, Question: question, Context: context_})
	if err != nil {
		return "", fmt.Errorf("ai: encoding generate request: %w", err)
	}
	respBody, status, err := c.upstream.PostJSON(ctx, c.generationBaseURL+"/generate", reqBody, c.timeout)
	if err != nil {
		return "", fmt.Errorf("ai: generation backend unreachable: %w", err)
	}
	if status != 200 {
		return "", fmt.Errorf("ai: generation backend returned status %d", status)
	}
	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("ai: decoding generate response: %w", err)
	}
	return out.Answer, nil
}
