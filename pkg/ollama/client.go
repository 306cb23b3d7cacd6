// Package ollama is a small client for Ollama's HTTP API: chat completions for
// the model-backed claim classifier and embeddings for the corrections index.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client talks to an Ollama server.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a client. A zero timeout leaves the caller's context in charge.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatReq struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResp struct {
	Message Message `json:"message"`
	Error   string  `json:"error,omitempty"`
}

// Chat sends a non-streaming chat request at temperature 0 and returns the
// assistant's content.
func (c *Client) Chat(ctx context.Context, model string, msgs []Message) (string, error) {
	var out chatResp
	if err := c.post(ctx, "/api/chat", chatReq{
		Model:    model,
		Messages: msgs,
		Options:  map[string]any{"temperature": 0},
	}, &out); err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama chat: %s", out.Error)
	}
	return out.Message.Content, nil
}

type embedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	var result embedResp
	if err := c.post(ctx, "/api/embeddings", embedReq{Model: model, Prompt: text}, &result); err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embed: empty embedding")
	}
	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// Embedder binds a client to an embedding model.
type Embedder struct {
	Client *Client
	Model  string
}

// Embed returns the embedding for text.
func (e Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.Client.Embed(ctx, e.Model, text)
}
