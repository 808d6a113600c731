package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// OllamaProvider talks to a local Ollama server's /api/chat.
type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{BaseURL: baseURL, Model: model, Client: &http.Client{Timeout: defaultHTTPTimeout}}
}

type ollamaRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaResponse struct {
	Message         Message `json:"message"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error,omitempty"`
}

func (p *OllamaProvider) Generate(ctx context.Context, messages []Message) (Result, error) {
	var out ollamaResponse
	in := ollamaRequest{Model: p.Model, Messages: messages}
	if err := postJSON(ctx, p.Client, endpoint(p.BaseURL, "/api/chat"), nil, in, &out); err != nil {
		return Result{}, fmt.Errorf("ollama: %w", err)
	}
	if out.Error != "" {
		return Result{}, fmt.Errorf("ollama: %s", out.Error)
	}
	if strings.TrimSpace(out.Message.Content) == "" {
		return Result{}, errors.New("ollama: empty response")
	}
	return Result{Text: out.Message.Content, TokensIn: out.PromptEvalCount, TokensOut: out.EvalCount}, nil
}
