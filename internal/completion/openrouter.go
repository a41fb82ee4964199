package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/valpere/aclarador/internal/postprocess"
)

const (
	defaultOpenRouterURL   = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel = "meta-llama/llama-3.1-8b-instruct:free"
)

// OpenRouter calls the OpenRouter chat completions API.
type OpenRouter struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewOpenRouter creates an OpenRouter client.
func NewOpenRouter(apiKey, baseURL, model string, timeout time.Duration) *OpenRouter {
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}
	if model == "" {
		model = defaultOpenRouterModel
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenRouter{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *OpenRouter) Name() string {
	return "openrouter:" + s.model
}

// Complete sends prompt as a single user message.
func (s *OpenRouter) Complete(ctx context.Context, prompt string) (string, error) {
	if s.apiKey == "" {
		return "", unavailable(s.Name(), fmt.Errorf("API key required"))
	}

	jsonData, err := json.Marshal(chatRequest{
		Model:     s.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: 4096,
	})
	if err != nil {
		return "", unavailable(s.Name(), fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", unavailable(s.Name(), fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("X-Title", "aclarador")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", unavailable(s.Name(), fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", unavailable(s.Name(), &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))})
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", unavailable(s.Name(), fmt.Errorf("failed to decode response: %w", err))
	}
	if len(out.Choices) == 0 {
		return "", unavailable(s.Name(), fmt.Errorf("empty response from API"))
	}

	text := postprocess.Clean(out.Choices[0].Message.Content)
	if text == "" {
		return "", unavailable(s.Name(), fmt.Errorf("empty response from API"))
	}
	return text, nil
}
