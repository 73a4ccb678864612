package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kpessa/delphi-webapp/internal/config"
)

// ErrLLMDisabled is returned by clients that have no API key configured
var ErrLLMDisabled = errors.New("llm service is not configured")

// ChatMessage is one message of a chat completion conversation
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest describes a chat completion call
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
	JSON        bool
}

// LLMClient talks to an OpenAI-compatible chat completions endpoint
type LLMClient interface {
	Enabled() bool
	ChatCompletion(ctx context.Context, req ChatRequest) (string, error)
}

// LLMService handles interaction with the Language Model
type LLMService struct {
	baseURL string
	apiKey  string
	enabled bool
	client  *http.Client
}

// NewLLMService creates a new LLM service
func NewLLMService(cfg config.LLMConfig) *LLMService {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLMService{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		enabled: cfg.Configured(),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Enabled reports whether calls will be attempted
func (s *LLMService) Enabled() bool {
	return s.enabled
}

type chatRequestBody struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponseBody struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ChatCompletion performs one chat completion and returns the first choice's content
func (s *LLMService) ChatCompletion(ctx context.Context, req ChatRequest) (string, error) {
	if !s.enabled {
		return "", ErrLLMDisabled
	}
	if strings.TrimSpace(req.Model) == "" {
		return "", fmt.Errorf("missing model")
	}

	body := chatRequestBody{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		slog.Error("LLM service unreachable", "error", err)
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			slog.Error("Failed to close response body", "error", err)
		}
	}(resp.Body)

	respRaw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		slog.Error("LLM service returned non-200 status", "status", resp.StatusCode, "body", string(respRaw))
		return "", fmt.Errorf("llm http %d", resp.StatusCode)
	}

	var decoded chatResponseBody
	if err := json.Unmarshal(respRaw, &decoded); err != nil {
		slog.Error("Failed to decode LLM response", "error", err)
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("llm response missing choices")
	}

	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}
