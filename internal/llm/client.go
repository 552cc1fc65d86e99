// Package llm wraps an OpenAI-compatible chat-completion endpoint and
// translates its HTTP failures into the service error taxonomy.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"learning-analytics-service/internal/config"
	"learning-analytics-service/internal/errs"
)

// Completer is the reasoning-service surface the summarizer and analysis
// orchestrator depend on.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

func NewClient(cfg config.ReasoningConfig) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

type chatCompletionRequest struct {
	Model               string                  `json:"model"`
	Messages            []chatCompletionMessage `json:"messages"`
	Stream              bool                    `json:"stream"`
	MaxTokens           *int                    `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int                    `json:"max_completion_tokens,omitempty"`
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
	} `json:"choices"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Param   string `json:"param"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends one non-streaming chat completion. Newer models reject
// max_tokens in favor of max_completion_tokens, so the first attempt uses
// max_completion_tokens and an unsupported-parameter rejection is retried
// once with the legacy field.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	request := chatCompletionRequest{
		Model: c.model,
		Messages: []chatCompletionMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Stream:              false,
		MaxCompletionTokens: &maxTokens,
	}

	content, err := c.send(ctx, request)
	if errs.IsUnsupportedParameter(err) {
		log.Printf("reasoning model %s rejected max_completion_tokens, retrying with max_tokens", c.model)
		request.MaxCompletionTokens = nil
		request.MaxTokens = &maxTokens

		content, err = c.send(ctx, request)
		if err != nil {
			var ext *errs.ExternalServiceError
			if errors.As(err, &ext) {
				ext.RetryAttempted = true
			}
			return "", err
		}
		return content, nil
	}
	if err != nil {
		return "", err
	}
	return content, nil
}

func (c *Client) send(ctx context.Context, request chatCompletionRequest) (string, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" && c.apiKey != "none" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := errs.ExternalFailure
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			kind = errs.ExternalTimeout
		}
		return "", &errs.ExternalServiceError{Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &errs.ExternalServiceError{Kind: errs.ExternalFailure, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyAPIError(resp.StatusCode, body)
	}

	var response chatCompletionResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", &errs.ExternalServiceError{Kind: errs.ExternalFailure, Err: fmt.Errorf("malformed completion response: %w", err)}
	}
	if len(response.Choices) == 0 {
		return "", &errs.ExternalServiceError{Kind: errs.ExternalFailure, Err: errors.New("completion response had no choices")}
	}
	return response.Choices[0].Message.Content, nil
}

// classifyAPIError maps the endpoint's structured error body onto the
// error taxonomy. Unknown shapes fall through to a generic failure that
// preserves the raw body for the logs.
func classifyAPIError(status int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		e := apiErr.Error
		switch {
		case e.Code == "context_length_exceeded" || strings.Contains(e.Message, "maximum context length"):
			return &errs.ExternalServiceError{
				Kind: errs.ExternalContextTooLarge,
				Err:  fmt.Errorf("status %d: %s", status, e.Message),
			}
		case e.Code == "unsupported_parameter" || (e.Type == "invalid_request_error" && e.Param == "max_tokens"):
			return &errs.ExternalServiceError{
				Kind: errs.ExternalUnsupportedParameter,
				Err:  fmt.Errorf("status %d: %s", status, e.Message),
			}
		default:
			return &errs.ExternalServiceError{
				Kind: errs.ExternalFailure,
				Err:  fmt.Errorf("status %d: %s", status, e.Message),
			}
		}
	}

	return &errs.ExternalServiceError{
		Kind: errs.ExternalFailure,
		Err:  fmt.Errorf("status %d: %s", status, string(body)),
	}
}

func isTimeout(err error) bool {
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}
