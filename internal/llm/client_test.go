package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"learning-analytics-service/internal/config"
	"learning-analytics-service/internal/errs"
)

func newTestClient(baseURL string, timeout time.Duration) *Client {
	return NewClient(config.ReasoningConfig{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Model:   "test-model",
		Timeout: timeout,
	})
}

func completionBody(content string) string {
	return `{"choices": [{"message": {"role": "assistant", "content": ` + mustJSON(content) + `}}]}`
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestComplete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Unexpected authorization header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		var request map[string]any
		if err := json.Unmarshal(body, &request); err != nil {
			t.Errorf("Malformed request body: %v", err)
		}
		if _, ok := request["max_completion_tokens"]; !ok {
			t.Error("Expected max_completion_tokens on the first attempt")
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completionBody(`{"confidence": 80}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second)
	content, err := client.Complete(context.Background(), "system", "user", 2000)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if content != `{"confidence": 80}` {
		t.Errorf("Unexpected content %q", content)
	}
}

func TestComplete_ContextTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error": {"message": "This model's maximum context length is 128000 tokens", "type": "invalid_request_error", "code": "context_length_exceeded"}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second)
	_, err := client.Complete(context.Background(), "system", "user", 2000)
	if err == nil {
		t.Fatal("Expected an error")
	}
	if !errs.IsContextTooLarge(err) {
		t.Errorf("Expected context-too-large classification, got %v", err)
	}
}

// Newer models reject max_completion_tokens' legacy sibling; the client
// must fall back to max_tokens on an unsupported-parameter rejection.
func TestComplete_UnsupportedParameterRetry(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		body, _ := io.ReadAll(r.Body)
		var request map[string]any
		json.Unmarshal(body, &request)

		if _, ok := request["max_completion_tokens"]; ok {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error": {"message": "Unsupported parameter", "type": "invalid_request_error", "code": "unsupported_parameter", "param": "max_completion_tokens"}}`)
			return
		}
		if _, ok := request["max_tokens"]; !ok {
			t.Error("Expected max_tokens on the retry")
		}
		io.WriteString(w, completionBody("retried fine"))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second)
	content, err := client.Complete(context.Background(), "system", "user", 2000)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
	if content != "retried fine" {
		t.Errorf("Unexpected content %q", content)
	}
}

func TestComplete_RetryFailureIsTagged(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error": {"message": "Unsupported parameter", "type": "invalid_request_error", "code": "unsupported_parameter"}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second)
	_, err := client.Complete(context.Background(), "system", "user", 2000)
	if err == nil {
		t.Fatal("Expected an error")
	}
	var ext *errs.ExternalServiceError
	if !errors.As(err, &ext) {
		t.Fatalf("Expected ExternalServiceError, got %v", err)
	}
	if !ext.RetryAttempted {
		t.Error("Expected the retry-attempted tag after both attempts failed")
	}
}

func TestComplete_TimeoutClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		io.WriteString(w, completionBody("too late"))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 20*time.Millisecond)
	_, err := client.Complete(context.Background(), "system", "user", 2000)
	if err == nil {
		t.Fatal("Expected a timeout error")
	}
	var ext *errs.ExternalServiceError
	if !errors.As(err, &ext) {
		t.Fatalf("Expected ExternalServiceError, got %v", err)
	}
	if ext.Kind != errs.ExternalTimeout {
		t.Errorf("Expected timeout classification, got %s", ext.Kind)
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices": []}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second)
	_, err := client.Complete(context.Background(), "system", "user", 2000)
	if err == nil {
		t.Fatal("Expected an error for a choiceless response")
	}
	var ext *errs.ExternalServiceError
	if !errors.As(err, &ext) || ext.Kind != errs.ExternalFailure {
		t.Errorf("Expected generic failure classification, got %v", err)
	}
}
