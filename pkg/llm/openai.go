package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
	maxRetries           = 3
	initialRetryDelay    = 1 * time.Second
	backoffFactor        = 2.0
)

// OpenAIConfig configures the OpenAI chat client. Only APIKey is required.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	// SystemPrompt is prepended to every completion when non-empty.
	SystemPrompt string
	HTTPClient   *http.Client
}

// OpenAILLM implements LLMClient against the OpenAI Chat Completions API,
// with exponential backoff on rate limits and server errors.
type OpenAILLM struct {
	cfg OpenAIConfig
}

// NewOpenAILLM creates an OpenAI chat client.
func NewOpenAILLM(cfg OpenAIConfig) (*OpenAILLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &OpenAILLM{cfg: cfg}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends a prompt, retrying transient failures with jittered
// exponential backoff.
func (o *OpenAILLM) Complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	delay := initialRetryDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			jitter := delay/2 + time.Duration(rand.Int63n(int64(delay)))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			delay = time.Duration(float64(delay) * backoffFactor)
		}

		result, err := o.request(ctx, prompt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var transient *transientError
		if !errors.As(err, &transient) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	return "", fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

// CompleteWithSchema completes and unmarshals the JSON response into
// schema, stripping any markdown code fence the model wrapped it in.
func (o *OpenAILLM) CompleteWithSchema(ctx context.Context, prompt string, schema any) error {
	response, err := o.Complete(ctx, prompt)
	if err != nil {
		return err
	}

	cleaned := StripMarkdownCodeFence(response)
	if err := json.Unmarshal([]byte(cleaned), schema); err != nil {
		return fmt.Errorf("failed to unmarshal completion: %w", err)
	}
	return nil
}

var fenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*\n?(.*?)\\s*```$")

// StripMarkdownCodeFence removes a surrounding ```json ... ``` fence, a
// common model habit when asked for raw JSON.
func StripMarkdownCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if matches := fenceRe.FindStringSubmatch(s); len(matches) == 2 {
		return strings.TrimSpace(matches[1])
	}
	return s
}

func (o *OpenAILLM) request(ctx context.Context, prompt string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if o.cfg.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: o.cfg.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	payload, err := json.Marshal(chatRequest{Model: o.cfg.Model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	resp, err := o.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", &transientError{err: fmt.Errorf("completion request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read completion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		httpErr := fmt.Errorf("completion provider returned %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", &transientError{err: httpErr}
		}
		return "", httpErr
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("completion provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}

	return parsed.Choices[0].Message.Content, nil
}

// transientError marks failures worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }
