package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Summarizer calls the summarization service: prompt text in, generated
// summary text out.
type Summarizer struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewSummarizer creates a Summarizer for the given endpoint.
func NewSummarizer(endpoint, apiKey string, timeout time.Duration) *Summarizer {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Summarizer{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

type summarizeRequest struct {
	Prompt string `json:"prompt"`
	APIKey string `json:"apiKey,omitempty"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
	Error   string `json:"error,omitempty"`
}

// Summarize sends the prompt and returns the generated summary.
func (s *Summarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("summarize: empty prompt")
	}

	payload, err := sonic.Marshal(summarizeRequest{Prompt: prompt, APIKey: s.apiKey})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("summarize request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("summarize response: %w", err)
	}

	var parsed summarizeResponse
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("summarize response: %w", err)
	}
	if parsed.Error != "" {
		return "", &ServiceError{Message: parsed.Error}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ServiceError{Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	return parsed.Summary, nil
}
