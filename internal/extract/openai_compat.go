package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	groqEndpoint     = "https://api.groq.com/openai/v1/chat/completions"
	deepSeekEndpoint = "https://api.deepseek.com/chat/completions"
	openAIEndpoint   = "https://api.openai.com/v1/chat/completions"
)

// OpenAICompatProvider speaks the OpenAI chat-completions wire format, which
// Groq and DeepSeek also serve.
type OpenAICompatProvider struct {
	name       string
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

var _ Provider = (*OpenAICompatProvider)(nil)

func NewOpenAICompatProvider(name, endpoint, model, apiKey string, timeout time.Duration) *OpenAICompatProvider {
	return &OpenAICompatProvider{
		name:     name,
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *OpenAICompatProvider) Name() string {
	return p.name
}

func (p *OpenAICompatProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("provider is nil")
	}
	if p.apiKey == "" || p.endpoint == "" || p.model == "" {
		return "", fmt.Errorf("provider %s is misconfigured", p.name)
	}

	body, err := json.Marshal(map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call %s: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%s error %s: %s", p.name, resp.Status, strings.TrimSpace(string(payload)))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode %s response: %w", p.name, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", p.name)
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%s returned empty content", p.name)
	}
	return content, nil
}
