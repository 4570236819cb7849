package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/acem-systems/agentd/internal/pipeline/config"
	"github.com/acem-systems/agentd/internal/retry"
)

const (
	requestTimeout = 30 * time.Second

	providerAttempts = 2
	providerBackoff  = 3 * time.Second
)

// Provider generates a model completion for an analysis prompt.
// Implementations must be safe for concurrent use.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// GeminiProvider calls the Gemini generateContent API.
type GeminiProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client

	// Sampling settings, adjustable per use.
	Temperature float64
	MaxTokens   int
}

// NewGemini creates a Gemini provider. An empty endpoint selects the
// public API for the configured model.
func NewGemini(apiKey, endpoint string) *GeminiProvider {
	if endpoint == "" {
		endpoint = "https://generativelanguage.googleapis.com/v1beta/models/" + config.GeminiModel + ":generateContent"
	}
	return &GeminiProvider{
		endpoint:    endpoint,
		apiKey:      apiKey,
		client:      &http.Client{Timeout: requestTimeout},
		Temperature: config.AITemperature,
		MaxTokens:   config.AIMaxTokens,
	}
}

func (p *GeminiProvider) Name() string { return "gemini" }

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (p *GeminiProvider) Generate(ctx context.Context, prompt string) (string, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      p.Temperature,
			MaxOutputTokens:  p.MaxTokens,
			ResponseMimeType: "application/json",
		},
	}

	var text string
	err := retry.Do(ctx, providerAttempts, providerBackoff, nil, func() error {
		body, err := postJSON(ctx, p.client, p.endpoint+"?key="+p.apiKey, payload, nil)
		if err != nil {
			return err
		}
		var resp geminiResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return retry.WrapPermanent(fmt.Errorf("gemini: decode response: %w", err))
		}
		if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
			return retry.WrapPermanent(fmt.Errorf("gemini: empty response"))
		}
		text = resp.Candidates[0].Content.Parts[0].Text
		return nil
	})
	return text, err
}

// OpenAIProvider calls an OpenAI-compatible chat completions API.
type OpenAIProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client

	// Sampling settings, adjustable per use.
	Temperature float64
	MaxTokens   int

	// SystemPrompt prefixes every request.
	SystemPrompt string
}

// NewOpenAI creates an OpenAI provider. An empty endpoint selects the
// public chat completions API.
func NewOpenAI(apiKey, endpoint string) *OpenAIProvider {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/chat/completions"
	}
	return &OpenAIProvider{
		endpoint:     endpoint,
		apiKey:       apiKey,
		client:       &http.Client{Timeout: requestTimeout},
		Temperature:  config.AITemperature,
		MaxTokens:    config.AIMaxTokens,
		SystemPrompt: "Eres un consultor experto en automatizacion de negocios. Responde siempre en espanol y en JSON valido.",
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

type openaiRequest struct {
	Model          string           `json:"model"`
	Messages       []openaiMessage  `json:"messages"`
	Temperature    float64          `json:"temperature"`
	MaxTokens      int              `json:"max_tokens"`
	ResponseFormat openaiRespFormat `json:"response_format"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRespFormat struct {
	Type string `json:"type"`
}

type openaiResponse struct {
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
}

func (p *OpenAIProvider) Generate(ctx context.Context, prompt string) (string, error) {
	payload := openaiRequest{
		Model: config.OpenAIModel,
		Messages: []openaiMessage{
			{Role: "system", Content: p.SystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:    p.Temperature,
		MaxTokens:      p.MaxTokens,
		ResponseFormat: openaiRespFormat{Type: "json_object"},
	}
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}

	var text string
	err := retry.Do(ctx, providerAttempts, providerBackoff, nil, func() error {
		body, err := postJSON(ctx, p.client, p.endpoint, payload, headers)
		if err != nil {
			return err
		}
		var resp openaiResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return retry.WrapPermanent(fmt.Errorf("openai: decode response: %w", err))
		}
		if len(resp.Choices) == 0 {
			return retry.WrapPermanent(fmt.Errorf("openai: empty response"))
		}
		text = resp.Choices[0].Message.Content
		return nil
	})
	return text, err
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any, headers map[string]string) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, retry.WrapPermanent(fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, retry.WrapPermanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
