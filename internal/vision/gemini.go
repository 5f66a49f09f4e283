package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type GeminiConfig struct {
	APIKey        string
	Model         string
	BaseURL       string
	HTTPClient    *http.Client
	Retry         RetryPolicy
	RatePerMinute int
	Logger        *slog.Logger
}

type GeminiClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	caller  caller
}

func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-flash-latest"
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 90 * time.Second}
	}
	return &GeminiClient{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   model,
		baseURL: baseURL,
		client:  client,
		caller:  newCaller("gemini", cfg.Retry, cfg.RatePerMinute, cfg.Logger),
	}
}

func (g *GeminiClient) Analyze(ctx context.Context, image []byte, mimeType string) (string, error) {
	if g.apiKey == "" {
		return "", ErrNotConfigured
	}
	body, err := json.Marshal(g.requestBody(image, mimeType))
	if err != nil {
		return "", err
	}

	var reply string
	err = g.caller.doWithRetry(ctx, func() error {
		text, err := g.generate(ctx, body)
		if err != nil {
			return err
		}
		reply = text
		return nil
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (g *GeminiClient) requestBody(image []byte, mimeType string) map[string]any {
	return map[string]any{
		"contents": []map[string]any{
			{
				"parts": []map[string]any{
					{"text": extractionPrompt},
					{"inline_data": map[string]string{
						"mime_type": mimeType,
						"data":      base64.StdEncoding.EncodeToString(image),
					}},
				},
			},
		},
		"systemInstruction": map[string]any{
			"parts": []map[string]string{
				{"text": systemPrompt},
			},
		},
		"generationConfig": map[string]any{
			"temperature":      0.3,
			"maxOutputTokens":  8192,
			"responseMimeType": "application/json",
		},
	}
}

func (g *GeminiClient) generate(ctx context.Context, body []byte) (string, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{Provider: "gemini", Code: resp.StatusCode, Body: string(raw)}
	}

	var out geminiGenerateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	reply := strings.TrimSpace(out.text())
	if reply == "" {
		return "", ErrEmptyResponse
	}
	return reply, nil
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// text joins the parts of the first candidate that has any text. Long JSON
// answers are sometimes split across parts.
func (r geminiGenerateResponse) text() string {
	for _, c := range r.Candidates {
		var b strings.Builder
		for _, p := range c.Content.Parts {
			b.WriteString(p.Text)
		}
		if strings.TrimSpace(b.String()) != "" {
			return b.String()
		}
	}
	return ""
}
