package analyze

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultLlamaCppURL   = "http://localhost:8080"
	defaultLlamaCppModel = "llava"
)

// LlamaCppClassifier estimates facial attributes with a llama.cpp server
// through its OpenAI-compatible chat endpoint.
type LlamaCppClassifier struct {
	parsedURL *url.URL
	model     string
	client    *http.Client
	usage     Usage
}

var _ Classifier = (*LlamaCppClassifier)(nil)

// NewLlamaCppClassifier creates a new llama.cpp classifier with the given config.
func NewLlamaCppClassifier(baseURL, model string) (*LlamaCppClassifier, error) {
	if baseURL == "" {
		baseURL = defaultLlamaCppURL
	}
	if model == "" {
		model = defaultLlamaCppModel
	}
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid llama.cpp URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid llama.cpp URL scheme %q: must be http or https", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("invalid llama.cpp URL: missing host")
	}
	return &LlamaCppClassifier{
		parsedURL: parsed,
		model:     model,
		client:    &http.Client{},
	}, nil
}

func (p *LlamaCppClassifier) Name() string {
	return p.model
}

func (p *LlamaCppClassifier) GetUsage() *Usage {
	return &p.usage
}

// llamaCppRequest represents a request to the llama.cpp OpenAI-compatible API.
type llamaCppRequest struct {
	Model       string            `json:"model"`
	Messages    []llamaCppMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	Stream      bool              `json:"stream"`
}

type llamaCppMessage struct {
	Role    string                 `json:"role"`
	Content llamaCppMessageContent `json:"content"`
}

// llamaCppMessageContent can be a string or an array of content parts.
type llamaCppMessageContent any

type llamaCppContentPart struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL *llamaCppImageURL `json:"image_url,omitempty"`
}

type llamaCppImageURL struct {
	URL string `json:"url"`
}

// llamaCppResponse represents a response from the llama.cpp OpenAI-compatible API.
type llamaCppResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *LlamaCppClassifier) Analyze(ctx context.Context, imageData []byte, actions []string) (*Demographics, error) {
	resizedData, err := ResizeImage(imageData, 800)
	if err != nil {
		return nil, fmt.Errorf("failed to resize image: %w", err)
	}

	systemPrompt := buildDemographicsPrompt(actions)
	base64Image := base64.StdEncoding.EncodeToString(resizedData)
	imageURL := "data:image/jpeg;base64," + base64Image

	messages := []llamaCppMessage{
		{Role: "system", Content: systemPrompt},
		{
			Role: "user",
			Content: []llamaCppContentPart{
				{Type: "text", Text: "Estimate the requested attributes for this photo."},
				{Type: "image_url", ImageURL: &llamaCppImageURL{URL: imageURL}},
			},
		},
	}

	var lastError error
	var lastResponse string

	for range maxParseRetries {
		resp, err := p.sendRequest(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("llama.cpp API error: %w", err)
		}

		p.usage.InputTokens += resp.Usage.PromptTokens
		p.usage.OutputTokens += resp.Usage.CompletionTokens

		if len(resp.Choices) == 0 {
			return nil, errors.New("no response from llama.cpp")
		}

		content := resp.Choices[0].Message.Content
		lastResponse = content

		demographics, err := parseDemographics(extractJSON(content))
		if err != nil {
			if errors.Is(err, ErrNoFace) {
				return nil, err
			}
			lastError = err
			messages = append(messages,
				llamaCppMessage{Role: "assistant", Content: content},
				llamaCppMessage{Role: "user", Content: fmt.Sprintf(retryFeedback, err)},
			)
			continue
		}

		return demographics, nil
	}

	return nil, fmt.Errorf("failed to parse analysis JSON after %d attempts: %w (last response: %s)", maxParseRetries, lastError, lastResponse)
}

func (p *LlamaCppClassifier) sendRequest(ctx context.Context, messages []llamaCppMessage) (*llamaCppResponse, error) {
	reqBody := llamaCppRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   500,
		Temperature: 0.1,
		Stream:      false,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	reqURL := p.parsedURL.JoinPath("/v1/chat/completions")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var llamaResp llamaCppResponse
	if err := json.Unmarshal(body, &llamaResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &llamaResp, nil
}
