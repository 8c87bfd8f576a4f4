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
	"strings"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3.2-vision:11b"
)

// OllamaClassifier estimates facial attributes with a local Ollama vision
// model. Free to run, so usage tracks tokens with zero cost.
type OllamaClassifier struct {
	baseURL string
	model   string
	client  *http.Client
	usage   Usage
}

var _ Classifier = (*OllamaClassifier)(nil)

func NewOllamaClassifier(baseURL, model string) *OllamaClassifier {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaClassifier{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
}

func (p *OllamaClassifier) Name() string {
	return p.model
}

func (p *OllamaClassifier) GetUsage() *Usage {
	return &p.usage
}

// ollamaRequest represents a request to the Ollama chat API
type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64 encoded images
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

// ollamaResponse represents a response from the Ollama chat API
type ollamaResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

func (p *OllamaClassifier) Analyze(ctx context.Context, imageData []byte, actions []string) (*Demographics, error) {
	// Resize image to max 800px to reduce processing time
	resizedData, err := ResizeImage(imageData, 800)
	if err != nil {
		return nil, fmt.Errorf("failed to resize image: %w", err)
	}

	systemPrompt := buildDemographicsPrompt(actions)
	base64Image := base64.StdEncoding.EncodeToString(resizedData)

	messages := []ollamaMessage{
		{
			Role:    "system",
			Content: systemPrompt,
		},
		{
			Role:    "user",
			Content: "Estimate the requested attributes for this photo.",
			Images:  []string{base64Image},
		},
	}

	var lastError error
	var lastResponse string

	for range maxParseRetries {
		resp, err := p.sendRequest(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("ollama API error: %w", err)
		}

		// Track usage (Ollama is free, but we track tokens for stats)
		p.usage.InputTokens += resp.PromptEvalCount
		p.usage.OutputTokens += resp.EvalCount

		content := resp.Message.Content
		lastResponse = content

		// Local models tend to wrap the JSON in extra prose.
		demographics, err := parseDemographics(extractJSON(content))
		if err != nil {
			if errors.Is(err, ErrNoFace) {
				return nil, err
			}
			lastError = err

			// Add assistant response and error feedback for retry
			messages = append(messages,
				ollamaMessage{
					Role:    "assistant",
					Content: content,
				},
				ollamaMessage{
					Role:    "user",
					Content: fmt.Sprintf(retryFeedback, err),
				},
			)
			continue
		}

		return demographics, nil
	}

	return nil, fmt.Errorf("failed to parse analysis JSON after %d attempts: %w (last response: %s)", maxParseRetries, lastError, lastResponse)
}

func (p *OllamaClassifier) sendRequest(ctx context.Context, messages []ollamaMessage) (*ollamaResponse, error) {
	reqBody := ollamaRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   false,
		Format:   "json",
		Options: ollamaOptions{
			NumPredict: 500,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(jsonBody))
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

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &ollamaResp, nil
}
