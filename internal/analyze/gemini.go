package analyze

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiClassifier estimates facial attributes with a Gemini vision model.
type GeminiClassifier struct {
	client      *genai.Client
	model       string
	usage       Usage
	inputPrice  float64 // per 1M tokens
	outputPrice float64 // per 1M tokens
}

var _ Classifier = (*GeminiClassifier)(nil)

func NewGeminiClassifier(ctx context.Context, apiKey, model string, pricing RequestPricing) (*GeminiClassifier, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}

	return &GeminiClassifier{
		client:      client,
		model:       model,
		inputPrice:  pricing.Input,
		outputPrice: pricing.Output,
	}, nil
}

func (p *GeminiClassifier) Name() string {
	return p.model
}

func (p *GeminiClassifier) GetUsage() *Usage {
	return &p.usage
}

func (p *GeminiClassifier) trackUsage(inputTokens, outputTokens int32) {
	p.usage.InputTokens += int(inputTokens)
	p.usage.OutputTokens += int(outputTokens)
	p.usage.TotalCost += float64(inputTokens) / 1_000_000 * p.inputPrice
	p.usage.TotalCost += float64(outputTokens) / 1_000_000 * p.outputPrice
}

func (p *GeminiClassifier) Analyze(ctx context.Context, imageData []byte, actions []string) (*Demographics, error) {
	// Resize image to max 800px to save costs
	resizedData, err := ResizeImage(imageData, 800)
	if err != nil {
		return nil, fmt.Errorf("failed to resize image: %w", err)
	}

	systemPrompt := buildDemographicsPrompt(actions)

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: systemPrompt + "\n\nEstimate the requested attributes for this photo."},
				{InlineData: &genai.Blob{Data: resizedData, MIMEType: "image/jpeg"}},
			},
		},
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	var lastError error
	var lastResponse string

	for range maxParseRetries {
		result, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
		if err != nil {
			return nil, fmt.Errorf("gemini API error: %w", err)
		}

		// Track usage
		if result.UsageMetadata != nil {
			p.trackUsage(result.UsageMetadata.PromptTokenCount, result.UsageMetadata.CandidatesTokenCount)
		}

		content := result.Text()
		if content == "" {
			return nil, errors.New("no response from Gemini")
		}
		lastResponse = content

		demographics, err := parseDemographics(content)
		if err != nil {
			if errors.Is(err, ErrNoFace) {
				return nil, err
			}
			lastError = err

			// Add model response and error feedback to contents for retry
			contents = append(contents,
				&genai.Content{
					Role:  "model",
					Parts: []*genai.Part{{Text: content}},
				},
				&genai.Content{
					Role:  "user",
					Parts: []*genai.Part{{Text: fmt.Sprintf(retryFeedback, err)}},
				},
			)
			continue
		}

		return demographics, nil
	}

	return nil, fmt.Errorf("failed to parse analysis JSON after %d attempts: %w (last response: %s)", maxParseRetries, lastError, lastResponse)
}
