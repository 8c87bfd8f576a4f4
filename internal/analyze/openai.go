package analyze

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const chatModel = openai.ChatModelGPT4_1Mini

// OpenAIClassifier estimates facial attributes with an OpenAI vision model.
type OpenAIClassifier struct {
	client      *openai.Client
	usage       Usage
	inputPrice  float64 // per 1M tokens
	outputPrice float64 // per 1M tokens
}

var _ Classifier = (*OpenAIClassifier)(nil)

func NewOpenAIClassifier(apiKey string, pricing RequestPricing) *OpenAIClassifier {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIClassifier{
		client:      &client,
		inputPrice:  pricing.Input,
		outputPrice: pricing.Output,
	}
}

func (p *OpenAIClassifier) Name() string {
	return chatModel
}

func (p *OpenAIClassifier) GetUsage() *Usage {
	return &p.usage
}

func (p *OpenAIClassifier) trackUsage(inputTokens, outputTokens int64) {
	p.usage.InputTokens += int(inputTokens)
	p.usage.OutputTokens += int(outputTokens)
	p.usage.TotalCost += float64(inputTokens) / 1_000_000 * p.inputPrice
	p.usage.TotalCost += float64(outputTokens) / 1_000_000 * p.outputPrice
}

func (p *OpenAIClassifier) Analyze(ctx context.Context, imageData []byte, actions []string) (*Demographics, error) {
	// Resize image to max 800px to save costs
	resizedData, err := ResizeImage(imageData, 800)
	if err != nil {
		return nil, fmt.Errorf("failed to resize image: %w", err)
	}

	systemPrompt := buildDemographicsPrompt(actions)
	base64Image := base64.StdEncoding.EncodeToString(resizedData)
	imageURL := "data:image/jpeg;base64," + base64Image

	messages := []openai.ChatCompletionMessageParamUnion{
		{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(systemPrompt),
				},
			},
		},
		{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
						openai.TextContentPart("Estimate the requested attributes for this photo."),
						openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
							URL:    imageURL,
							Detail: "low",
						}),
					},
				},
			},
		},
	}

	var lastError error
	var lastResponse string

	for range maxParseRetries {
		resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:    chatModel,
			Messages: messages,
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			},
			MaxTokens: openai.Int(500),
		})
		if err != nil {
			return nil, fmt.Errorf("OpenAI API error: %w", err)
		}

		if len(resp.Choices) == 0 {
			return nil, errors.New("no response from OpenAI")
		}

		// Track usage
		if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
			p.trackUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}

		content := resp.Choices[0].Message.Content
		lastResponse = content

		demographics, err := parseDemographics(content)
		if err != nil {
			if errors.Is(err, ErrNoFace) {
				return nil, err
			}
			lastError = err

			// Add assistant response and error feedback to messages for retry
			messages = append(messages,
				openai.ChatCompletionMessageParamUnion{
					OfAssistant: &openai.ChatCompletionAssistantMessageParam{
						Content: openai.ChatCompletionAssistantMessageParamContentUnion{
							OfString: openai.String(content),
						},
					},
				},
				openai.ChatCompletionMessageParamUnion{
					OfUser: &openai.ChatCompletionUserMessageParam{
						Content: openai.ChatCompletionUserMessageParamContentUnion{
							OfString: openai.String(fmt.Sprintf(retryFeedback, err)),
						},
					},
				},
			)
			continue
		}

		return demographics, nil
	}

	return nil, fmt.Errorf("failed to parse analysis JSON after %d attempts: %w (last response: %s)", maxParseRetries, lastError, lastResponse)
}
