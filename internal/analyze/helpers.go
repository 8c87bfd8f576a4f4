package analyze

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed prompts/demographics.txt
var demographicsPrompt string

// retryFeedback is appended to the conversation when a provider returns
// unparseable JSON, before the next attempt.
const retryFeedback = "JSON parse error: %v. Please fix the JSON and try again. Remember to escape quotes inside strings with backslash. Output ONLY valid JSON, no other text."

const maxParseRetries = 5

// buildDemographicsPrompt returns the system prompt with the requested
// actions substituted in.
func buildDemographicsPrompt(actions []string) string {
	actionsJSON, _ := json.Marshal(actions)
	return fmt.Sprintf(demographicsPrompt, string(actionsJSON))
}

// parseDemographics decodes a provider response into Demographics, deriving
// missing dominant fields and surfacing the provider's own no-face signal.
func parseDemographics(content string) (*Demographics, error) {
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(content), &probe); err == nil && probe.Error != "" {
		// The provider reported a problem with the image itself (typically
		// "no face") rather than producing attributes.
		return nil, fmt.Errorf("%w: %s", ErrNoFace, probe.Error)
	}

	var d Demographics
	if err := json.Unmarshal([]byte(content), &d); err != nil {
		return nil, err
	}
	FillDominants(&d)
	return &d, nil
}

// extractJSON attempts to extract JSON from a response that may contain extra text
func extractJSON(content string) string {
	// Try to find JSON object boundaries
	start := strings.Index(content, "{")
	if start == -1 {
		return content
	}

	// Find matching closing brace
	depth := 0
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}

	// If no matching brace found, return from start
	return content[start:]
}
