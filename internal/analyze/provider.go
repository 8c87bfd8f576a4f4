// Package analyze estimates facial attributes (age, gender, emotion, race)
// for an image. The default backend is the face service's analyzer; vision
// LLM providers (OpenAI, Gemini, Ollama, llama.cpp) are available as
// alternatives for deployments without the dedicated analyzer.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrNoFace is returned when the analyzer finds no face in the image.
var ErrNoFace = errors.New("no face detected in image")

// Actions supported by the analyzers.
const (
	ActionAge     = "age"
	ActionGender  = "gender"
	ActionEmotion = "emotion"
	ActionRace    = "race"
)

// DefaultActions is the full attribute set, estimated when the caller does
// not narrow the request.
var DefaultActions = []string{ActionAge, ActionGender, ActionRace, ActionEmotion}

// ParseActions validates a user-supplied action list. An empty list means
// all actions.
func ParseActions(actions []string) ([]string, error) {
	if len(actions) == 0 {
		return DefaultActions, nil
	}
	valid := map[string]bool{
		ActionAge:     true,
		ActionGender:  true,
		ActionEmotion: true,
		ActionRace:    true,
	}
	seen := make(map[string]bool, len(actions))
	parsed := make([]string, 0, len(actions))
	for _, a := range actions {
		if !valid[a] {
			return nil, fmt.Errorf("unknown action: %q (supported: age, gender, race, emotion)", a)
		}
		if seen[a] {
			continue
		}
		seen[a] = true
		parsed = append(parsed, a)
	}
	return parsed, nil
}

// Demographics holds the estimated attributes for one face. Score maps carry
// the class distribution in percent; the dominant fields name the top class.
// Only the requested actions are populated.
type Demographics struct {
	Age             int                `json:"age,omitempty"`
	Gender          map[string]float64 `json:"gender,omitempty"`
	DominantGender  string             `json:"dominant_gender,omitempty"`
	Emotion         map[string]float64 `json:"emotion,omitempty"`
	DominantEmotion string             `json:"dominant_emotion,omitempty"`
	Race            map[string]float64 `json:"race,omitempty"`
	DominantRace    string             `json:"dominant_race,omitempty"`
	FaceConfidence  float64            `json:"face_confidence,omitempty"`
}

// Classifier estimates facial attributes from raw image bytes.
type Classifier interface {
	Name() string
	Analyze(ctx context.Context, imageData []byte, actions []string) (*Demographics, error)
	// GetUsage reports accumulated token usage; zero for classifiers
	// that are not billed per token.
	GetUsage() *Usage
}

// Usage tracks token usage and calculates cost for LLM-backed classifiers.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalCost    float64 // in USD
}

// RequestPricing holds input/output prices per 1M tokens.
type RequestPricing struct {
	Input  float64
	Output float64
}

// FillDominants derives the dominant_* fields from the score maps when the
// backend did not set them. LLM providers in particular tend to return the
// distributions without naming a winner.
func FillDominants(d *Demographics) {
	if d == nil {
		return
	}
	if d.DominantGender == "" {
		d.DominantGender = dominantKey(d.Gender)
	}
	if d.DominantEmotion == "" {
		d.DominantEmotion = dominantKey(d.Emotion)
	}
	if d.DominantRace == "" {
		d.DominantRace = dominantKey(d.Race)
	}
}

// dominantKey returns the key with the highest score; ties resolve to the
// alphabetically first key so the result is stable.
func dominantKey(scores map[string]float64) string {
	if len(scores) == 0 {
		return ""
	}
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best := keys[0]
	for _, k := range keys[1:] {
		if scores[k] > scores[best] {
			best = k
		}
	}
	return best
}
