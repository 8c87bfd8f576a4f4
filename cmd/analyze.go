package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/kozaktomas/face-match/internal/analyze"
	"github.com/kozaktomas/face-match/internal/config"
	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image>",
	Short: "Estimate facial attributes (age, gender, race, emotion)",
	Long: `Estimate facial attributes for the most prominent face in an image.

The estimates come from an external provider and are passed through
unchanged. The default provider is the face service's own analyzer;
vision LLMs (OpenAI, Gemini, Ollama) can be used instead.

Examples:
  # All four attributes via the face service
  face-match analyze portrait.jpg

  # Only age and gender
  face-match analyze portrait.jpg --actions age,gender

  # Use a vision LLM instead of the face service
  face-match analyze portrait.jpg --provider openai

  # Machine-readable output
  face-match analyze portrait.jpg --json`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringSlice("actions", nil, "Attributes to estimate: age, gender, race, emotion (default all)")
	analyzeCmd.Flags().String("provider", "service", "Attribute provider: service, openai, gemini, ollama, llamacpp")
	analyzeCmd.Flags().String("detector", "mtcnn", "Face detector backend (service provider only)")
	analyzeCmd.Flags().Bool("json", false, "Output as JSON")
	analyzeCmd.Flags().String("out", "", "Write the JSON report to a file")
}

// AnalyzeReport is the JSON output of the analyze command.
type AnalyzeReport struct {
	Image        string                `json:"image"`
	Provider     string                `json:"provider"`
	Actions      []string              `json:"actions"`
	Demographics *analyze.Demographics `json:"demographics"`
}

// newClassifier builds the attribute classifier for the requested provider.
func newClassifier(ctx context.Context, cfg *config.Config, providerName, detector string) (analyze.Classifier, error) {
	switch providerName {
	case "service":
		return analyze.NewServiceClassifier(cfg.FaceService.URL, cfg.FaceService.APIKey, detector), nil
	case "openai":
		if cfg.OpenAI.Token == "" {
			return nil, errors.New("OPENAI_TOKEN environment variable is required")
		}
		pricing := cfg.GetModelPricing("gpt-4.1-mini")
		return analyze.NewOpenAIClassifier(cfg.OpenAI.Token,
			analyze.RequestPricing{Input: pricing.Input, Output: pricing.Output}), nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, errors.New("GEMINI_API_KEY environment variable is required")
		}
		pricing := cfg.GetModelPricing("gemini-2.5-flash")
		classifier, err := analyze.NewGeminiClassifier(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model,
			analyze.RequestPricing{Input: pricing.Input, Output: pricing.Output})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini classifier: %w", err)
		}
		return classifier, nil
	case "ollama":
		return analyze.NewOllamaClassifier(cfg.Ollama.URL, cfg.Ollama.Model), nil
	case "llamacpp":
		classifier, err := analyze.NewLlamaCppClassifier(cfg.LlamaCpp.URL, cfg.LlamaCpp.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp classifier: %w", err)
		}
		return classifier, nil
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: service, openai, gemini, ollama, llamacpp)", providerName)
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	imagePath := args[0]
	providerName := mustGetString(cmd, "provider")
	detector := mustGetString(cmd, "detector")
	jsonOutput := mustGetBool(cmd, "json")
	outPath := mustGetString(cmd, "out")

	actions, err := analyze.ParseActions(mustGetStringSlice(cmd, "actions"))
	if err != nil {
		return err
	}

	cfg := config.Load()
	ctx := context.Background()

	classifier, err := newClassifier(ctx, cfg, providerName, detector)
	if err != nil {
		return err
	}

	imageData, err := os.ReadFile(imagePath) //nolint:gosec // user-provided image
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("Analyzing %s with %s...\n", imagePath, classifier.Name())
	}

	demographics, err := classifier.Analyze(ctx, imageData, actions)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	report := AnalyzeReport{
		Image:        imagePath,
		Provider:     classifier.Name(),
		Actions:      actions,
		Demographics: demographics,
	}

	if outPath != "" {
		if err := writeJSONFile(outPath, report); err != nil {
			return err
		}
	}
	if jsonOutput {
		return outputJSON(report)
	}

	printDemographics(demographics)

	usage := classifier.GetUsage()
	if usage.InputTokens > 0 || usage.OutputTokens > 0 {
		fmt.Printf("\nAPI Usage:\n")
		fmt.Printf("  Input tokens:  %d\n", usage.InputTokens)
		fmt.Printf("  Output tokens: %d\n", usage.OutputTokens)
		fmt.Printf("  Total cost:    $%.4f\n", usage.TotalCost)
	}

	if outPath != "" {
		fmt.Printf("\nReport written to %s\n", outPath)
	}
	return nil
}

// printDemographics prints the attribute estimates in a human-readable form.
func printDemographics(d *analyze.Demographics) {
	fmt.Println()
	if d.Age > 0 {
		fmt.Printf("Age:      %d\n", d.Age)
	}
	printScores("Gender", d.DominantGender, d.Gender)
	printScores("Emotion", d.DominantEmotion, d.Emotion)
	printScores("Race", d.DominantRace, d.Race)
	if d.FaceConfidence > 0 {
		fmt.Printf("Face confidence: %.2f\n", d.FaceConfidence)
	}
}

// printScores prints one attribute's dominant value and the full score
// distribution, highest first.
func printScores(title, dominant string, scores map[string]float64) {
	if len(scores) == 0 && dominant == "" {
		return
	}
	fmt.Printf("%-9s %s\n", title+":", dominant)

	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return scores[keys[i]] > scores[keys[j]] })
	for _, k := range keys {
		fmt.Printf("  %-10s %6.2f%%\n", k, scores[k])
	}
}
