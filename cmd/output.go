package cmd

import (
	"encoding/json"
	"fmt"
	"os"
)

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

// writeJSONFile writes an indented JSON report to a file.
func writeJSONFile(path string, data any) error {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	out = append(out, '\n')
	if err := os.WriteFile(path, out, 0644); err != nil { //nolint:gosec // report file, user-chosen path
		return fmt.Errorf("writing report to %s: %w", path, err)
	}
	return nil
}

// warnf prints a formatted warning to stderr unless JSON output is requested.
func warnf(jsonOutput bool, format string, args ...any) {
	if !jsonOutput {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
