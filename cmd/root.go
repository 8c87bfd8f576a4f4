package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "face-match",
	Short: "A CLI tool for face recognition using embedding models",
	Long: `face-match identifies and verifies faces using embeddings from a face
embedding service. It ranks a query face against a gallery of reference
images, verifies whether two photos show the same person, estimates
facial attributes, and can serve the same operations over HTTP.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
