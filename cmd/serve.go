package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/face-match/internal/config"
	"github.com/kozaktomas/face-match/internal/database"
	"github.com/kozaktomas/face-match/internal/database/postgres"
	"github.com/kozaktomas/face-match/internal/facematch"
	"github.com/kozaktomas/face-match/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the face-match HTTP API server.
The server exposes recognition, verification and demographic analysis over
HTTP. With a PostgreSQL database configured it also serves stored galleries
and embedding similarity search.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// initHNSW builds or loads the HNSW index for fast similarity search.
func initHNSW(ctx context.Context, repo *postgres.RepresentationRepository, indexPath string) {
	if indexPath != "" {
		fmt.Printf("Loading HNSW index from %s...\n", indexPath)
	} else {
		fmt.Printf("Building in-memory HNSW index for similarity search...\n")
	}
	if err := repo.EnableHNSW(ctx); err != nil {
		fmt.Printf("Warning: Failed to build HNSW index: %v\n", err)
		fmt.Printf("Similarity search will use PostgreSQL queries (slower)\n")
	} else if indexPath != "" {
		fmt.Printf("HNSW index ready with %d representations (persisted to %s)\n", repo.HNSWCount(), indexPath)
	} else {
		fmt.Printf("HNSW index built with %d representations (in-memory only)\n", repo.HNSWCount())
	}
}

// saveHNSWIndex saves the HNSW index to disk during shutdown.
func saveHNSWIndex() {
	rebuilder := database.GetHNSWRebuilder()
	if rebuilder == nil || !rebuilder.IsHNSWEnabled() {
		return
	}
	if err := rebuilder.SaveHNSWIndex(); err != nil {
		fmt.Printf("Warning: failed to save HNSW index: %v\n", err)
	} else {
		fmt.Println("HNSW index saved to disk")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	// Flags override environment configuration only when explicitly set.
	if cmd.Flags().Changed("port") {
		cfg.Web.Port = mustGetInt(cmd, "port")
	}
	if cmd.Flags().Changed("host") || cfg.Web.Host == "" {
		cfg.Web.Host = mustGetString(cmd, "host")
	}

	deps := web.Dependencies{
		Extractor:  newExtractor(cfg),
		Thresholds: facematch.DefaultThresholds(),
	}

	if cfg.Database.URL == "" {
		fmt.Println("DATABASE_URL not set: gallery storage and similarity search are disabled")
	} else {
		fmt.Printf("Connecting to PostgreSQL database...\n")
		repo, err := postgres.Initialize(&cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		initHNSW(context.Background(), repo, cfg.Database.HNSWIndexPath)
		deps.Store = repo
	}

	server := web.NewServer(cfg, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		saveHNSWIndex()

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting face-match API on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
