package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/kozaktomas/face-match/internal/config"
	"github.com/kozaktomas/face-match/internal/database/postgres"
	"github.com/spf13/cobra"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Manage stored reference galleries",
	Long:  `Commands for managing galleries of face representations stored in PostgreSQL.`,
}

var galleryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored galleries",
	RunE:  runGalleryList,
}

var galleryClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete a stored gallery",
	Long: `Delete all representations of a gallery from PostgreSQL.

The reference images on disk are not touched.

Example:
  face-match gallery clear --name team`,
	RunE: runGalleryClear,
}

func init() {
	rootCmd.AddCommand(galleryCmd)
	galleryCmd.AddCommand(galleryListCmd)
	galleryCmd.AddCommand(galleryClearCmd)

	galleryListCmd.Flags().Bool("json", false, "Output as JSON")

	galleryClearCmd.Flags().String("name", "", "Gallery name (required)")
	galleryClearCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
}

// initGalleryStore connects to PostgreSQL and returns the representation
// repository.
func initGalleryStore(cfg *config.Config) (*postgres.RepresentationRepository, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	repo, err := postgres.Initialize(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	return repo, nil
}

func confirmAction(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func runGalleryList(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg := config.Load()
	store, err := initGalleryStore(cfg)
	if err != nil {
		return err
	}

	galleries, err := store.ListGalleries(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list galleries: %w", err)
	}

	if jsonOutput {
		return outputJSON(galleries)
	}

	if len(galleries) == 0 {
		fmt.Println("No galleries stored.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMODEL\tDETECTOR\tFACES\tLABELS\tUPDATED")
	fmt.Fprintln(w, "----\t-----\t--------\t-----\t------\t-------")
	for _, g := range galleries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			g.Name, g.Model, g.Detector, g.Faces, g.Labels,
			g.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runGalleryClear(cmd *cobra.Command, args []string) error {
	name := mustGetString(cmd, "name")
	skipConfirm := mustGetBool(cmd, "yes")

	if name == "" {
		return errors.New("--name is required")
	}

	cfg := config.Load()
	store, err := initGalleryStore(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()

	count, err := store.Count(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to count representations: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("gallery %q not found", name)
	}

	if !skipConfirm && !confirmAction(fmt.Sprintf("Delete gallery %q with %d representation(s)? [y/N]: ", name, count)) {
		fmt.Println("Cancelled.")
		return nil
	}

	deleted, err := store.DeleteGallery(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to delete gallery: %w", err)
	}

	fmt.Printf("Deleted gallery %q (%d representation(s))\n", name, deleted)
	return nil
}
