package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/pixland/pixops/internal/faceservice"
	"github.com/pixland/pixops/internal/reindex"
	"github.com/pixland/pixops/internal/utils"
)

var reindexProgress bool

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Recompute ArcFace descriptors for every image in the database",
	Long: `Streams every image record, skips those that already carry 512-d descriptors,
and sends the rest through the embedding service. Failures are counted and the run continues.`,
	Run: func(cmd *cobra.Command, args []string) {
		runReindex(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(reindexCmd)
	reindexCmd.Flags().String("face-service-url", "http://localhost:5001", "Embedding service base URL")
	reindexCmd.Flags().Duration("delay", 300*time.Millisecond, "Pause after each processed record")
	reindexCmd.Flags().Duration("download-timeout", 20*time.Second, "Image download timeout")
	reindexCmd.Flags().Duration("extract-timeout", 90*time.Second, "Embedding extraction timeout")
	reindexCmd.Flags().BoolVar(&reindexProgress, "progress", false, "Show a progress bar on stderr")
}

func runReindex(ctx context.Context) {
	runID := uuid.New().String()
	log := Logger.With(slog.String("run_id", runID))

	printEnvFileStatus()

	db := openDB(ctx)
	fmt.Printf("[OK] Database connected - db: %s\n", db.Name())

	faces := faceservice.New(Cfg.FaceServiceURL, Cfg.ProbeTimeout, Cfg.ExtractTimeout)
	health, err := faces.Health(ctx)
	if err != nil {
		fmt.Printf("[FAIL] Face service not reachable: %v\n", err)
		utils.Die("Face service not reachable at "+faces.BaseURL(), err,
			"Start it: python server/face_service/app.py")
	}
	fmt.Printf("[OK] Face service: %s + %s\n", health.Model, health.Detector)

	opts := reindex.Options{
		DownloadTimeout: Cfg.DownloadTimeout,
		RecordDelay:     Cfg.RecordDelay,
		Out:             os.Stdout,
	}
	if reindexProgress {
		total, err := db.CountImages(ctx)
		if err != nil {
			total = -1 // Spinner
		}
		opts.Progress = progressbar.NewOptions64(total,
			progressbar.OptionSetDescription("🔁 Re-indexing"),
			progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
			progressbar.OptionShowCount(),
		)
	}

	job := reindex.New(reindex.Deps{Store: db, Faces: faces, Logger: log}, opts)
	summary, err := job.Run(ctx)
	summary.Print(os.Stdout)

	switch {
	case err == nil:
		fmt.Println("\nNow try face scanning; all processed photos should match!")
	case errors.Is(err, context.Canceled):
		fmt.Fprintf(os.Stderr, "\n⚠️  Interrupted. The summary above covers the records visited so far.\n")
	default:
		utils.Die("Re-index aborted", err)
	}
}
