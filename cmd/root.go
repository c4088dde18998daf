package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pixland/pixops/internal/config"
	"github.com/pixland/pixops/internal/logger"
	"github.com/pixland/pixops/internal/store"
	"github.com/pixland/pixops/internal/utils"
)

var (
	// Cfg is the resolved configuration shared by subcommands
	Cfg *config.Config
	// DB is the image store, opened by the subcommands that need it
	DB store.ImageStore
	// Logger writes diagnostics to stderr
	Logger *slog.Logger

	envFile string
)

// flagKeys maps CLI flags onto configuration keys. Only flags the user actually set
// are applied, so an unset flag never shadows the environment or the env file.
var flagKeys = map[string]string{
	"db":               config.KeyDatabaseURI,
	"log-level":        config.KeyLogLevel,
	"face-service-url": config.KeyFaceServiceURL,
	"probe-timeout":    config.KeyProbeTimeout,
	"download-timeout": config.KeyDownloadTimeout,
	"extract-timeout":  config.KeyExtractTimeout,
	"delay":            config.KeyRecordDelay,
}

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "pixops",
	Short:   "Operational tooling for PixLand: service health and face re-indexing",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFile, flagOverrides(cmd.Flags()))
		if err != nil {
			return err
		}
		Cfg = cfg
		Logger = logger.New(cfg.LogLevel, false, cfg.Environment, os.Stderr)
		Logger.Debug("Configuration loaded",
			slog.String("env_file", cfg.EnvFile),
			slog.Bool("env_file_found", cfg.EnvFileFound))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to close the connection cleanly.
			DB.Close(context.Background())
		}
	},
}

// flagOverrides collects the explicitly set flags that map onto configuration keys.
func flagOverrides(fs *pflag.FlagSet) map[string]any {
	overrides := map[string]any{}
	fs.Visit(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			overrides[key] = f.Value.String()
		}
	})
	return overrides
}

// openDB connects to the configured database or dies with guidance.
func openDB(ctx context.Context) store.ImageStore {
	if err := Cfg.ValidateDatabase(); err != nil {
		fmt.Printf("[FAIL] %v\n", err)
		utils.Die("No usable database configured", err,
			fmt.Sprintf("Set MONGO_URI in %s or pass --db", Cfg.EnvFile))
	}

	db, err := store.Open(ctx, Cfg.DatabaseURI)
	if err != nil {
		fmt.Printf("[FAIL] Database connection failed: %v\n", err)
		utils.Die("Database connection failed", err,
			"Check that MongoDB is running and that MONGO_URI is correct.")
	}
	DB = db
	return db
}

// printEnvFileStatus mirrors the env-file notice the operator expects at the top of a run.
func printEnvFileStatus() {
	fmt.Printf("Loading .env from: %s\n", Cfg.EnvFile)
	if !Cfg.EnvFileFound {
		fmt.Println("[WARN] .env not found, using defaults")
	}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "KEY=VALUE file layered under the process environment")
	rootCmd.PersistentFlags().String("db", "", "Database connection string (mongodb:// or postgres://, default: $MONGO_URI)")
	rootCmd.PersistentFlags().String("log-level", config.LogLevelInfo, "Diagnostic log level (debug, info, warn, error)")
}
