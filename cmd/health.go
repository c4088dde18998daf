package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pixland/pixops/internal/healthprobe"
)

var healthStrict bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the face service, API and client are up",
	Run: func(cmd *cobra.Command, args []string) {
		prober := healthprobe.New(Cfg.ProbeTimeout, Logger)
		report := prober.CheckAll(cmd.Context(), healthprobe.DefaultServices(Cfg))
		report.Print(os.Stdout)

		if healthStrict && !report.Healthy() {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().Duration("probe-timeout", 5*time.Second, "Per-service request timeout")
	healthCmd.Flags().BoolVar(&healthStrict, "strict", false, "Exit 1 when any service is not healthy")
}
