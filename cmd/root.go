package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/listings-crawler/internal/config"
)

var (
	cfg        *config.Config
	configFile string

	// version is set at build time with -ldflags "-X main.version=...".
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:     "listings-crawler",
	Short:   "Batch crawler for map search listings",
	Long:    "Runs keyword/location search jobs across a worker pool, resolves listing details through direct or proxied sessions, and stores deduplicated results.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadFile(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
