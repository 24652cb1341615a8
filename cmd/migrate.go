package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the stores schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		sk, err := openSink(cmd.Context())
		if err != nil {
			return err
		}
		defer sk.Close() //nolint:errcheck

		zap.L().Info("stores schema up to date", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
