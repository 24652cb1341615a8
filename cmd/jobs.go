package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/listings-crawler/internal/jobs"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Work with job files",
}

var jobsValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Parse a job file and print the jobs it defines",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		batch, err := jobs.Load(args[0], cfg.Crawl.DefaultMaxItems)
		if err != nil {
			return err
		}
		formatJobs(os.Stdout, batch)
		return nil
	},
}

func init() {
	jobsCmd.AddCommand(jobsValidateCmd)
	rootCmd.AddCommand(jobsCmd)
}
