package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/okian/talentmatch/pkg/logger"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "talentmatch",
	Short: "Correlate job and resume events and score candidate matches",
	Long: `talentmatch consumes job.requirements.extracted and resume.parsed events,
pairs them by (jobId, resumeId), scores each pair and publishes
match.scored or match.failed.`,
	SilenceUsage: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		// stdout carries command output; serve re-initializes from config.
		return logger.Init(logger.WithWriter(os.Stderr))
	},
}

func main() {
	// A missing .env file is fine; real deployments use the environment.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
