package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/talentmatch/internal/replay"
	"github.com/spf13/cobra"
)

var replayCfg replay.Config

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Submit recorded or synthetic events to a running service",
	Long: `Posts events from a JSON Lines file (one envelope per line), or generates
synthetic job/resume traffic, to POST /events. With --verify it then polls
GET /correlations until every pair is scored or failed.`,
	RunE: runReplay,
}

func init() {
	f := replayCmd.Flags()
	f.StringVar(&replayCfg.BaseURL, "url", "http://localhost:8080", "Base URL of the service")
	f.StringVar(&replayCfg.File, "file", "", "JSON Lines file of events")
	f.IntVar(&replayCfg.Synthetic, "synthetic", 0, "Generate this many job/resume pairs instead of reading a file")
	f.Uint64Var(&replayCfg.Seed, "seed", 1, "Seed for synthetic generation")
	f.IntVar(&replayCfg.Workers, "workers", 8, "Concurrent submitters")
	f.BoolVar(&replayCfg.Verify, "verify", false, "Wait for every pair to settle")
	f.DurationVar(&replayCfg.VerifyTimeout, "timeout", 2*time.Minute, "How long --verify waits")

	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, _ []string) error {
	if replayCfg.File == "" && replayCfg.Synthetic <= 0 {
		return errors.New("one of --file or --synthetic is required")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, runErr := replay.Run(ctx, replayCfg)

	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return runErr
}
