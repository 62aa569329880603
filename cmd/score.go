package main

import (
	"encoding/json"
	"fmt"
	"os"

	service "github.com/okian/talentmatch/internal/app"
	"github.com/okian/talentmatch/internal/config"
	"github.com/okian/talentmatch/internal/domain/event"
	"github.com/okian/talentmatch/internal/domain/model"
	"github.com/okian/talentmatch/internal/domain/scoring"
	"github.com/spf13/cobra"
)

var (
	scoreJobPath     string
	scoreResumePath  string
	scoreCompanyPath string
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score one job/resume pair offline and print the match result",
	Long: `Reads a job requirement profile and a candidate profile (the "data"
payloads of the corresponding events), scores them with the configured
weights and similarity provider, and prints the MatchResult as JSON.`,
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().StringVar(&scoreJobPath, "job", "", "Path to job requirement profile JSON")
	scoreCmd.Flags().StringVar(&scoreResumePath, "resume", "", "Path to candidate profile JSON")
	scoreCmd.Flags().StringVar(&scoreCompanyPath, "company", "", "Optional path to company culture profile JSON")

	if err := scoreCmd.MarkFlagRequired("job"); err != nil {
		panic(fmt.Sprintf("failed to mark job flag as required: %v", err))
	}
	if err := scoreCmd.MarkFlagRequired("resume"); err != nil {
		panic(fmt.Sprintf("failed to mark resume flag as required: %v", err))
	}

	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	codec, err := event.NewCodec()
	if err != nil {
		return err
	}

	job, err := readProfile(scoreJobPath, codec.DecodeJobProfile)
	if err != nil {
		return err
	}
	cand, err := readProfile(scoreResumePath, codec.DecodeCandidateProfile)
	if err != nil {
		return err
	}
	if scoreCompanyPath != "" {
		raw, err := os.ReadFile(scoreCompanyPath)
		if err != nil {
			return fmt.Errorf("read company profile: %w", err)
		}
		var cp model.CompanyProfile
		if err := json.Unmarshal(raw, &cp); err != nil {
			return fmt.Errorf("decode company profile: %w", err)
		}
		job.CompanyProfile = &cp
	}

	opts := []scoring.Option{
		scoring.WithWeights(cfg.Weights),
		scoring.WithProviderTimeout(cfg.ProviderTimeout()),
		scoring.WithGapPenaltyCap(cfg.GapPenaltyCapPoints),
		scoring.WithModelVersion(cfg.ModelVersion),
	}
	provider, err := service.NewProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build similarity provider: %w", err)
	}
	if provider != nil {
		opts = append(opts, scoring.WithSimilarity(provider))
	}

	res, err := scoring.New(opts...).Score(ctx, job, cand)
	if err != nil {
		return fmt.Errorf("score %s/%s: %w", job.JobID, cand.ResumeID, err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func readProfile[T any](path string, decode func([]byte) (T, error)) (T, error) {
	var zero T
	raw, err := os.ReadFile(path)
	if err != nil {
		return zero, fmt.Errorf("read %s: %w", path, err)
	}
	v, err := decode(raw)
	if err != nil {
		return zero, fmt.Errorf("decode %s: %w", path, err)
	}
	return v, nil
}
