package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"arbor/internal/judge"
	"arbor/internal/llm"
	"arbor/internal/tournament"
)

var (
	tournamentInput  string
	tournamentFormat string
)

var tournamentCmd = &cobra.Command{
	Use:   "tournament",
	Short: "Reduce a candidate population through pairwise judge matchups",
	Long: `Reads a JSON array of candidates and runs them through a tournament.
Formats: single-elimination, double-elimination, round-robin, swiss.

A judge that fails a matchup is retried once; if it stays unavailable the
matchup defaults to the higher-seeded candidate and is flagged degraded.`,
	RunE: runTournament,
}

func init() {
	tournamentCmd.Flags().StringVarP(&tournamentInput, "input", "i", "", "Path to candidates JSON file (required)")
	tournamentCmd.Flags().StringVarP(&tournamentFormat, "format", "f", "", "Tournament format (overrides config)")
	tournamentCmd.MarkFlagRequired("input")
}

func runTournament(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetLLMTimeout()*10)
	defer cancel()

	pop, err := loadPopulation(tournamentInput)
	if err != nil {
		return err
	}

	formatName := cfg.Tournament.Format
	if tournamentFormat != "" {
		formatName = tournamentFormat
	}
	format, err := tournament.ParseFormat(formatName)
	if err != nil {
		return err
	}

	client := llm.NewGeminiClientWithConfig(llm.GeminiConfig{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.JudgeModel(),
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.GetLLMTimeout(),
	})
	j := judge.New(client, cfg.JudgeModel())

	selector := tournament.New(j, tournament.Config{
		Format:           format,
		Criteria:         cfg.Tournament.Criteria,
		Weights:          cfg.Tournament.Weights,
		HeadToHeadRounds: cfg.Tournament.HeadToHeadRounds,
		SwissRounds:      cfg.Tournament.SwissRounds,
		SingleGrandFinal: cfg.Tournament.SingleGrandFinal,
		Workers:          cfg.Tournament.Workers,
	})

	result, err := selector.Run(ctx, pop)
	if err != nil {
		return err
	}

	logger.Info("tournament complete",
		zap.String("format", format.String()),
		zap.String("winner", result.Winner.ID),
		zap.Int("rounds", result.Rounds),
		zap.Int("degraded", result.DegradedMatchups))

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
