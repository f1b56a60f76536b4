package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"arbor/internal/generator"
	"arbor/internal/judge"
	"arbor/internal/llm"
	"arbor/internal/refinement"
	"arbor/internal/store"
	"arbor/internal/types"
)

var (
	refineSeed        string
	refineRequest     string
	refineSelectionID string
	refineGenerations int
	refineTarget      float64
)

var refineCmd = &cobra.Command{
	Use:   "refine",
	Short: "Iteratively refine a seed candidate",
	Long: `Reads a seed candidate from a JSON file and runs the bounded
improve-and-evaluate loop: each generation the generator produces variants
focused on the current best's weakest criteria, the judge scores them, and
the best-so-far advances. The session ends by convergence, quality target,
or budget exhaustion, and the full generation history is reported.`,
	RunE: runRefine,
}

func init() {
	refineCmd.Flags().StringVarP(&refineSeed, "seed", "s", "", "Path to seed candidate JSON file (required)")
	refineCmd.Flags().StringVarP(&refineRequest, "request", "r", "", "Planning situation the seed addresses")
	refineCmd.Flags().StringVar(&refineSelectionID, "selection", "", "Selection id this refinement descends from")
	refineCmd.Flags().IntVarP(&refineGenerations, "generations", "g", 0, "Max generations (overrides config)")
	refineCmd.Flags().Float64VarP(&refineTarget, "target", "t", 0, "Quality target in [0,10] (overrides config)")
	refineCmd.MarkFlagRequired("seed")
}

func runRefine(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	data, err := os.ReadFile(refineSeed)
	if err != nil {
		return fmt.Errorf("failed to read seed: %w", err)
	}
	var seed types.Candidate
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed: %w", err)
	}

	client := llm.NewGeminiClientWithConfig(llm.GeminiConfig{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.Refinement.Temperature,
		Timeout:     cfg.GetLLMTimeout(),
	})
	gen := generator.New(client, "refinement")
	j := judge.New(client, cfg.JudgeModel())

	refCfg := refinement.Configuration{
		Request:               refineRequest,
		MaxGenerations:        cfg.Refinement.MaxGenerations,
		BranchesPerGeneration: cfg.Refinement.BranchesPerSeed,
		ConvergenceThreshold:  cfg.Refinement.ConvergenceThreshold,
		QualityTarget:         cfg.Refinement.QualityTarget,
		TimeBudget:            cfg.GetTimeBudget(),
		Temperature:           cfg.Refinement.Temperature,
		TemperatureDecay:      cfg.Refinement.TemperatureDecay,
		FocusDimensions:       cfg.Refinement.FocusDimensions,
	}
	if refineGenerations > 0 {
		refCfg.MaxGenerations = refineGenerations
	}
	if refineTarget > 0 {
		refCfg.QualityTarget = refineTarget
	}

	engine := refinement.New(gen, j, cfg.Tournament.Workers)
	session, err := engine.Refine(ctx, seed, refCfg)
	if session == nil {
		return err
	}

	snap := session.Snapshot()
	if err != nil {
		logger.Error("refinement failed", zap.String("session", snap.ID), zap.Error(err))
	} else {
		logger.Info("refinement finished",
			zap.String("session", snap.ID),
			zap.String("status", snap.Status.String()),
			zap.Float64("best_score", snap.BestScore),
			zap.Int("generations", len(snap.Generations)))
	}

	if cfg.Store.PersistRuns {
		s, storeErr := store.NewStore(cfg.Store.DatabasePath)
		if storeErr != nil {
			return storeErr
		}
		defer s.Close()
		if storeErr := s.SaveSession(snap, refineSelectionID); storeErr != nil {
			return storeErr
		}
	}

	fmt.Println(snap.Report())
	return err
}
