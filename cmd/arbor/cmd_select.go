package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"arbor/internal/cluster"
	"arbor/internal/embedding"
	"arbor/internal/selection"
	"arbor/internal/store"
	"arbor/internal/types"
)

var (
	selectInput    string
	selectRequest  string
	selectFallback bool
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Select a trunk and twigs from a candidate population",
	Long: `Reads a JSON array of candidates, embeds them, clusters the vectors,
and selects the medoid of the largest cluster as the trunk. Medoids of the
remaining clusters become twigs. Noise candidates are never promoted.

With --fallback-raw-score, a population that forms no clusters falls back
to picking the candidate with the best aggregate score.`,
	RunE: runSelect,
}

func init() {
	selectCmd.Flags().StringVarP(&selectInput, "input", "i", "", "Path to candidates JSON file (required)")
	selectCmd.Flags().StringVarP(&selectRequest, "request", "r", "", "Planning situation the candidates address")
	selectCmd.Flags().BoolVar(&selectFallback, "fallback-raw-score", false, "Fall back to raw-score selection when no clusters form")
	selectCmd.MarkFlagRequired("input")
}

func loadPopulation(path string) (types.Population, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidates: %w", err)
	}
	var pop types.Population
	if err := json.Unmarshal(data, &pop); err != nil {
		return nil, fmt.Errorf("failed to parse candidates: %w", err)
	}
	return pop, nil
}

func runSelect(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	pop, err := loadPopulation(selectInput)
	if err != nil {
		return err
	}
	logger.Info("loaded population", zap.Int("candidates", len(pop)))

	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.Endpoint,
		OllamaModel:    cfg.Embedding.Model,
		GenAIAPIKey:    cfg.Embedding.APIKey,
		GenAIModel:     cfg.Embedding.Model,
	})
	if err != nil {
		return err
	}

	vectorizer := embedding.NewVectorizer(engine, cfg.Embedding.Workers)
	vectors, failures := vectorizer.VectorizeAll(ctx, pop)
	for _, f := range failures {
		logger.Warn("vectorization failed", zap.String("candidate", f.CandidateID), zap.Error(f.Err))
	}
	if len(vectors) == 0 {
		return fmt.Errorf("no candidates could be vectorized")
	}

	metric, err := embedding.ParseMetric(cfg.Clustering.Metric)
	if err != nil {
		return err
	}
	clusterer := cluster.New(cluster.Config{
		MinClusterSize: cfg.Clustering.MinClusterSize,
		Epsilon:        cfg.Clustering.Epsilon,
		Metric:         metric,
	})
	asgn, err := clusterer.Cluster(vectors)
	if err != nil {
		return err
	}
	logger.Info("clustering complete",
		zap.Int("clusters", len(asgn.Clusters)), zap.Int("noise", len(asgn.Noise)))

	result, err := selection.Select(asgn, pop)
	if err != nil {
		if !selectFallback {
			return err
		}
		logger.Warn("no viable cluster selection, falling back to raw score", zap.Error(err))
		result, err = selection.SelectByRawScore(pop)
		if err != nil {
			return err
		}
	}

	if cfg.Store.PersistRuns {
		s, err := store.NewStore(cfg.Store.DatabasePath)
		if err != nil {
			return err
		}
		defer s.Close()

		id := uuid.New().String()
		if err := s.SaveSelection(id, selectRequest, *result); err != nil {
			return err
		}
		if err := s.SaveVectors(id, vectors); err != nil {
			return err
		}
		logger.Info("selection persisted", zap.String("id", id))
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
