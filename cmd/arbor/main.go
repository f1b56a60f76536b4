package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"arbor/internal/config"
	"arbor/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string
	apiKey     string

	// Logger
	logger *zap.Logger
	cfg    *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "arbor",
	Short: "arbor - candidate selection and refinement engine",
	Long: `arbor converges a population of candidate plans onto a single trunk
plus distinct twig alternatives, and iteratively refines a chosen plan
until it converges or exhausts its budget.

Pipelines:
  select      vectorize -> cluster -> trunk/twig selection
  tournament  pairwise judge matchups in a bracket or schedule
  refine      bounded improve-and-evaluate loop over a seed plan
  replay      inspect persisted selections and refinement sessions`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapConfig := zap.NewProductionConfig()
		if verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if apiKey != "" {
			cfg.LLM.APIKey = apiKey
		}

		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("category logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "arbor.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", ".", "Workspace directory for logs and state")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "LLM API key (overrides config and environment)")

	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(tournamentCmd)
	rootCmd.AddCommand(refineCmd)
	rootCmd.AddCommand(replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
