// Package config loads arbor configuration from YAML with environment
// variable overrides. Every section has working defaults so a missing
// config file is not an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all arbor configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration (generator and judge calls)
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Clustering configuration
	Clustering ClusteringConfig `yaml:"clustering"`

	// Tournament configuration
	Tournament TournamentConfig `yaml:"tournament"`

	// Refinement loop configuration
	Refinement RefinementConfig `yaml:"refinement"`

	// Persistence
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the language model client.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // gemini
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	JudgeModel  string  `yaml:"judge_model"` // empty falls back to Model
	Temperature float64 `yaml:"temperature"`
	Timeout     string  `yaml:"timeout"`
	MaxRetries  int     `yaml:"max_retries"`
}

// EmbeddingConfig configures the vectorization engine.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // ollama, genai
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Workers  int    `yaml:"workers"`
}

// ClusteringConfig configures density-based clustering.
type ClusteringConfig struct {
	MinClusterSize int     `yaml:"min_cluster_size"`
	Epsilon        float64 `yaml:"epsilon"` // zero derives from the data
	Metric         string  `yaml:"metric"`  // cosine, euclidean
}

// TournamentConfig configures tournament selection.
type TournamentConfig struct {
	Format           string             `yaml:"format"` // single-elimination, double-elimination, round-robin, swiss
	Criteria         []string           `yaml:"criteria"`
	Weights          map[string]float64 `yaml:"weights"`
	HeadToHeadRounds int                `yaml:"head_to_head_rounds"`
	SwissRounds      int                `yaml:"swiss_rounds"`
	SingleGrandFinal bool               `yaml:"single_grand_final"`
	Workers          int                `yaml:"workers"`
}

// RefinementConfig configures the iterative refinement loop.
type RefinementConfig struct {
	MaxGenerations       int     `yaml:"max_generations"`
	BranchesPerSeed      int     `yaml:"branches_per_seed"`
	ConvergenceThreshold float64 `yaml:"convergence_threshold"`
	QualityTarget        float64 `yaml:"quality_target"` // zero disables
	TimeBudget           string  `yaml:"time_budget"`    // empty disables
	Temperature          float64 `yaml:"temperature"`
	TemperatureDecay     float64 `yaml:"temperature_decay"`
	FocusDimensions      int     `yaml:"focus_dimensions"`
}

// StoreConfig configures SQLite persistence.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
	PersistRuns  bool   `yaml:"persist_runs"`
}

// LoggingConfig configures logging output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "arbor",
		Version: "0.1.0",

		LLM: LLMConfig{
			Provider:    "gemini",
			Model:       "gemini-2.5-flash",
			Temperature: 0.8,
			Timeout:     "120s",
			MaxRetries:  1,
		},

		Embedding: EmbeddingConfig{
			Provider: "ollama",
			Model:    "embeddinggemma",
			Endpoint: "http://localhost:11434",
			Workers:  4,
		},

		Clustering: ClusteringConfig{
			MinClusterSize: 2,
			Epsilon:        0, // adaptive
			Metric:         "cosine",
		},

		Tournament: TournamentConfig{
			Format: "single-elimination",
			Criteria: []string{
				"coherence", "feasibility", "alignment",
				"risk_management", "resource_efficiency",
			},
			HeadToHeadRounds: 1,
			Workers:          4,
		},

		Refinement: RefinementConfig{
			MaxGenerations:       3,
			BranchesPerSeed:      3,
			ConvergenceThreshold: 0.05,
			QualityTarget:        0,
			TimeBudget:           "",
			Temperature:          0.8,
			TemperatureDecay:     0.85,
			FocusDimensions:      2,
		},

		Store: StoreConfig{
			DatabasePath: "data/arbor.db",
			PersistRuns:  true,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "arbor.log",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.Embedding.Provider == "genai" && c.Embedding.APIKey == "" {
			c.Embedding.APIKey = key
		}
	}
	if model := os.Getenv("ARBOR_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if url := os.Getenv("OLLAMA_HOST"); url != "" {
		c.Embedding.Endpoint = url
	}
	if path := os.Getenv("ARBOR_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if gens := os.Getenv("ARBOR_MAX_GENERATIONS"); gens != "" {
		if n, err := strconv.Atoi(gens); err == nil {
			c.Refinement.MaxGenerations = n
		}
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetTimeBudget returns the refinement time budget, zero when unset.
func (c *Config) GetTimeBudget() time.Duration {
	if c.Refinement.TimeBudget == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Refinement.TimeBudget)
	if err != nil {
		return 0
	}
	return d
}

// JudgeModel returns the judge model, falling back to the generator model.
func (c *Config) JudgeModel() string {
	if c.LLM.JudgeModel != "" {
		return c.LLM.JudgeModel
	}
	return c.LLM.Model
}
