// Command soulforge is the thin external collaborator that wires a run
// configuration and an LLM capability into the synthesis core and
// invokes it once. It does not implement a general CLI surface — no flag
// parsing, no help text, no subcommands — per the core's explicit
// out-of-scope boundary.
package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"soulforge/internal/config"
	"soulforge/internal/embedding"
	"soulforge/internal/llm"
	"soulforge/internal/logging"
	"soulforge/internal/reflect"
)

// runDescriptor is the one YAML file this binary reads; it exists
// outside the core boundary, which never parses configuration itself.
type runDescriptor struct {
	WorkspaceRoot        string `yaml:"workspace_root"`
	MemoryRoot           string `yaml:"memory_root"`
	GenAIModel           string `yaml:"genai_model"`
	EmbeddingModel       string `yaml:"embedding_model"`
	InterviewRoot        string `yaml:"interview_root"`
	ExistingArtifactPath string `yaml:"existing_artifact_path"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "soulforge:", err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := logging.NewDevelopment()
	if err != nil {
		return fmt.Errorf("soulforge: init logging: %w", err)
	}
	logging.Configure(logger)
	defer logging.Sync()

	descPath := "soulforge.yaml"
	if len(os.Args) > 1 {
		descPath = os.Args[1]
	}

	data, err := os.ReadFile(descPath)
	if err != nil {
		return fmt.Errorf("soulforge: read run descriptor %s: %w", descPath, err)
	}

	var desc runDescriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return fmt.Errorf("soulforge: parse run descriptor: %w", err)
	}
	if desc.WorkspaceRoot == "" {
		return fmt.Errorf("soulforge: workspace_root is required in %s", descPath)
	}
	if desc.MemoryRoot == "" {
		return fmt.Errorf("soulforge: memory_root is required in %s", descPath)
	}

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("soulforge: GEMINI_API_KEY is required")
	}

	ctx := context.Background()
	cap, err := llm.NewGenAICapability(ctx, apiKey, desc.GenAIModel)
	if err != nil {
		return fmt.Errorf("soulforge: construct llm capability: %w", err)
	}

	// The embedding capability is optional (§6): construction failure
	// here is logged and the run proceeds without the contradiction
	// sampler's embedding-similarity fallback tier.
	var embedCap llm.EmbeddingCapability
	if engine, err := embedding.NewGenAIEngine(ctx, apiKey, desc.EmbeddingModel); err != nil {
		logging.Get(logging.CategoryEmbedding).Warnw("embedding capability unavailable, continuing without it", "err", err)
	} else {
		embedCap = engine
	}

	cfg := config.FromEnvironment()
	cfg.WorkspaceRoot = desc.WorkspaceRoot
	cfg.MemoryRoot = desc.MemoryRoot
	cfg.InterviewRoot = desc.InterviewRoot
	cfg.ExistingArtifactPath = desc.ExistingArtifactPath

	result, err := reflect.Run(ctx, cfg, cap, embedCap)
	if err != nil {
		return fmt.Errorf("soulforge: run: %w", err)
	}

	if result.Metrics.Skipped {
		fmt.Printf("run skipped: %s\n", result.Metrics.SkipReason)
		return nil
	}

	fmt.Printf("signals=%d principles=%d axioms=%d cascade_level=%d compression_ratio=%.3f fallback_rate=%.3f\n",
		result.Metrics.SignalCount, result.Metrics.PrincipleCount, result.Metrics.AxiomCount,
		result.Metrics.CascadeLevel, result.Metrics.CompressionRatio, result.Metrics.FallbackRate)
	return nil
}
