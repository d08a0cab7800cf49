// Package reflect orchestrates the synthesis pipeline in its defined
// sequence: extraction, generalization, principle clustering, the
// compression cascade, and tension detection. It performs a single
// reflective pass per run, not an iterative fixed point — the historical
// iterative design caused self-matching and collapsed compression.
package reflect

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"soulforge/internal/classify"
	"soulforge/internal/compress"
	"soulforge/internal/config"
	"soulforge/internal/cycle"
	"soulforge/internal/extract"
	"soulforge/internal/generalize"
	"soulforge/internal/llm"
	"soulforge/internal/logging"
	"soulforge/internal/model"
	"soulforge/internal/principle"
	"soulforge/internal/tension"
)

// Run executes one synthesis cycle: it gates on run-necessity, acquires
// the workspace lock, runs the pipeline, and persists the result.
// Capability must be non-nil; an absent LLM capability is fatal (§7.6).
func Run(ctx context.Context, cfg config.Config, cap llm.Capability, embedCap llm.EmbeddingCapability) (model.RunResult, error) {
	log := logging.Get(logging.CategoryCycle)

	if cap == nil {
		return model.RunResult{}, fmt.Errorf("reflect: %w", model.ErrFatal)
	}
	cap = llm.WithTimeout(cap, time.Duration(cfg.LLMTimeoutMS)*time.Millisecond)

	manager, err := cycle.NewManager(cfg.WorkspaceRoot)
	if err != nil {
		return model.RunResult{}, fmt.Errorf("reflect: %w", err)
	}

	lock, err := manager.AcquireLock()
	if err != nil {
		return model.RunResult{}, fmt.Errorf("reflect: %w", err)
	}
	defer lock.Release()

	classifier := classify.New(cap)

	corpus, err := readCorpus(cfg.WorkspaceRoot, cfg.MemoryRoot)
	if err != nil {
		return model.RunResult{}, fmt.Errorf("reflect: read corpus: %w", err)
	}

	// Cheap pre-check: force flag or content-hash delta alone, before
	// paying for extraction.
	decision := manager.DecideRunNecessity(ctx, cycle.NecessityConfig{Force: cfg.ForceResynthesis}, corpus, nil, manager.LoadSoulState().PriorAxioms, nil, embedCap)
	if !decision.Necessary {
		log.Infow("extracting a contradiction-sampling subset before final skip decision")
	}

	extractor := extract.New(classifier, cfg.LLMConcurrency)
	signals, err := extractor.ExtractSources(ctx, cfg.WorkspaceRoot, extract.Sources{
		MemoryRoot:           cfg.MemoryRoot,
		InterviewRoot:        cfg.InterviewRoot,
		ExistingArtifactPath: cfg.ExistingArtifactPath,
	})
	if err != nil {
		return model.RunResult{}, fmt.Errorf("reflect: extract: %w", err)
	}

	if !decision.Necessary {
		// Re-check with the extracted signals available for contradiction
		// sampling, the one run-necessity path that needs pipeline data.
		soulState := manager.LoadSoulState()
		decision = manager.DecideRunNecessity(ctx, cycle.NecessityConfig{Force: cfg.ForceResynthesis}, corpus, signals, soulState.PriorAxioms, classifier, embedCap)
	}

	if !decision.Necessary {
		log.Infow("run skipped", "reason", decision.Reason)
		return model.RunResult{
			Metrics: model.RunMetrics{Skipped: true, SkipReason: decision.Reason},
		}, nil
	}
	log.Infow("run proceeding", "reason", decision.Reason)

	modelID := "genai:" + "default"
	generalizer, err := generalize.New(cap, modelID, cfg.LLMConcurrency)
	if err != nil {
		return model.RunResult{}, fmt.Errorf("reflect: %w", err)
	}

	generalized, err := generalizer.GeneralizeAll(ctx, signals)
	if err != nil {
		return model.RunResult{}, fmt.Errorf("reflect: generalize: %w", err)
	}

	signalByID := make(map[string]model.Signal, len(signals))
	for _, s := range signals {
		signalByID[s.ID] = s
	}

	store := principle.New(classifier, cfg.SimilarityThreshold)
	for _, gs := range generalized {
		orig := signalByID[gs.SignalID]
		if _, err := store.Add(ctx, gs, orig.Source, orig); err != nil {
			return model.RunResult{}, fmt.Errorf("reflect: principle add: %w", err)
		}
	}
	principles := store.Principles()

	compression := compress.Compress(principles, compress.DefaultCognitiveLoadCap)

	detector := tension.New(cap, tension.DefaultMaxAxioms, cfg.LLMConcurrency)
	axioms, err := detector.Detect(ctx, compression.Axioms)
	if err != nil {
		return model.RunResult{}, fmt.Errorf("reflect: tension: %w", err)
	}

	metrics := computeMetrics(signals, principles, axioms, generalized, compression.CascadeLevel)

	if err := manager.WriteRunArtifacts(signals, principles, axioms); err != nil {
		return model.RunResult{}, fmt.Errorf("reflect: persist artifacts: %w", err)
	}

	newState := model.SoulState{
		FormatVersion:    model.CurrentFormatVersion,
		PriorAxioms:      axioms,
		PriorPrinciples:  principles,
		MemoryCorpusHash: cycle.HashCorpus(corpus),
		MemoryCorpusSize: len(corpus),
		LastRunAt:        time.Now().UTC(),
	}
	if err := manager.WriteSoulState(newState); err != nil {
		return model.RunResult{}, fmt.Errorf("reflect: persist soul state: %w", err)
	}

	return model.RunResult{
		Metrics:    metrics,
		Axioms:     axioms,
		Principles: principles,
		Signals:    signals,
	}, nil
}

func computeMetrics(signals []model.Signal, principles []model.Principle, axioms []model.Axiom, generalized []model.GeneralizedSignal, cascadeLevel int) model.RunMetrics {
	fallback := 0
	for _, g := range generalized {
		if g.UsedFallback {
			fallback++
		}
	}

	coverage := make(map[model.Dimension]int)
	for _, a := range axioms {
		coverage[a.Dimension]++
	}

	m := model.RunMetrics{
		SignalCount:       len(signals),
		PrincipleCount:    len(principles),
		AxiomCount:        len(axioms),
		DimensionCoverage: coverage,
		CascadeLevel:      cascadeLevel,
	}
	if len(signals) > 0 {
		m.CompressionRatio = float64(len(axioms)) / float64(len(signals))
		m.FallbackRate = float64(fallback) / float64(len(signals))
	}
	return m
}

// readCorpus concatenates every file under memoryRoot for content-hash
// and delta computation, applying the same symlink and path-escape
// guards as the extractor.
func readCorpus(workspaceRoot, memoryRoot string) (string, error) {
	absWorkspace, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return "", err
	}
	absMemory, err := filepath.Abs(memoryRoot)
	if err != nil {
		return "", err
	}

	var out []byte
	err = filepath.WalkDir(absMemory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		info, lerr := d.Info()
		if lerr == nil && info.Mode()&fs.ModeSymlink != 0 {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		abs, aerr := filepath.Abs(path)
		if aerr != nil || !withinRoot(absWorkspace, abs) {
			return nil
		}
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil
		}
		out = append(out, data...)
		return nil
	})
	return string(out), err
}

func withinRoot(root, candidate string) bool {
	root = filepath.Clean(root)
	candidate = filepath.Clean(candidate)
	if candidate == root {
		return true
	}
	return len(candidate) > len(root) && candidate[:len(root)+1] == root+string(filepath.Separator)
}
