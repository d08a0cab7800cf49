package reflect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"soulforge/internal/config"
	"soulforge/internal/cycle"
	"soulforge/internal/model"
)

// fakeOrchestrationCapability answers every prompt shape the pipeline
// produces deterministically, so the run-necessity gate is the only
// thing under test, not the underlying classifier behavior.
type fakeOrchestrationCapability struct {
	compareEquivalent bool
}

var legalCategoryLineRe = regexp.MustCompile(`(?m)^- (.+)$`)

func (f *fakeOrchestrationCapability) Generate(ctx context.Context, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "Legal categories"):
		cat := "yes"
		if m := legalCategoryLineRe.FindStringSubmatch(prompt); len(m) > 1 {
			cat = strings.TrimSpace(m[1])
		}
		return fmt.Sprintf(`{"category": %q, "confidence": 0.9}`, cat), nil
	case strings.Contains(prompt, "Statement A:"):
		return fmt.Sprintf(`{"equivalent": %v, "confidence": 0.9}`, f.compareEquivalent), nil
	case strings.Contains(prompt, "Candidates:"):
		return `{"index": -1, "confidence": 0.9}`, nil
	case strings.Contains(prompt, "genuine value conflict"):
		return "These two axioms are aligned and compatible.", nil
	case strings.Contains(prompt, "actor-agnostic"):
		return "Demonstrates consistency across relationships.", nil
	default:
		return "no tension", nil
	}
}

func setupWorkspace(t *testing.T) (workspace, memory string) {
	t.Helper()
	workspace = t.TempDir()
	memory = filepath.Join(workspace, "memory")
	require.NoError(t, os.MkdirAll(memory, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(memory, "diary.md"),
		[]byte("- I deeply value honesty in every relationship\n"), 0o644))
	return workspace, memory
}

func seedSoulState(t *testing.T, workspace, memory string, priorAxioms []model.Axiom) {
	t.Helper()
	corpus, err := readCorpus(workspace, memory)
	require.NoError(t, err)

	m, err := cycle.NewManager(workspace)
	require.NoError(t, err)

	require.NoError(t, m.WriteSoulState(model.SoulState{
		FormatVersion:    model.CurrentFormatVersion,
		MemoryCorpusHash: cycle.HashCorpus(corpus),
		MemoryCorpusSize: len(corpus),
		PriorAxioms:      priorAxioms,
	}))
}

func TestRun_SkipsWhenNoContentDeltaAndNoPriorAxiomOverlap(t *testing.T) {
	workspace, memory := setupWorkspace(t)
	seedSoulState(t, workspace, memory, nil)

	cfg := config.Default()
	cfg.WorkspaceRoot = workspace
	cfg.MemoryRoot = memory

	result, err := Run(context.Background(), cfg, &fakeOrchestrationCapability{}, nil)
	require.NoError(t, err)
	require.True(t, result.Metrics.Skipped)
	require.Contains(t, result.Metrics.SkipReason, "no content delta")
}

func TestRun_ProceedsOnContradictionSampleDespiteNoContentDelta(t *testing.T) {
	workspace, memory := setupWorkspace(t)
	seedSoulState(t, workspace, memory, []model.Axiom{
		{ID: "a1", Text: "Never compromises on honesty in every relationship", Dimension: model.DimensionHonestyFramework},
	})

	cfg := config.Default()
	cfg.WorkspaceRoot = workspace
	cfg.MemoryRoot = memory

	result, err := Run(context.Background(), cfg, &fakeOrchestrationCapability{compareEquivalent: false}, nil)
	require.NoError(t, err)
	require.False(t, result.Metrics.Skipped)
	require.NotEmpty(t, result.Signals)
}

func TestRun_ForceResynthesisBypassesNecessityGate(t *testing.T) {
	workspace, memory := setupWorkspace(t)
	seedSoulState(t, workspace, memory, nil)

	cfg := config.Default()
	cfg.WorkspaceRoot = workspace
	cfg.MemoryRoot = memory
	cfg.ForceResynthesis = true

	result, err := Run(context.Background(), cfg, &fakeOrchestrationCapability{}, nil)
	require.NoError(t, err)
	require.False(t, result.Metrics.Skipped)
}

func TestRun_FatalWhenCapabilityNil(t *testing.T) {
	workspace, memory := setupWorkspace(t)

	cfg := config.Default()
	cfg.WorkspaceRoot = workspace
	cfg.MemoryRoot = memory

	_, err := Run(context.Background(), cfg, nil, nil)
	require.ErrorIs(t, err, model.ErrFatal)
}
