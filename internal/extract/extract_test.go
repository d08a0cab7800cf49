package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"soulforge/internal/classify"
	"soulforge/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// yesCapability answers "yes" to the identity-bearing filter and a fixed
// category to every metadata classifier, so every discovered candidate
// survives into a Signal.
type yesCapability struct{}

func (yesCapability) Generate(ctx context.Context, prompt string) (string, error) {
	return `{"category": "yes", "confidence": 0.9}`, nil
}

func TestExtract_RejectsMemoryRootOutsideWorkspaceRoot(t *testing.T) {
	workspace := t.TempDir()
	outside := t.TempDir() // sibling, not nested under workspace

	e := New(classify.New(yesCapability{}), 4)
	_, err := e.Extract(context.Background(), workspace, outside)
	require.Error(t, err)
}

func TestExtract_AcceptsMemoryRootNestedInWorkspaceRoot(t *testing.T) {
	workspace := t.TempDir()
	memory := filepath.Join(workspace, "memory")
	require.NoError(t, os.MkdirAll(memory, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(memory, "diary.md"), []byte("- I deeply value honesty in every conversation\n"), 0o644))

	e := New(classify.New(yesCapability{}), 4)
	signals, err := e.Extract(context.Background(), workspace, memory)
	require.NoError(t, err)
	require.Len(t, signals, 1)
}

func TestExtractSources_TagsInterviewAndTemplateArtifactKinds(t *testing.T) {
	workspace := t.TempDir()
	memory := filepath.Join(workspace, "memory")
	interview := filepath.Join(workspace, "interview")
	require.NoError(t, os.MkdirAll(memory, 0o755))
	require.NoError(t, os.MkdirAll(interview, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(memory, "diary.md"), []byte("- I deeply value honesty in every conversation\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(interview, "session1.md"), []byte("- I said I prefer directness over diplomacy\n"), 0o644))
	artifactPath := filepath.Join(workspace, "prior-identity.md")
	require.NoError(t, os.WriteFile(artifactPath, []byte("- Values directness over diplomacy\n"), 0o644))

	e := New(classify.New(yesCapability{}), 4)
	signals, err := e.ExtractSources(context.Background(), workspace, Sources{
		MemoryRoot:           memory,
		InterviewRoot:        interview,
		ExistingArtifactPath: artifactPath,
	})
	require.NoError(t, err)
	require.Len(t, signals, 3)

	byKind := map[model.ArtifactKind]int{}
	for _, s := range signals {
		byKind[s.Source.ArtifactKind]++
	}
	require.Equal(t, 1, byKind[model.ArtifactMemory])
	require.Equal(t, 1, byKind[model.ArtifactInterview])
	require.Equal(t, 1, byKind[model.ArtifactTemplate])
}

func TestExtractSources_RejectsInterviewRootOutsideWorkspaceRoot(t *testing.T) {
	workspace := t.TempDir()
	memory := filepath.Join(workspace, "memory")
	require.NoError(t, os.MkdirAll(memory, 0o755))
	outside := t.TempDir()

	e := New(classify.New(yesCapability{}), 4)
	_, err := e.ExtractSources(context.Background(), workspace, Sources{
		MemoryRoot:    memory,
		InterviewRoot: outside,
	})
	require.Error(t, err)
}

func TestCollectCandidates_NeverFollowsSymlinkedDirectory(t *testing.T) {
	workspace := t.TempDir()
	memory := filepath.Join(workspace, "memory")
	outsideTarget := t.TempDir()
	require.NoError(t, os.MkdirAll(memory, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outsideTarget, "secret.md"), []byte("- a line that should never be read\n"), 0o644))

	symlinkPath := filepath.Join(memory, "linked")
	if err := os.Symlink(outsideTarget, symlinkPath); err != nil {
		t.Skipf("symlinks unsupported in this environment: %v", err)
	}

	e := New(classify.New(yesCapability{}), 4)
	candidates, err := e.collectCandidates(workspace, memory, model.ArtifactMemory)
	require.NoError(t, err)
	for _, c := range candidates {
		require.NotContains(t, c.filePath, outsideTarget, "extractor must never read through a symlinked directory")
	}
}

func TestCollectCandidates_NeverFollowsSymlinkedFile(t *testing.T) {
	workspace := t.TempDir()
	memory := filepath.Join(workspace, "memory")
	require.NoError(t, os.MkdirAll(memory, 0o755))

	outsideFile := filepath.Join(t.TempDir(), "secret.md")
	require.NoError(t, os.WriteFile(outsideFile, []byte("- a line that should never be read\n"), 0o644))

	symlinkPath := filepath.Join(memory, "linked.md")
	if err := os.Symlink(outsideFile, symlinkPath); err != nil {
		t.Skipf("symlinks unsupported in this environment: %v", err)
	}

	e := New(classify.New(yesCapability{}), 4)
	candidates, err := e.collectCandidates(workspace, memory, model.ArtifactMemory)
	require.NoError(t, err)
	require.Empty(t, candidates, "a symlinked file must not be read")
}

func TestStripListMarker_BulletAndNumberedForms(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		matched bool
	}{
		{"- bullet text", "bullet text", true},
		{"* star text", "star text", true},
		{"+ plus text", "plus text", true},
		{"1. first item", "first item", true},
		{"12) twelfth item", "twelfth item", true},
		{"no marker here", "", false},
	}
	for _, c := range cases {
		got, ok := stripListMarker(c.in)
		require.Equal(t, c.matched, ok, "input %q", c.in)
		if c.matched {
			require.Equal(t, c.want, got)
		}
	}
}

func TestClassifyPathCategory_MatchesKnownDirectorySegment(t *testing.T) {
	root := "/workspace/memory"
	path := "/workspace/memory/diary/2026-01-01.md"
	require.Equal(t, "diary", string(classifyPathCategory(root, path)))
}

func TestSignalID_StableForSameInputsDifferentForDifferentText(t *testing.T) {
	id1 := signalID("/a/b.md", "same text")
	id2 := signalID("/a/b.md", "same text")
	id3 := signalID("/a/b.md", "different text")
	require.Equal(t, id1, id2)
	require.NotEqual(t, id1, id3)
}
