package cycle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"soulforge/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWriteJSON_AtomicWriteLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	require.NoError(t, m.WriteJSON(stateFile, map[string]string{"a": "1"}))

	entries, err := os.ReadDir(m.StateDir())
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, len(e.Name()) >= len(tmpPrefix) && e.Name()[:len(tmpPrefix)] == tmpPrefix,
			"temp file %s left behind after successful write", e.Name())
	}
}

func TestNewManager_SweepsOrphanedTempFileFromPriorCrash(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, StateDirName)
	require.NoError(t, os.MkdirAll(filepath.Join(stateDir, backupsDir), 0o755))

	orphan := filepath.Join(stateDir, tmpPrefix+"state.json.12345")
	require.NoError(t, os.WriteFile(orphan, []byte("{}"), 0o644))

	_, err := NewManager(dir)
	require.NoError(t, err)

	_, statErr := os.Stat(orphan)
	require.True(t, os.IsNotExist(statErr), "orphaned temp file must be swept on manager startup")
}

func TestLoadSoulState_CorruptFileReportedWithoutOverwritingCaller(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(m.StateDir(), soulFile), []byte("not json"), 0o644))

	state := m.LoadSoulState()
	require.True(t, state.StateCorrupt)
}

func TestLoadSoulState_MissingFileIsNotCorrupt(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	state := m.LoadSoulState()
	require.False(t, state.StateCorrupt)
	require.Equal(t, "", state.MemoryCorpusHash)
}

func TestWriteSoulState_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	want := model.SoulState{
		FormatVersion:    model.CurrentFormatVersion,
		MemoryCorpusHash: "deadbeef",
		MemoryCorpusSize: 42,
	}
	require.NoError(t, m.WriteSoulState(want))

	got := m.LoadSoulState()
	require.False(t, got.StateCorrupt)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("soul state round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteRunArtifacts_PersistsAllThreeDocuments(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	signals := []model.Signal{{ID: "s1", Text: "t"}}
	principles := []model.Principle{{ID: "p1", Text: "t"}}
	axioms := []model.Axiom{{ID: "a1", Text: "t"}}

	require.NoError(t, m.WriteRunArtifacts(signals, principles, axioms))

	for _, name := range []string{signalsFile, principlesFile, axiomsFile} {
		_, err := os.Stat(filepath.Join(m.StateDir(), name))
		require.NoError(t, err, "expected %s to exist", name)
	}
}
