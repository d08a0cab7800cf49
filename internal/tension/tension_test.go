package tension

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"soulforge/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptedTensionCapability struct {
	reply string
}

func (s scriptedTensionCapability) Generate(ctx context.Context, prompt string) (string, error) {
	return s.reply, nil
}

func axiomWith(id, text string) model.Axiom {
	return model.Axiom{ID: id, Text: text}
}

func TestDetect_SkipsEntirelyAboveHardCap(t *testing.T) {
	cap := scriptedTensionCapability{reply: `{"has_tension": true, "description": "conflict", "severity": "high"}`}
	d := New(cap, 2, 4) // cap of 2 axioms

	axioms := []model.Axiom{axiomWith("a1", "one"), axiomWith("a2", "two"), axiomWith("a3", "three")}
	out, err := d.Detect(context.Background(), axioms)
	require.NoError(t, err)
	for _, a := range out {
		require.Empty(t, a.Tensions, "above the hard cap, detection must be skipped entirely")
	}
}

func TestDetect_AttachesTensionToBothSides(t *testing.T) {
	cap := scriptedTensionCapability{reply: `{"has_tension": true, "description": "values speed over safety vs values safety over speed", "severity": "high"}`}
	d := New(cap, DefaultMaxAxioms, 4)

	axioms := []model.Axiom{axiomWith("a1", "Prioritize speed."), axiomWith("a2", "Prioritize safety.")}
	out, err := d.Detect(context.Background(), axioms)
	require.NoError(t, err)

	require.Len(t, out[0].Tensions, 1)
	require.Equal(t, "a2", out[0].Tensions[0].PeerAxiomID)
	require.Len(t, out[1].Tensions, 1)
	require.Equal(t, "a1", out[1].Tensions[0].PeerAxiomID)
}

func TestDetect_NoTensionPhraseFallbackAttachesNothing(t *testing.T) {
	cap := scriptedTensionCapability{reply: "These two axioms are well aligned and compatible."}
	d := New(cap, DefaultMaxAxioms, 4)

	axioms := []model.Axiom{axiomWith("a1", "one"), axiomWith("a2", "two")}
	out, err := d.Detect(context.Background(), axioms)
	require.NoError(t, err)
	require.Empty(t, out[0].Tensions)
	require.Empty(t, out[1].Tensions)
}

func TestDetect_RejectsTensionWithEmptyDescription(t *testing.T) {
	cap := scriptedTensionCapability{reply: `{"has_tension": true, "description": "", "severity": "high"}`}
	d := New(cap, DefaultMaxAxioms, 4)

	axioms := []model.Axiom{axiomWith("a1", "one"), axiomWith("a2", "two")}
	out, err := d.Detect(context.Background(), axioms)
	require.NoError(t, err)
	require.Empty(t, out[0].Tensions, "an empty-description affirmative must not be trusted")
}

func TestAttachTension_MergesWithoutClobberingExisting(t *testing.T) {
	existing := []model.Tension{{PeerAxiomID: "a9", Description: "prior tension", Severity: "low"}}
	merged := attachTension(existing, model.Tension{PeerAxiomID: "a2", Description: "new tension", Severity: "high"})

	require.Len(t, merged, 2, "attaching a new tension must not discard the existing one")
	require.Equal(t, "a9", merged[0].PeerAxiomID)
	require.Equal(t, "a2", merged[1].PeerAxiomID)
}

func TestAttachTension_DedupesIdenticalPeerAndDescription(t *testing.T) {
	existing := []model.Tension{{PeerAxiomID: "a2", Description: "same", Severity: "low"}}
	merged := attachTension(existing, model.Tension{PeerAxiomID: "a2", Description: "same", Severity: "low"})
	require.Len(t, merged, 1)
}
