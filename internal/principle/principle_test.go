package principle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"soulforge/internal/classify"
	"soulforge/internal/model"
)

// fakeCapability reports "no match" when equivalentIndex is negative,
// forcing every generalized signal to create its own principle; with a
// non-negative equivalentIndex it reports candidate 0 as the match.
type fakeCapability struct {
	equivalentIndex int
	confidence      float64
}

func (f *fakeCapability) Generate(ctx context.Context, prompt string) (string, error) {
	if f.equivalentIndex < 0 {
		return `{"index": -1, "confidence": 0}`, nil
	}
	return `{"index": 0, "confidence": ` + confidenceStr(f.confidence) + `}`, nil
}

func confidenceStr(c float64) string {
	if c == 0 {
		return "0.9"
	}
	switch c {
	case 1:
		return "1.0"
	default:
		return "0.9"
	}
}

func gs(id, text string) model.GeneralizedSignal {
	return model.GeneralizedSignal{SignalID: id, GeneralizedText: text, Provenance: model.ProvenanceSelf, Stance: model.StanceAssert, Importance: model.ImportanceSupporting}
}

func TestStore_SinglePassInvariant(t *testing.T) {
	cap := &fakeCapability{equivalentIndex: -1}
	store := New(classify.New(cap), 0.75)
	ctx := context.Background()

	signals := []model.GeneralizedSignal{gs("s1", "Values honesty."), gs("s2", "Values kindness."), gs("s3", "Values growth.")}
	for _, s := range signals {
		_, err := store.Add(ctx, s, model.Source{}, model.Signal{ID: s.SignalID, Stance: s.Stance, Importance: s.Importance, Provenance: s.Provenance})
		require.NoError(t, err)
	}

	total := 0
	seen := map[string]bool{}
	for _, p := range store.Principles() {
		for _, d := range p.DerivedFrom {
			require.False(t, seen[d.SignalID], "signal %s appeared in more than one principle", d.SignalID)
			seen[d.SignalID] = true
		}
		total += p.NCount
	}
	require.Equal(t, len(signals), total)
}

func TestStore_DedupIdempotence(t *testing.T) {
	cap := &fakeCapability{equivalentIndex: -1}
	store := New(classify.New(cap), 0.75)
	ctx := context.Background()

	s := gs("s1", "Values honesty.")
	r1, err := store.Add(ctx, s, model.Source{}, model.Signal{ID: s.SignalID})
	require.NoError(t, err)
	require.Equal(t, AddResultCreated, r1)

	r2, err := store.Add(ctx, s, model.Source{}, model.Signal{ID: s.SignalID})
	require.NoError(t, err)
	require.Equal(t, AddResultDuplicate, r2)

	principles := store.Principles()
	require.Len(t, principles, 1)
	require.Equal(t, 1, principles[0].NCount)
}

func TestStore_ClusterMatch(t *testing.T) {
	cap := &fakeCapability{equivalentIndex: 0, confidence: 0.9}
	store := New(classify.New(cap), 0.75)
	ctx := context.Background()

	first := gs("s1", "Values honesty.")
	_, err := store.Add(ctx, first, model.Source{}, model.Signal{ID: first.SignalID})
	require.NoError(t, err)

	second := gs("s2", "Values honesty, differently worded.")
	r2, err := store.Add(ctx, second, model.Source{}, model.Signal{ID: second.SignalID})
	require.NoError(t, err)
	require.Equal(t, AddResultReinforced, r2)

	principles := store.Principles()
	require.Len(t, principles, 1)
	require.Equal(t, 2, principles[0].NCount)
}
