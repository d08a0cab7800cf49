package generalize

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"soulforge/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingCapability returns a fixed valid generalization and counts calls,
// so tests can assert the cache avoided (or triggered) an LLM round trip.
type countingCapability struct {
	calls atomic.Int64
	reply string
}

func (c *countingCapability) Generate(ctx context.Context, prompt string) (string, error) {
	c.calls.Add(1)
	return c.reply, nil
}

func sig(id, text string) model.Signal {
	return model.Signal{ID: id, Text: text, Dimension: model.DimensionIdentityCore}
}

func TestGeneralize_CacheHitAvoidsSecondLLMCall(t *testing.T) {
	cap := &countingCapability{reply: "Values honesty over comfort."}
	g, err := New(cap, "model-a", 4)
	require.NoError(t, err)

	ctx := context.Background()
	s := sig("s1", "I value honesty a lot.")

	first, err := g.generalizeOne(ctx, s)
	require.NoError(t, err)
	require.Equal(t, int64(1), cap.calls.Load())

	second, err := g.generalizeOne(ctx, s)
	require.NoError(t, err)
	require.Equal(t, int64(1), cap.calls.Load(), "second call with identical signal must hit the cache")
	require.Equal(t, first, second)
}

func TestGeneralize_TextChangeInvalidatesCacheForSameSignalID(t *testing.T) {
	cap := &countingCapability{reply: "Values honesty over comfort."}
	g, err := New(cap, "model-a", 4)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = g.generalizeOne(ctx, sig("s1", "I value honesty a lot."))
	require.NoError(t, err)
	require.Equal(t, int64(1), cap.calls.Load())

	_, err = g.generalizeOne(ctx, sig("s1", "I value kindness a lot."))
	require.NoError(t, err)
	require.Equal(t, int64(2), cap.calls.Load(), "a changed signal text under the same id must bypass the cache")
}

func TestGeneralize_DifferentModelIDBypassesCache(t *testing.T) {
	cap := &countingCapability{reply: "Values honesty over comfort."}
	ctx := context.Background()
	s := sig("s1", "I value honesty a lot.")

	g1, err := New(cap, "model-a", 4)
	require.NoError(t, err)
	_, err = g1.generalizeOne(ctx, s)
	require.NoError(t, err)

	g2, err := New(cap, "model-b", 4)
	require.NoError(t, err)
	_, err = g2.generalizeOne(ctx, s)
	require.NoError(t, err)

	require.Equal(t, int64(2), cap.calls.Load(), "a different model id is a different cache key")
}

func TestGeneralize_FallsBackToSourceTextOnForbiddenPronoun(t *testing.T) {
	cap := &countingCapability{reply: "I value honesty a lot."} // contains "I" — forbidden
	g, err := New(cap, "model-a", 4)
	require.NoError(t, err)

	ctx := context.Background()
	s := sig("s1", "I value honesty a lot.")

	gs, err := g.generalizeOne(ctx, s)
	require.NoError(t, err)
	require.True(t, gs.UsedFallback)
	require.Equal(t, s.Text, gs.GeneralizedText)
	require.Equal(t, int64(2), cap.calls.Load(), "both retry attempts must be spent before falling back")
}

func TestGeneralizeAll_AggregatesAcrossConcurrentSignals(t *testing.T) {
	cap := &countingCapability{reply: "Values honesty over comfort."}
	g, err := New(cap, "model-a", 4)
	require.NoError(t, err)

	signals := []model.Signal{
		sig("s1", "text one"),
		sig("s2", "text two"),
		sig("s3", "text three"),
	}

	out, err := g.GeneralizeAll(context.Background(), signals)
	require.NoError(t, err)
	require.Len(t, out, len(signals))
	for i, gs := range out {
		require.Equal(t, signals[i].ID, gs.SignalID)
		require.False(t, gs.UsedFallback)
	}
}
