// Package generalize rewrites signals into actor-agnostic, imperative
// paraphrases and caches the results by (signal-id, text-hash,
// prompt-version, model-id).
package generalize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"soulforge/internal/llm"
	"soulforge/internal/logging"
	"soulforge/internal/model"
)

// PromptVersion is bumped whenever the generalization prompt's semantics
// change, invalidating cache entries built under the old prompt.
const PromptVersion = "v1"

const maxGeneralizedLen = 280

var forbiddenPronounRe = regexp.MustCompile(`(?i)\b(i|me|my|mine|myself|you|your|yours|yourself|we|us|our|ours)\b`)

// Generalizer produces GeneralizedSignals, caching by content and model.
type Generalizer struct {
	cap         llm.Capability
	modelID     string
	cache       *lru.Cache[string, model.GeneralizedSignal]
	concurrency int
}

// New constructs a Generalizer with a bounded 1000-entry LRU cache.
func New(cap llm.Capability, modelID string, concurrency int) (*Generalizer, error) {
	cache, err := lru.New[string, model.GeneralizedSignal](1000)
	if err != nil {
		return nil, fmt.Errorf("generalize: create cache: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Generalizer{cap: cap, modelID: modelID, cache: cache, concurrency: concurrency}, nil
}

// GeneralizeAll generalizes every signal, using the cache where possible
// and fanning out cache misses across a bounded worker pool.
func (g *Generalizer) GeneralizeAll(ctx context.Context, signals []model.Signal) ([]model.GeneralizedSignal, error) {
	log := logging.Get(logging.CategoryGeneralize)
	out := make([]model.GeneralizedSignal, len(signals))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)

	fallbackCount := 0
	sampleLogged := 0
	for i, sig := range signals {
		i, sig := i, sig
		eg.Go(func() error {
			gs, err := g.generalizeOne(gctx, sig)
			if err != nil {
				return err
			}
			out[i] = gs
			if gs.UsedFallback {
				fallbackCount++
			}
			if sampleLogged < 5 {
				sampleLogged++
				log.Debugw("generalized", "signal_id", sig.ID, "fallback", gs.UsedFallback)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if len(signals) > 0 {
		rate := float64(fallbackCount) / float64(len(signals))
		if rate > 0.10 {
			log.Warnw("aggregate fallback rate above 10%, surface to operator", "rate", rate)
		}
	}

	return out, nil
}

func (g *Generalizer) generalizeOne(ctx context.Context, sig model.Signal) (model.GeneralizedSignal, error) {
	textHash := hashText(sig.Text)
	key := model.CacheKey(sig.ID, textHash, PromptVersion, g.modelID)

	if cached, ok := g.cache.Get(key); ok {
		return cached, nil
	}

	gs, err := g.generate(ctx, sig, textHash)
	if err != nil {
		return model.GeneralizedSignal{}, err
	}
	g.cache.Add(key, gs)
	return gs, nil
}

func (g *Generalizer) generate(ctx context.Context, sig model.Signal, textHash string) (model.GeneralizedSignal, error) {
	log := logging.Get(logging.CategoryGeneralize)

	base := model.GeneralizedSignal{
		SignalID:    sig.ID,
		ModelID:     g.modelID,
		PromptVersion: PromptVersion,
		TextHash:    textHash,
		Dimension:   sig.Dimension,
		Stance:      sig.Stance,
		Importance:  sig.Importance,
		Elicitation: sig.Elicitation,
		Provenance:  sig.Provenance,
		SourceText:  sig.Text,
	}

	for attempt := 0; attempt < 2; attempt++ {
		prompt := buildGeneralizationPrompt(sig, attempt > 0)
		reply, err := g.cap.Generate(ctx, prompt)
		if err != nil {
			log.Warnw("generalize generate failed", "signal_id", sig.ID, "err", err)
			break
		}

		candidate := strings.TrimSpace(reply)
		if validGeneralization(candidate) {
			base.GeneralizedText = candidate
			base.UsedFallback = false
			return base, nil
		}
		log.Debugw("generalization rejected, retrying", "signal_id", sig.ID, "attempt", attempt,
			"err", fmt.Errorf("generalize: %w", model.ErrValidation))
	}

	base.GeneralizedText = sig.Text
	base.UsedFallback = true
	log.Warnw("generalization fell back to source text after exhausting retries", "signal_id", sig.ID,
		"err", fmt.Errorf("generalize: %w", model.ErrValidation))
	return base, nil
}

func buildGeneralizationPrompt(sig model.Signal, isRetry bool) string {
	var b strings.Builder
	b.WriteString("Rewrite the following identity statement as an actor-agnostic, imperative paraphrase. ")
	b.WriteString("Do not use first- or second-person pronouns (I, me, my, you, your, we, us). ")
	b.WriteString("Do not invent policy beyond what the statement says. Keep it under 40 words. ")
	b.WriteString("Example style: \"Values honesty over comfort.\"\n\n")
	fmt.Fprintf(&b, "Dimension: %s\n", sig.Dimension)
	fmt.Fprintf(&b, "Statement: %s\n", sig.Text)
	if isRetry {
		b.WriteString("\nYour previous attempt used a forbidden pronoun or was empty/too long. Try again, following the rules exactly.\n")
	}
	return b.String()
}

func validGeneralization(text string) bool {
	if text == "" {
		return false
	}
	if len(text) > maxGeneralizedLen {
		return false
	}
	if forbiddenPronounRe.MatchString(text) {
		return false
	}
	return true
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
