package cycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"soulforge/internal/classify"
	"soulforge/internal/embedding"
	"soulforge/internal/llm"
	"soulforge/internal/logging"
	"soulforge/internal/model"
)

// minContentDelta is the minimum absolute character difference between
// the current memory corpus and the hash-associated previous size
// required to consider a run necessary on content grounds alone.
const minContentDelta = 1

// RunDecision is the outcome of the run-necessity gate.
type RunDecision struct {
	Necessary bool
	Reason    string
}

// HashCorpus returns the content hash used to detect memory-corpus
// changes between runs.
func HashCorpus(corpus string) string {
	sum := sha256.Sum256([]byte(corpus))
	return hex.EncodeToString(sum[:])
}

// DecideRunNecessity applies the run-necessity gate: force flag, content
// hash delta, or a sampled contradiction between existing axioms and new
// signal text.
func (m *Manager) DecideRunNecessity(ctx context.Context, cfg NecessityConfig, corpus string, newSignals []model.Signal, existingAxioms []model.Axiom, classifier *classify.Classifier, embedCap llm.EmbeddingCapability) RunDecision {
	log := logging.Get(logging.CategoryCycle)

	if cfg.Force {
		return RunDecision{Necessary: true, Reason: "force flag set"}
	}

	state := m.LoadSoulState()
	currentHash := HashCorpus(corpus)

	if state.StateCorrupt {
		return RunDecision{Necessary: true, Reason: "prior soul state unreadable"}
	}

	if state.MemoryCorpusHash == "" {
		return RunDecision{Necessary: true, Reason: "no prior run recorded"}
	}

	if currentHash != state.MemoryCorpusHash {
		delta := len(corpus) - state.MemoryCorpusSize
		if delta < 0 {
			delta = -delta
		}
		if delta >= minContentDelta {
			return RunDecision{Necessary: true, Reason: fmt.Sprintf("content hash changed, delta=%d chars", delta)}
		}
	}

	if classifier != nil {
		if reason, found := m.sampleContradiction(ctx, classifier, embedCap, newSignals, existingAxioms); found {
			return RunDecision{Necessary: true, Reason: reason}
		}
	}

	log.Infow("run skipped: no necessity signal", "corpus_hash", currentHash)
	return RunDecision{Necessary: false, Reason: "no content delta, force flag, or contradiction detected"}
}

// NecessityConfig carries the inputs to the run-necessity gate that come
// from the environment-backed Config rather than the manager itself.
type NecessityConfig struct {
	Force bool
}

const maxContradictionSamples = 20

// sampleContradiction checks a token-overlapping sample of new signals
// against existing axioms for a semantic contradiction, trying the LLM
// comparator first, the lexical Jaccard/negation-pattern fallback
// second, and the embedding-cosine-similarity fallback third when an
// EmbeddingCapability is available (spec.md §4.8, §6).
func (m *Manager) sampleContradiction(ctx context.Context, classifier *classify.Classifier, embedCap llm.EmbeddingCapability, signals []model.Signal, axioms []model.Axiom) (string, bool) {
	log := logging.Get(logging.CategoryCycle)
	sampled := 0

	for _, sig := range signals {
		for _, ax := range axioms {
			if !tokenOverlap(sig.Text, ax.Text) {
				continue
			}
			sampled++
			if sampled > maxContradictionSamples {
				return "", false
			}

			res, err := classifier.Compare(ctx, sig.Text, ax.Text)
			if err != nil || res == nil || res.Malformed {
				if contradicts, ok := lexicalContradiction(sig.Text, ax.Text); ok {
					if contradicts {
						log.Infow("contradiction detected via lexical fallback", "signal_id", sig.ID, "axiom_id", ax.ID)
						return fmt.Sprintf("lexical contradiction between signal %s and axiom %s", sig.ID, ax.ID), true
					}
					continue
				}
				if embedCap != nil {
					if contradicts, ok := m.embeddingContradiction(ctx, embedCap, sig.Text, ax.Text); ok && contradicts {
						log.Infow("contradiction detected via embedding fallback", "signal_id", sig.ID, "axiom_id", ax.ID)
						return fmt.Sprintf("embedding-similarity contradiction between signal %s and axiom %s", sig.ID, ax.ID), true
					}
				}
				continue
			}
			if !res.Equivalent && res.Confidence >= 0.6 {
				// A confident non-equivalence between overlapping-topic
				// texts is treated as a candidate contradiction signal.
				log.Infow("contradiction detected via llm comparator", "signal_id", sig.ID, "axiom_id", ax.ID)
				return fmt.Sprintf("llm-detected contradiction between signal %s and axiom %s", sig.ID, ax.ID), true
			}
		}
	}
	return "", false
}

// embeddingContradictionThreshold is the cosine-similarity floor above
// which two texts are considered to be about the same topic, making a
// negation mismatch between them a candidate contradiction.
const embeddingContradictionThreshold = 0.85

// embeddingContradiction is the third and last-resort contradiction
// tier: same-topic texts (high embedding cosine similarity) where
// exactly one side carries a negation the other lacks.
func (m *Manager) embeddingContradiction(ctx context.Context, embedCap llm.EmbeddingCapability, a, b string) (contradicts, ok bool) {
	log := logging.Get(logging.CategoryCycle)

	vecs, err := embedCap.EmbedBatch(ctx, []string{a, b})
	if err != nil || len(vecs) != 2 {
		log.Warnw("embedding fallback unavailable", "err", err)
		return false, false
	}
	similarity, err := embedding.CosineSimilarity(vecs[0], vecs[1])
	if err != nil || similarity < embeddingContradictionThreshold {
		return false, false
	}

	negA, negB := negationRe.MatchString(a), negationRe.MatchString(b)
	return negA != negB, true
}

var negationRe = regexp.MustCompile(`(?i)\b(not|never|no longer|isn't|doesn't|won't)\b`)

func tokenOverlap(a, b string) bool {
	setA := tokenSet(a)
	for t := range tokenSet(b) {
		if setA[t] {
			return true
		}
	}
	return false
}

// lexicalContradiction is a Jaccard-overlap-plus-negation-pattern
// heuristic: high token overlap combined with one side carrying a
// negation the other lacks is treated as a contradiction candidate.
func lexicalContradiction(a, b string) (bool, bool) {
	setA, setB := tokenSet(a), tokenSet(b)
	inter, union := 0, len(setA)
	for t := range setB {
		if setA[t] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return false, false
	}
	jaccard := float64(inter) / float64(union)
	if jaccard < 0.3 {
		return false, false
	}
	negA, negB := negationRe.MatchString(a), negationRe.MatchString(b)
	return negA != negB, true
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,!?;:\"'")
		if len(tok) > 3 {
			out[tok] = true
		}
	}
	return out
}
