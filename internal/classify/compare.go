package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"soulforge/internal/articulation"
	"soulforge/internal/logging"
)

// CompareResult is the outcome of a pairwise equivalence comparison.
type CompareResult struct {
	Equivalent bool
	Confidence float64
	Malformed  bool
}

type compareEnvelope struct {
	Equivalent bool    `json:"equivalent"`
	Confidence float64 `json:"confidence"`
}

// Compare asks the LLM whether two texts are semantically equivalent.
// Persistent malformed-response failure returns Malformed=true rather
// than an error, so callers can apply the documented "create new rather
// than falsely reinforce" fallback instead of aborting the run.
func (c *Classifier) Compare(ctx context.Context, a, b string) (*CompareResult, error) {
	log := logging.Get(logging.CategoryClassify)

	prompt := fmt.Sprintf(
		"Decide whether these two statements express the same underlying value or belief, even if worded differently.\n\n"+
			"Respond with JSON: {\"equivalent\": true|false, \"confidence\": <0-1>}\n\n"+
			"Statement A: %s\nStatement B: %s\n",
		encodeForPrompt(a), encodeForPrompt(b))

	for attempt := 0; attempt < maxAttempts; attempt++ {
		reply, err := c.cap.Generate(ctx, prompt)
		if err != nil {
			log.Warnw("compare generate failed", "attempt", attempt, "err", err)
			sleepWithJitterBackoff(ctx, attempt)
			continue
		}

		var env compareEnvelope
		if articulation.ExtractJSON(reply, &env) {
			return &CompareResult{Equivalent: env.Equivalent, Confidence: env.Confidence}, nil
		}

		if noTensionText(reply) {
			return &CompareResult{Equivalent: false, Confidence: 0.5}, nil
		}
	}

	return &CompareResult{Malformed: true}, nil
}

// BestOfResult is the outcome of a batched best-match search.
type BestOfResult struct {
	Index      int // -1 if no candidate matched
	Confidence float64
	Malformed  bool
}

type bestOfEnvelope struct {
	Index      int     `json:"index"`
	Confidence float64 `json:"confidence"`
}

// BestOf asks the LLM which of candidates (if any) is semantically
// equivalent to query, batched in a single call. Index is -1 both for "no
// match" and for "unparseable after retries" — callers distinguish the
// two via Malformed.
func (c *Classifier) BestOf(ctx context.Context, query string, candidates []string) (*BestOfResult, error) {
	log := logging.Get(logging.CategoryClassify)

	var b strings.Builder
	b.WriteString("Which of the following candidates, if any, expresses the same underlying value or belief as the query? Respond with the zero-based index, or -1 if none match.\n\n")
	b.WriteString("Query: ")
	b.WriteString(encodeForPrompt(query))
	b.WriteString("\n\nCandidates:\n")
	for i, cand := range candidates {
		fmt.Fprintf(&b, "[%d] %s\n", i, encodeForPrompt(cand))
	}
	b.WriteString("\nRespond with JSON: {\"index\": <int>, \"confidence\": <0-1>}\n")

	for attempt := 0; attempt < maxAttempts; attempt++ {
		reply, err := c.cap.Generate(ctx, b.String())
		if err != nil {
			log.Warnw("bestof generate failed", "attempt", attempt, "err", err)
			sleepWithJitterBackoff(ctx, attempt)
			continue
		}

		var env bestOfEnvelope
		if articulation.ExtractJSON(reply, &env) {
			if env.Index < -1 || env.Index >= len(candidates) {
				continue
			}
			return &BestOfResult{Index: env.Index, Confidence: env.Confidence}, nil
		}
	}

	return &BestOfResult{Index: -1, Malformed: true}, nil
}

func encodeForPrompt(s string) string {
	encoded, _ := json.Marshal(sanitize(s))
	return string(encoded)
}

var noTensionPhrases = []string{"no tension", "no conflict", "aligned", "compatible"}

// noTensionText applies the explicit phrase detection the tension detector
// and comparator fall back to when a reply carries no JSON envelope at
// all — never a character-count heuristic.
func noTensionText(reply string) bool {
	lower := strings.ToLower(reply)
	for _, phrase := range noTensionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
