// Package tension implements the tension detector: pairwise LLM
// comparison of axioms, bounded by a hard axiom-count cap, with
// structured tensions attached to both sides of a detected conflict.
package tension

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"soulforge/internal/articulation"
	"soulforge/internal/logging"
	"soulforge/internal/model"
)

const DefaultMaxAxioms = 25

type capability interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Detector finds and attaches tensions between axioms.
type Detector struct {
	cap         capability
	maxAxioms   int
	concurrency int
}

// New constructs a Detector.
func New(cap capability, maxAxioms, concurrency int) *Detector {
	if maxAxioms <= 0 {
		maxAxioms = DefaultMaxAxioms
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Detector{cap: cap, maxAxioms: maxAxioms, concurrency: concurrency}
}

type tensionEnvelope struct {
	HasTension  bool   `json:"has_tension"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

type pairResult struct {
	i, j int
	env  tensionEnvelope
	ok   bool
}

// Detect enumerates unordered axiom pairs and attaches detected tensions
// to both sides via attachTensions, which merges rather than clobbers any
// pre-existing tensions.
func (d *Detector) Detect(ctx context.Context, axioms []model.Axiom) ([]model.Axiom, error) {
	log := logging.Get(logging.CategoryTension)

	if len(axioms) > d.maxAxioms {
		log.Warnw("axiom count exceeds cap, skipping tension detection", "count", len(axioms), "cap", d.maxAxioms)
		return axioms, nil
	}

	type pair struct{ i, j int }
	var pairs []pair
	for i := 0; i < len(axioms); i++ {
		for j := i + 1; j < len(axioms); j++ {
			pairs = append(pairs, pair{i, j})
		}
	}

	results := make([]pairResult, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for idx, p := range pairs {
		idx, p := idx, p
		g.Go(func() error {
			env, ok := d.compare(gctx, axioms[p.i], axioms[p.j])
			results[idx] = pairResult{i: p.i, j: p.j, env: env, ok: ok}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("tension: %w", err)
	}

	for _, r := range results {
		if !r.ok || !r.env.HasTension {
			continue
		}
		tA := model.Tension{PeerAxiomID: axioms[r.j].ID, Description: r.env.Description, Severity: r.env.Severity}
		tB := model.Tension{PeerAxiomID: axioms[r.i].ID, Description: r.env.Description, Severity: r.env.Severity}
		axioms[r.i].Tensions = attachTension(axioms[r.i].Tensions, tA)
		axioms[r.j].Tensions = attachTension(axioms[r.j].Tensions, tB)
	}

	return axioms, nil
}

func (d *Detector) compare(ctx context.Context, a, b model.Axiom) (tensionEnvelope, bool) {
	log := logging.Get(logging.CategoryTension)

	encA, _ := json.Marshal(a.Text)
	encB, _ := json.Marshal(b.Text)
	prompt := fmt.Sprintf(
		"Decide whether these two identity axioms express a genuine value conflict (not just a difference in topic).\n"+
			"Axiom A: %s\nAxiom B: %s\n\n"+
			"If they conflict, respond with JSON: {\"has_tension\": true, \"description\": \"<short>\", \"severity\": \"high|medium|low\"}\n"+
			"If they do not conflict, respond with JSON: {\"has_tension\": false} or simply state \"no tension\".\n",
		string(encA), string(encB))

	reply, err := d.cap.Generate(ctx, prompt)
	if err != nil {
		log.Warnw("tension compare failed", "err", err)
		return tensionEnvelope{}, false
	}

	var env tensionEnvelope
	if articulation.ExtractJSON(reply, &env) {
		// Reject very short affirmatives that lack structure: a
		// has_tension=true with no description is not trusted.
		if env.HasTension && env.Description == "" {
			return tensionEnvelope{}, false
		}
		return env, true
	}

	// No JSON envelope at all: fall back to explicit phrase detection,
	// never a character-count heuristic.
	if containsNoTensionPhrase(reply) {
		return tensionEnvelope{HasTension: false}, true
	}

	return tensionEnvelope{}, false
}

var noTensionPhrases = []string{"no tension", "no conflict", "aligned", "compatible"}

func containsNoTensionPhrase(s string) bool {
	lower := strings.ToLower(s)
	for _, phrase := range noTensionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// attachTension merges a new tension into an axiom's tension list,
// appending rather than overwriting — the naive overwrite was a past
// regression this design explicitly forbids (§4.6).
func attachTension(existing []model.Tension, t model.Tension) []model.Tension {
	for _, e := range existing {
		if e.PeerAxiomID == t.PeerAxiomID && e.Description == t.Description {
			return existing
		}
	}
	return append(existing, t)
}
