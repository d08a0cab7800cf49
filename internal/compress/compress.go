// Package compress implements the compressor: cascade promotion of
// principles to axioms under the grounding predicate, capped by the
// cognitive-load limit.
package compress

import (
	"sort"

	"github.com/google/uuid"

	"soulforge/internal/logging"
	"soulforge/internal/model"
)

const (
	DefaultCognitiveLoadCap = 25
	minViableYield          = 3
)

// Result is the compressor's output: the promoted axioms and the cascade
// level that was ultimately used.
type Result struct {
	Axioms       []model.Axiom
	CascadeLevel int
}

// Compress runs the descending-threshold promotion cascade over
// principles and returns at most cap axioms.
func Compress(principles []model.Principle, cap int) Result {
	if cap <= 0 {
		cap = DefaultCognitiveLoadCap
	}
	log := logging.Get(logging.CategoryCompress)

	for _, level := range []int{3, 2, 1} {
		eligible := eligibleAt(principles, level)
		if len(eligible) >= minViableYield || level == 1 {
			log.Infow("cascade level selected", "level", level, "eligible", len(eligible))
			axioms := promote(eligible)
			axioms = sortAxioms(axioms, principles)
			if len(axioms) > cap {
				axioms = axioms[:cap]
			}
			// A compression must never expand: this is guaranteed by
			// construction (axioms ⊆ principles ⊆ signals) but asserted
			// here defensively.
			if len(axioms) > len(principles) {
				axioms = axioms[:len(principles)]
			}
			return Result{Axioms: axioms, CascadeLevel: level}
		}
	}

	return Result{Axioms: nil, CascadeLevel: 1}
}

func eligibleAt(principles []model.Principle, minN int) []model.Principle {
	var out []model.Principle
	for _, p := range principles {
		if p.NCount >= minN && satisfiesGroundingPredicate(p) {
			out = append(out, p)
		}
	}
	return out
}

// satisfiesGroundingPredicate is the anti-echo-chamber guard: a principle
// may promote only if it has external or question-stance evidence, and
// at least one provenance class beyond self (or the operator's
// introspection escape hatch).
func satisfiesGroundingPredicate(p model.Principle) bool {
	log := logging.Get(logging.CategoryCompress)

	hasExternalOrQuestion := false
	hasBeyondSelf := false

	for _, d := range p.DerivedFrom {
		provenance := d.Provenance
		if provenance == "" {
			log.Debugw("derived signal missing provenance, defaulting to self", "principle_id", p.ID, "signal_id", d.SignalID)
			provenance = model.ProvenanceSelf
		}

		if provenance == model.ProvenanceExternal || d.Stance == model.StanceQuestion {
			hasExternalOrQuestion = true
		}
		if provenance != model.ProvenanceSelf {
			hasBeyondSelf = true
		}
	}

	if p.IntentionallyIntrospective {
		hasBeyondSelf = true
	}

	return hasExternalOrQuestion && hasBeyondSelf
}

func promote(principles []model.Principle) []model.Axiom {
	axioms := make([]model.Axiom, 0, len(principles))
	for _, p := range principles {
		axioms = append(axioms, model.Axiom{
			ID:        uuid.NewString(),
			Text:      p.Text,
			Dimension: p.Dimension,
			DerivedFrom: model.PrincipleRef{
				PrincipleID: p.ID,
				Signals:     p.DerivedFrom,
			},
		})
	}
	return axioms
}

// sortAxioms orders axioms descending by (a) importance-weighted n_count
// of the source principle, (b) centrality tier, (c) dimension coverage
// parity (principles in so-far-underrepresented dimensions sort first).
func sortAxioms(axioms []model.Axiom, allPrinciples []model.Principle) []model.Axiom {
	byID := make(map[string]model.Principle, len(allPrinciples))
	for _, p := range allPrinciples {
		byID[p.ID] = p
	}

	weightedNCount := func(a model.Axiom) float64 {
		p := byID[a.DerivedFrom.PrincipleID]
		var w float64
		for _, s := range p.DerivedFrom {
			w += model.ImportanceWeight(s.Importance)
		}
		return w
	}

	centralityRank := func(a model.Axiom) int {
		switch byID[a.DerivedFrom.PrincipleID].Centrality {
		case model.CentralityDefining:
			return 2
		case model.CentralitySignificant:
			return 1
		default:
			return 0
		}
	}

	// Primary sort: importance-weighted n_count, then centrality tier.
	// Dimension-coverage parity (criterion c) is not a static sort key —
	// "underrepresented so far" depends on what has already been picked —
	// so it is resolved greedily within each (weight, centrality) tie
	// group below, not inside this comparator.
	sort.SliceStable(axioms, func(i, j int) bool {
		wi, wj := weightedNCount(axioms[i]), weightedNCount(axioms[j])
		if wi != wj {
			return wi > wj
		}
		return centralityRank(axioms[i]) > centralityRank(axioms[j])
	})

	dimensionCount := make(map[model.Dimension]int)
	out := make([]model.Axiom, 0, len(axioms))
	for start := 0; start < len(axioms); {
		end := start + 1
		for end < len(axioms) &&
			weightedNCount(axioms[end]) == weightedNCount(axioms[start]) &&
			centralityRank(axioms[end]) == centralityRank(axioms[start]) {
			end++
		}
		group := append([]model.Axiom(nil), axioms[start:end]...)
		sort.SliceStable(group, func(i, j int) bool {
			return dimensionCount[group[i].Dimension] < dimensionCount[group[j].Dimension]
		})
		for _, a := range group {
			dimensionCount[a.Dimension]++
			out = append(out, a)
		}
		start = end
	}

	return out
}
