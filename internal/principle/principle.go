// Package principle implements the single-pass principle store: clustering
// generalized signals into principles by LLM-judged semantic equivalence.
package principle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"soulforge/internal/classify"
	"soulforge/internal/logging"
	"soulforge/internal/model"
)

const pageSize = 10

// Store maintains the run's principle set. A Store is single-writer per
// run; it is not safe for concurrent Add calls.
type Store struct {
	classifier *classify.Classifier
	threshold  float64

	principles []*model.Principle
	processed  map[string]bool
}

// New constructs an empty Store bound to one run's similarity threshold.
// The threshold is fixed for the life of the store: tightening it
// mid-run would orphan already-clustered signals without reclustering.
func New(classifier *classify.Classifier, threshold float64) *Store {
	return &Store{
		classifier: classifier,
		threshold:  threshold,
		processed:  make(map[string]bool),
	}
}

// Principles returns the current principle set.
func (s *Store) Principles() []model.Principle {
	out := make([]model.Principle, len(s.principles))
	for i, p := range s.principles {
		out[i] = *p
	}
	return out
}

// AddResult reports what Add did with a signal.
type AddResult string

const (
	AddResultDuplicate AddResult = "duplicate"
	AddResultReinforced AddResult = "reinforced"
	AddResultCreated    AddResult = "created"
)

// Add ingests one generalized signal. Signal-ids are committed to the
// processed set only after the full decision completes, so a failure
// mid-decision leaves the signal reprocessable — but Add itself performs
// the entire decision synchronously, so that window only matters to a
// caller who retries Add after an error return.
func (s *Store) Add(ctx context.Context, gs model.GeneralizedSignal, src model.Source, orig model.Signal) (AddResult, error) {
	log := logging.Get(logging.CategoryPrinciple)

	if s.processed[gs.SignalID] {
		return AddResultDuplicate, nil
	}

	best, bestConf, err := s.findBestMatch(ctx, gs)
	if err != nil {
		// LLM comparator persistent failure: create a new principle
		// rather than risk a false reinforcement.
		log.Warnw("best-match search failed, creating new principle", "signal_id", gs.SignalID, "err", err)
		best, bestConf = nil, 0
	}

	derived := model.DerivedSignal{
		SignalID:             gs.SignalID,
		SimilarityConfidence: bestConf,
		Source:               src,
		OriginalText:         orig.Text,
		Stance:                orig.Stance,
		Importance:            orig.Importance,
		Provenance:            orig.Provenance,
		Elicitation:           orig.Elicitation,
	}

	var result AddResult
	if best != nil && bestConf >= s.threshold {
		best.DerivedFrom = append(best.DerivedFrom, derived)
		best.NCount = len(best.DerivedFrom)
		best.Centrality = computeCentrality(best.DerivedFrom)
		result = AddResultReinforced
	} else {
		p := &model.Principle{
			ID:                  uuid.NewString(),
			Text:                gs.GeneralizedText,
			Dimension:           gs.Dimension,
			NCount:              1,
			DerivedFrom:         []model.DerivedSignal{derived},
			SimilarityThreshold: s.threshold,
		}
		p.Centrality = computeCentrality(p.DerivedFrom)
		s.principles = append(s.principles, p)
		result = AddResultCreated
	}

	s.processed[gs.SignalID] = true
	return result, nil
}

// findBestMatch pages existing principles in batches of pageSize, using
// the batched best-of-N comparator, and tracks the best confidence across
// pages.
func (s *Store) findBestMatch(ctx context.Context, gs model.GeneralizedSignal) (*model.Principle, float64, error) {
	if len(s.principles) == 0 {
		return nil, 0, nil
	}

	var best *model.Principle
	var bestConf float64

	for start := 0; start < len(s.principles); start += pageSize {
		end := start + pageSize
		if end > len(s.principles) {
			end = len(s.principles)
		}
		page := s.principles[start:end]

		texts := make([]string, len(page))
		for i, p := range page {
			texts[i] = p.Text
		}

		res, err := s.classifier.BestOf(ctx, gs.GeneralizedText, texts)
		if err != nil {
			return nil, 0, fmt.Errorf("principle: best-of search failed: %w", err)
		}
		if res.Malformed {
			continue
		}
		if res.Index >= 0 && res.Confidence > bestConf {
			best = page[res.Index]
			bestConf = res.Confidence
		}
	}

	return best, bestConf, nil
}

// computeCentrality derives the dominant importance class after
// importance weighting, breaking ties toward the less-central tier.
func computeCentrality(signals []model.DerivedSignal) model.Centrality {
	var core, supporting, peripheral float64
	for _, s := range signals {
		switch s.Importance {
		case model.ImportanceCore:
			core += model.ImportanceWeight(model.ImportanceCore)
		case model.ImportancePeripheral:
			peripheral += model.ImportanceWeight(model.ImportancePeripheral)
		default:
			supporting += model.ImportanceWeight(model.ImportanceSupporting)
		}
	}

	switch {
	case core > supporting && core > peripheral:
		return model.CentralityDefining
	case supporting >= core && supporting > peripheral:
		return model.CentralitySignificant
	case peripheral > 0:
		return model.CentralityContextual
	default:
		return model.CentralityContextual
	}
}
