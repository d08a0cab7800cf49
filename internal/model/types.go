// Package model defines the data types shared across the synthesis
// pipeline: signals, generalized signals, principles, axioms, and the
// cross-run soul state.
package model

import "time"

// Dimension is one of the fixed seven-tag identity taxonomy.
type Dimension string

const (
	DimensionIdentityCore         Dimension = "identity-core"
	DimensionCharacterTraits      Dimension = "character-traits"
	DimensionVoicePresence        Dimension = "voice-presence"
	DimensionHonestyFramework     Dimension = "honesty-framework"
	DimensionBoundariesEthics     Dimension = "boundaries-ethics"
	DimensionRelationshipDynamics Dimension = "relationship-dynamics"
	DimensionContinuityGrowth     Dimension = "continuity-growth"
)

// Dimensions lists the seven legal dimension tags, in taxonomy order.
var Dimensions = []Dimension{
	DimensionIdentityCore,
	DimensionCharacterTraits,
	DimensionVoicePresence,
	DimensionHonestyFramework,
	DimensionBoundariesEthics,
	DimensionRelationshipDynamics,
	DimensionContinuityGrowth,
}

// Stance is one of {assert, deny, question, qualify, tensioning}.
type Stance string

const (
	StanceAssert    Stance = "assert"
	StanceDeny      Stance = "deny"
	StanceQuestion  Stance = "question"
	StanceQualify   Stance = "qualify"
	StanceTensioning Stance = "tensioning"
)

// DefaultStance is the documented default on classification exhaustion.
// The source once defaulted to StanceAssert; the specification adopts
// StanceQualify instead (see DESIGN.md Open Questions).
const DefaultStance = StanceQualify

// Importance is one of {core, supporting, peripheral}.
type Importance string

const (
	ImportanceCore       Importance = "core"
	ImportanceSupporting Importance = "supporting"
	ImportancePeripheral Importance = "peripheral"
)

const DefaultImportance = ImportanceSupporting

// ImportanceWeight returns the centrality weighting for an importance tier.
func ImportanceWeight(i Importance) float64 {
	switch i {
	case ImportanceCore:
		return 1.5
	case ImportancePeripheral:
		return 0.5
	default:
		return 1.0
	}
}

// Elicitation is one of {agent-initiated, user-elicited, context-dependent,
// consistent-across-context}.
type Elicitation string

const (
	ElicitationAgentInitiated          Elicitation = "agent-initiated"
	ElicitationUserElicited            Elicitation = "user-elicited"
	ElicitationContextDependent        Elicitation = "context-dependent"
	ElicitationConsistentAcrossContext Elicitation = "consistent-across-context"
)

const DefaultElicitation = ElicitationUserElicited

// Provenance is the artifact origin class: self, curated, or external.
type Provenance string

const (
	ProvenanceSelf     Provenance = "self"
	ProvenanceCurated  Provenance = "curated"
	ProvenanceExternal Provenance = "external"
)

const DefaultProvenance = ProvenanceSelf

// SourceCategory classifies which known memory-root subdirectory a source
// line came from.
type SourceCategory string

const (
	SourceCategoryDiary         SourceCategory = "diary"
	SourceCategoryExperiences   SourceCategory = "experiences"
	SourceCategoryGoals         SourceCategory = "goals"
	SourceCategoryKnowledge     SourceCategory = "knowledge"
	SourceCategoryRelationships SourceCategory = "relationships"
	SourceCategoryPreferences   SourceCategory = "preferences"
	SourceCategoryOther         SourceCategory = "other"
)

// ArtifactKind distinguishes where a signal's source text originated.
type ArtifactKind string

const (
	ArtifactMemory    ArtifactKind = "memory"
	ArtifactInterview ArtifactKind = "interview"
	ArtifactTemplate  ArtifactKind = "template"
)

// Source records where a Signal's text came from.
type Source struct {
	FilePath      string         `json:"file_path"`
	LineNumber    int            `json:"line_number"`
	ExtractedAt   time.Time      `json:"extracted_at"`
	Category      SourceCategory `json:"category"`
	ArtifactKind  ArtifactKind   `json:"artifact_kind"`
	ContextSnippet string        `json:"context_snippet"`
}

// Signal is a candidate identity statement extracted from one source line.
// A Signal is immutable after persistence: every field besides the
// post-filter metadata tags is fixed at extraction time.
type Signal struct {
	ID          string      `json:"id"`
	Text        string      `json:"text"`
	Dimension   Dimension   `json:"dimension"`
	Stance      Stance      `json:"stance"`
	Importance  Importance  `json:"importance"`
	Elicitation Elicitation `json:"elicitation"`
	Provenance  Provenance  `json:"provenance"`
	Source      Source      `json:"source"`

	// Uncertain records that one or more classifier calls for this signal
	// were unresolved and a documented default was substituted.
	Uncertain bool `json:"uncertain,omitempty"`
}

// GeneralizedSignal is a normalized, actor-agnostic paraphrase of a Signal.
type GeneralizedSignal struct {
	SignalID        string `json:"signal_id"`
	GeneralizedText string `json:"generalized_text"`
	UsedFallback    bool   `json:"used_fallback"`
	ModelID         string `json:"model_id"`
	PromptVersion   string `json:"prompt_version"`
	TextHash        string `json:"text_hash"` // hex sha256 of the original signal text

	// Dimension and Provenance are carried through for use by the
	// principle store and compressor without needing the original Signal.
	Dimension  Dimension  `json:"dimension"`
	Stance     Stance     `json:"stance"`
	Importance Importance `json:"importance"`
	Elicitation Elicitation `json:"elicitation"`
	Provenance Provenance `json:"provenance"`
	SourceText string     `json:"source_text"`
}

// CacheKey returns the generalization-cache key for this signal's
// (signal-id, text-hash, prompt-version, model-id) tuple.
func CacheKey(signalID, textHash, promptVersion, modelID string) string {
	return signalID + ":" + textHash + ":" + promptVersion + ":" + modelID
}

// Centrality is a principle-level label derived from its signal
// importance mix.
type Centrality string

const (
	CentralityDefining    Centrality = "defining"
	CentralitySignificant Centrality = "significant"
	CentralityContextual  Centrality = "contextual"
)

// DerivedSignal records one signal's contribution to a principle's
// provenance list.
type DerivedSignal struct {
	SignalID             string     `json:"signal_id"`
	SimilarityConfidence float64    `json:"similarity_confidence"`
	Source               Source     `json:"source"`
	OriginalText         string     `json:"original_text"`
	Stance               Stance     `json:"stance"`
	Importance           Importance `json:"importance"`
	Provenance           Provenance `json:"provenance"`
	Elicitation          Elicitation `json:"elicitation"`
}

// Principle is a cluster of generalized signals judged semantically
// equivalent by the LLM.
type Principle struct {
	ID                  string          `json:"id"`
	Text                string          `json:"text"` // the seed generalized text; never rewritten
	Dimension           Dimension       `json:"dimension"`
	NCount              int             `json:"n_count"`
	DerivedFrom         []DerivedSignal `json:"derived_from"`
	Centrality          Centrality      `json:"centrality"`
	SimilarityThreshold float64         `json:"similarity_threshold"`

	// IntentionallyIntrospective is the operator escape hatch named in
	// the grounding predicate (§4.5): a principle tagged this way may
	// promote to an axiom without external/question-stance evidence.
	IntentionallyIntrospective bool `json:"intentionally_introspective,omitempty"`
}

// Tension is a detected value conflict between two axioms.
type Tension struct {
	PeerAxiomID string `json:"peer_axiom_id"`
	Description string `json:"description"`
	Severity    string `json:"severity"` // high | medium | low
}

// Axiom is a promoted principle that meets the grounding predicate.
type Axiom struct {
	ID          string          `json:"id"`
	Text        string          `json:"text"`
	Dimension   Dimension       `json:"dimension"`
	DerivedFrom PrincipleRef    `json:"derived_from"`
	Tensions    []Tension       `json:"tensions,omitempty"`
}

// PrincipleRef references the source principle an axiom was promoted
// from, carrying its signal list for evidence inspection without a
// second lookup.
type PrincipleRef struct {
	PrincipleID string          `json:"principle_id"`
	Signals     []DerivedSignal `json:"signals"`
}

// SoulState is the persisted cross-run artifact.
type SoulState struct {
	FormatVersion    int       `json:"format_version"`
	PriorAxioms      []Axiom   `json:"prior_axioms"`
	PriorPrinciples  []Principle `json:"prior_principles_summary"`
	MemoryCorpusHash string    `json:"memory_corpus_hash"`
	MemoryCorpusSize int       `json:"memory_corpus_size"`
	LastRunAt        time.Time `json:"last_run_at"`

	// StateCorrupt is set by a loader when a state file fails to parse;
	// callers must check it before overwriting with an empty structure.
	StateCorrupt bool `json:"-"`
}

// CurrentFormatVersion is the soul-state schema version this build
// writes and expects on read.
const CurrentFormatVersion = 1

// RunMetrics is the computed run report the reflective loop produces.
type RunMetrics struct {
	SignalCount       int                `json:"signal_count"`
	PrincipleCount    int                `json:"principle_count"`
	AxiomCount        int                `json:"axiom_count"`
	CompressionRatio  float64            `json:"compression_ratio"` // axioms / signals
	FallbackRate      float64            `json:"fallback_rate"`     // generalizations using fallback / signals
	DimensionCoverage map[Dimension]int  `json:"dimension_coverage"`
	CascadeLevel      int                `json:"cascade_level"` // 3, 2, or 1
	Skipped           bool               `json:"skipped"`
	SkipReason        string             `json:"skip_reason,omitempty"`
}

// RunResult is the value the reflective loop / cycle manager returns to
// its caller.
type RunResult struct {
	Metrics    RunMetrics  `json:"metrics"`
	Axioms     []Axiom     `json:"axioms"`
	Principles []Principle `json:"principles"`
	Signals    []Signal    `json:"signals"`
}
