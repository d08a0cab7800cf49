// Package extract implements the signal extractor: it walks a memory
// root, segments files into candidate lines, filters to identity-bearing
// signals, and classifies their metadata tags.
package extract

import (
	"bufio"
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"soulforge/internal/classify"
	"soulforge/internal/logging"
	"soulforge/internal/model"

	"github.com/google/uuid"
)

// signalNamespace scopes the content-derived signal-id UUIDv5 space.
var signalNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

const minCandidateLen = 8

var categoryDirs = map[string]model.SourceCategory{
	"diary":         model.SourceCategoryDiary,
	"experiences":   model.SourceCategoryExperiences,
	"goals":         model.SourceCategoryGoals,
	"knowledge":     model.SourceCategoryKnowledge,
	"relationships": model.SourceCategoryRelationships,
	"preferences":   model.SourceCategoryPreferences,
}

var listMarkerPrefixes = []string{"- ", "* ", "+ "}

// Extractor reads memory artifacts and produces classified signals.
type Extractor struct {
	classifier *classify.Classifier
	concurrency int64
}

// New constructs an Extractor. concurrency bounds in-flight classify
// calls during per-signal metadata classification.
func New(classifier *classify.Classifier, concurrency int) *Extractor {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Extractor{classifier: classifier, concurrency: int64(concurrency)}
}

// Sources is the set of source locations folded into one signal stream,
// per spec.md §4.7 step 1: a required memory root plus two optional
// collaborator-provided sources. The interview-driven onboarding flow
// itself is out of the core's scope (§1) — the core only walks whatever
// it already wrote to InterviewRoot, same as any other memory artifact.
type Sources struct {
	// MemoryRoot is required and must be inside the workspace root.
	MemoryRoot string

	// InterviewRoot, if set, is a second directory walked the same way
	// as MemoryRoot, with every signal tagged model.ArtifactInterview.
	InterviewRoot string

	// ExistingArtifactPath, if set, is a single prior identity document
	// re-ingested as signals tagged model.ArtifactTemplate, letting a
	// later run ground new axioms against what was already said.
	ExistingArtifactPath string
}

// Extract walks memoryRoot (which must be inside workspaceRoot) and
// returns every identity-bearing signal found, fully classified. It is a
// thin wrapper around ExtractSources for callers with no interview
// output or prior artifact to merge in.
func (e *Extractor) Extract(ctx context.Context, workspaceRoot, memoryRoot string) ([]model.Signal, error) {
	return e.ExtractSources(ctx, workspaceRoot, Sources{MemoryRoot: memoryRoot})
}

// ExtractSources walks every configured source (which must each be
// inside workspaceRoot) and returns every identity-bearing signal found,
// fully classified.
func (e *Extractor) ExtractSources(ctx context.Context, workspaceRoot string, sources Sources) ([]model.Signal, error) {
	log := logging.Get(logging.CategoryExtract)

	absWorkspace, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("extract: resolve workspace root: %w", err)
	}
	absMemory, err := filepath.Abs(sources.MemoryRoot)
	if err != nil {
		return nil, fmt.Errorf("extract: resolve memory root: %w", err)
	}
	if !isWithinRoot(absWorkspace, absMemory) {
		return nil, fmt.Errorf("extract: memory root %q escapes workspace root %q", sources.MemoryRoot, workspaceRoot)
	}

	candidates, err := e.collectCandidates(absWorkspace, absMemory, model.ArtifactMemory)
	if err != nil {
		return nil, err
	}

	if sources.InterviewRoot != "" {
		absInterview, ierr := filepath.Abs(sources.InterviewRoot)
		if ierr != nil {
			return nil, fmt.Errorf("extract: resolve interview root: %w", ierr)
		}
		if !isWithinRoot(absWorkspace, absInterview) {
			return nil, fmt.Errorf("extract: interview root %q escapes workspace root %q", sources.InterviewRoot, workspaceRoot)
		}
		interviewCandidates, cerr := e.collectCandidates(absWorkspace, absInterview, model.ArtifactInterview)
		if cerr != nil {
			return nil, cerr
		}
		candidates = append(candidates, interviewCandidates...)
	}

	if sources.ExistingArtifactPath != "" {
		absArtifact, aerr := filepath.Abs(sources.ExistingArtifactPath)
		if aerr != nil {
			return nil, fmt.Errorf("extract: resolve existing artifact path: %w", aerr)
		}
		if !isWithinRoot(absWorkspace, absArtifact) {
			return nil, fmt.Errorf("extract: existing artifact path %q escapes workspace root %q", sources.ExistingArtifactPath, workspaceRoot)
		}
		artifactCandidates, terr := e.collectFileCandidates(absArtifact, model.ArtifactTemplate)
		if terr != nil {
			log.Warnw("existing artifact unreadable, skipping", "path", sources.ExistingArtifactPath, "err", terr)
		} else {
			candidates = append(candidates, artifactCandidates...)
		}
	}

	log.Infow("candidates collected", "count", len(candidates))

	signals, err := e.classifyCandidates(ctx, candidates)
	if err != nil {
		return nil, err
	}
	log.Infow("signals extracted", "count", len(signals))
	return signals, nil
}

type candidate struct {
	filePath     string
	lineNumber   int
	text         string
	category     model.SourceCategory
	artifactKind model.ArtifactKind
}

// collectCandidates traverses root, never following symlinks, and
// returns list-marker-prefixed lines above the minimum length, each
// tagged with kind.
func (e *Extractor) collectCandidates(workspaceRoot, root string, kind model.ArtifactKind) ([]candidate, error) {
	log := logging.Get(logging.CategoryExtract)
	var out []candidate

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warnw("walk error, skipping", "path", path, "err", err)
			return nil
		}

		info, lerr := d.Info()
		if lerr == nil && info.Mode()&fs.ModeSymlink != 0 {
			log.Debugw("skipping symlink", "path", path)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}

		absPath, aerr := filepath.Abs(path)
		if aerr != nil || !isWithinRoot(workspaceRoot, absPath) {
			log.Warnw("rejecting path outside workspace root", "path", path)
			return nil
		}

		lines, rerr := readLines(path)
		if rerr != nil {
			log.Warnw("file read failed, skipping", "path", path, "err", rerr)
			return nil
		}

		category := classifyPathCategory(root, path)

		lineNo := 0
		for _, raw := range lines {
			lineNo++
			text, ok := stripListMarker(raw)
			if !ok {
				continue
			}
			if len(strings.TrimSpace(text)) < minCandidateLen {
				continue
			}
			out = append(out, candidate{
				filePath:     path,
				lineNumber:   lineNo,
				text:         text,
				category:     category,
				artifactKind: kind,
			})
		}
		return nil
	})

	return out, walkErr
}

// collectFileCandidates reads a single file (never a symlink) the same
// way collectCandidates reads one directory entry, for sources like an
// existing identity artifact that are not directories.
func (e *Extractor) collectFileCandidates(path string, kind model.ArtifactKind) ([]candidate, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil, fmt.Errorf("extract: refusing to read symlinked artifact %q", path)
	}

	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	var out []candidate
	lineNo := 0
	for _, raw := range lines {
		lineNo++
		text, ok := stripListMarker(raw)
		if !ok {
			continue
		}
		if len(strings.TrimSpace(text)) < minCandidateLen {
			continue
		}
		out = append(out, candidate{
			filePath:     path,
			lineNumber:   lineNo,
			text:         text,
			category:     model.SourceCategoryOther,
			artifactKind: kind,
		})
	}
	return out, nil
}

func (e *Extractor) classifyCandidates(ctx context.Context, candidates []candidate) ([]model.Signal, error) {
	log := logging.Get(logging.CategoryExtract)
	signals := make([]*model.Signal, len(candidates))

	// The bounded errgroup is the single concurrency knob named in §4.2,
	// governing every LLM call in flight during extraction (the
	// identity-bearing filter and the metadata classifiers alike).
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(e.concurrency))

	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			keep, err := e.isIdentityBearing(gctx, c.text)
			if err != nil {
				log.Warnw("identity filter failed, dropping candidate", "file", c.filePath, "line", c.lineNumber, "err", err)
				return nil
			}
			if !keep {
				return nil
			}

			sig, err := e.classifyOne(gctx, c)
			if err != nil {
				log.Warnw("metadata classification failed, dropping candidate", "file", c.filePath, "line", c.lineNumber, "err", err)
				return nil
			}
			signals[i] = sig
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]model.Signal, 0, len(candidates))
	for _, s := range signals {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (e *Extractor) isIdentityBearing(ctx context.Context, text string) (bool, error) {
	res, err := e.classifier.Classify(ctx,
		"Decide whether the following line expresses something about a person's identity, values, or character (as opposed to a to-do item, a fact unrelated to identity, or incidental narration).",
		text, []string{"yes", "no"})
	if err != nil {
		return false, err
	}
	if res.Category == nil {
		// Classifier-unresolved: err on the side of keeping the candidate
		// for human-legible downstream review rather than silently
		// dropping it.
		return true, nil
	}
	return *res.Category == "yes", nil
}

func (e *Extractor) classifyOne(ctx context.Context, c candidate) (*model.Signal, error) {
	id := signalID(c.filePath, c.text)

	dimension, uncertainDim := e.classifyDimension(ctx, c.text)
	stance, uncertainStance := e.classifyStance(ctx, c.text)
	importance, uncertainImportance := e.classifyImportance(ctx, c.text)
	elicitation, uncertainElicitation := e.classifyElicitation(ctx, c.text)
	provenance, uncertainProvenance := e.classifyProvenance(ctx, c.text)

	return &model.Signal{
		ID:          id,
		Text:        c.text,
		Dimension:   dimension,
		Stance:      stance,
		Importance:  importance,
		Elicitation: elicitation,
		Provenance:  provenance,
		Uncertain:   uncertainDim || uncertainStance || uncertainImportance || uncertainElicitation || uncertainProvenance,
		Source: model.Source{
			FilePath:     c.filePath,
			LineNumber:   c.lineNumber,
			ExtractedAt:  time.Now().UTC(),
			Category:     c.category,
			ArtifactKind: c.artifactKind,
			ContextSnippet: c.text,
		},
	}, nil
}

func (e *Extractor) classifyDimension(ctx context.Context, text string) (model.Dimension, bool) {
	cats := make([]string, len(model.Dimensions))
	for i, d := range model.Dimensions {
		cats[i] = string(d)
	}
	res, err := e.classifier.Classify(ctx, "Classify which identity dimension this statement belongs to.", text, cats)
	if err != nil || res.Category == nil {
		return model.DimensionIdentityCore, true
	}
	return model.Dimension(*res.Category), false
}

func (e *Extractor) classifyStance(ctx context.Context, text string) (model.Stance, bool) {
	res, err := e.classifier.Classify(ctx, "Classify the stance this statement takes.", text,
		[]string{string(model.StanceAssert), string(model.StanceDeny), string(model.StanceQuestion), string(model.StanceQualify), string(model.StanceTensioning)})
	if err != nil || res.Category == nil {
		return model.DefaultStance, true
	}
	return model.Stance(*res.Category), false
}

func (e *Extractor) classifyImportance(ctx context.Context, text string) (model.Importance, bool) {
	res, err := e.classifier.Classify(ctx, "Classify how central this statement is to identity.", text,
		[]string{string(model.ImportanceCore), string(model.ImportanceSupporting), string(model.ImportancePeripheral)})
	if err != nil || res.Category == nil {
		return model.DefaultImportance, true
	}
	return model.Importance(*res.Category), false
}

func (e *Extractor) classifyElicitation(ctx context.Context, text string) (model.Elicitation, bool) {
	res, err := e.classifier.Classify(ctx, "Classify how this statement was elicited.", text,
		[]string{string(model.ElicitationAgentInitiated), string(model.ElicitationUserElicited), string(model.ElicitationContextDependent), string(model.ElicitationConsistentAcrossContext)})
	if err != nil || res.Category == nil {
		return model.DefaultElicitation, true
	}
	return model.Elicitation(*res.Category), false
}

func (e *Extractor) classifyProvenance(ctx context.Context, text string) (model.Provenance, bool) {
	res, err := e.classifier.Classify(ctx, "Classify the artifact provenance of this statement.", text,
		[]string{string(model.ProvenanceSelf), string(model.ProvenanceCurated), string(model.ProvenanceExternal)})
	if err != nil || res.Category == nil {
		return model.DefaultProvenance, true
	}
	return model.Provenance(*res.Category), false
}

func signalID(filePath, text string) string {
	h := sha256.Sum256([]byte(filePath + "\x00" + text))
	return uuid.NewSHA1(signalNamespace, h[:]).String()
}

func stripListMarker(line string) (string, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	for _, marker := range listMarkerPrefixes {
		if strings.HasPrefix(trimmed, marker) {
			return strings.TrimSpace(trimmed[len(marker):]), true
		}
	}
	// Numbered markers: "1. ", "12) ".
	if idx := strings.IndexAny(trimmed, ".)"); idx > 0 && idx <= 3 {
		if isAllDigits(trimmed[:idx]) {
			return strings.TrimSpace(trimmed[idx+1:]), true
		}
	}
	return "", false
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func classifyPathCategory(root, path string) model.SourceCategory {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return model.SourceCategoryOther
	}
	rel = strings.ReplaceAll(rel, "\\", "/")
	for _, seg := range strings.Split(rel, "/") {
		seg = strings.ToLower(seg)
		if cat, ok := categoryDirs[seg]; ok {
			return cat
		}
	}
	return model.SourceCategoryOther
}

func isWithinRoot(root, candidate string) bool {
	root = filepath.Clean(root)
	candidate = filepath.Clean(candidate)
	if candidate == root {
		return true
	}
	return strings.HasPrefix(candidate, root+string(os.PathSeparator))
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
