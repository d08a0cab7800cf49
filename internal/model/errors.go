package model

import "errors"

// The six error kinds named by the error handling design. Components wrap
// one of these sentinels with fmt.Errorf("...: %w", ...) so callers can
// use errors.Is instead of string matching.
var (
	// ErrTransient covers network timeouts, LLM rate limits, and
	// parse-after-retry failures. Policy: retry with exponential backoff
	// plus jitter, up to a small attempt ceiling.
	ErrTransient = errors.New("transient failure")

	// ErrClassifierUnresolved names the case where a classifier exhausts
	// its attempts without a confident category. No component returns it:
	// classify.Classifier reports that case as a nil Result.Category, and
	// callers apply a documented default rather than the first
	// enumerated option.
	ErrClassifierUnresolved = errors.New("classifier unresolved")

	// ErrValidation covers LLM output that violates an expected format
	// (a pronoun in a generalization, a missing JSON envelope).
	ErrValidation = errors.New("validation failed")

	// ErrStateCorrupt marks a state file that failed to parse as JSON.
	ErrStateCorrupt = errors.New("state corrupt")

	// ErrConcurrency covers a lock already held by a live process.
	ErrConcurrency = errors.New("lock held")

	// ErrFatal covers a required LLM capability that is absent; the run
	// must abort rather than silently degrade to empty output.
	ErrFatal = errors.New("fatal: llm capability required")
)
