// Package logging provides the categorized structured loggers shared across
// the synthesis pipeline. Each pipeline stage gets its own named logger so
// log lines can be filtered by component without grepping message text.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

// Category identifies which pipeline stage emitted a log line.
type Category string

const (
	CategoryExtract     Category = "extract"
	CategoryGeneralize  Category = "generalize"
	CategoryPrinciple   Category = "principle"
	CategoryCompress    Category = "compress"
	CategoryTension     Category = "tension"
	CategoryCycle       Category = "cycle"
	CategoryLLM         Category = "llm"
	CategoryEmbedding   Category = "embedding"
	CategoryClassify    Category = "classify"
	CategoryArticulate  Category = "articulate"
)

var (
	baseMu  sync.RWMutex
	base    *zap.Logger = zap.NewNop()
	cache   = map[Category]*zap.SugaredLogger{}
	cacheMu sync.Mutex
)

// Configure installs the base zap logger used to derive per-category
// loggers. Passing nil reverts to a no-op logger (used by tests that don't
// care about log output).
func Configure(l *zap.Logger) {
	baseMu.Lock()
	defer baseMu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	base = l
	cacheMu.Lock()
	cache = map[Category]*zap.SugaredLogger{}
	cacheMu.Unlock()
}

// NewDevelopment builds a human-readable development logger, the default for
// the cmd/soulforge entry point.
func NewDevelopment() (*zap.Logger, error) {
	return zap.NewDevelopment()
}

// Get returns the sugared logger for a category, tagging every line with a
// "category" field so the zap JSON/console encoder carries it through.
func Get(cat Category) *zap.SugaredLogger {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if l, ok := cache[cat]; ok {
		return l
	}
	baseMu.RLock()
	b := base
	baseMu.RUnlock()
	l := b.Sugar().With("category", string(cat))
	cache[cat] = l
	return l
}

// Sync flushes any buffered log entries on process exit.
func Sync() {
	baseMu.RLock()
	defer baseMu.RUnlock()
	_ = base.Sync()
}
