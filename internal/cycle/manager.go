// Package cycle implements the cycle manager: run-necessity gating,
// exclusive locking, and atomic cross-run state persistence.
package cycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"soulforge/internal/logging"
	"soulforge/internal/model"
)

// StateDirName is the reserved workspace-relative state directory.
const StateDirName = ".soulstate"

const (
	stateFile     = "state.json"
	signalsFile   = "signals.json"
	principlesFile = "principles.json"
	axiomsFile    = "axioms.json"
	soulFile      = "soul.json"
	lockFile      = "lock"
	backupsDir    = "backups"
	maxBackups    = 10
	tmpPrefix     = ".tmp-"
)

// Manager owns the on-disk state directory for one workspace.
type Manager struct {
	workspaceRoot string
	stateDir      string
}

// NewManager constructs a Manager rooted at workspaceRoot, creating the
// state directory if it does not already exist.
func NewManager(workspaceRoot string) (*Manager, error) {
	stateDir := filepath.Join(workspaceRoot, StateDirName)
	if err := os.MkdirAll(filepath.Join(stateDir, backupsDir), 0o755); err != nil {
		return nil, fmt.Errorf("cycle: create state dir: %w", err)
	}
	m := &Manager{workspaceRoot: workspaceRoot, stateDir: stateDir}
	m.sweepOrphanedTemp()
	return m, nil
}

// StateDir returns the absolute path of the manager's state directory.
func (m *Manager) StateDir() string { return m.stateDir }

// sweepOrphanedTemp removes any leftover .tmp-* files from a prior crash
// between write-temp and rename, run once at manager construction.
func (m *Manager) sweepOrphanedTemp() {
	log := logging.Get(logging.CategoryCycle)
	entries, err := os.ReadDir(m.stateDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if len(e.Name()) >= len(tmpPrefix) && e.Name()[:len(tmpPrefix)] == tmpPrefix {
			path := filepath.Join(m.stateDir, e.Name())
			if err := os.Remove(path); err != nil {
				log.Warnw("failed to sweep orphaned temp file", "path", path, "err", err)
			} else {
				log.Infow("swept orphaned temp file", "path", path)
			}
		}
	}
}

// writeAtomic writes data to name under the state directory using a
// write-temp-then-rename pattern with a unique temp filename, never
// writing in place.
func (m *Manager) writeAtomic(name string, data []byte) error {
	target := filepath.Join(m.stateDir, name)
	tmp := filepath.Join(m.stateDir, fmt.Sprintf("%s%s.%d", tmpPrefix, name, time.Now().UnixNano()))

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cycle: write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cycle: rename temp file: %w", err)
	}
	return nil
}

// WriteJSON backs up the existing artifact (if present) then atomically
// writes v as JSON to name.
func (m *Manager) WriteJSON(name string, v any) error {
	if err := m.backup(name); err != nil {
		logging.Get(logging.CategoryCycle).Warnw("backup failed, proceeding with write", "name", name, "err", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("cycle: marshal %s: %w", name, err)
	}
	return m.writeAtomic(name, data)
}

// readJSON loads name into v. A JSON parse failure is not propagated as
// an error: it logs a warning and reports corrupt=true so the caller can
// refuse to overwrite a valid prior artifact with empty content.
func (m *Manager) readJSON(name string, v any) (corrupt bool) {
	log := logging.Get(logging.CategoryCycle)
	path := filepath.Join(m.stateDir, name)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnw("state read failed", "name", name, "err", err)
		}
		return false
	}
	if len(data) == 0 {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		wrapped := fmt.Errorf("cycle: %s: %w", name, model.ErrStateCorrupt)
		log.Warnw("state file corrupt", "name", name, "err", wrapped, "parse_err", err)
		return true
	}
	return false
}

// LoadSoulState reads soul.json, returning an empty structure with
// StateCorrupt=true on parse failure.
func (m *Manager) LoadSoulState() model.SoulState {
	var s model.SoulState
	s.StateCorrupt = m.readJSON(soulFile, &s)
	return s
}

// WriteSoulState persists soul state. Callers must check
// LoadSoulState().StateCorrupt before calling this with a freshly-empty
// state, per the cycle manager's refuse-to-overwrite-valid-data
// invariant.
func (m *Manager) WriteSoulState(s model.SoulState) error {
	return m.WriteJSON(soulFile, s)
}

// WriteRunArtifacts persists signals, principles, and axioms as three
// separate JSON documents. This multi-document write is not atomic
// across files (§5): a crash between writes can leave them inconsistent.
// An upgrade to a tempdir-then-rename at directory granularity is an
// acceptable future improvement, not implemented here.
func (m *Manager) WriteRunArtifacts(signals []model.Signal, principles []model.Principle, axioms []model.Axiom) error {
	if err := m.WriteJSON(signalsFile, signals); err != nil {
		return err
	}
	if err := m.WriteJSON(principlesFile, principles); err != nil {
		return err
	}
	if err := m.WriteJSON(axiomsFile, axioms); err != nil {
		return err
	}
	return nil
}
