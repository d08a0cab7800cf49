package cycle

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"soulforge/internal/logging"
)

// backup copies the existing artifact at name into a timestamped backup
// directory before it is overwritten, then trims the backup set to
// maxBackups entries (oldest first).
func (m *Manager) backup(name string) error {
	src := filepath.Join(m.stateDir, name)
	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // nothing to back up yet
		}
		return err
	}

	stamp := backupTimestamp(time.Now())
	dir := filepath.Join(m.stateDir, backupsDir, stamp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return err
	}

	return m.trimBackups()
}

// backupTimestamp formats a backup directory name with a dot-separated
// millisecond component, as required for deterministic parsing by
// restoreNewestBackup.
func backupTimestamp(t time.Time) string {
	return fmt.Sprintf("%s.%03d", t.UTC().Format("20060102T150405"), t.Nanosecond()/1e6)
}

func parseBackupTimestamp(name string) (time.Time, error) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return time.Time{}, fmt.Errorf("cycle: malformed backup timestamp %q", name)
	}
	base, msPart := name[:idx], name[idx+1:]
	ms, err := strconv.Atoi(msPart)
	if err != nil {
		return time.Time{}, fmt.Errorf("cycle: malformed backup millisecond component %q: %w", name, err)
	}
	t, err := time.Parse("20060102T150405", base)
	if err != nil {
		return time.Time{}, fmt.Errorf("cycle: malformed backup timestamp %q: %w", name, err)
	}
	return t.Add(time.Duration(ms) * time.Millisecond), nil
}

// trimBackups deletes the oldest backup directories beyond maxBackups.
func (m *Manager) trimBackups() error {
	log := logging.Get(logging.CategoryCycle)
	root := filepath.Join(m.stateDir, backupsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}

	type stamped struct {
		name string
		t    time.Time
	}
	var stamps []stamped
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		t, err := parseBackupTimestamp(e.Name())
		if err != nil {
			log.Warnw("skipping unparseable backup directory", "name", e.Name(), "err", err)
			continue
		}
		stamps = append(stamps, stamped{name: e.Name(), t: t})
	}

	sort.Slice(stamps, func(i, j int) bool { return stamps[i].t.Before(stamps[j].t) })

	for len(stamps) > maxBackups {
		oldest := stamps[0]
		stamps = stamps[1:]
		if err := os.RemoveAll(filepath.Join(root, oldest.name)); err != nil {
			log.Warnw("failed to remove old backup", "name", oldest.name, "err", err)
		}
	}
	return nil
}

// RestoreNewestBackup restores name from the newest backup directory,
// overwriting the live artifact. It returns os.ErrNotExist if there are
// no backups.
func (m *Manager) RestoreNewestBackup(name string) error {
	root := filepath.Join(m.stateDir, backupsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}

	var newest string
	var newestTime time.Time
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		t, err := parseBackupTimestamp(e.Name())
		if err != nil {
			continue
		}
		if newest == "" || t.After(newestTime) {
			newest, newestTime = e.Name(), t
		}
	}
	if newest == "" {
		return os.ErrNotExist
	}

	data, err := os.ReadFile(filepath.Join(root, newest, name))
	if err != nil {
		return err
	}
	return m.writeAtomic(name, data)
}
