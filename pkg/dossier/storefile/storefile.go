// Package storefile implements the write discipline shared by every
// persisted store: a timestamped full-file backup of the pre-write state,
// a temp-file write, then an atomic rename. A crash anywhere in the
// sequence leaves the destination fully old or fully new, never partial.
package storefile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// BackupTimeFormat is the suffix layout for backup files.
const BackupTimeFormat = "20060102_150405"

// Writer persists store files. Now and Rename are injectable so tests can
// pin backup names and inject faults at the replace boundary.
type Writer struct {
	Now    func() time.Time
	Rename func(oldpath, newpath string) error
}

// Write persists data to path under the backup-then-atomic-replace
// discipline. When the destination already holds exactly data, the write
// is skipped entirely: no backup, no rewrite, byte-identical result.
func (w *Writer) Write(path string, data []byte) error {
	current, err := os.ReadFile(path)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storefile: read %s: %w", path, err)
	}
	if exists && bytes.Equal(current, data) {
		return nil
	}

	if exists {
		backup := fmt.Sprintf("%s.bak_%s", path, w.now().Format(BackupTimeFormat))
		if err := os.WriteFile(backup, current, 0o644); err != nil {
			return fmt.Errorf("storefile: backup %s: %w", path, err)
		}
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp_*")
	if err != nil {
		return fmt.Errorf("storefile: temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storefile: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storefile: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storefile: close temp: %w", err)
	}
	if err := w.rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storefile: replace %s: %w", path, err)
	}
	return nil
}

func (w *Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Writer) rename(oldpath, newpath string) error {
	if w.Rename != nil {
		return w.Rename(oldpath, newpath)
	}
	return os.Rename(oldpath, newpath)
}
