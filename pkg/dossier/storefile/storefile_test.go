package storefile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestWriteCreatesNewFileWithoutBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	w := &Writer{Now: fixedNow}
	if err := w.Write(path, []byte("v1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "v1" {
		t.Fatalf("read back: %q %v", got, err)
	}
	if backups(t, path) != 0 {
		t.Fatal("no backup expected for a new file")
	}
}

func TestWriteBacksUpPreviousState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	w := &Writer{Now: fixedNow}
	if err := w.Write(path, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(path, []byte("v2")); err != nil {
		t.Fatal(err)
	}

	backup := path + ".bak_" + fixedNow().Format(BackupTimeFormat)
	got, err := os.ReadFile(backup)
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("backup holds %q, want pre-write state", got)
	}
	current, _ := os.ReadFile(path)
	if string(current) != "v2" {
		t.Fatalf("destination holds %q", current)
	}
}

func TestWriteSkipsIdenticalContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	w := &Writer{Now: fixedNow}
	if err := w.Write(path, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	info1, _ := os.Stat(path)

	if err := w.Write(path, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	info2, _ := os.Stat(path)
	if !info1.ModTime().Equal(info2.ModTime()) {
		t.Fatal("identical content should not be rewritten")
	}
	if backups(t, path) != 0 {
		t.Fatal("identical content should not produce a backup")
	}
}

func TestWriteCrashBetweenBackupAndReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	w := &Writer{Now: fixedNow}
	if err := w.Write(path, []byte("v1")); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("simulated crash")
	w.Rename = func(string, string) error { return boom }
	if err := w.Write(path, []byte("v2")); !errors.Is(err, boom) {
		t.Fatalf("expected injected fault, got %v", err)
	}

	// The destination must still be fully old content.
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "v1" {
		t.Fatalf("destination corrupted: %q %v", got, err)
	}
	// And the backup from the failed attempt must match it.
	backup := path + ".bak_" + fixedNow().Format(BackupTimeFormat)
	if b, err := os.ReadFile(backup); err != nil || string(b) != "v1" {
		t.Fatalf("backup missing or wrong: %q %v", b, err)
	}
	// No temp files left behind.
	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp_") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func backups(t *testing.T, path string) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, e := range entries {
		if strings.Contains(e.Name(), ".bak_") {
			n++
		}
	}
	return n
}
