package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetupLogFileCreatesFileInDir(t *testing.T) {
	dir := t.TempDir()
	f, err := SetupLogFile(dir, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 log file, got %d", len(entries))
	}
}

func TestCleanupOldLogsKeepsOnlyMaxFilesNewest(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"server-2024-01-01T00-00-00.log",
		"server-2024-01-02T00-00-00.log",
		"server-2024-01-03T00-00-00.log",
		"server-2024-01-04T00-00-00.log",
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if err := cleanupOldLogs(dir, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 remaining log files, got %d", len(entries))
	}
	remaining := map[string]bool{}
	for _, e := range entries {
		remaining[e.Name()] = true
	}
	if !remaining["server-2024-01-03T00-00-00.log"] || !remaining["server-2024-01-04T00-00-00.log"] {
		t.Fatalf("expected the two newest files to remain, got %v", remaining)
	}
}

func TestCleanupOldLogsNoopWhenUnderLimit(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "server-2024-01-01T00-00-00.log"), []byte("x"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cleanupOldLogs(dir, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected the single file to remain untouched, got %d", len(entries))
	}
}
