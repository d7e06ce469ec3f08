package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCollectDeviceAppliesOverride(t *testing.T) {
	d := CollectDevice(DeviceOverride{Name: "bench-01", Platform: "TestPlatform"})
	if d.Name != "bench-01" {
		t.Errorf("name = %q, want bench-01", d.Name)
	}
	if d.Platform != "TestPlatform" {
		t.Errorf("platform = %q, want TestPlatform", d.Platform)
	}
	if d.MemorySizeMB < 0 {
		t.Errorf("memory = %d, want non-negative", d.MemorySizeMB)
	}

	detected := CollectDevice(DeviceOverride{})
	if detected.Platform != string(GetPlatform()) {
		t.Errorf("platform = %q, want %q", detected.Platform, GetPlatform())
	}
}

func TestCleanOldLogsKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"arriety_2026-01-01.log",
		"arriety_2026-01-02.log",
		"arriety_2026-01-03.log",
		"other.txt",
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	cleanOldLogs(dir, 2)

	if exists(filepath.Join(dir, "arriety_2026-01-01.log")) {
		t.Error("oldest log should be removed")
	}
	for _, n := range names[1:] {
		if !exists(filepath.Join(dir, n)) {
			t.Errorf("%s should be kept", n)
		}
	}
}

func TestInitLoggerWithoutFile(t *testing.T) {
	if err := InitLogger(LogConfig{Level: "debug"}); err != nil {
		t.Fatalf("init logger: %v", err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
