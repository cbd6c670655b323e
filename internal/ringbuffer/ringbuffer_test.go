package ringbuffer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func seedFiles(t *testing.T, dir string, n int, size int) {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("seg-%04d.bin", i))
		if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
			t.Fatalf("seed file %d: %v", i, err)
		}
		mtime := base.Add(time.Duration(i) * time.Second)
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("chtimes file %d: %v", i, err)
		}
	}
}

func TestManage_ScenarioC_EvictsTwentyPercentWithMinimumFive(t *testing.T) {
	dir := t.TempDir()
	seedFiles(t, dir, 70, 10*1024)

	res, err := Manage(context.Background(), Config{
		Dir:           dir,
		MaxFiles:      50,
		GuardInterval: time.Nanosecond,
	})
	if err != nil {
		t.Fatalf("Manage: %v", err)
	}
	if len(res.EvictedFiles) != 14 {
		t.Errorf("evicted = %d, want 14", len(res.EvictedFiles))
	}
	if res.RemainingCount != 56 {
		t.Errorf("remaining = %d, want 56", res.RemainingCount)
	}
	remaining, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 56 {
		t.Errorf("files on disk = %d, want 56", len(remaining))
	}
	if _, err := os.Stat(filepath.Join(dir, "seg-0014.bin")); err != nil {
		t.Error("expected the 15th originally-created file (index 14) to remain")
	}
	if _, err := os.Stat(filepath.Join(dir, "seg-0013.bin")); !os.IsNotExist(err) {
		t.Error("expected the 14th originally-created file (index 13) to be evicted")
	}
}

func TestManage_RespectsMinimumEvictCount(t *testing.T) {
	dir := t.TempDir()
	seedFiles(t, dir, 11, 1024)

	res, err := Manage(context.Background(), Config{
		Dir:           dir,
		MaxFiles:      10,
		GuardInterval: time.Nanosecond,
	})
	if err != nil {
		t.Fatalf("Manage: %v", err)
	}
	if len(res.EvictedFiles) != minEvict {
		t.Errorf("evicted = %d, want minimum %d", len(res.EvictedFiles), minEvict)
	}
}

func TestManage_NoopUnderCap(t *testing.T) {
	dir := t.TempDir()
	seedFiles(t, dir, 5, 1024)

	res, err := Manage(context.Background(), Config{
		Dir:           dir,
		MaxFiles:      50,
		GuardInterval: time.Nanosecond,
	})
	if err != nil {
		t.Fatalf("Manage: %v", err)
	}
	if len(res.EvictedFiles) != 0 {
		t.Errorf("expected no eviction under cap, evicted %d", len(res.EvictedFiles))
	}
}

func TestManage_SizeCapTriggersEviction(t *testing.T) {
	dir := t.TempDir()
	seedFiles(t, dir, 10, 200*1024) // 2MB total

	res, err := Manage(context.Background(), Config{
		Dir:            dir,
		MaxTotalSizeMB: 1,
		GuardInterval:  time.Nanosecond,
	})
	if err != nil {
		t.Fatalf("Manage: %v", err)
	}
	if len(res.EvictedFiles) == 0 {
		t.Error("expected eviction when over the size cap")
	}
}

func TestManage_GuardIntervalProtectsFreshFiles(t *testing.T) {
	dir := t.TempDir()
	// All files fresh (mtime ~ now); a long guard interval should prevent
	// any eviction even though the count cap is exceeded.
	for i := 0; i < 20; i++ {
		path := filepath.Join(dir, fmt.Sprintf("fresh-%02d.bin", i))
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	res, err := Manage(context.Background(), Config{
		Dir:           dir,
		MaxFiles:      5,
		GuardInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("Manage: %v", err)
	}
	if len(res.EvictedFiles) != 0 {
		t.Errorf("expected guard interval to block eviction of fresh files, evicted %d", len(res.EvictedFiles))
	}
}

func TestManage_MissingDirIsNotAnError(t *testing.T) {
	res, err := Manage(context.Background(), Config{Dir: "/nonexistent/voicepane-ringbuffer-dir"})
	if err != nil {
		t.Fatalf("Manage on missing dir: %v", err)
	}
	if len(res.EvictedFiles) != 0 {
		t.Errorf("expected no evictions for missing dir, got %d", len(res.EvictedFiles))
	}
}
