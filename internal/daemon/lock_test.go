package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/voicepane/voicepane/internal/errkind"
)

func TestAcquireLock_SingleInstance(t *testing.T) {
	dir := t.TempDir()

	l1, err := AcquireLock(dir, "audiod")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer l1.Release()

	_, err = AcquireLock(dir, "audiod")
	if err == nil {
		t.Fatal("expected second acquire to fail")
	}
	if !errors.Is(err, errkind.LockHeld) {
		t.Errorf("expected LockHeld, got %v", err)
	}
	if !containsPID(err.Error(), os.Getpid()) {
		t.Errorf("expected error to name holder pid %d, got: %v", os.Getpid(), err)
	}
}

func TestAcquireLock_ReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()

	l1, err := AcquireLock(dir, "videod")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := l1.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	l2, err := AcquireLock(dir, "videod")
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	defer l2.Release()
}

func TestAcquireLock_ReclaimsStaleLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stale.pid")

	// A PID almost certainly not alive, never our own.
	const fakePID = 1 << 30
	if err := os.WriteFile(path, []byte(strconv.Itoa(fakePID)), 0o644); err != nil {
		t.Fatalf("seed stale pid file: %v", err)
	}

	l, err := AcquireLock(dir, "stale")
	if err != nil {
		t.Fatalf("expected stale lock to be reclaimed, got: %v", err)
	}
	defer l.Release()

	got, ok := readHolderPID(path)
	if !ok || got != os.Getpid() {
		t.Errorf("pid file after reclaim = %v, want own pid", got)
	}
}

func TestReleaseNilLock(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("Release on nil *Lock should be a no-op, got %v", err)
	}
}

func containsPID(s string, pid int) bool {
	return strings.Contains(s, strconv.Itoa(pid))
}
