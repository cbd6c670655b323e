package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"

	"github.com/voicepane/voicepane/internal/errkind"
)

// Lock is an acquired single-instance lock for one daemon name. It pairs an
// OS-level flock with a PID file so that a competing instance can report the
// incumbent's process identity in its diagnostic.
type Lock struct {
	fl   *flock.Flock
	path string
}

// AcquireLock acquires the exclusive lock for daemonName inside dir, creating
// dir if necessary. If the lock file is held by a process that is no longer
// alive, it is reclaimed. If a live process holds it, AcquireLock returns an
// error wrapping [errkind.LockHeld] that names the holder's PID.
func AcquireLock(dir, daemonName string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir %q: %w: %w", dir, errkind.Internal, err)
	}
	path := filepath.Join(dir, daemonName+".pid")

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %q: %w: %w", path, errkind.Internal, err)
	}
	if !locked {
		if holder, ok := readHolderPID(path); ok && processAlive(holder) {
			return nil, fmt.Errorf("daemon %q already running as pid %d: %w", daemonName, holder, errkind.LockHeld)
		}
		// Holder is stale (crashed without cleanup); reclaim the file and retry.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reclaim stale lock %q: %w: %w", path, errkind.Internal, err)
		}
		fl = flock.New(path)
		locked, err = fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %q after reclaim: %w: %w", path, errkind.Internal, err)
		}
		if !locked {
			return nil, fmt.Errorf("daemon %q lock contended during reclaim: %w", daemonName, errkind.LockHeld)
		}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("write pid file %q: %w: %w", path, errkind.Internal, err)
	}
	return &Lock{fl: fl, path: path}, nil
}

// Release unlocks and removes the PID file. It is safe to call on a nil
// *Lock and safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	_ = os.Remove(l.path)
	return l.fl.Unlock()
}

func readHolderPID(path string) (int, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	s := strings.TrimSpace(string(b))
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive reports whether pid refers to a live process. On Linux it
// checks /proc/<pid> directly; elsewhere (and as a fallback if /proc is
// unavailable) it sends the null signal, which the kernel validates without
// delivering anything.
func processAlive(pid int) bool {
	info, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	switch {
	case err == nil:
		return info.IsDir()
	case os.IsNotExist(err):
		return false
	}

	// /proc unavailable on this platform; fall back to a signal probe.
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
