// Package ringbuffer enforces on-disk size and file-count caps over a
// segment-file directory by evicting the oldest files in strict FIFO
// order. It never touches database rows; dangling file references left
// behind by eviction are handled by the storage/query layers.
package ringbuffer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voicepane/voicepane/internal/observe"
)

// minEvict is the minimum number of files removed in one eviction pass, even
// when 20% of the current file count is smaller.
const minEvict = 5

// evictFraction is the fraction of the current file count removed once a cap
// is exceeded.
const evictFraction = 0.20

// Config bounds a single segment directory.
type Config struct {
	// Dir is the segment-file directory to manage.
	Dir string
	// MaxFiles caps the file count. Zero disables the count cap.
	MaxFiles int
	// MaxTotalSizeMB caps total on-disk size in megabytes. Zero disables the
	// size cap.
	MaxTotalSizeMB int64
	// GuardInterval excludes files newer than (now - GuardInterval) from
	// eviction, so files are never removed out from under a concurrent
	// writer. Default 10s.
	GuardInterval time.Duration
	// Metrics records eviction counts. Optional.
	Metrics *observe.Metrics
}

// Result summarizes one [Manage] invocation.
type Result struct {
	EvictedFiles []string
	RemainingCount int
	RemainingSizeBytes int64
}

// Manage checks cfg's caps against cfg.Dir and, when either is exceeded,
// evicts one batch of the oldest eligible files (by mtime): max(minEvict,
// 20% of the current file count), or fewer if fewer files are eligible.
// One call evicts one batch, so the caps may still be exceeded afterwards
// (70 files with MaxFiles 50 leaves 56). Manage is safe to call concurrently with a writer adding
// new files to Dir, because it only considers files with
// mtime < now-GuardInterval.
func Manage(ctx context.Context, cfg Config) (Result, error) {
	if cfg.GuardInterval <= 0 {
		cfg.GuardInterval = 10 * time.Second
	}

	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("ringbuffer: read dir %q: %w", cfg.Dir, err)
	}

	type fileInfo struct {
		path  string
		mtime time.Time
		size  int64
	}
	files := make([]fileInfo, 0, len(entries))
	var totalSize int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			path:  filepath.Join(cfg.Dir, e.Name()),
			mtime: info.ModTime(),
			size:  info.Size(),
		})
		totalSize += info.Size()
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })

	guardCutoff := time.Now().Add(-cfg.GuardInterval)
	overCount := cfg.MaxFiles > 0 && len(files) > cfg.MaxFiles
	overSize := cfg.MaxTotalSizeMB > 0 && totalSize > cfg.MaxTotalSizeMB*1024*1024

	var evicted []string
	if overCount || overSize {
		evictTarget := minEvict
		if n := int(float64(len(files)) * evictFraction); n > evictTarget {
			evictTarget = n
		}

		i := 0
		for i < len(files) && len(evicted) < evictTarget {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			default:
			}
			f := files[i]
			if f.mtime.After(guardCutoff) {
				// Too fresh; stop — everything after this in mtime order is
				// also ineligible or irrelevant to FIFO order.
				break
			}
			if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
				return Result{}, fmt.Errorf("ringbuffer: evict %q: %w", f.path, err)
			}
			evicted = append(evicted, f.path)
			totalSize -= f.size
			i++
		}
		files = files[i:]
	}

	if cfg.Metrics != nil && len(evicted) > 0 {
		cfg.Metrics.RingBufferEvictions.Add(ctx, int64(len(evicted)),
			metric.WithAttributes(attribute.String("dir", cfg.Dir)))
	}

	return Result{
		EvictedFiles:       evicted,
		RemainingCount:     len(files),
		RemainingSizeBytes: totalSize,
	}, nil
}
