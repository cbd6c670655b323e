// Package changedet implements the per-frame change detector: it
// computes a perceptual hash of each candidate frame, compares it against the
// previous kept frame, and derives a change_score = 1 - similarity used by
// the capture daemon to decide whether a frame is worth storing at all.
//
// It also tracks per-block region stability so the OCR adapter
// can reuse prior extractions for regions that have not visibly changed for
// at least StableDuration, instead of re-invoking the external OCR engine.
package changedet

import (
	"fmt"
	"image"
	"time"

	"github.com/corona10/goimagehash"
)

// Grid is the number of rows/columns the frame is divided into for
// per-block region-stability tracking. 4x4 blocks is a reasonable default granularity for a
// 1080p-class screenshot: fine enough to isolate a small UI region, coarse
// enough that hashing stays cheap.
const defaultGrid = 4

// Config parameterises a [Detector].
type Config struct {
	// StoreThreshold is the minimum change score required for a
	// frame to be persisted.
	StoreThreshold float64

	// StableDuration is how long a region's hash must remain unchanged
	// before it is considered stable for OCR-cache purposes.
	StableDuration time.Duration

	// Grid is the per-axis block count for region-stability tracking.
	// Defaults to 4 (a 4x4 grid, 16 regions) when zero.
	Grid int
}

// Result is the outcome of comparing one candidate frame against the
// previously kept frame.
type Result struct {
	// ChangeScore is 1 - similarity against the previous kept frame. A
	// first-ever frame (no prior kept frame) always scores 1.0.
	ChangeScore float64

	// ShouldStore reports whether ChangeScore >= Config.StoreThreshold.
	ShouldStore bool

	// StableRegions lists the block indices (row-major) that have been
	// hash-stable for at least Config.StableDuration as of this frame. The
	// OCR adapter may reuse cached extractions for these regions.
	StableRegions []int

	// Hash is this frame's whole-frame perceptual hash, stored alongside
	// [types.CapturedFrame.PerceptualHash] for later comparisons and for
	// collapsing runs of identical frames.
	Hash uint64
}

// regionState tracks one grid block's last-seen hash and the time it was
// first observed at that hash value.
type regionState struct {
	hash      uint64
	stableAt  time.Time
}

// Detector holds the previous kept frame's hash and per-region hash history.
// It is not safe for concurrent use — the video capture daemon processes one
// frame at a time.
type Detector struct {
	cfg Config

	hasPrev  bool
	prevHash *goimagehash.ImageHash

	grid    int
	regions []regionState
}

// New returns a [Detector] with cfg's thresholds. A zero Grid defaults to 4.
func New(cfg Config) *Detector {
	if cfg.Grid <= 0 {
		cfg.Grid = defaultGrid
	}
	return &Detector{cfg: cfg, grid: cfg.Grid}
}

// Observe computes img's perceptual hash, compares it against the previously
// kept frame (if any), and updates per-region stability tracking. Call
// [Detector.Keep] after persisting a frame whose ChangeScore met the store
// threshold, so subsequent comparisons use it as the new baseline; frames
// that are discarded must not be fed to Keep.
func (d *Detector) Observe(img image.Image, now time.Time) (Result, error) {
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return Result{}, fmt.Errorf("changedet: perceptual hash: %w", err)
	}

	score := 1.0
	if d.hasPrev {
		dist, err := hash.Distance(d.prevHash)
		if err != nil {
			return Result{}, fmt.Errorf("changedet: hash distance: %w", err)
		}
		// goimagehash's perception hash is a 64-bit fingerprint; normalize
		// Hamming distance to a [0,1] similarity, then invert for the score.
		similarity := 1.0 - float64(dist)/64.0
		score = 1.0 - similarity
	}

	stable := d.updateRegions(img, now)

	return Result{
		ChangeScore:   score,
		ShouldStore:   score >= d.cfg.StoreThreshold,
		StableRegions: stable,
		Hash:          uint64(hash.GetHash()),
	}, nil
}

// Keep records img's hash as the new baseline for future comparisons. Call
// this only for frames that were actually persisted.
func (d *Detector) Keep(img image.Image) error {
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return fmt.Errorf("changedet: perceptual hash: %w", err)
	}
	d.prevHash = hash
	d.hasPrev = true
	return nil
}

// updateRegions recomputes a coarse per-block hash for each grid cell of img
// and returns the indices of blocks whose hash has been unchanged for at
// least StableDuration.
func (d *Detector) updateRegions(img image.Image, now time.Time) []int {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	n := d.grid * d.grid
	if len(d.regions) != n {
		d.regions = make([]regionState, n)
	}

	blockW := w / d.grid
	blockH := h / d.grid
	if blockW == 0 {
		blockW = 1
	}
	if blockH == 0 {
		blockH = 1
	}

	var stable []int
	for row := 0; row < d.grid; row++ {
		for col := 0; col < d.grid; col++ {
			idx := row*d.grid + col
			x0 := bounds.Min.X + col*blockW
			y0 := bounds.Min.Y + row*blockH
			x1 := x0 + blockW
			y1 := y0 + blockH
			if col == d.grid-1 {
				x1 = bounds.Max.X
			}
			if row == d.grid-1 {
				y1 = bounds.Max.Y
			}

			h := blockHash(img, image.Rect(x0, y0, x1, y1))
			st := &d.regions[idx]
			if h != st.hash {
				st.hash = h
				st.stableAt = now
			} else if st.stableAt.IsZero() {
				st.stableAt = now
			}

			if !st.stableAt.IsZero() && now.Sub(st.stableAt) >= d.cfg.StableDuration {
				stable = append(stable, idx)
			}
		}
	}
	return stable
}

// blockHash computes a cheap average-brightness fingerprint for rect, used
// only for region-stability tracking (not for the store/discard decision,
// which uses the more expensive whole-frame perceptual hash above).
func blockHash(img image.Image, rect image.Rectangle) uint64 {
	var sum uint64
	var count uint64
	// Sample on a coarse stride so large frames stay cheap to hash.
	const stride = 4
	for y := rect.Min.Y; y < rect.Max.Y; y += stride {
		for x := rect.Min.X; x < rect.Max.X; x += stride {
			r, g, b, _ := img.At(x, y).RGBA()
			lum := (r*299 + g*587 + b*114) / 1000
			sum += uint64(lum)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	avg := sum / count
	// Fold position-independent average into a 64-bit value alongside the
	// low byte of the sample count so near-identical blocks hash identically
	// while genuinely different ones do not.
	return avg<<8 | (count & 0xff)
}

// RegionHash exposes the stable-region hash for region idx, for callers
// (the OCR adapter) that need to key a cache entry by the exact hash value
// rather than just the stability boolean.
func (d *Detector) RegionHash(idx int) uint64 {
	if idx < 0 || idx >= len(d.regions) {
		return 0
	}
	return d.regions[idx].hash
}

// GridSize returns the configured per-axis grid size.
func (d *Detector) GridSize() int {
	return d.grid
}
