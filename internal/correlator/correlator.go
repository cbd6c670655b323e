// Package correlator implements the cross-modal timeline builder:
// it merges audio-side and video-side events sharing temporal
// proximity and device identity under one session id, estimates the clock
// offset between the two capture daemons, and produces the persisted
// [types.TimelineEvent] rows a correlated query reads instead of scanning
// both raw-artifact tables.
//
// Modelled on the bounded-in-memory-window-plus-periodic-flush bookkeeping
// style used elsewhere in this codebase for session-scoped state
// (internal/query/session.ContextManager): the correlator holds a small
// rolling buffer of recently seen events per device and flushes resolved
// timeline rows through a caller-supplied sink, so it can run as a
// background task inside cmd/queryd with only read/append access to the
// shared database.
package correlator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/voicepane/voicepane/internal/observe"
	"github.com/voicepane/voicepane/pkg/types"
)

// AudioEvent is one audio-side occurrence available for correlation: a
// persisted transcript segment plus the device identity that produced it.
type AudioEvent struct {
	SegmentID  string
	DeviceID   string
	OccurredAt time.Time
}

// VideoEvent is one video-side occurrence available for correlation: a
// captured frame and its classifier output, plus device identity.
type VideoEvent struct {
	FrameID         string
	VisualContextID string
	DeviceID        string
	OccurredAt      time.Time
}

// Sink persists resolved timeline rows. The storage engine implements this.
type Sink interface {
	AppendTimelineEvents(ctx context.Context, events []types.TimelineEvent) error
	// RecordClockOffset stores the estimated offset (video clock minus audio
	// clock, in milliseconds) for a session, so queries can apply it
	// transparently.
	RecordClockOffset(ctx context.Context, sessionID string, offsetMillis int64) error
}

// Config configures a [Correlator].
type Config struct {
	// ProximityWindow is the maximum gap between an audio event and a video
	// event for them to be considered part of the same session.
	ProximityWindow time.Duration

	Sink    Sink
	Metrics *observe.Metrics
}

// DefaultProximityWindow is used when Config.ProximityWindow is zero.
const DefaultProximityWindow = 10 * time.Second

// Correlator links audio and video events into unified timeline rows.
type Correlator struct {
	cfg Config

	// sessionByDevice remembers the most recently assigned session id per
	// device so a run of nearby events on the same device keeps landing in
	// the same session instead of minting a new one every call.
	sessionByDevice map[string]string
}

// New returns a [Correlator]. cfg.Sink must be non-nil.
func New(cfg Config) (*Correlator, error) {
	if cfg.Sink == nil {
		return nil, fmt.Errorf("correlator: Config.Sink is required")
	}
	if cfg.ProximityWindow <= 0 {
		cfg.ProximityWindow = DefaultProximityWindow
	}
	return &Correlator{cfg: cfg, sessionByDevice: make(map[string]string)}, nil
}

// Correlate merges the given batch of audio and video events, produces
// [types.TimelineEvent] rows (one per audio event, carrying the paired
// frame, visual context and clock offset when a video event falls within
// the proximity window, plus one per unpaired video event; rows carry no
// session id), estimates each session's clock offset from its paired
// events, and flushes both through Config.Sink (offsets via
// RecordClockOffset).
//
// Pass disjoint batches on successive calls (e.g. "everything ingested
// since the last run"); the correlator carries per-device session
// continuity across calls via sessionByDevice.
func (c *Correlator) Correlate(ctx context.Context, audio []AudioEvent, video []VideoEvent) error {
	type pairing struct {
		audio AudioEvent
		video VideoEvent
	}

	sessionOf := func(deviceID string, at time.Time) string {
		if id, ok := c.sessionByDevice[deviceID]; ok {
			return id
		}
		id := uuid.NewString()
		c.sessionByDevice[deviceID] = id
		return id
	}

	var events []types.TimelineEvent
	pairedVideo := make(map[int]bool)
	sessionOffsets := make(map[string][]int64)

	sortedVideoIdx := make([]int, len(video))
	for i := range video {
		sortedVideoIdx[i] = i
	}
	sort.Slice(sortedVideoIdx, func(i, j int) bool {
		return video[sortedVideoIdx[i]].OccurredAt.Before(video[sortedVideoIdx[j]].OccurredAt)
	})

	for _, a := range audio {
		sessionID := sessionOf(a.DeviceID, a.OccurredAt)

		var best *pairing
		var bestGap time.Duration
		for _, vi := range sortedVideoIdx {
			if pairedVideo[vi] {
				continue
			}
			v := video[vi]
			if v.DeviceID == a.DeviceID {
				continue // same device id means same stream, not a peer modality
			}
			gap := absDuration(v.OccurredAt.Sub(a.OccurredAt))
			if gap > c.cfg.ProximityWindow {
				continue
			}
			if best == nil || gap < bestGap {
				p := pairing{audio: a, video: v}
				best = &p
				bestGap = gap
			}
		}

		ev := types.TimelineEvent{
			ID:              uuid.NewString(),
			OccurredAt:      a.OccurredAt,
			TranscriptSegID: a.SegmentID,
		}
		if best != nil {
			ev.FrameID = best.video.FrameID
			ev.VisualContextID = best.video.VisualContextID
			offsetMillis := best.video.OccurredAt.Sub(a.OccurredAt).Milliseconds()
			ev.ClockOffsetMillis = offsetMillis
			sessionOffsets[sessionID] = append(sessionOffsets[sessionID], offsetMillis)
			c.sessionByDevice[best.video.DeviceID] = sessionID
			for vi, v := range video {
				if v.FrameID == best.video.FrameID {
					pairedVideo[vi] = true
					break
				}
			}
		}
		events = append(events, ev)
	}

	for vi, v := range video {
		if pairedVideo[vi] {
			continue
		}
		sessionOf(v.DeviceID, v.OccurredAt)
		events = append(events, types.TimelineEvent{
			ID:              uuid.NewString(),
			OccurredAt:      v.OccurredAt,
			FrameID:         v.FrameID,
			VisualContextID: v.VisualContextID,
		})
	}

	if len(events) > 0 {
		if err := c.cfg.Sink.AppendTimelineEvents(ctx, events); err != nil {
			return fmt.Errorf("correlator: append timeline events: %w", err)
		}
	}

	for sessionID, offsets := range sessionOffsets {
		avg := averageMillis(offsets)
		if err := c.cfg.Sink.RecordClockOffset(ctx, sessionID, avg); err != nil {
			return fmt.Errorf("correlator: record clock offset: %w", err)
		}
	}

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordProviderRequest(ctx, "correlator", "correlate", "ok")
	}
	return nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func averageMillis(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	return sum / int64(len(values))
}
