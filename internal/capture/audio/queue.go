package audio

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voicepane/voicepane/internal/observe"
	"github.com/voicepane/voicepane/pkg/audio"
)

// dropOldestQueue is the bounded batch queue between device capture and the
// speech-to-text stage. Only one producer goroutine ([Capturer]'s pump) ever pushes, so
// the two-step evict-then-push below does not race against itself.
type dropOldestQueue struct {
	ch      chan audio.AudioFrame
	source  string
	metrics *observe.Metrics

	closeOnce sync.Once
}

func newDropOldestQueue(depth int, source string, metrics *observe.Metrics) *dropOldestQueue {
	if depth <= 0 {
		depth = 1
	}
	return &dropOldestQueue{ch: make(chan audio.AudioFrame, depth), source: source, metrics: metrics}
}

// push enqueues frame, dropping the single oldest queued frame if the queue
// is full.
func (q *dropOldestQueue) push(frame audio.AudioFrame) {
	select {
	case q.ch <- frame:
		return
	default:
	}

	select {
	case <-q.ch:
		if q.metrics != nil {
			q.metrics.CaptureDrops.Add(context.Background(), 1, metric.WithAttributes(attribute.String("source", q.source)))
		}
	default:
	}

	select {
	case q.ch <- frame:
	default:
		// Another producer (shouldn't happen with a single pump) won the race.
	}
}

func (q *dropOldestQueue) recv() <-chan audio.AudioFrame {
	return q.ch
}

func (q *dropOldestQueue) close() {
	q.closeOnce.Do(func() { close(q.ch) })
}
