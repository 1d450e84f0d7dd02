package execution

import (
	"math"
	"sync"
	"time"

	"github.com/RuiFG/streaming/streaming-table/plan"
)

// WatermarkTracker follows max(event time) - delay of every watermark operator. The
// query watermark is the minimum across operators that have seen data and never moves
// backwards.
type WatermarkTracker struct {
	mutex      sync.Mutex
	operators  []*plan.Watermark
	maxEventMs []int64
	currentMs  int64
}

func NewWatermarkTracker() *WatermarkTracker {
	return &WatermarkTracker{}
}

func (t *WatermarkTracker) register(w *plan.Watermark) int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.operators = append(t.operators, w)
	t.maxEventMs = append(t.maxEventMs, math.MinInt64)
	return len(t.operators) - 1
}

// Observe records an event time seen by operator id.
func (t *WatermarkTracker) Observe(id int, eventTime time.Time) {
	if id < 0 {
		return
	}
	ms := eventTime.UnixMilli()
	t.mutex.Lock()
	if ms > t.maxEventMs[id] {
		t.maxEventMs[id] = ms
	}
	t.mutex.Unlock()
}

// Advance computes the watermark of the next batch and reports whether it moved.
func (t *WatermarkTracker) Advance() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	next := int64(math.MaxInt64)
	seen := false
	for i, w := range t.operators {
		if t.maxEventMs[i] == math.MinInt64 {
			continue
		}
		seen = true
		if candidate := t.maxEventMs[i] - w.Delay.Milliseconds(); candidate < next {
			next = candidate
		}
	}
	if !seen || next <= t.currentMs {
		return false
	}
	t.currentMs = next
	return true
}

// CurrentMs is the watermark in epoch milliseconds, 0 before any data arrived.
func (t *WatermarkTracker) CurrentMs() int64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.currentMs
}

// Restore sets the watermark recovered from a checkpoint.
func (t *WatermarkTracker) Restore(ms int64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if ms > t.currentMs {
		t.currentMs = ms
	}
}

// Enabled reports whether the plan has any watermark operator.
func (t *WatermarkTracker) Enabled() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return len(t.operators) > 0
}

// EventTimeStats renders the per batch event time stats shown in progress reports.
func (t *WatermarkTracker) EventTimeStats() map[string]string {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if len(t.operators) == 0 {
		return nil
	}
	stats := map[string]string{"watermark": formatMs(t.currentMs)}
	max := int64(math.MinInt64)
	for _, ms := range t.maxEventMs {
		if ms > max {
			max = ms
		}
	}
	if max != math.MinInt64 {
		stats["max"] = formatMs(max)
	}
	return stats
}

func formatMs(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}
