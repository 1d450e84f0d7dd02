package execution

import (
	"strings"
	"time"

	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/pkg/errors"
)

type triggerKind int

const (
	processingTime triggerKind = iota
	once
	availableNow
)

// Trigger decides when a query runs its next batch.
type Trigger struct {
	kind     triggerKind
	interval time.Duration
}

// ProcessingTime starts a batch every interval, or as soon as the previous one finished
// when interval is 0.
func ProcessingTime(interval time.Duration) Trigger {
	return Trigger{kind: processingTime, interval: interval}
}

// Once processes what is available in a single batch, then stops the query.
func Once() Trigger { return Trigger{kind: once} }

// AvailableNow processes what is available, possibly in several batches, then stops
// the query.
func AvailableNow() Trigger { return Trigger{kind: availableNow} }

// ParseTrigger accepts "once", "availableNow" and processing time intervals such as
// "10 seconds".
func ParseTrigger(text string) (Trigger, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "once":
		return Once(), nil
	case "availablenow", "available_now":
		return AvailableNow(), nil
	}
	interval, err := types.ParseInterval(text)
	if err != nil {
		return Trigger{}, errors.WithMessagef(err, "invalid trigger %q", text)
	}
	return ProcessingTime(interval), nil
}

func (t Trigger) String() string {
	switch t.kind {
	case once:
		return "Once"
	case availableNow:
		return "AvailableNow"
	default:
		return "ProcessingTime(" + t.interval.String() + ")"
	}
}

func (t Trigger) Interval() time.Duration { return t.interval }
