package plan

import (
	"strings"

	"github.com/RuiFG/streaming/streaming-table/column"
	"github.com/pkg/errors"
)

var (
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrStreamingAction      = errors.New("queries with streaming sources must be executed with writeStream.start()")
	ErrNotStreaming         = errors.New("writeStream can only be called on a streaming DataFrame")
)

type OutputMode int

const (
	// Append emits only rows that will never change again.
	Append OutputMode = iota
	// Complete emits the whole result table every trigger.
	Complete
	// Update emits the rows that changed since the last trigger.
	Update
)

func (m OutputMode) String() string {
	switch m {
	case Append:
		return "Append"
	case Complete:
		return "Complete"
	default:
		return "Update"
	}
}

func ParseOutputMode(name string) (OutputMode, error) {
	switch strings.ToLower(name) {
	case "append":
		return Append, nil
	case "complete":
		return Complete, nil
	case "update":
		return Update, nil
	default:
		return Append, errors.Errorf("unknown output mode %q, accepted modes are append, complete, update", name)
	}
}

func unsupported(format string, args ...any) error {
	return errors.WithMessagef(ErrUnsupportedOperation, format, args...)
}

// CheckBatch rejects running an action that needs a bounded result on a streaming plan.
func CheckBatch(node Node) error {
	if node.IsStreaming() {
		return ErrStreamingAction
	}
	return nil
}

// CheckStreaming verifies a streaming plan can run incrementally in mode.
func CheckStreaming(node Node, mode OutputMode) error {
	if !node.IsStreaming() {
		return ErrNotStreaming
	}
	var (
		aggregates []*Aggregate
		err        error
	)
	Walk(node, func(n Node) bool {
		if err != nil {
			return false
		}
		switch x := n.(type) {
		case *Aggregate:
			if x.IsStreaming() {
				aggregates = append(aggregates, x)
			}
		case *Join:
			err = checkJoin(x)
		case *Sort:
			if x.IsStreaming() && !(mode == Complete && aggregatedBelow(x.Child)) {
				err = unsupported("sorting is not supported on streaming DataFrames/Datasets, unless it is on aggregated DataFrame/Dataset in Complete output mode")
			}
		case *Limit:
			if x.IsStreaming() && !(mode == Complete && aggregatedBelow(x.Child)) {
				err = unsupported("limit is not supported on streaming DataFrames/Datasets, unless it is on aggregated DataFrame/Dataset in Complete output mode")
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	if len(aggregates) > 1 {
		return unsupported("multiple streaming aggregations are not supported with streaming DataFrames/Datasets")
	}
	switch mode {
	case Complete:
		if len(aggregates) == 0 {
			return unsupported("complete output mode not supported when there are no streaming aggregations on streaming DataFrames/Datasets")
		}
	case Append:
		if len(aggregates) == 1 {
			if _, ok := WatermarkedGroupingKey(aggregates[0]); !ok {
				return unsupported("append output mode not supported when there are streaming aggregations on streaming DataFrames/Datasets without watermark")
			}
		}
	}
	return nil
}

func checkJoin(j *Join) error {
	left, right := j.Left.IsStreaming(), j.Right.IsStreaming()
	switch {
	case left && right:
		return unsupported("stream-stream joins are not supported")
	case left:
		switch j.Type {
		case InnerJoin, LeftOuterJoin, LeftSemiJoin, LeftAntiJoin:
			return nil
		}
		return unsupported("%s join with a streaming DataFrame/Dataset on the left and a static DataFrame/Dataset on the right is not supported", j.Type)
	case right:
		switch j.Type {
		case InnerJoin, RightOuterJoin:
			return nil
		}
		return unsupported("%s join with a streaming DataFrame/Dataset on the right and a static DataFrame/Dataset on the left is not supported", j.Type)
	}
	return nil
}

func aggregatedBelow(node Node) bool {
	found := false
	Walk(node, func(n Node) bool {
		if a, ok := n.(*Aggregate); ok && a.IsStreaming() {
			found = true
		}
		return !found
	})
	return found
}

// WatermarkedGroupingKey finds the grouping key of a that is, or is a window over, a
// watermarked event time column. It returns the index of that key.
func WatermarkedGroupingKey(a *Aggregate) (int, bool) {
	var watermarks []*Watermark
	Walk(a.Child, func(n Node) bool {
		if w, ok := n.(*Watermark); ok {
			watermarks = append(watermarks, w)
		}
		return true
	})
	for i, g := range a.Grouping {
		name, ok := column.EventTime(g)
		if !ok {
			continue
		}
		for _, w := range watermarks {
			if sameColumn(name, w.EventTime) {
				return i, true
			}
		}
	}
	return -1, false
}

func sameColumn(a, b string) bool {
	trim := func(s string) string {
		if dot := strings.LastIndex(s, "."); dot >= 0 {
			return s[dot+1:]
		}
		return s
	}
	return strings.EqualFold(trim(a), trim(b))
}
