package types

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var intervalUnits = map[string]time.Duration{
	"millisecond": time.Millisecond,
	"ms":          time.Millisecond,
	"second":      time.Second,
	"sec":         time.Second,
	"s":           time.Second,
	"minute":      time.Minute,
	"min":         time.Minute,
	"m":           time.Minute,
	"hour":        time.Hour,
	"h":           time.Hour,
	"day":         24 * time.Hour,
	"d":           24 * time.Hour,
	"week":        7 * 24 * time.Hour,
}

// ParseInterval reads "10 minutes", "1 hour 30 seconds" or a Go duration like "90s".
func ParseInterval(text string) (time.Duration, error) {
	text = strings.TrimSpace(text)
	if d, err := time.ParseDuration(text); err == nil {
		return d, nil
	}
	fields := strings.Fields(strings.TrimPrefix(strings.ToLower(text), "interval"))
	if len(fields) == 0 || len(fields)%2 != 0 {
		return 0, errors.Errorf("invalid interval %q", text)
	}
	var total time.Duration
	for i := 0; i < len(fields); i += 2 {
		n, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return 0, errors.Errorf("invalid interval %q: %s is not a number", text, fields[i])
		}
		unit, ok := intervalUnits[fields[i+1]]
		if !ok {
			unit, ok = intervalUnits[strings.TrimSuffix(fields[i+1], "s")]
		}
		if !ok {
			return 0, errors.Errorf("invalid interval %q: unknown unit %s", text, fields[i+1])
		}
		total += time.Duration(n * float64(unit))
	}
	return total, nil
}
