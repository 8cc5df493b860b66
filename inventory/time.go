package inventory

import (
	"fmt"
	"time"
)

// DateLayout is the dd/MM/yyyy HH:mm:ss format used by the command surface.
const DateLayout = "02/01/2006 15:04:05"

// ParseDate parses s in DateLayout. A nil loc means UTC.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q (want dd/MM/yyyy HH:mm:ss): %v", ErrInvalidDate, s, err)
	}
	return t, nil
}

func FormatDate(t time.Time) string { return t.Format(DateLayout) }

// StartOfDay discards the time of day, keeping t's location.
// Balance entries are once-per-day snapshots and are always stored this way.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
