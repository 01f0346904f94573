package features

import (
	"strings"
	"time"

	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
)

// Accepted ISO-8601 date-time layouts. Fractional seconds are optional in
// the layouts that list them.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
}

// ParseTimestamp parses an ISO-8601 date-time and returns its wall-clock
// reading in UTC. Offsets are honoured for validation but do not shift the
// hour: the model was trained on local time as written.
func ParseTimestamp(s string) (time.Time, error) {
	v := strings.TrimSpace(s)
	if len(v) > 10 && v[10] == ' ' {
		v = v[:10] + "T" + v[11:]
	}
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC), nil
		}
	}
	return time.Time{}, &domain.InvalidTimestampError{Value: s}
}
