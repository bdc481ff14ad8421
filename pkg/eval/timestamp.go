package eval

import (
	"fmt"
	"time"
)

var isoTimestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
}

func parseISOTimestamp(s string) (time.Time, error) {
	for _, layout := range isoTimestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not a valid ISO 8601 timestamp: %q", s)
}
