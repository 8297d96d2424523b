package aggregate

import (
	"strconv"
	"strings"
	"time"
)

// ParseWindow turns a trailing-window literal into whole hours. Accepted
// forms are a bare integer ("24") or an integer with an h suffix ("24h");
// anything else is a client error.
func ParseWindow(window string) (int, error) {
	hours, err := strconv.Atoi(strings.TrimSuffix(window, "h"))
	if err != nil || hours <= 0 {
		return 0, &ClientError{Detail: "invalid window format"}
	}
	return hours, nil
}

// Layouts accepted for explicit start/end bounds: HTML datetime-local
// values and common ISO spellings.
var boundLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// parseBound parses an explicit range bound; naive values are taken as UTC.
func parseBound(value string) (time.Time, bool) {
	for _, layout := range boundLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
