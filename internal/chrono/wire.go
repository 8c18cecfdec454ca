package chrono

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/plastr/extrasolar/internal/shared"
)

// Wire timestamps are microseconds since 1970-01-01 UTC, rendered as a
// decimal string. Parsing splits the last six digits as the microsecond part
// so values below one second still round-trip.

// FormatUsec renders t as a microsecond decimal string.
func FormatUsec(t time.Time) string {
	return strconv.FormatInt(UsecFromTime(t), 10)
}

// UsecFromTime returns microseconds since the Unix epoch.
func UsecFromTime(t time.Time) int64 {
	return t.Unix()*1_000_000 + int64(t.Nanosecond())/1_000
}

// ParseUsec parses a microsecond decimal string back into a UTC instant.
func ParseUsec(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", shared.ErrorBadRequest)
	}
	var secPart, usecPart string
	if len(s) <= 6 {
		secPart, usecPart = "0", s
	} else {
		secPart, usecPart = s[:len(s)-6], s[len(s)-6:]
	}
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", shared.ErrorBadRequest, s)
	}
	usec, err := strconv.ParseInt(usecPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", shared.ErrorBadRequest, s)
	}
	return TimeFromUsec(sec*1_000_000 + usec), nil
}

// TimeFromUsec converts microseconds since the Unix epoch into a UTC instant.
func TimeFromUsec(usec int64) time.Time {
	return time.Unix(usec/1_000_000, (usec%1_000_000)*1_000).UTC()
}
