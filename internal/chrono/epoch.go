package chrono

import (
	"fmt"
	"time"

	"github.com/plastr/extrasolar/internal/shared"
)

// MaxEpochSeconds bounds the user game clock: a user-relative time must lie
// in [0, 2^31] seconds past the user's epoch.
const MaxEpochSeconds = int64(1) << 31

// GameSeconds converts an absolute instant into seconds since the user's
// epoch. Instants before the epoch or more than 2^31 seconds after it fail
// with ErrorBadTimestamp.
func GameSeconds(epoch, t time.Time) (int64, error) {
	secs := int64(t.UTC().Sub(epoch.UTC()) / time.Second)
	if secs < 0 || secs > MaxEpochSeconds {
		return 0, fmt.Errorf("%w: %v relative to epoch %v", shared.ErrorBadTimestamp, t.UTC(), epoch.UTC())
	}
	return secs, nil
}

// AbsoluteTime converts user-relative seconds back into a UTC instant.
func AbsoluteTime(epoch time.Time, secs int64) time.Time {
	return epoch.UTC().Add(time.Duration(secs) * time.Second)
}
