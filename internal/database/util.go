package database

import (
	"time"
)

// Millis renders a timeout for a SET statement. Engines treat 0 as "no
// limit", so anything shorter than a millisecond rounds up to 1.
func Millis(d time.Duration) int64 {
	ms := d.Milliseconds()
	if ms < 1 {
		return 1
	}
	return ms
}
