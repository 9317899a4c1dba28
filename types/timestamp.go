package types

import (
	"time"
)

type (
	// Timestamp is a unix timestamp in seconds.
	Timestamp int64
)

// CurrentTimestamp returns the current time as a Timestamp.
func CurrentTimestamp() Timestamp {
	return Timestamp(time.Now().Unix())
}

// Time converts a Timestamp to a time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t), 0)
}
