// Package snowflake provides a Mastodon compatible Snowflake ID generator.
package snowflake

import (
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"
)

// ID is a time ordered identifier.
// The top 48 bits are milliseconds since the unix epoch, the bottom 16 bits are random.
type ID uint64

// last is the most recent ID returned by Now.
var last atomic.Uint64

// Now returns a new ID for the current time. IDs returned by Now are
// unique within the process and strictly increasing.
func Now() ID {
	for {
		prev := last.Load()
		next := uint64(TimeToID(time.Now()))
		if next <= prev {
			next = prev + 1
		}
		if last.CompareAndSwap(prev, next) {
			return ID(next)
		}
	}
}

// TimeToID converts a time.Time to a Snowflake ID.
func TimeToID(ts time.Time) ID {
	// 48 bits for time in milliseconds.
	// 0 bits for worker ID.
	// 0 bits for sequence.
	// 16 bits for random.
	return ID(uint64(ts.UnixNano()/int64(time.Millisecond))<<16 | uint64(rand.Intn(1<<16)))
}

// ToTime converts a Snowflake ID to a time.Time.
func (id ID) ToTime() time.Time {
	return time.UnixMilli(int64(id >> 16)).UTC()
}

// String returns the decimal representation of the ID.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Parse parses the decimal representation of an ID.
func Parse(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	return ID(v), err
}
