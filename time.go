package kafka

import (
	"math"
	"time"
)

const maxTimeout = time.Duration(math.MaxInt32) * time.Millisecond

func timestamp(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano() / int64(time.Millisecond)
}

func timestampToTime(t int64) time.Time {
	return time.Unix(t/1000, (t%1000)*int64(time.Millisecond))
}
