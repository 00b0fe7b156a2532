package kafka

import (
	"fmt"
	"time"
)

// TopicPartition identifies one ordered sub-log of a topic. The identity is
// immutable; whether this consumer currently owns it is a property of the
// assignment, not of the value.
type TopicPartition struct {
	Topic     string
	Partition int
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s/%d", tp.Topic, tp.Partition)
}

// OffsetAndTimestamp is the result of resolving a timestamp to a log
// position: the offset of the earliest message at or after the target time,
// and that message's own timestamp.
type OffsetAndTimestamp struct {
	Offset int64
	Time   time.Time
}

const (
	// FirstOffset asks for the oldest retained offset of a partition when
	// passed in place of a timestamp.
	FirstOffset int64 = -2

	// LastOffset asks for the offset one past the newest message.
	LastOffset int64 = -1
)

// OffsetResetPolicy controls where consumption starts when a partition has
// no committed offset, and how an out-of-range fetch offset is recovered.
type OffsetResetPolicy int

const (
	// ResetFail surfaces OffsetResetRequiredError instead of guessing a
	// position.
	ResetFail OffsetResetPolicy = iota

	// ResetEarliest repositions to the oldest retained message.
	ResetEarliest

	// ResetLatest repositions to the end of the log.
	ResetLatest
)

func (p OffsetResetPolicy) String() string {
	switch p {
	case ResetEarliest:
		return "earliest"
	case ResetLatest:
		return "latest"
	default:
		return "fail"
	}
}
