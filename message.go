package kafka

import "time"

// Message is a data structure representing a single record read from a
// partition.
type Message struct {
	// Topic and Partition identify where the message was read from.
	Topic     string
	Partition int

	// Offset is the position of the message in its partition.
	Offset int64

	Key   []byte
	Value []byte

	// Time is the timestamp recorded with the message, millisecond
	// precision.
	Time time.Time

	// HighWaterMark is the broker-reported end of the partition's log at
	// the time of the fetch that produced this message. Advisory.
	HighWaterMark int64
}

func (msg Message) topicPartition() TopicPartition {
	return TopicPartition{Topic: msg.Topic, Partition: msg.Partition}
}
