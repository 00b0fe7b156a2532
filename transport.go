package kafka

import (
	"context"

	"github.com/ossdev07/kafka-python/compress"
)

// FetchRequest describes one fetch issued against a single partition. The
// consumer builds a fresh plan of these before each round of fetches, it is
// never persisted.
type FetchRequest struct {
	Partition TopicPartition

	// Offset of the first message to return.
	Offset int64

	// MaxBytes bounds the encoded size of the returned record set.
	MaxBytes int
}

// RawBatch is the undecoded result of one fetch for one partition: an
// encoded message set, compressed wholesale when Codec is non-zero.
type RawBatch struct {
	Partition     TopicPartition
	BaseOffset    int64
	HighWaterMark int64
	Codec         compress.Compression
	Data          []byte
}

// CommitRecord is a consistent snapshot of resume offsets, one per tracked
// partition. Values are the next offset to read, following the kafka
// convention of committing lastReturned+1.
type CommitRecord map[TopicPartition]int64

// Transport is the broker-facing collaborator of the consumer. It hides the
// wire protocol, connection pooling, and leader routing.
//
// Fetch returns (nil, nil) when the partition holds no message at or after
// the requested offset yet. It returns *MessageTooLargeError when the next
// message exceeds MaxBytes, and *OffsetOutOfRangeError when the offset is
// outside the broker's retained range. ListOffsets accepts FirstOffset and
// LastOffset sentinels in place of timestamps and maps partitions with no
// matching offset to nil. All methods must honor ctx cancellation and
// return promptly once its deadline passes.
type Transport interface {
	Fetch(ctx context.Context, req FetchRequest) (*RawBatch, error)

	CommitOffsets(ctx context.Context, groupID string, offsets CommitRecord) error

	CommittedOffsets(ctx context.Context, groupID string, partitions []TopicPartition) (map[TopicPartition]int64, error)

	ListOffsets(ctx context.Context, timestamps map[TopicPartition]int64) (map[TopicPartition]*OffsetAndTimestamp, error)
}
