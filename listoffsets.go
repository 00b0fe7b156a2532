package kafka

import (
	"context"
	"fmt"
)

// resolver answers timestamp-to-offset questions against the broker's log,
// including the two boundary cases (beginning and end offsets).
type resolver struct {
	transport      Transport
	requestTimeout timeoutFunc
}

type timeoutFunc func(context.Context) (context.Context, context.CancelFunc)

// resolve maps each partition's target timestamp to the earliest offset
// whose message timestamp is at or after the target. Partitions whose
// newest message is older than the target map to nil.
//
// An empty input returns an empty result without touching the network.
// Negative timestamps (other than the boundary sentinels, which are not
// accepted here) are caller errors.
func (r *resolver) resolve(ctx context.Context, timestamps map[TopicPartition]int64) (map[TopicPartition]*OffsetAndTimestamp, error) {
	if len(timestamps) == 0 {
		return map[TopicPartition]*OffsetAndTimestamp{}, nil
	}

	for tp, ts := range timestamps {
		if ts < 0 {
			return nil, &InvalidArgumentError{
				Reason: fmt.Sprintf("target timestamp %d for partition %s cannot be negative", ts, tp),
			}
		}
	}

	return r.listOffsets(ctx, timestamps)
}

// boundaryOffsets returns the first or one-past-last offset of each
// partition, selected by the FirstOffset/LastOffset sentinel.
func (r *resolver) boundaryOffsets(ctx context.Context, partitions []TopicPartition, boundary int64) (map[TopicPartition]int64, error) {
	if len(partitions) == 0 {
		return map[TopicPartition]int64{}, nil
	}

	timestamps := make(map[TopicPartition]int64, len(partitions))
	for _, tp := range partitions {
		timestamps[tp] = boundary
	}

	resolved, err := r.listOffsets(ctx, timestamps)
	if err != nil {
		return nil, err
	}

	offsets := make(map[TopicPartition]int64, len(resolved))
	for tp, ot := range resolved {
		if ot != nil {
			offsets[tp] = ot.Offset
		}
	}
	return offsets, nil
}

func (r *resolver) listOffsets(ctx context.Context, timestamps map[TopicPartition]int64) (map[TopicPartition]*OffsetAndTimestamp, error) {
	ctx, cancel := r.requestTimeout(ctx)
	defer cancel()

	offsets, err := r.transport.ListOffsets(ctx, timestamps)
	if err != nil {
		if ctx.Err() != nil {
			// A lookup addressing a partition the broker does not know
			// must not hang; the deadline converts it into a timeout
			// error the caller can act on.
			return nil, &RequestTimedOutError{Operation: "ListOffsets"}
		}
		return nil, err
	}
	return offsets, nil
}
