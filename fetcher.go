package kafka

import (
	"context"
	"errors"
	"sync"
)

// shrinkAfter is the number of consecutive fetches that must use less than a
// quarter of a grown buffer before it is halved back toward the default.
const shrinkAfter = 32

// decodedBatch is the result of one successful fetch for one partition,
// consumed by the poller and discarded.
type decodedBatch struct {
	partition TopicPartition
	epoch     uint64
	messages  []Message
}

// fetchManager owns the adaptive fetch-size policy. It issues one logical
// fetch per call, growing the partition's buffer when the next message does
// not fit and recovering out-of-range offsets when the reset policy permits.
type fetchManager struct {
	transport Transport
	cursors   *cursorTable
	decoder   *decoder
	resolver  *resolver
	reset     OffsetResetPolicy
	minBuffer int
	maxBuffer int // 0 = unbounded growth
	stats     *consumerStats
	logger    Logger
	clientID  string

	shrinkMutex sync.Mutex
	shrinkRuns  map[TopicPartition]int
}

func newFetchManager(config ConsumerConfig, cursors *cursorTable, dec *decoder, res *resolver, stats *consumerStats) *fetchManager {
	return &fetchManager{
		transport:  config.Transport,
		cursors:    cursors,
		decoder:    dec,
		resolver:   res,
		reset:      config.AutoOffsetReset,
		minBuffer:  config.MaxPartitionFetchBytes,
		maxBuffer:  config.MaxBufferSize,
		stats:      stats,
		logger:     config.Logger,
		clientID:   config.ClientID,
		shrinkRuns: make(map[TopicPartition]int),
	}
}

// fetch performs one fetch for tp and returns the decoded batch, or
// (nil, nil) when the partition has no data at the current offset yet.
//
// The growth loop is a bounded state machine over (size, cap, attempt):
// every retry at least doubles the buffer, so it terminates after at most
// log2(cap/size) steps, or the first step past the message size when the
// cap is disabled.
func (f *fetchManager) fetch(ctx context.Context, tp TopicPartition) (*decodedBatch, error) {
	view, err := f.cursors.get(tp)
	if err != nil {
		return nil, err
	}
	if view.failed {
		// Positional failure is sticky until the caller seeks.
		return nil, &OffsetOutOfRangeError{Partition: tp, Offset: view.fetchOffset}
	}

	size := view.fetchBufferSize
	offset := view.fetchOffset
	resetAttempted := false

	for {
		raw, err := f.transport.Fetch(ctx, FetchRequest{
			Partition: tp,
			Offset:    offset,
			MaxBytes:  size,
		})
		f.stats.observeFetch()

		switch {
		case err == nil && raw == nil:
			// No data at or after the requested offset yet. Transient,
			// retried on the next poll.
			f.noteSmallFetch(tp, size, 0)
			return nil, nil

		case err == nil:
			return f.deliver(tp, view.epoch, size, raw)

		default:
			var tooLarge *MessageTooLargeError
			var outOfRange *OffsetOutOfRangeError

			switch {
			case errors.As(err, &tooLarge):
				grown, gerr := f.grow(tp, size, tooLarge.Size)
				if gerr != nil {
					f.stats.observeError()
					return nil, gerr
				}
				size = grown

			case errors.As(err, &outOfRange):
				if f.reset == ResetFail || resetAttempted {
					f.cursors.markFailed(tp)
					f.stats.observeError()
					return nil, err
				}
				resetAttempted = true
				offset, err = f.resetOffset(ctx, tp)
				if err != nil {
					f.cursors.markFailed(tp)
					f.stats.observeError()
					return nil, err
				}

			default:
				f.stats.observeError()
				return nil, err
			}
		}
	}
}

func (f *fetchManager) deliver(tp TopicPartition, epoch uint64, size int, raw *RawBatch) (*decodedBatch, error) {
	msgs, err := f.decoder.decode(raw)
	if err != nil {
		f.stats.observeError()
		return nil, err
	}

	f.cursors.setHighWaterMark(tp, raw.HighWaterMark)
	f.noteSmallFetch(tp, size, len(raw.Data))

	if len(msgs) == 0 {
		// A batch of only already-returned inner records. Nothing to
		// yield, but not an error either.
		return nil, nil
	}
	return &decodedBatch{partition: tp, epoch: epoch, messages: msgs}, nil
}

// grow doubles the partition's fetch buffer, capped at maxBuffer. When the
// cap is already hit the sizing error surfaces with the size the caller
// would need.
func (f *fetchManager) grow(tp TopicPartition, size, required int) (int, error) {
	if f.maxBuffer > 0 && size >= f.maxBuffer {
		return 0, &FetchSizeTooSmallError{
			Partition:    tp,
			BufferSize:   size,
			RequiredSize: required,
		}
	}

	grown := size * 2
	if grown < size { // overflow
		grown = f.maxBuffer
	}
	if f.maxBuffer > 0 && grown > f.maxBuffer {
		grown = f.maxBuffer
	}
	if grown <= size {
		grown = size + 1
	}

	if f.logger != nil {
		f.logger.Printf("consumer %s growing fetch buffer for partition %s from %d to %d bytes",
			f.clientID, tp, size, grown)
	}
	f.cursors.setFetchBufferSize(tp, grown)
	f.shrinkMutex.Lock()
	delete(f.shrinkRuns, tp)
	f.shrinkMutex.Unlock()
	return grown, nil
}

// noteSmallFetch tracks consecutive fetches that used little of a grown
// buffer and shrinks it back toward the configured default, keeping memory
// flat after a one-off oversized message.
func (f *fetchManager) noteSmallFetch(tp TopicPartition, size, used int) {
	if size <= f.minBuffer {
		return
	}

	f.shrinkMutex.Lock()
	defer f.shrinkMutex.Unlock()

	if used >= size/4 {
		delete(f.shrinkRuns, tp)
		return
	}
	f.shrinkRuns[tp]++
	if f.shrinkRuns[tp] < shrinkAfter {
		return
	}
	delete(f.shrinkRuns, tp)

	shrunk := size / 2
	if shrunk < f.minBuffer {
		shrunk = f.minBuffer
	}
	f.cursors.setFetchBufferSize(tp, shrunk)
}

// resetOffset resolves the boundary offset selected by the reset policy and
// repositions the cursor there.
func (f *fetchManager) resetOffset(ctx context.Context, tp TopicPartition) (int64, error) {
	boundary := FirstOffset
	if f.reset == ResetLatest {
		boundary = LastOffset
	}

	offsets, err := f.resolver.boundaryOffsets(ctx, []TopicPartition{tp}, boundary)
	if err != nil {
		return 0, err
	}
	offset, ok := offsets[tp]
	if !ok {
		return 0, &OffsetOutOfRangeError{Partition: tp, Offset: 0}
	}

	if f.logger != nil {
		f.logger.Printf("consumer %s offset out of range on partition %s, resetting to %s offset %d",
			f.clientID, tp, f.reset, offset)
	}
	if err := f.cursors.setFetchOffset(tp, offset); err != nil {
		return 0, err
	}
	return offset, nil
}
