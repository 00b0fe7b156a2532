package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ossdev07/kafka-python/compress"
)

// Consumer reads ordered messages from a set of assigned partitions,
// tracking per-partition offsets so that consumption can resume after a
// restart. It implements the blocking poll protocol: Poll and Next block
// until data is available or their timeout elapses, checking cancellation at
// RetryBackoff granularity rather than sleeping out the full idle period.
//
// Methods on Consumer are safe to call concurrently, but the expected shape
// is one consumption goroutine plus the internal auto-commit task.
type Consumer struct {
	config    ConsumerConfig
	cursors   *cursorTable
	decoder   *decoder
	resolver  *resolver
	fetcher   *fetchManager
	committer *autoCommitter
	stats     consumerStats

	// mutex guards buffers, rotation and closed. Never held across a
	// network call.
	mutex    sync.Mutex
	buffers  map[TopicPartition]*partitionBuffer
	rotation int
	closed   bool

	runCtx    context.Context
	runCancel context.CancelFunc
	closeOnce sync.Once
}

// partitionBuffer holds messages fetched but not yet returned for one
// partition. epoch pins the buffer to the cursor position it was fetched
// against; a seek or reassignment bumps the cursor epoch and the buffer is
// discarded instead of drained.
type partitionBuffer struct {
	epoch uint64
	msgs  []Message
	next  int
}

func (b *partitionBuffer) remaining() int { return len(b.msgs) - b.next }

// NewConsumer constructs a consumer from config. The returned consumer owns
// no partitions until Assign is called.
func NewConsumer(config ConsumerConfig) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())

	c := &Consumer{
		config:    config,
		cursors:   newCursorTable(),
		decoder:   newDecoder(config.Codecs),
		buffers:   make(map[TopicPartition]*partitionBuffer),
		runCtx:    ctx,
		runCancel: cancel,
	}
	c.resolver = &resolver{
		transport: config.Transport,
		requestTimeout: func(parent context.Context) (context.Context, context.CancelFunc) {
			return context.WithTimeout(parent, config.RequestTimeout)
		},
	}
	c.fetcher = newFetchManager(config, c.cursors, c.decoder, c.resolver, &c.stats)

	if config.EnableAutoCommit && config.GroupID != "" {
		c.committer = newAutoCommitter(config, c.cursors, &c.stats)
		go c.committer.run(ctx)
	}

	return c, nil
}

// Assign adds partitions to the set this consumer reads. The starting
// position of each partition comes from its committed offset when the
// consumer has a group and one exists, otherwise from the AutoOffsetReset
// policy. Assigning an already-owned partition repositions it the same way.
func (c *Consumer) Assign(ctx context.Context, partitions ...TopicPartition) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if len(partitions) == 0 {
		return nil
	}

	committed := map[TopicPartition]int64{}
	if c.config.GroupID != "" {
		cctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
		offsets, err := c.config.Transport.CommittedOffsets(cctx, c.config.GroupID, partitions)
		cancel()
		if err != nil {
			return fmt.Errorf("fetching committed offsets: %w", err)
		}
		committed = offsets
	}

	// Partitions without a committed offset resolve their start from the
	// reset policy in one boundary lookup.
	var unpositioned []TopicPartition
	for _, tp := range partitions {
		if offset, ok := committed[tp]; !ok || offset < 0 {
			unpositioned = append(unpositioned, tp)
		}
	}

	resetOffsets := map[TopicPartition]int64{}
	if len(unpositioned) > 0 {
		switch c.config.AutoOffsetReset {
		case ResetFail:
			return &OffsetResetRequiredError{Partition: unpositioned[0]}
		case ResetEarliest, ResetLatest:
			boundary := FirstOffset
			if c.config.AutoOffsetReset == ResetLatest {
				boundary = LastOffset
			}
			offsets, err := c.resolver.boundaryOffsets(ctx, unpositioned, boundary)
			if err != nil {
				return fmt.Errorf("resolving initial offsets: %w", err)
			}
			resetOffsets = offsets
		}
	}

	for _, tp := range partitions {
		initial, ok := committed[tp]
		if !ok || initial < 0 {
			initial = resetOffsets[tp]
		}
		c.cursors.assign(tp, initial, c.config.MaxPartitionFetchBytes)
		c.dropBuffer(tp)
	}

	c.stats.observeRebalance()
	return nil
}

// Unassign removes partitions from the consumer, discarding any buffered
// but unreturned messages for them.
func (c *Consumer) Unassign(partitions ...TopicPartition) {
	for _, tp := range partitions {
		c.cursors.revoke(tp)
		c.dropBuffer(tp)
	}
	c.stats.observeRebalance()
}

// Assignment returns the partitions the consumer currently owns.
func (c *Consumer) Assignment() []TopicPartition {
	return c.cursors.partitions()
}

// Seek repositions a partition to an absolute offset. Any buffered messages
// for the partition are discarded; a positional failure state is cleared.
func (c *Consumer) Seek(partition TopicPartition, offset int64) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if offset < 0 {
		return &InvalidArgumentError{Reason: fmt.Sprintf("cannot seek to negative offset %d", offset)}
	}
	if err := c.cursors.seek(partition, offset); err != nil {
		return err
	}
	c.dropBuffer(partition)
	return nil
}

// SeekToBeginning repositions partitions to their oldest retained offset.
func (c *Consumer) SeekToBeginning(ctx context.Context, partitions ...TopicPartition) error {
	return c.seekToBoundary(ctx, partitions, FirstOffset)
}

// SeekToEnd repositions partitions one past their newest message.
func (c *Consumer) SeekToEnd(ctx context.Context, partitions ...TopicPartition) error {
	return c.seekToBoundary(ctx, partitions, LastOffset)
}

func (c *Consumer) seekToBoundary(ctx context.Context, partitions []TopicPartition, boundary int64) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if len(partitions) == 0 {
		partitions = c.cursors.partitions()
	}
	for _, tp := range partitions {
		if !c.cursors.owned(tp) {
			return ErrNotOwned
		}
	}

	offsets, err := c.resolver.boundaryOffsets(ctx, partitions, boundary)
	if err != nil {
		return err
	}
	for _, tp := range partitions {
		offset, ok := offsets[tp]
		if !ok {
			return &RequestTimedOutError{Operation: "ListOffsets"}
		}
		if err := c.cursors.seek(tp, offset); err != nil {
			return err
		}
		c.dropBuffer(tp)
	}
	return nil
}

// SeekFromEnd repositions a partition k messages before its end, clamped to
// the beginning of the log. Repeating the same call before new messages
// arrive is idempotent.
func (c *Consumer) SeekFromEnd(ctx context.Context, partition TopicPartition, k int64) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if k < 0 {
		return &InvalidArgumentError{Reason: fmt.Sprintf("cannot seek %d messages from the end", k)}
	}
	if !c.cursors.owned(partition) {
		return ErrNotOwned
	}

	offsets, err := c.resolver.boundaryOffsets(ctx, []TopicPartition{partition}, LastOffset)
	if err != nil {
		return err
	}
	end, ok := offsets[partition]
	if !ok {
		return &RequestTimedOutError{Operation: "ListOffsets"}
	}

	target := end - k
	if target < 0 {
		target = 0
	}
	begins, err := c.resolver.boundaryOffsets(ctx, []TopicPartition{partition}, FirstOffset)
	if err != nil {
		return err
	}
	if begin, ok := begins[partition]; ok && target < begin {
		target = begin
	}

	if err := c.cursors.seek(partition, target); err != nil {
		return err
	}
	c.dropBuffer(partition)
	return nil
}

// Poll blocks until at least one message is available on any owned
// partition or timeout elapses, and returns the messages grouped by
// partition in offset order. A pure timeout returns an empty map and no
// error. One round is bounded by MaxPollRecords and FetchMaxBytes so a
// caller issuing rapid polls never stalls behind a single large partition.
func (c *Consumer) Poll(ctx context.Context, timeout time.Duration) (map[TopicPartition][]Message, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)

	for {
		msgs := c.drain()
		if len(msgs) > 0 {
			return msgs, nil
		}

		if err := c.fetchRound(ctx); err != nil {
			return nil, err
		}

		msgs = c.drain()
		if len(msgs) > 0 {
			return msgs, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return map[TopicPartition][]Message{}, nil
		}
		if err := c.pause(ctx, remaining); err != nil {
			return nil, err
		}
	}
}

// Next blocks until a single message is available and returns it. When the
// configured ConsumerTimeout elapses with no message, it returns
// ErrConsumerTimeout to signal the end of the iteration pass.
func (c *Consumer) Next(ctx context.Context) (Message, error) {
	if err := c.checkOpen(); err != nil {
		return Message{}, err
	}

	unbounded := c.config.ConsumerTimeout < 0
	deadline := time.Now().Add(c.config.ConsumerTimeout)

	for {
		if msg, ok := c.drainOne(); ok {
			return msg, nil
		}

		if err := c.fetchRound(ctx); err != nil {
			return Message{}, err
		}

		if msg, ok := c.drainOne(); ok {
			return msg, nil
		}

		remaining := maxTimeout
		if !unbounded {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				c.stats.observeTimeout()
				return Message{}, ErrConsumerTimeout
			}
		}
		if err := c.pause(ctx, remaining); err != nil {
			return Message{}, err
		}
	}
}

// pause sleeps for at most RetryBackoff, waking early on caller
// cancellation or Close.
func (c *Consumer) pause(ctx context.Context, remaining time.Duration) error {
	backoff := c.config.RetryBackoff
	if remaining < backoff {
		backoff = remaining
	}

	timer := time.NewTimer(backoff)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.runCtx.Done():
		return ErrConsumerClosed
	}
}

// fetchRound issues one fetch for every owned partition that has no
// buffered messages, all in parallel. Successful batches are buffered even
// when another partition's fetch fails, so surfacing the error loses
// nothing.
func (c *Consumer) fetchRound(ctx context.Context) error {
	var idle []TopicPartition
	for _, tp := range c.cursors.partitions() {
		view, err := c.cursors.get(tp)
		if err != nil || view.failed {
			// Failed partitions already surfaced their error; they stay
			// quiet until the caller seeks.
			continue
		}
		c.mutex.Lock()
		buffered := c.buffers[tp] != nil && c.buffers[tp].remaining() > 0
		c.mutex.Unlock()
		if !buffered {
			idle = append(idle, tp)
		}
	}
	if len(idle) == 0 {
		return nil
	}

	fctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	// Close must also unblock fetches already on the wire.
	stop := context.AfterFunc(c.runCtx, cancel)
	defer stop()

	var (
		wg       sync.WaitGroup
		errMutex sync.Mutex
		fetchErr error
	)

	for _, tp := range idle {
		wg.Add(1)
		go func(tp TopicPartition) {
			defer wg.Done()

			batch, err := c.fetcher.fetch(fctx, tp)
			if err != nil {
				errMutex.Lock()
				fetchErr = appendError(fetchErr, err)
				errMutex.Unlock()
				return
			}
			if batch == nil {
				return
			}

			c.mutex.Lock()
			c.buffers[tp] = &partitionBuffer{epoch: batch.epoch, msgs: batch.messages}
			c.mutex.Unlock()
		}(tp)
	}
	wg.Wait()

	if fetchErr != nil && c.runCtx.Err() != nil {
		return ErrConsumerClosed
	}
	return fetchErr
}

// drain moves buffered messages to the caller, advancing cursors, up to the
// MaxPollRecords and FetchMaxBytes caps. Partitions are visited starting at
// a rotating index so none is starved by its neighbors.
func (c *Consumer) drain() map[TopicPartition][]Message {
	out := map[TopicPartition][]Message{}
	count := 0
	bytes := 0

	partitions := c.cursors.partitions()
	if len(partitions) == 0 {
		return out
	}

	c.mutex.Lock()
	start := c.rotation % len(partitions)
	c.rotation++
	c.mutex.Unlock()

	for i := 0; i < len(partitions); i++ {
		tp := partitions[(start+i)%len(partitions)]

		for count < c.config.MaxPollRecords && bytes < c.config.FetchMaxBytes {
			msg, ok := c.takeBuffered(tp)
			if !ok {
				break
			}
			out[tp] = append(out[tp], msg)
			count++
			bytes += len(msg.Key) + len(msg.Value)
		}
		if count >= c.config.MaxPollRecords || bytes >= c.config.FetchMaxBytes {
			break
		}
	}
	return out
}

func (c *Consumer) drainOne() (Message, bool) {
	partitions := c.cursors.partitions()
	if len(partitions) == 0 {
		return Message{}, false
	}

	c.mutex.Lock()
	start := c.rotation % len(partitions)
	c.rotation++
	c.mutex.Unlock()

	for i := 0; i < len(partitions); i++ {
		tp := partitions[(start+i)%len(partitions)]
		if msg, ok := c.takeBuffered(tp); ok {
			return msg, true
		}
	}
	return Message{}, false
}

// takeBuffered yields the next buffered message of tp, if any. Buffers
// whose epoch no longer matches the cursor (seek or reassignment since the
// fetch) are discarded whole.
func (c *Consumer) takeBuffered(tp TopicPartition) (Message, bool) {
	c.mutex.Lock()
	buf := c.buffers[tp]
	if buf == nil || buf.remaining() == 0 {
		c.mutex.Unlock()
		return Message{}, false
	}
	msg := buf.msgs[buf.next]
	buf.next++
	c.mutex.Unlock()

	if !c.cursors.advance(tp, msg.Offset, buf.epoch) {
		// Stale buffer. Drop it; the next fetch uses the new position.
		c.dropBuffer(tp)
		return Message{}, false
	}

	c.stats.observeMessage(int64(len(msg.Key) + len(msg.Value)))
	if c.committer != nil {
		c.committer.observe(1)
	}
	return msg, true
}

func (c *Consumer) dropBuffer(tp TopicPartition) {
	c.mutex.Lock()
	delete(c.buffers, tp)
	c.mutex.Unlock()
}

// Commit synchronously persists the current committable snapshot. With no
// group configured it is a no-op.
func (c *Consumer) Commit(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.config.GroupID == "" {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	return commitSync(cctx, c.config.Transport, c.config.GroupID, c.cursors, &c.stats)
}

// Pending returns how many messages remain between the current position and
// the end of the log, summed over the given partitions (all owned
// partitions when none are given).
func (c *Consumer) Pending(ctx context.Context, partitions ...TopicPartition) (int64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	if len(partitions) == 0 {
		partitions = c.cursors.partitions()
	}
	if len(partitions) == 0 {
		return 0, nil
	}

	ends, err := c.resolver.boundaryOffsets(ctx, partitions, LastOffset)
	if err != nil {
		return 0, err
	}

	var pending int64
	for _, tp := range partitions {
		view, err := c.cursors.get(tp)
		if err != nil {
			return 0, err
		}
		if end, ok := ends[tp]; ok && end > view.fetchOffset {
			pending += end - view.fetchOffset
		}
	}
	return pending, nil
}

// OffsetsForTimes resolves, per partition, the earliest offset whose
// message timestamp is at or after the given time. Partitions whose newest
// message is older than the target map to nil. An empty input returns an
// empty map without any network call.
func (c *Consumer) OffsetsForTimes(ctx context.Context, times map[TopicPartition]time.Time) (map[TopicPartition]*OffsetAndTimestamp, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	timestamps := make(map[TopicPartition]int64, len(times))
	for tp, t := range times {
		timestamps[tp] = timestamp(t)
	}
	return c.resolver.resolve(ctx, timestamps)
}

// BeginningOffsets returns the oldest retained offset of each partition.
func (c *Consumer) BeginningOffsets(ctx context.Context, partitions ...TopicPartition) (map[TopicPartition]int64, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.resolver.boundaryOffsets(ctx, partitions, FirstOffset)
}

// EndOffsets returns the offset one past the newest message of each
// partition.
func (c *Consumer) EndOffsets(ctx context.Context, partitions ...TopicPartition) (map[TopicPartition]int64, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.resolver.boundaryOffsets(ctx, partitions, LastOffset)
}

// SupportsCodec reports whether the consumer can decode batches compressed
// with the given codec. The answer depends only on the configured codec
// table, no network I/O is involved, so callers can verify their
// expectations at configuration time instead of on the first compressed
// batch.
func (c *Consumer) SupportsCodec(codec compress.Compression) bool {
	return c.decoder.supports(codec)
}

// Stats returns a snapshot of the consumer's counters.
func (c *Consumer) Stats() ConsumerStats {
	return c.stats.snapshot()
}

// Close releases the consumer. Any blocked Poll or Next call is unblocked
// within one backoff step; when auto-commit is enabled a final best-effort
// commit is attempted before returning. Close is idempotent.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		c.mutex.Lock()
		c.closed = true
		c.buffers = make(map[TopicPartition]*partitionBuffer)
		c.mutex.Unlock()

		c.runCancel()

		if c.committer != nil {
			<-c.committer.done
			c.committer.finalCommit()
		}
	})
	return nil
}

func (c *Consumer) checkOpen() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return ErrConsumerClosed
	}
	return nil
}
