package kafka

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ossdev07/kafka-python/compress"
)

func newTestConsumer(t *testing.T, broker *mockBroker, alter ...func(*ConsumerConfig)) *Consumer {
	t.Helper()

	config := ConsumerConfig{
		Transport:       broker,
		AutoOffsetReset: ResetEarliest,
		ConsumerTimeout: 200 * time.Millisecond,
		RequestTimeout:  2 * time.Second,
		RetryBackoff:    10 * time.Millisecond,
	}
	for _, f := range alter {
		f(&config)
	}

	c, err := NewConsumer(config)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// drainAll iterates Next until the consumer times out idle.
func drainAll(t *testing.T, c *Consumer) []Message {
	t.Helper()

	var msgs []Message
	for {
		msg, err := c.Next(context.Background())
		if errors.Is(err, ErrConsumerTimeout) {
			return msgs
		}
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
}

func TestConsumerDrainsAllPartitions(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "events", Partition: 0}
	p1 := TopicPartition{Topic: "events", Partition: 1}
	broker.produce(p0, 100)
	broker.produce(p1, 100)

	c := newTestConsumer(t, broker)
	require.NoError(t, c.Assign(context.Background(), p0, p1))

	byPartition := map[TopicPartition][]Message{}
	seen := map[string]bool{}

	for _, msg := range drainAll(t, c) {
		tp := msg.topicPartition()
		byPartition[tp] = append(byPartition[tp], msg)
		require.False(t, seen[string(msg.Value)], "duplicate message %q", msg.Value)
		seen[string(msg.Value)] = true
	}

	require.Len(t, byPartition[p0], 100)
	require.Len(t, byPartition[p1], 100)

	// Per-partition offsets are strictly increasing regardless of how the
	// two partitions interleaved.
	for _, msgs := range byPartition {
		for i := 1; i < len(msgs); i++ {
			require.Equal(t, msgs[i-1].Offset+1, msgs[i].Offset)
		}
	}
}

func TestConsumerPollGroupsByPartition(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "events", Partition: 0}
	broker.produce(p0, 10)

	c := newTestConsumer(t, broker)
	require.NoError(t, c.Assign(context.Background(), p0))

	msgs, err := c.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, msgs[p0], 10)
	for i, msg := range msgs[p0] {
		require.Equal(t, int64(i), msg.Offset)
	}
}

func TestConsumerPollTimeoutReturnsEmptyMap(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "quiet", Partition: 0}
	broker.produce(p0, 0)

	c := newTestConsumer(t, broker)
	require.NoError(t, c.Assign(context.Background(), p0))

	start := time.Now()
	msgs, err := c.Poll(context.Background(), 150*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestConsumerNextTimeout(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "quiet", Partition: 0}
	broker.produce(p0, 0)

	c := newTestConsumer(t, broker)
	require.NoError(t, c.Assign(context.Background(), p0))

	_, err := c.Next(context.Background())
	require.ErrorIs(t, err, ErrConsumerTimeout)
}

func TestConsumerMaxPollRecords(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "events", Partition: 0}
	broker.produce(p0, 50)

	c := newTestConsumer(t, broker, func(config *ConsumerConfig) {
		config.MaxPollRecords = 7
	})
	require.NoError(t, c.Assign(context.Background(), p0))

	msgs, err := c.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, msgs[p0], 7)

	// The rest is buffered, not lost.
	msgs, err = c.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(7), msgs[p0][0].Offset)
}

func TestConsumerSeekFromEndIdempotent(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "events", Partition: 0}
	broker.produce(p0, 100)

	c := newTestConsumer(t, broker)
	require.NoError(t, c.Assign(context.Background(), p0))

	require.NoError(t, c.SeekFromEnd(context.Background(), p0, 10))
	first := drainAll(t, c)
	require.Len(t, first, 10)
	require.Equal(t, int64(90), first[0].Offset)

	require.NoError(t, c.SeekFromEnd(context.Background(), p0, 10))
	second := drainAll(t, c)
	require.Equal(t, len(first), len(second))
	for i := range first {
		require.Equal(t, first[i].Offset, second[i].Offset)
	}

	// More than available clamps to the beginning of the log.
	require.NoError(t, c.SeekFromEnd(context.Background(), p0, 1000))
	require.Len(t, drainAll(t, c), 100)
}

func TestConsumerSeekDiscardsBufferedMessages(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "events", Partition: 0}
	broker.produce(p0, 20)

	c := newTestConsumer(t, broker, func(config *ConsumerConfig) {
		config.MaxPollRecords = 1
	})
	require.NoError(t, c.Assign(context.Background(), p0))

	msgs, err := c.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(0), msgs[p0][0].Offset)

	// 19 messages remain buffered; the seek must invalidate them.
	require.NoError(t, c.Seek(p0, 15))

	msgs, err = c.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(15), msgs[p0][0].Offset)
}

func TestConsumerBufferGrowth(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "big", Partition: 0}
	large := make([]byte, 1024)
	for i := range large {
		large[i] = byte(i)
	}
	broker.produceAt(p0, large, time.Now())

	c := newTestConsumer(t, broker, func(config *ConsumerConfig) {
		config.MaxPartitionFetchBytes = 64
	})
	require.NoError(t, c.Assign(context.Background(), p0))

	msg, err := c.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, large, msg.Value)
}

func TestConsumerBufferCapExhausted(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "big", Partition: 0}
	broker.produceAt(p0, make([]byte, 1024), time.Now())

	c := newTestConsumer(t, broker, func(config *ConsumerConfig) {
		config.MaxPartitionFetchBytes = 64
		config.MaxBufferSize = 256
	})
	require.NoError(t, c.Assign(context.Background(), p0))

	_, err := c.Next(context.Background())
	var sizeErr *FetchSizeTooSmallError
	require.ErrorAs(t, err, &sizeErr)
	require.Equal(t, p0, sizeErr.Partition)
	require.Equal(t, 256, sizeErr.BufferSize)
	require.Greater(t, sizeErr.RequiredSize, 1024)

	// The offset did not advance: the same message is still the next one.
	pending, err := c.Pending(context.Background(), p0)
	require.NoError(t, err)
	require.Equal(t, int64(1), pending)
}

func TestConsumerResumeFromCommitted(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "events", Partition: 0}
	broker.produce(p0, 100)

	group := func(config *ConsumerConfig) { config.GroupID = "readers" }

	c1 := newTestConsumer(t, broker, group, func(config *ConsumerConfig) {
		config.MaxPollRecords = 50
	})
	require.NoError(t, c1.Assign(context.Background(), p0))

	msgs, err := c1.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, msgs[p0], 50)
	require.NoError(t, c1.Commit(context.Background()))

	// Returned but uncommitted messages are redelivered after a restart.
	more, err := c1.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, more[p0])
	require.NoError(t, c1.Close())

	c2 := newTestConsumer(t, broker, group)
	require.NoError(t, c2.Assign(context.Background(), p0))

	rest := drainAll(t, c2)
	require.Len(t, rest, 50)
	require.Equal(t, int64(50), rest[0].Offset)
}

func TestConsumerOffsetResetRequired(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "events", Partition: 0}
	broker.produce(p0, 10)

	c := newTestConsumer(t, broker, func(config *ConsumerConfig) {
		config.AutoOffsetReset = ResetFail
	})

	err := c.Assign(context.Background(), p0)
	var resetErr *OffsetResetRequiredError
	require.ErrorAs(t, err, &resetErr)
	require.Equal(t, p0, resetErr.Partition)
}

func TestConsumerResetLatestSkipsBacklog(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "events", Partition: 0}
	broker.produce(p0, 50)

	c := newTestConsumer(t, broker, func(config *ConsumerConfig) {
		config.AutoOffsetReset = ResetLatest
	})
	require.NoError(t, c.Assign(context.Background(), p0))
	require.Empty(t, drainAll(t, c))

	broker.produce(p0, 3)
	msgs := drainAll(t, c)
	require.Len(t, msgs, 3)
	require.Equal(t, int64(50), msgs[0].Offset)
}

func TestConsumerOutOfRangeAutoReset(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "events", Partition: 0}
	broker.produce(p0, 10)

	c := newTestConsumer(t, broker)
	require.NoError(t, c.Assign(context.Background(), p0))
	require.NoError(t, c.Seek(p0, 500))

	// The out-of-range position recovers to the earliest offset once.
	msgs := drainAll(t, c)
	require.Len(t, msgs, 10)
	require.Equal(t, int64(0), msgs[0].Offset)
}

func TestConsumerOutOfRangeFailPolicy(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "events", Partition: 0}
	broker.produce(p0, 10)

	c := newTestConsumer(t, broker, func(config *ConsumerConfig) {
		config.AutoOffsetReset = ResetFail
		config.GroupID = "readers"
	})
	broker.committed["readers"] = map[TopicPartition]int64{p0: 0}
	require.NoError(t, c.Assign(context.Background(), p0))
	require.NoError(t, c.Seek(p0, 500))

	_, err := c.Poll(context.Background(), time.Second)
	var rangeErr *OffsetOutOfRangeError
	require.ErrorAs(t, err, &rangeErr)
	require.Equal(t, int64(500), rangeErr.Offset)

	// The partition stays quiet until an explicit seek repositions it.
	msgs, err := c.Poll(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, msgs)

	require.NoError(t, c.Seek(p0, 5))
	require.Len(t, drainAll(t, c), 5)
}

func TestConsumerUnsupportedCodec(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "zipped", Partition: 0}
	broker.produceBatch(p0, &compress.GzipCodec, []byte("a"), []byte("b"), []byte("c"))

	c := newTestConsumer(t, broker, func(config *ConsumerConfig) {
		config.Codecs = []compress.Codec{&compress.Lz4Codec}
	})
	require.False(t, c.SupportsCodec(compress.Gzip))
	require.NoError(t, c.Assign(context.Background(), p0))

	_, err := c.Poll(context.Background(), time.Second)
	var codecErr *UnsupportedCodecError
	require.ErrorAs(t, err, &codecErr)
	require.Equal(t, compress.Gzip, codecErr.Codec)

	// The offset did not advance: a consumer with the codec available
	// still sees the full batch.
	c2 := newTestConsumer(t, broker)
	require.True(t, c2.SupportsCodec(compress.Gzip))
	require.NoError(t, c2.Assign(context.Background(), p0))

	msgs := drainAll(t, c2)
	require.Len(t, msgs, 3)
	require.Equal(t, []byte("a"), msgs[0].Value)
}

func TestConsumerCorruptBatch(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "events", Partition: 0}
	broker.produce(p0, 1)
	broker.corruptLast(p0)

	c := newTestConsumer(t, broker)
	require.NoError(t, c.Assign(context.Background(), p0))

	_, err := c.Next(context.Background())
	var corruptErr *CorruptMessageError
	require.ErrorAs(t, err, &corruptErr)
	require.Equal(t, p0, corruptErr.Partition)
}

func TestConsumerCompressedBatches(t *testing.T) {
	for _, codec := range compress.DefaultCodecs() {
		codec := codec
		t.Run(codec.Name(), func(t *testing.T) {
			broker := newMockBroker()
			p0 := TopicPartition{Topic: "zipped", Partition: 0}
			broker.produceBatch(p0, codec, []byte("one"), []byte("two"), []byte("three"))

			c := newTestConsumer(t, broker)
			require.NoError(t, c.Assign(context.Background(), p0))

			msgs := drainAll(t, c)
			require.Len(t, msgs, 3)
			require.Equal(t, []byte("one"), msgs[0].Value)
			require.Equal(t, []byte("three"), msgs[2].Value)
			for i, msg := range msgs {
				require.Equal(t, int64(i), msg.Offset)
			}
		})
	}
}

func TestConsumerCompressedBatchResumesMidBatch(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "zipped", Partition: 0}
	broker.produceBatch(p0, &compress.GzipCodec, []byte("one"), []byte("two"), []byte("three"))

	c := newTestConsumer(t, broker)
	require.NoError(t, c.Assign(context.Background(), p0))
	require.NoError(t, c.Seek(p0, 1))

	// Inner records below the requested offset were already returned on a
	// previous fetch and must not reappear.
	msgs := drainAll(t, c)
	require.Len(t, msgs, 2)
	require.Equal(t, int64(1), msgs[0].Offset)
	require.Equal(t, []byte("two"), msgs[0].Value)
}

func TestConsumerPending(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "events", Partition: 0}
	broker.produce(p0, 100)

	c := newTestConsumer(t, broker)
	require.NoError(t, c.Assign(context.Background(), p0))

	pending, err := c.Pending(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(100), pending)

	drainAll(t, c)

	pending, err = c.Pending(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), pending)
}

func TestConsumerUnassignDiscardsState(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "events", Partition: 0}
	p1 := TopicPartition{Topic: "events", Partition: 1}
	broker.produce(p0, 10)
	broker.produce(p1, 10)

	c := newTestConsumer(t, broker)
	require.NoError(t, c.Assign(context.Background(), p0, p1))
	require.Len(t, c.Assignment(), 2)

	c.Unassign(p0)
	require.Equal(t, []TopicPartition{p1}, c.Assignment())

	msgs := drainAll(t, c)
	require.Len(t, msgs, 10)
	for _, msg := range msgs {
		require.Equal(t, p1, msg.topicPartition())
	}
}

func TestConsumerCloseUnblocksPoll(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "quiet", Partition: 0}
	broker.produce(p0, 0)

	c := newTestConsumer(t, broker, func(config *ConsumerConfig) {
		config.RetryBackoff = 20 * time.Millisecond
	})
	require.NoError(t, c.Assign(context.Background(), p0))

	errch := make(chan error, 1)
	go func() {
		_, err := c.Poll(context.Background(), time.Minute)
		errch <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-errch:
		require.ErrorIs(t, err, ErrConsumerClosed)
	case <-time.After(time.Second):
		t.Fatal("Poll did not unblock after Close")
	}

	_, err := c.Poll(context.Background(), 0)
	require.ErrorIs(t, err, ErrConsumerClosed)
}

func TestConsumerContextCancellation(t *testing.T) {
	broker := newMockBroker()
	p0 := TopicPartition{Topic: "quiet", Partition: 0}
	broker.produce(p0, 0)

	c := newTestConsumer(t, broker)
	require.NoError(t, c.Assign(context.Background(), p0))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := c.Poll(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewConsumerValidation(t *testing.T) {
	_, err := NewConsumer(ConsumerConfig{})
	require.Error(t, err)

	_, err = NewConsumer(ConsumerConfig{
		Transport:              newMockBroker(),
		MaxPartitionFetchBytes: 2048,
		MaxBufferSize:          1024,
	})
	require.Error(t, err)
}

func TestConfigDefaultClientID(t *testing.T) {
	first := ConsumerConfig{Transport: newMockBroker()}.withDefaults()
	second := ConsumerConfig{Transport: newMockBroker()}.withDefaults()

	require.True(t, strings.HasPrefix(first.ClientID, "kafka-go-"))
	require.NotEqual(t, first.ClientID, second.ClientID)

	explicit := ConsumerConfig{Transport: newMockBroker(), ClientID: "named"}.withDefaults()
	require.Equal(t, "named", explicit.ClientID)
}
