package kafka

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ossdev07/kafka-python/compress"
)

// mockBroker is an in-memory Transport with byte-accurate MaxBytes
// accounting, standing in for a broker cluster the way the python test
// fixtures did.
type mockBroker struct {
	mutex     sync.Mutex
	logs      map[TopicPartition]*mockLog
	committed map[string]map[TopicPartition]int64

	commitErr       error
	listUnsupported bool

	fetchCalls  int
	listCalls   int
	commitCalls int
}

// segment is the broker-side unit of storage: either a single plain record
// or one compressed wrapper batch. Compressed segments are atomic, a fetch
// returns them whole or not at all.
type segment struct {
	base  int64
	last  int64
	codec compress.Compression
	data  []byte
	size  int
	msgs  []Message
}

type mockLog struct {
	logStart int64
	segments []segment
}

func (l *mockLog) end() int64 {
	if len(l.segments) == 0 {
		return l.logStart
	}
	return l.segments[len(l.segments)-1].last + 1
}

func newMockBroker() *mockBroker {
	return &mockBroker{
		logs:      make(map[TopicPartition]*mockLog),
		committed: make(map[string]map[TopicPartition]int64),
	}
}

func (b *mockBroker) log(tp TopicPartition) *mockLog {
	l, ok := b.logs[tp]
	if !ok {
		l = &mockLog{}
		b.logs[tp] = l
	}
	return l
}

// produce appends n plain messages to tp with values
// "<topic>-<partition>-<offset>", unique across partitions.
func (b *mockBroker) produce(tp TopicPartition, n int) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	l := b.log(tp)
	for i := 0; i < n; i++ {
		offset := l.end()
		msg := Message{
			Topic:     tp.Topic,
			Partition: tp.Partition,
			Offset:    offset,
			Value:     []byte(fmt.Sprintf("%s-%d-%d", tp.Topic, tp.Partition, offset)),
			Time:      time.Now(),
		}
		b.appendPlain(l, msg)
	}
}

// produceAt appends one message with an explicit timestamp and value.
func (b *mockBroker) produceAt(tp TopicPartition, value []byte, at time.Time) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	l := b.log(tp)
	b.appendPlain(l, Message{
		Topic:     tp.Topic,
		Partition: tp.Partition,
		Offset:    l.end(),
		Value:     value,
		Time:      at,
	})
}

func (b *mockBroker) appendPlain(l *mockLog, msg Message) {
	data := encodeMessageSet([]Message{msg})
	l.segments = append(l.segments, segment{
		base:  msg.Offset,
		last:  msg.Offset,
		codec: compress.None,
		data:  data,
		size:  len(data),
		msgs:  []Message{msg},
	})
}

// produceBatch appends one compressed wrapper batch holding values.
func (b *mockBroker) produceBatch(tp TopicPartition, codec compress.Codec, values ...[]byte) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	l := b.log(tp)
	base := l.end()

	msgs := make([]Message, len(values))
	for i, v := range values {
		msgs[i] = Message{
			Topic:     tp.Topic,
			Partition: tp.Partition,
			Offset:    base + int64(i),
			Value:     v,
			Time:      time.Now(),
		}
	}

	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	w.Write(encodeMessageSet(msgs))
	w.Close()

	l.segments = append(l.segments, segment{
		base:  base,
		last:  base + int64(len(values)) - 1,
		codec: compress.Compression(codec.Code()),
		data:  buf.Bytes(),
		size:  buf.Len(),
		msgs:  msgs,
	})
}

// corruptLast flips a byte in the payload of the newest segment of tp.
func (b *mockBroker) corruptLast(tp TopicPartition) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	l := b.log(tp)
	seg := &l.segments[len(l.segments)-1]
	seg.data[len(seg.data)-1] ^= 0xFF
}

func (b *mockBroker) Fetch(ctx context.Context, req FetchRequest) (*RawBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.fetchCalls++

	l, ok := b.logs[req.Partition]
	if !ok {
		return nil, &OffsetOutOfRangeError{Partition: req.Partition, Offset: req.Offset}
	}

	end := l.end()
	switch {
	case req.Offset == end:
		return nil, nil
	case req.Offset < l.logStart || req.Offset > end:
		return nil, &OffsetOutOfRangeError{Partition: req.Partition, Offset: req.Offset}
	}

	idx := -1
	for i, seg := range l.segments {
		if req.Offset >= seg.base && req.Offset <= seg.last {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil
	}

	first := l.segments[idx]
	if first.size > req.MaxBytes {
		return nil, &MessageTooLargeError{Partition: req.Partition, Size: first.size}
	}

	if first.codec != compress.None {
		return &RawBatch{
			Partition:     req.Partition,
			BaseOffset:    req.Offset,
			HighWaterMark: end,
			Codec:         first.codec,
			Data:          first.data,
		}, nil
	}

	var data []byte
	size := 0
	for i := idx; i < len(l.segments); i++ {
		seg := l.segments[i]
		if seg.codec != compress.None || size+seg.size > req.MaxBytes {
			break
		}
		data = append(data, seg.data...)
		size += seg.size
	}

	return &RawBatch{
		Partition:     req.Partition,
		BaseOffset:    req.Offset,
		HighWaterMark: end,
		Codec:         compress.None,
		Data:          data,
	}, nil
}

func (b *mockBroker) CommitOffsets(ctx context.Context, groupID string, offsets CommitRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.commitCalls++

	if b.commitErr != nil {
		return b.commitErr
	}

	group, ok := b.committed[groupID]
	if !ok {
		group = make(map[TopicPartition]int64)
		b.committed[groupID] = group
	}
	for tp, offset := range offsets {
		group[tp] = offset
	}
	return nil
}

func (b *mockBroker) CommittedOffsets(ctx context.Context, groupID string, partitions []TopicPartition) (map[TopicPartition]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	offsets := make(map[TopicPartition]int64)
	for _, tp := range partitions {
		if offset, ok := b.committed[groupID][tp]; ok {
			offsets[tp] = offset
		}
	}
	return offsets, nil
}

func (b *mockBroker) ListOffsets(ctx context.Context, timestamps map[TopicPartition]int64) (map[TopicPartition]*OffsetAndTimestamp, error) {
	b.mutex.Lock()
	if b.listUnsupported {
		b.mutex.Unlock()
		return nil, &UnsupportedVersionError{API: "ListOffsets v1"}
	}
	b.listCalls++

	// A request addressing a partition the broker does not know never gets
	// an answer; the caller's deadline is what ends the wait.
	for tp := range timestamps {
		if _, ok := b.logs[tp]; !ok {
			b.mutex.Unlock()
			<-ctx.Done()
			return nil, ctx.Err()
		}
	}
	defer b.mutex.Unlock()

	result := make(map[TopicPartition]*OffsetAndTimestamp, len(timestamps))
	for tp, target := range timestamps {
		l := b.logs[tp]

		switch target {
		case FirstOffset:
			result[tp] = &OffsetAndTimestamp{Offset: l.logStart}
			continue
		case LastOffset:
			result[tp] = &OffsetAndTimestamp{Offset: l.end()}
			continue
		}

		result[tp] = nil
		for _, seg := range l.segments {
			for _, msg := range seg.msgs {
				if timestamp(msg.Time) >= target {
					result[tp] = &OffsetAndTimestamp{Offset: msg.Offset, Time: msg.Time}
					break
				}
			}
			if result[tp] != nil {
				break
			}
		}
	}
	return result, nil
}
