package kafka

import (
	"encoding/binary"
	"hash/crc32"
	"time"
)

// The engine's batch currency is a v1-style message set: a flat sequence of
//
//	offset    int64
//	size      int32   (bytes remaining in the entry after this field)
//	crc       int32   (IEEE crc32 of everything after this field)
//	attributes int8
//	timestamp int64   (unix milliseconds)
//	key       bytes   (int32 length prefix, -1 for nil)
//	value     bytes
//
// all big-endian. The broker-side frame that carries it is the transport's
// business; this layout only exists so compressed wrapper batches have a
// concrete inner encoding.

const recordHeaderSize = 8 + 4 // offset + size

// record is the decoded form of one message-set entry.
type record struct {
	offset     int64
	attributes int8
	timestamp  int64
	key        []byte
	value      []byte
}

func recordSize(key, value []byte) int {
	return recordHeaderSize + 4 + 1 + 8 + sizeofBytes(key) + sizeofBytes(value)
}

func sizeofBytes(b []byte) int {
	if b == nil {
		return 4
	}
	return 4 + len(b)
}

// appendRecord appends the encoded form of one record to b.
func appendRecord(b []byte, r record) []byte {
	size := recordSize(r.key, r.value) - recordHeaderSize

	b = binary.BigEndian.AppendUint64(b, uint64(r.offset))
	b = binary.BigEndian.AppendUint32(b, uint32(size))

	crcAt := len(b)
	b = binary.BigEndian.AppendUint32(b, 0) // crc placeholder
	b = append(b, byte(r.attributes))
	b = binary.BigEndian.AppendUint64(b, uint64(r.timestamp))
	b = appendBytes(b, r.key)
	b = appendBytes(b, r.value)

	crc := crc32.ChecksumIEEE(b[crcAt+4:])
	binary.BigEndian.PutUint32(b[crcAt:], crc)
	return b
}

func appendBytes(b, v []byte) []byte {
	if v == nil {
		return binary.BigEndian.AppendUint32(b, uint32(0xFFFFFFFF))
	}
	b = binary.BigEndian.AppendUint32(b, uint32(len(v)))
	return append(b, v...)
}

// encodeMessageSet encodes msgs as a message set, preserving their offsets.
func encodeMessageSet(msgs []Message) []byte {
	var b []byte
	for _, m := range msgs {
		b = appendRecord(b, record{
			offset:    m.Offset,
			timestamp: timestamp(m.Time),
			key:       m.Key,
			value:     m.Value,
		})
	}
	return b
}

type recordParseError struct{ reason string }

func (e *recordParseError) Error() string { return e.reason }

// parseMessageSet decodes a message set into records, verifying each entry's
// checksum. A truncated trailing entry is an error: the transport never
// returns partial records, so truncation means corruption. Nothing is
// emitted unless the whole set parses.
func parseMessageSet(b []byte) ([]record, error) {
	var recs []record

	for len(b) > 0 {
		if len(b) < recordHeaderSize {
			return nil, &recordParseError{reason: "truncated record header"}
		}
		offset := int64(binary.BigEndian.Uint64(b))
		size := int(int32(binary.BigEndian.Uint32(b[8:])))
		b = b[recordHeaderSize:]

		if size < 4+1+8+4+4 || size > len(b) {
			return nil, &recordParseError{reason: "truncated record body"}
		}
		body := b[:size]
		b = b[size:]

		crc := binary.BigEndian.Uint32(body)
		if crc32.ChecksumIEEE(body[4:]) != crc {
			return nil, &recordParseError{reason: "crc mismatch"}
		}

		attributes := int8(body[4])
		ts := int64(binary.BigEndian.Uint64(body[5:]))
		rest := body[13:]

		key, rest, err := readBytes(rest)
		if err != nil {
			return nil, err
		}
		value, rest, err := readBytes(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) != 0 {
			return nil, &recordParseError{reason: "trailing bytes after record"}
		}

		recs = append(recs, record{
			offset:     offset,
			attributes: attributes,
			timestamp:  ts,
			key:        key,
			value:      value,
		})
	}

	return recs, nil
}

func readBytes(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, &recordParseError{reason: "truncated length prefix"}
	}
	n := int32(binary.BigEndian.Uint32(b))
	b = b[4:]
	if n < 0 {
		return nil, b, nil
	}
	if int(n) > len(b) {
		return nil, nil, &recordParseError{reason: "truncated byte field"}
	}
	// Copy out of the fetch buffer so messages stay valid after the batch
	// is recycled.
	v := make([]byte, n)
	copy(v, b[:n])
	return v, b[n:], nil
}

func (r record) message(tp TopicPartition, highWaterMark int64) Message {
	var t time.Time
	if r.timestamp != 0 {
		t = timestampToTime(r.timestamp)
	}
	return Message{
		Topic:         tp.Topic,
		Partition:     tp.Partition,
		Offset:        r.offset,
		Key:           r.key,
		Value:         r.value,
		Time:          t,
		HighWaterMark: highWaterMark,
	}
}
