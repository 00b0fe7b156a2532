package kafka

import (
	"bytes"
	"io"

	"github.com/ossdev07/kafka-python/compress"
)

// decoder turns raw fetched batches into ordered message slices. It owns the
// table of codecs this consumer is able to decompress; the table is fixed at
// construction so an unsupported codec is detectable without any network
// I/O.
type decoder struct {
	codecs map[int8]compress.Codec
}

func newDecoder(codecs []compress.Codec) *decoder {
	d := &decoder{codecs: make(map[int8]compress.Codec, len(codecs))}
	for _, c := range codecs {
		d.codecs[c.Code()] = c
	}
	return d
}

// supports reports whether batches compressed with the given codec can be
// decoded. Codec 0 (uncompressed) is always supported.
func (d *decoder) supports(c compress.Compression) bool {
	return c == compress.None || d.codecs[int8(c)] != nil
}

// decode decompresses and parses one raw batch into messages in offset
// order. It never partially emits: any decompression or parse failure
// discards the whole batch and returns CorruptMessageError, leaving the
// caller's cursor untouched.
func (d *decoder) decode(batch *RawBatch) ([]Message, error) {
	data := batch.Data

	if batch.Codec != compress.None {
		codec := d.codecs[int8(batch.Codec)]
		if codec == nil {
			return nil, &UnsupportedCodecError{Codec: batch.Codec}
		}
		r := codec.NewReader(bytes.NewReader(data))
		decompressed, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			return nil, &CorruptMessageError{
				Partition: batch.Partition,
				Offset:    batch.BaseOffset,
				Reason:    "decompression failed: " + err.Error(),
			}
		}
		data = decompressed
	}

	recs, err := parseMessageSet(data)
	if err != nil {
		return nil, &CorruptMessageError{
			Partition: batch.Partition,
			Offset:    batch.BaseOffset,
			Reason:    err.Error(),
		}
	}

	msgs := make([]Message, 0, len(recs))
	for _, rec := range recs {
		// Compressed wrapper batches may begin before the requested offset;
		// inner records below it were already returned on a previous fetch.
		if rec.offset < batch.BaseOffset {
			continue
		}
		msgs = append(msgs, rec.message(batch.Partition, batch.HighWaterMark))
	}
	return msgs, nil
}
