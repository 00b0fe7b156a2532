// Package compress provides the compression codecs supported by the kafka
// message format.
package compress

import (
	"io"

	"github.com/ossdev07/kafka-python/compress/gzip"
	"github.com/ossdev07/kafka-python/compress/lz4"
	"github.com/ossdev07/kafka-python/compress/snappy"
	"github.com/ossdev07/kafka-python/compress/zstd"
)

// Compression represents the compression applied to a record set.
type Compression int8

const (
	None   Compression = 0
	Gzip   Compression = 1
	Snappy Compression = 2
	Lz4    Compression = 3
	Zstd   Compression = 4
)

func (c Compression) String() string {
	switch c {
	case None:
		return "uncompressed"
	case Gzip:
		return "gzip"
	case Snappy:
		return "snappy"
	case Lz4:
		return "lz4"
	case Zstd:
		return "zstd"
	}
	return "unknown"
}

// Codec represents a compression codec to encode and decode record sets.
//
// A Codec must be safe for concurrent use by multiple goroutines.
type Codec interface {
	// Code returns the compression codec code carried in the record batch
	// attributes.
	Code() int8

	// Human-readable name for the codec.
	Name() string

	// Constructs a new reader which decompresses data from r.
	NewReader(r io.Reader) io.ReadCloser

	// Constructs a new writer which writes compressed data to w.
	NewWriter(w io.Writer) io.WriteCloser
}

var (
	// The global gzip codec installed on the default codec table.
	GzipCodec gzip.Codec

	// The global snappy codec installed on the default codec table.
	SnappyCodec snappy.Codec

	// The global lz4 codec installed on the default codec table.
	Lz4Codec lz4.Codec

	// The global zstd codec installed on the default codec table.
	ZstdCodec zstd.Codec
)

// DefaultCodecs returns the table of all codecs compiled into the package.
// Consumers may pass a subset to restrict which compressed batches they are
// willing to decode.
func DefaultCodecs() []Codec {
	return []Codec{&GzipCodec, &SnappyCodec, &Lz4Codec, &ZstdCodec}
}
