// Package zstd implements the Zstandard compression codec.
package zstd

import (
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Codec is the implementation of a compress.Codec which supports creating
// readers and writers for record sets compressed with zstd.
type Codec struct {
	// The compression level configured on writers created by the codec.
	// Defaults to 3.
	Level int

	initOnce sync.Once
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// Code implements the compress.Codec interface.
func (c *Codec) Code() int8 { return 4 }

// Name implements the compress.Codec interface.
func (c *Codec) Name() string { return "zstd" }

func (c *Codec) init() {
	c.initOnce.Do(func() {
		level := zstd.SpeedDefault
		if c.Level != 0 {
			level = zstd.EncoderLevelFromZstd(c.Level)
		}
		// The shared encoder and decoder are both stateless in this mode
		// and safe for concurrent use.
		c.enc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		c.dec, _ = zstd.NewReader(nil)
	})
}

// NewReader implements the compress.Codec interface.
func (c *Codec) NewReader(r io.Reader) io.ReadCloser {
	c.init()
	return &reader{codec: c, src: r}
}

// NewWriter implements the compress.Codec interface.
func (c *Codec) NewWriter(w io.Writer) io.WriteCloser {
	c.init()
	return &writer{codec: c, dst: w}
}

// zstd's streaming decoder is expensive to hand out per batch, so decoding
// goes through the stateless DecodeAll on a buffered block, mirroring the
// snappy codec.
type reader struct {
	codec *Codec
	src   io.Reader
	dec   io.Reader
	err   error
}

func (r *reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.dec == nil {
		raw, err := io.ReadAll(r.src)
		if err != nil {
			r.err = err
			return 0, err
		}
		out, err := r.codec.dec.DecodeAll(raw, nil)
		if err != nil {
			r.err = err
			return 0, err
		}
		r.dec = &byteReader{buf: out}
	}
	return r.dec.Read(p)
}

func (r *reader) Close() error { return nil }

type writer struct {
	codec *Codec
	dst   io.Writer
	buf   []byte
}

func (w *writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *writer) Close() error {
	_, err := w.dst.Write(w.codec.enc.EncodeAll(w.buf, nil))
	return err
}

type byteReader struct {
	buf []byte
	off int
}

func (b *byteReader) Read(p []byte) (int, error) {
	if b.off >= len(b.buf) {
		return 0, io.EOF
	}
	n := copy(p, b.buf[b.off:])
	b.off += n
	return n, nil
}
