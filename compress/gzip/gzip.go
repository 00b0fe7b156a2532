// Package gzip implements the gzip compression codec.
package gzip

import (
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// Codec is the implementation of a compress.Codec which supports creating
// readers and writers for record sets compressed with gzip.
type Codec struct {
	// The compression level to configure on writers created by this codec.
	// Acceptable values are defined in the klauspost/compress/gzip package.
	Level int
}

// Code implements the compress.Codec interface.
func (c *Codec) Code() int8 { return 1 }

// Name implements the compress.Codec interface.
func (c *Codec) Name() string { return "gzip" }

// NewReader implements the compress.Codec interface.
func (c *Codec) NewReader(r io.Reader) io.ReadCloser {
	z := readerPool.Get().(*gzip.Reader)
	if err := z.Reset(r); err != nil {
		// Defer the error to the first Read call, callers only see the
		// io.Reader interface.
		return &errorReader{err: err, z: z}
	}
	return &reader{z}
}

// NewWriter implements the compress.Codec interface.
func (c *Codec) NewWriter(w io.Writer) io.WriteCloser {
	level := c.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	z, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		z = gzip.NewWriter(w)
	}
	return &writer{z}
}

type reader struct{ *gzip.Reader }

func (r *reader) Close() (err error) {
	if z := r.Reader; z != nil {
		r.Reader = nil
		err = z.Close()
		z.Reset(emptyReader{})
		readerPool.Put(z)
	}
	return
}

type writer struct{ *gzip.Writer }

func (w *writer) Close() error { return w.Writer.Close() }

type errorReader struct {
	err error
	z   *gzip.Reader
}

func (r *errorReader) Read([]byte) (int, error) { return 0, r.err }

func (r *errorReader) Close() error {
	if z := r.z; z != nil {
		r.z = nil
		z.Reset(emptyReader{})
		readerPool.Put(z)
	}
	return nil
}

type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, io.EOF }

var readerPool = sync.Pool{
	New: func() interface{} {
		z, _ := gzip.NewReader(emptyReader{})
		if z == nil {
			z = new(gzip.Reader)
		}
		return z
	},
}
