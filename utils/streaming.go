package utils

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// maxPooledBuffer caps what goes back into the pool.  A handful of oversized
// scans would otherwise pin their peak allocation for the rest of the run.
const maxPooledBuffer = 8 * 1024 * 1024

// bufPool reuses byte buffers across decode calls to reduce GC pressure.
var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// AcquireBuffer returns a reset buffer from the pool.
func AcquireBuffer() *bytes.Buffer {
	b := bufPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// ReleaseBuffer returns b to the pool.  Callers must not touch b afterwards.
func ReleaseBuffer(b *bytes.Buffer) {
	if b.Cap() > maxPooledBuffer {
		return
	}
	bufPool.Put(b)
}

// DrainReader reads r to EOF into a pooled buffer, checking ctx between
// chunks so a canceled run stops slurping a slow source.  Hand the buffer
// back with ReleaseBuffer once its bytes are no longer needed.
func DrainReader(ctx context.Context, r io.Reader, chunkSize int) (*bytes.Buffer, error) {
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}
	buf := AcquireBuffer()
	chunk := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			ReleaseBuffer(buf)
			return nil, err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		switch {
		case errors.Is(err, io.EOF):
			return buf, nil
		case err != nil:
			ReleaseBuffer(buf)
			return nil, err
		}
	}
}

// ErrTooLarge reports that a CappedReader hit its byte cap.
var ErrTooLarge = errors.New("input exceeds size cap")

// CappedReader wraps R and fails with ErrTooLarge once more than Max bytes
// have been read.  It guards the image decoders against runaway results from
// external binarization engines; Max <= 0 means no cap.
type CappedReader struct {
	R   io.Reader
	Max int64
	n   int64
}

func (c *CappedReader) Read(p []byte) (int, error) {
	if c.Max > 0 {
		if c.n > c.Max {
			return 0, ErrTooLarge
		}
		// Allow one byte past the cap so an exactly-Max input still sees
		// its EOF instead of a spurious error.
		if remain := c.Max - c.n + 1; int64(len(p)) > remain {
			p = p[:remain]
		}
	}
	n, err := c.R.Read(p)
	c.n += int64(n)
	if c.Max > 0 && c.n > c.Max {
		return n, ErrTooLarge
	}
	return n, err
}
