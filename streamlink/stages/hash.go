package stages

import (
	"hash"
	"io"
)

// DigestWriter feeds every written byte into a hash while forwarding the
// bytes, unchanged, to an optional next writer. Installed as a link's
// pass-through sink it digests a stream while the stream is being
// buffered; wrapped around a pump destination it digests while copying.
type DigestWriter struct {
	h    hash.Hash
	next io.Writer
	n    int64
}

// NewDigestWriter creates a digest tee over h. next may be nil when only
// the digest is wanted.
func NewDigestWriter(h hash.Hash, next io.Writer) *DigestWriter {
	return &DigestWriter{h: h, next: next}
}

// Write updates the digest and forwards p to the next writer.
func (w *DigestWriter) Write(p []byte) (int, error) {
	w.h.Write(p)
	w.n += int64(len(p))
	if w.next != nil {
		return w.next.Write(p)
	}
	return len(p), nil
}

// Sum returns the digest of everything written so far. It does not reset
// the underlying hash, so it can be read mid-stream and again at the end.
func (w *DigestWriter) Sum() []byte {
	return w.h.Sum(nil)
}

// Count returns the number of bytes digested so far.
func (w *DigestWriter) Count() int64 { return w.n }

// Flush forwards to the next writer when it can flush.
func (w *DigestWriter) Flush() error {
	if f, ok := w.next.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Close forwards to the next writer when it can close.
func (w *DigestWriter) Close() error {
	if c, ok := w.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
