package streamlink

import "io"

var (
	_ io.ReadCloser  = (*LinkReader)(nil)
	_ io.Seeker      = (*LinkReader)(nil)
	_ io.WriteCloser = (*LinkWriter)(nil)
	_ io.Seeker      = (*LinkWriter)(nil)
	_ Flusher        = (*LinkWriter)(nil)
)

// LinkReader is the read-only endpoint of a link. It must be used by a
// single goroutine at a time. The type itself is the capability boundary:
// there is no write path through a LinkReader.
type LinkReader struct {
	link *Link
}

// Read copies buffered bytes into p. It blocks only while nothing is
// buffered and the writer endpoint is still open; once at least one byte
// has been copied it returns without waiting for more. At end-of-stream it
// returns io.EOF, or io.ErrUnexpectedEOF when an enforced declared length
// was not reached.
func (r *LinkReader) Read(p []byte) (int, error) {
	return r.link.readInto(p)
}

// Close shuts the reader side of the link. It wakes a blocked writer,
// after which writes are silently discarded. Close is idempotent and
// never blocks.
func (r *LinkReader) Close() error {
	return r.link.closeReader()
}

// Position returns the total number of bytes read so far.
func (r *LinkReader) Position() int64 {
	return r.link.readPosition()
}

// Length returns the declared stream length, or ErrLengthUnknown when none
// has been set on the link.
func (r *LinkReader) Length() (int64, error) {
	return r.link.length()
}

// Seek accepts only a target equal to the current position, as a no-op,
// and fails with ErrNotSeekable otherwise.
func (r *LinkReader) Seek(offset int64, whence int) (int64, error) {
	return r.link.seek(offset, whence, r.link.readPosition())
}

// LinkWriter is the write-only endpoint of a link. It must be used by a
// single goroutine at a time; there is no read path through a LinkWriter.
type LinkWriter struct {
	link *Link
}

// Write copies p into the link's buffer, blocking while the buffer is
// full, and then hands the whole range to the pass-through sink before
// returning. Once the reader endpoint has closed, writes still succeed but
// the bytes only reach the pass-through sink.
func (w *LinkWriter) Write(p []byte) (int, error) {
	return w.link.write(p)
}

// Flush forwards to the pass-through sink's Flush and, when the link was
// built with BlockOnFlush, waits until the reader has drained the buffer
// or closed.
func (w *LinkWriter) Flush() error {
	w.link.mu.Lock()
	if w.link.writerClosed {
		w.link.mu.Unlock()
		return io.ErrClosedPipe
	}
	w.link.mu.Unlock()
	return w.link.flush()
}

// Close shuts the writer side of the link: it wakes a blocked reader,
// flushes, closes the pass-through sink, and, when the link was built with
// BlockOnClose, waits until the reader endpoint has closed too. Close is
// idempotent.
func (w *LinkWriter) Close() error {
	return w.link.closeWriter()
}

// Position returns the total number of bytes buffered so far. Bytes
// discarded after the reader closed are not counted.
func (w *LinkWriter) Position() int64 {
	return w.link.writePosition()
}

// Length returns the declared stream length, or ErrLengthUnknown when none
// has been set on the link.
func (w *LinkWriter) Length() (int64, error) {
	return w.link.length()
}

// Seek accepts only a target equal to the current position, as a no-op,
// and fails with ErrNotSeekable otherwise.
func (w *LinkWriter) Seek(offset int64, whence int) (int64, error) {
	return w.link.seek(offset, whence, w.link.writePosition())
}
