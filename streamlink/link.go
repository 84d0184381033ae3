package streamlink

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

var (
	ErrInvalidCapacity = errors.New("streamlink: link capacity must be positive")
	ErrLengthExceeded  = errors.New("streamlink: write exceeds the declared stream length")
	ErrNotSeekable     = errors.New("streamlink: endpoints only seek to their current position")
	ErrLengthUnknown   = errors.New("streamlink: stream length has not been declared")
)

// DefaultCapacity is the buffer capacity used by DefaultLinkConfig.
const DefaultCapacity = 64 * 1024

// Flusher is implemented by sinks that buffer internally and can push
// pending bytes downstream on demand. A pass-through sink implementing
// Flusher is flushed whenever the link's writer endpoint flushes.
type Flusher interface {
	Flush() error
}

// LinkConfig configures a Link.
type LinkConfig struct {
	// Capacity is the circular buffer size in bytes. Must be positive.
	Capacity int

	// BlockOnFlush makes the writer endpoint's Flush wait until the reader
	// has drained every buffered byte (or closed).
	BlockOnFlush bool

	// BlockOnClose makes the writer endpoint's Close wait until the reader
	// endpoint has also closed, giving deterministic shutdown ordering
	// across the two goroutines.
	BlockOnClose bool

	// Passthrough, when non-nil, receives every byte range accepted by a
	// write, synchronously and in order, before the write returns. If it
	// implements Flusher it is flushed by the writer endpoint's Flush; if
	// it implements io.Closer it is closed when the writer endpoint closes.
	Passthrough io.Writer
}

// DefaultLinkConfig returns a configuration with a 64 KiB buffer and both
// blocking flags off.
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{Capacity: DefaultCapacity}
}

// Link is a bounded circular byte buffer coordinating one writer goroutine
// and one reader goroutine. It is not safe for more than one goroutine to
// write concurrently, nor for more than one to read concurrently.
//
// The read and write cursors only grow; a buffer index is always a cursor
// modulo the capacity, and read ≤ written ≤ read+capacity holds at all
// times.
type Link struct {
	mu             sync.Mutex
	dataAvailable  *sync.Cond // writer → reader: bytes became readable
	spaceAvailable *sync.Cond // reader → writer: space freed, or reader closed

	buf      []byte
	capacity int

	written int64
	read    int64

	writerClosed bool
	readerClosed bool

	knownLength   int64 // negative while unknown
	enforceLength bool

	passthrough io.Writer

	blockOnFlush bool
	blockOnClose bool

	// live counts the sides that have not closed yet. The side whose close
	// brings it to zero releases the buffer, whatever the close order.
	live     atomic.Int32
	teardown sync.Once

	reader *LinkReader
	writer *LinkWriter
}

// NewLink creates a link with its two endpoints. ErrInvalidCapacity is
// returned for a non-positive buffer capacity.
func NewLink(cfg LinkConfig) (*Link, error) {
	if cfg.Capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	l := &Link{
		buf:          make([]byte, cfg.Capacity),
		capacity:     cfg.Capacity,
		knownLength:  -1,
		passthrough:  cfg.Passthrough,
		blockOnFlush: cfg.BlockOnFlush,
		blockOnClose: cfg.BlockOnClose,
	}
	l.dataAvailable = sync.NewCond(&l.mu)
	l.spaceAvailable = sync.NewCond(&l.mu)
	l.live.Store(2)
	l.reader = &LinkReader{link: l}
	l.writer = &LinkWriter{link: l}
	return l, nil
}

// Pipe is a convenience constructor returning just the endpoint pair of a
// new link with the given capacity and no optional behavior.
func Pipe(capacity int) (*LinkReader, *LinkWriter, error) {
	l, err := NewLink(LinkConfig{Capacity: capacity})
	if err != nil {
		return nil, nil, err
	}
	return l.Reader(), l.Writer(), nil
}

// Reader returns the link's reader endpoint. The same endpoint is returned
// for the life of the link; once the reader side has closed it returns nil.
func (l *Link) Reader() *LinkReader {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reader
}

// Writer returns the link's writer endpoint. The same endpoint is returned
// for the life of the link; after teardown it returns nil.
func (l *Link) Writer() *LinkWriter {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer
}

// SetKnownLength declares the total number of bytes the stream is expected
// to carry. A negative length marks it unknown again. With enforce set,
// writes that would push the total past the length fail, and a reader that
// hits end-of-stream short of the length gets io.ErrUnexpectedEOF instead
// of io.EOF.
func (l *Link) SetKnownLength(length int64, enforce bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.knownLength = length
	l.enforceLength = enforce
}

// Capacity returns the fixed buffer capacity in bytes.
func (l *Link) Capacity() int { return l.capacity }

// Buffered returns the number of bytes currently written but not yet read.
func (l *Link) Buffered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.written - l.read)
}

// write blocks until all of p is either buffered or, once the reader side
// has closed, dropped. The pass-through sink always receives the whole
// original range before write returns.
func (l *Link) write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	l.mu.Lock()
	if l.writerClosed {
		l.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if l.enforceLength && l.knownLength >= 0 && l.written+int64(len(p)) > l.knownLength {
		l.mu.Unlock()
		return 0, ErrLengthExceeded
	}

	rest := p
	for len(rest) > 0 && !l.readerClosed {
		n := l.copyIn(rest)
		if n > 0 {
			rest = rest[n:]
			l.dataAvailable.Signal()
			continue
		}
		l.spaceAvailable.Wait()
	}
	// Whatever remains after the reader closed is dropped on purpose: an
	// abandoned consumer must not stall a fast producer.
	passthrough := l.passthrough
	l.mu.Unlock()

	if passthrough != nil {
		if _, err := passthrough.Write(p); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// copyIn copies the largest contiguous run of p that currently fits,
// bounded by free space and the wrap boundary, and advances the write
// cursor. Caller holds mu.
func (l *Link) copyIn(p []byte) int {
	free := l.capacity - int(l.written-l.read)
	if free == 0 {
		return 0
	}
	pos := int(l.written % int64(l.capacity))
	n := min(free, l.capacity-pos, len(p))
	copy(l.buf[pos:pos+n], p[:n])
	l.written += int64(n)
	return n
}

// readInto copies at most one contiguous run of buffered bytes into p. It
// blocks only while zero bytes are available and the writer is still open.
func (l *Link) readInto(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if l.readerClosed {
			return 0, io.ErrClosedPipe
		}
		if l.written > l.read {
			break
		}
		if l.writerClosed {
			if l.enforceLength && l.knownLength >= 0 && l.read < l.knownLength {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, io.EOF
		}
		l.dataAvailable.Wait()
	}

	pos := int(l.read % int64(l.capacity))
	n := min(int(l.written-l.read), l.capacity-pos, len(p))
	copy(p[:n], l.buf[pos:pos+n])
	l.read += int64(n)
	l.spaceAvailable.Signal()
	return n, nil
}

// flush forwards to the pass-through sink's Flush and then, when the link
// was built with BlockOnFlush, waits until the reader has drained the
// buffer or closed.
func (l *Link) flush() error {
	l.mu.Lock()
	passthrough := l.passthrough
	l.mu.Unlock()

	var err error
	if f, ok := passthrough.(Flusher); ok {
		err = f.Flush()
	}

	if l.blockOnFlush {
		l.mu.Lock()
		for l.written > l.read && !l.readerClosed {
			l.spaceAvailable.Wait()
		}
		l.mu.Unlock()
	}
	return err
}

// closeWriter runs the writer side's shutdown: mark the side closed, wake a
// blocked reader, flush under the configured policy, close the pass-through
// sink, optionally wait for the reader side to close too, and finally give
// up this side's hold on the link.
func (l *Link) closeWriter() error {
	l.mu.Lock()
	if l.writerClosed {
		l.mu.Unlock()
		return nil
	}
	l.writerClosed = true
	l.dataAvailable.Broadcast()
	passthrough := l.passthrough
	l.mu.Unlock()

	err := l.flush()
	if c, ok := passthrough.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}

	if l.blockOnClose {
		l.mu.Lock()
		for !l.readerClosed {
			l.spaceAvailable.Wait()
		}
		l.mu.Unlock()
	}

	l.release()
	return err
}

// closeReader runs the reader side's shutdown: mark the side closed, wake a
// blocked writer (and any flush or close waiter on the writer side), wake a
// read still pending on this side, drop the reader endpoint reference, and
// give up this side's hold on the link.
func (l *Link) closeReader() error {
	l.mu.Lock()
	if l.readerClosed {
		l.mu.Unlock()
		return nil
	}
	l.readerClosed = true
	l.spaceAvailable.Broadcast()
	l.dataAvailable.Broadcast()
	l.reader = nil
	l.mu.Unlock()

	l.release()
	return nil
}

// release gives up one side's hold on the link. The closing side that
// brings the count to zero tears the link down, exactly once, regardless
// of close order or a concurrent race between the two sides.
func (l *Link) release() {
	if l.live.Add(-1) == 0 {
		l.teardown.Do(l.destroy)
	}
}

func (l *Link) destroy() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = nil
	l.passthrough = nil
	l.reader = nil
	l.writer = nil
}

func (l *Link) readPosition() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read
}

func (l *Link) writePosition() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

func (l *Link) length() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.knownLength < 0 {
		return 0, ErrLengthUnknown
	}
	return l.knownLength, nil
}

// seek resolves a Seek request against the current position pos and allows
// only the degenerate case of seeking to where the cursor already is, which
// keeps defensively probing callers working without granting random access.
func (l *Link) seek(offset int64, whence int, pos int64) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = pos + offset
	case io.SeekEnd:
		length, err := l.length()
		if err != nil {
			return pos, ErrNotSeekable
		}
		target = length + offset
	default:
		return pos, ErrNotSeekable
	}
	if target != pos {
		return pos, ErrNotSeekable
	}
	return pos, nil
}
