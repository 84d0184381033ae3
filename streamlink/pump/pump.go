// Package pump drives a chunked copy loop from a source stream into a
// destination stream, either on the calling goroutine or on a background
// one, with completion reporting and configurable close-on-finish behavior
// for both sides. Pairing a pump with link endpoints chains pipeline
// stages together.
package pump

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

var (
	ErrAlreadyStarted = errors.New("pump: pump was already started")
	ErrNilStream      = errors.New("pump: source and destination must be non-nil")
)

const (
	// MinChunkSize is the smallest transfer buffer a pump will use.
	MinChunkSize = 1024
	// DefaultChunkSize is the transfer buffer size when none is configured.
	DefaultChunkSize = 16 * 1024
)

// Config configures a Pump.
type Config struct {
	// ChunkSize is the transfer buffer size in bytes. Zero selects
	// DefaultChunkSize; anything below MinChunkSize is raised to it.
	ChunkSize int

	// Finalize, when non-nil, runs after the copy loop and before either
	// side is closed. It is a best-effort hook for appending trailer data;
	// its error is always discarded.
	Finalize func() error

	// LeaveSourceOpen keeps the pump from closing the source when the run
	// finishes.
	LeaveSourceOpen bool

	// LeaveDestinationOpen keeps the pump from closing the destination
	// when the run finishes.
	LeaveDestinationOpen bool
}

// DefaultConfig returns a configuration with the default chunk size that
// closes both sides when the run finishes.
func DefaultConfig() Config {
	return Config{ChunkSize: DefaultChunkSize}
}

// Pump copies a source stream into a destination stream in fixed-size
// chunks until the source reports end-of-stream. A pump runs exactly once,
// via Run or Start; afterwards it only serves its accessors.
type Pump struct {
	mu  sync.Mutex
	src io.Reader
	dst io.Writer
	err error

	chunkSize int
	finalize  func() error
	leaveSrc  bool
	leaveDst  bool

	started     atomic.Bool
	running     atomic.Bool
	transferred atomic.Int64
}

// New creates a pump bound to the given source and destination.
// ErrNilStream is returned when either stream is nil.
func New(src io.Reader, dst io.Writer, cfg Config) (*Pump, error) {
	if src == nil || dst == nil {
		return nil, ErrNilStream
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	} else if cfg.ChunkSize < MinChunkSize {
		cfg.ChunkSize = MinChunkSize
	}
	return &Pump{
		src:       src,
		dst:       dst,
		chunkSize: cfg.ChunkSize,
		finalize:  cfg.Finalize,
		leaveSrc:  cfg.LeaveSourceOpen,
		leaveDst:  cfg.LeaveDestinationOpen,
	}, nil
}

// Run executes the copy on the calling goroutine and blocks until it
// finishes. It returns the number of bytes transferred and the first error
// the loop encountered, after the completion sequence (finalize, close
// destination, close source) has run. A second start in any combination
// fails with ErrAlreadyStarted.
func (p *Pump) Run() (int64, error) {
	if !p.started.CompareAndSwap(false, true) {
		return 0, ErrAlreadyStarted
	}
	p.running.Store(true)
	err := p.drive()
	return p.transferred.Load(), err
}

// Start executes the copy on a new goroutine and returns a channel that is
// closed once the run has settled. Errors never reach the caller on any
// goroutine; after completion they are observable via Err. A second start
// in any combination fails with ErrAlreadyStarted.
func (p *Pump) Start() (<-chan struct{}, error) {
	if !p.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}
	p.running.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.drive()
	}()
	return done, nil
}

// Transferred returns the number of bytes moved so far. It is safe to call
// from any goroutine while the pump is running.
func (p *Pump) Transferred() int64 { return p.transferred.Load() }

// Started reports whether the pump was ever started.
func (p *Pump) Started() bool { return p.started.Load() }

// Running reports whether the copy loop is still in flight.
func (p *Pump) Running() bool { return p.running.Load() }

// Err returns the first error the finished run encountered, or nil. It is
// the only place a background run's error surfaces.
func (p *Pump) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// drive runs the copy loop and the completion sequence, then records the
// outcome and drops the stream references.
func (p *Pump) drive() error {
	src, dst := p.src, p.dst

	var firstErr error
	buf := make([]byte, p.chunkSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			p.transferred.Add(int64(wn))
			if werr != nil {
				firstErr = werr
				break
			}
			if wn < n {
				firstErr = io.ErrShortWrite
				break
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			firstErr = rerr
			break
		}
	}

	if p.finalize != nil {
		_ = p.finalize()
	}

	// Destination before source: with synchronized-close links downstream,
	// closing the destination first lets the rest of a chain make progress
	// even while the source close is still blocked.
	if !p.leaveDst {
		if c, ok := dst.(io.Closer); ok {
			_ = c.Close()
		}
	}
	if !p.leaveSrc {
		if c, ok := src.(io.Closer); ok {
			_ = c.Close()
		}
	}

	p.mu.Lock()
	p.err = firstErr
	p.src = nil
	p.dst = nil
	p.mu.Unlock()
	p.running.Store(false)
	return firstErr
}
