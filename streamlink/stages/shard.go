package stages

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/klauspost/reedsolomon"
)

var (
	ErrShardConfig  = errors.New("stages: invalid shard configuration")
	ErrShardSinks   = errors.New("stages: sink count must equal data plus parity shards")
	ErrShardSources = errors.New("stages: source count must equal data plus parity shards")
	ErrShardLost    = errors.New("stages: too many shards lost to reconstruct")
	ErrShardHeader  = errors.New("stages: shard streams disagree on block layout")
)

const (
	// DefaultShardBlockSize is the block size used when the caller passes 0.
	DefaultShardBlockSize = 1 << 20

	maxShardBlock       = 16 << 20
	shardHeaderSize     = 4
	maxShardTotalShards = 256
)

// ShardWriter stripes its input across data+parity sinks using
// Reed-Solomon erasure coding. Input is cut into blocks; each block is
// split into data shards, parity shards are computed, and every sink
// receives a 4-byte big-endian block length followed by its shard.
// ShardReader can rebuild the stream as long as at least data of the
// resulting streams survive.
type ShardWriter struct {
	enc    reedsolomon.Encoder
	sinks  []io.Writer
	buf    []byte
	closed bool
}

// NewShardWriter creates a striping stage over the given sinks. There
// must be exactly dataShards+parityShards sinks. A blockSize of 0 selects
// DefaultShardBlockSize.
func NewShardWriter(sinks []io.Writer, dataShards, parityShards, blockSize int) (*ShardWriter, error) {
	if dataShards < 1 || parityShards < 1 || dataShards+parityShards > maxShardTotalShards {
		return nil, ErrShardConfig
	}
	if blockSize == 0 {
		blockSize = DefaultShardBlockSize
	}
	if blockSize < dataShards || blockSize > maxShardBlock {
		return nil, ErrShardConfig
	}
	if len(sinks) != dataShards+parityShards {
		return nil, ErrShardSinks
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	return &ShardWriter{
		enc:   enc,
		sinks: sinks,
		buf:   make([]byte, 0, blockSize),
	}, nil
}

// Write buffers p, striping out a block whenever a full block's worth of
// input is available.
func (w *ShardWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	total := len(p)
	for len(p) > 0 {
		n := min(cap(w.buf)-len(w.buf), len(p))
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		if len(w.buf) == cap(w.buf) {
			if err := w.emitBlock(); err != nil {
				return total - len(p), err
			}
		}
	}
	return total, nil
}

// Flush stripes out any buffered input as a short block and forwards the
// flush to every sink that supports it.
func (w *ShardWriter) Flush() error {
	if w.closed {
		return io.ErrClosedPipe
	}
	if len(w.buf) > 0 {
		if err := w.emitBlock(); err != nil {
			return err
		}
	}
	var err error
	for _, sink := range w.sinks {
		if f, ok := sink.(interface{ Flush() error }); ok {
			if ferr := f.Flush(); err == nil {
				err = ferr
			}
		}
	}
	return err
}

// Close stripes out any buffered input and closes every sink that can
// close. Close is idempotent and returns the first error seen.
func (w *ShardWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var err error
	if len(w.buf) > 0 {
		err = w.emitBlock()
	}
	for _, sink := range w.sinks {
		if c, ok := sink.(io.Closer); ok {
			if cerr := c.Close(); err == nil {
				err = cerr
			}
		}
	}
	return err
}

func (w *ShardWriter) emitBlock() error {
	blockLen := len(w.buf)
	shards, err := w.enc.Split(w.buf)
	if err != nil {
		return err
	}
	if err := w.enc.Encode(shards); err != nil {
		return err
	}

	var hdr [shardHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(blockLen))
	for i, sink := range w.sinks {
		if _, err := sink.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := sink.Write(shards[i]); err != nil {
			return err
		}
	}
	w.buf = w.buf[:0]
	return nil
}

// ShardReader rebuilds the stream striped by ShardWriter. Sources line up
// with the writer's sinks; a nil source marks a shard stream that was
// lost. Reconstruction succeeds while at least dataShards streams remain;
// with fewer, Read fails with ErrShardLost.
type ShardReader struct {
	enc     reedsolomon.Encoder
	sources []io.Reader
	data    int
	block   []byte
	off     int
}

// NewShardReader creates a rebuilding stage over the given sources. There
// must be exactly dataShards+parityShards entries; nil entries stand in
// for lost streams.
func NewShardReader(sources []io.Reader, dataShards, parityShards int) (*ShardReader, error) {
	if dataShards < 1 || parityShards < 1 || dataShards+parityShards > maxShardTotalShards {
		return nil, ErrShardConfig
	}
	if len(sources) != dataShards+parityShards {
		return nil, ErrShardSources
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	return &ShardReader{
		enc:     enc,
		sources: sources,
		data:    dataShards,
	}, nil
}

// Read returns rebuilt stream bytes.
func (r *ShardReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for r.off == len(r.block) {
		if err := r.readBlock(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.block[r.off:])
	r.off += n
	return n, nil
}

// Close closes every source that can close and returns the first error.
func (r *ShardReader) Close() error {
	var err error
	for _, src := range r.sources {
		if c, ok := src.(io.Closer); ok {
			if cerr := c.Close(); err == nil {
				err = cerr
			}
		}
	}
	return err
}

// readBlock reads one block's worth of shards, reconstructing through the
// parity shards when streams have dropped out. A source that fails or
// ends early is treated as lost from then on.
func (r *ShardReader) readBlock() error {
	blockLen := -1
	live := 0
	for i, src := range r.sources {
		if src == nil {
			continue
		}
		var hdr [shardHeaderSize]byte
		if _, err := io.ReadFull(src, hdr[:]); err != nil {
			r.sources[i] = nil
			continue
		}
		n := int(binary.BigEndian.Uint32(hdr[:]))
		if blockLen == -1 {
			blockLen = n
		} else if n != blockLen {
			return ErrShardHeader
		}
		live++
	}
	if live == 0 {
		return io.EOF
	}
	if live < r.data {
		return ErrShardLost
	}
	if blockLen <= 0 || blockLen > maxShardBlock {
		return ErrShardHeader
	}

	shardSize := (blockLen + r.data - 1) / r.data
	shards := make([][]byte, len(r.sources))
	present := 0
	for i, src := range r.sources {
		if src == nil {
			continue
		}
		shard := make([]byte, shardSize)
		if _, err := io.ReadFull(src, shard); err != nil {
			r.sources[i] = nil
			continue
		}
		shards[i] = shard
		present++
	}
	if present < r.data {
		return ErrShardLost
	}

	missingData := false
	for i := 0; i < r.data; i++ {
		if shards[i] == nil {
			missingData = true
			break
		}
	}
	if missingData {
		if err := r.enc.ReconstructData(shards); err != nil {
			if errors.Is(err, reedsolomon.ErrTooFewShards) {
				return ErrShardLost
			}
			return err
		}
	}

	var block bytes.Buffer
	block.Grow(blockLen)
	if err := r.enc.Join(&block, shards, blockLen); err != nil {
		return err
	}
	r.block = block.Bytes()
	r.off = 0
	return nil
}
