package stages

import (
	"io"

	"github.com/pierrec/lz4/v4"
)

// Level controls the LZ4 speed/ratio tradeoff.
type Level int

const (
	LevelFast    Level = iota // fastest, lower ratio
	LevelDefault              // balanced
	LevelBest                 // best ratio, slower
)

func (l Level) apply(zw *lz4.Writer) {
	switch l {
	case LevelFast:
		_ = zw.Apply(lz4.CompressionLevelOption(lz4.Fast))
	case LevelBest:
		_ = zw.Apply(lz4.CompressionLevelOption(lz4.Level9))
	default:
		_ = zw.Apply(lz4.CompressionLevelOption(lz4.Level4))
	}
}

// CompressWriter compresses everything written to it into an LZ4 frame on
// the destination. LZ4 keeps the stage fast enough that the pipe, not the
// compressor, stays the synchronization point.
type CompressWriter struct {
	zw  *lz4.Writer
	dst io.Writer
}

// NewCompressWriter creates an LZ4 compression stage in front of dst.
func NewCompressWriter(dst io.Writer, level Level) *CompressWriter {
	zw := lz4.NewWriter(dst)
	level.apply(zw)
	return &CompressWriter{zw: zw, dst: dst}
}

// Write compresses p into the destination.
func (w *CompressWriter) Write(p []byte) (int, error) {
	return w.zw.Write(p)
}

// Flush ends the current LZ4 block so every byte written so far is
// decodable downstream, then forwards the flush.
func (w *CompressWriter) Flush() error {
	if err := w.zw.Flush(); err != nil {
		return err
	}
	if f, ok := w.dst.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Close finishes the LZ4 frame and closes the destination when it can
// close.
func (w *CompressWriter) Close() error {
	err := w.zw.Close()
	if c, ok := w.dst.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// DecompressReader decompresses an LZ4 frame read from the source.
type DecompressReader struct {
	zr  *lz4.Reader
	src io.Reader
}

// NewDecompressReader creates an LZ4 decompression stage over src.
func NewDecompressReader(src io.Reader) *DecompressReader {
	return &DecompressReader{zr: lz4.NewReader(src), src: src}
}

// Read returns decompressed bytes.
func (r *DecompressReader) Read(p []byte) (int, error) {
	return r.zr.Read(p)
}

// Close closes the source when it can close.
func (r *DecompressReader) Close() error {
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
