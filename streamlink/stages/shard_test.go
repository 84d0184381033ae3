package stages

import (
	"bytes"
	"encoding/binary"
	"io"
	"math/rand"
	"testing"
)

func TestShardRoundTrip(t *testing.T) {
	data := make([]byte, 1000)
	rand.New(rand.NewSource(5)).Read(data)

	bufs, sinks := shardBuffers(5)
	sw, err := NewShardWriter(sinks, 3, 2, 64)
	if err != nil {
		t.Fatalf("NewShardWriter: %v", err)
	}
	for chunk := data; len(chunk) > 0; {
		n := min(333, len(chunk))
		if _, err := sw.Write(chunk[:n]); err != nil {
			t.Fatalf("Write: %v", err)
		}
		chunk = chunk[n:]
	}
	if err := sw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sr, err := NewShardReader(shardSources(bufs), 3, 2)
	if err != nil {
		t.Fatalf("NewShardReader: %v", err)
	}
	got, err := io.ReadAll(sr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("rebuilt stream does not match")
	}
}

func TestShardReconstructsLostStreams(t *testing.T) {
	data := make([]byte, 777)
	rand.New(rand.NewSource(6)).Read(data)

	bufs, sinks := shardBuffers(5)
	sw, err := NewShardWriter(sinks, 3, 2, 64)
	if err != nil {
		t.Fatalf("NewShardWriter: %v", err)
	}
	sw.Write(data)
	if err := sw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	cases := map[string][]int{
		"OneDataStream":  {0},
		"DataAndParity":  {1, 4},
		"TwoDataStreams": {0, 2},
		"BothParity":     {3, 4},
	}
	for name, missing := range cases {
		t.Run(name, func(t *testing.T) {
			sources := shardSources(bufs, missing...)
			sr, err := NewShardReader(sources, 3, 2)
			if err != nil {
				t.Fatalf("NewShardReader: %v", err)
			}
			got, err := io.ReadAll(sr)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("rebuilt stream does not match")
			}
		})
	}
}

func TestShardTooManyLost(t *testing.T) {
	bufs, sinks := shardBuffers(5)
	sw, err := NewShardWriter(sinks, 3, 2, 64)
	if err != nil {
		t.Fatalf("NewShardWriter: %v", err)
	}
	sw.Write(make([]byte, 500))
	sw.Close()

	sr, err := NewShardReader(shardSources(bufs, 0, 2, 4), 3, 2)
	if err != nil {
		t.Fatalf("NewShardReader: %v", err)
	}
	if _, err := io.ReadAll(sr); err != ErrShardLost {
		t.Fatalf("expected ErrShardLost, got %v", err)
	}
}

func TestShardConfigValidation(t *testing.T) {
	_, sinks := shardBuffers(5)

	if _, err := NewShardWriter(sinks, 0, 2, 64); err != ErrShardConfig {
		t.Fatalf("zero data shards: got %v", err)
	}
	if _, err := NewShardWriter(sinks, 3, 0, 64); err != ErrShardConfig {
		t.Fatalf("zero parity shards: got %v", err)
	}
	if _, err := NewShardWriter(sinks, 3, 2, 2); err != ErrShardConfig {
		t.Fatalf("block smaller than the data shard count: got %v", err)
	}
	if _, err := NewShardWriter(sinks, 3, 2, maxShardBlock+1); err != ErrShardConfig {
		t.Fatalf("oversized block: got %v", err)
	}
	if _, err := NewShardWriter(sinks[:4], 3, 2, 64); err != ErrShardSinks {
		t.Fatalf("short sink slice: got %v", err)
	}

	sw, err := NewShardWriter(sinks, 3, 2, 0)
	if err != nil {
		t.Fatalf("default block size: %v", err)
	}
	if cap(sw.buf) != DefaultShardBlockSize {
		t.Fatalf("expected the default block size, got %d", cap(sw.buf))
	}

	if _, err := NewShardReader(make([]io.Reader, 4), 3, 2); err != ErrShardSources {
		t.Fatalf("short source slice: got %v", err)
	}
	if _, err := NewShardReader(make([]io.Reader, 5), 0, 5); err != ErrShardConfig {
		t.Fatalf("zero data shards: got %v", err)
	}
}

func TestShardPartialFinalBlock(t *testing.T) {
	data := []byte("smaller than one block")

	bufs, sinks := shardBuffers(4)
	sw, err := NewShardWriter(sinks, 2, 2, 64)
	if err != nil {
		t.Fatalf("NewShardWriter: %v", err)
	}
	sw.Write(data)
	if err := sw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sr, err := NewShardReader(shardSources(bufs), 2, 2)
	if err != nil {
		t.Fatalf("NewShardReader: %v", err)
	}
	got, err := io.ReadAll(sr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("expected %q, got %q", data, got)
	}
}

// Flushing stripes out the pending partial block, leaving the prefix
// rebuildable before the writer closes.
func TestShardFlushEmitsPartialBlock(t *testing.T) {
	bufs, sinks := shardBuffers(5)
	sw, err := NewShardWriter(sinks, 3, 2, 64)
	if err != nil {
		t.Fatalf("NewShardWriter: %v", err)
	}
	data := []byte("flushed out")
	sw.Write(data)
	if err := sw.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	sr, err := NewShardReader(shardSources(bufs), 3, 2)
	if err != nil {
		t.Fatalf("NewShardReader: %v", err)
	}
	got, err := io.ReadAll(sr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("expected %q, got %q", data, got)
	}
}

func TestShardHeaderMismatch(t *testing.T) {
	bufs, sinks := shardBuffers(5)
	sw, err := NewShardWriter(sinks, 3, 2, 64)
	if err != nil {
		t.Fatalf("NewShardWriter: %v", err)
	}
	sw.Write(make([]byte, 200))
	sw.Close()

	// Rewrite one stream's first block length so the headers disagree.
	corrupted := bufs[1].Bytes()
	binary.BigEndian.PutUint32(corrupted[:4], 63)

	sr, err := NewShardReader(shardSources(bufs), 3, 2)
	if err != nil {
		t.Fatalf("NewShardReader: %v", err)
	}
	if _, err := io.ReadAll(sr); err != ErrShardHeader {
		t.Fatalf("expected ErrShardHeader, got %v", err)
	}
}

// A stream that ends mid-block counts as lost from that block on; the
// remaining streams still carry the data.
func TestShardTruncatedStreamTreatedAsLost(t *testing.T) {
	data := make([]byte, 150) // three blocks
	rand.New(rand.NewSource(8)).Read(data)

	bufs, sinks := shardBuffers(5)
	sw, err := NewShardWriter(sinks, 3, 2, 64)
	if err != nil {
		t.Fatalf("NewShardWriter: %v", err)
	}
	sw.Write(data)
	sw.Close()

	sources := shardSources(bufs)
	sources[1] = bytes.NewReader(bufs[1].Bytes()[:10])

	sr, err := NewShardReader(sources, 3, 2)
	if err != nil {
		t.Fatalf("NewShardReader: %v", err)
	}
	got, err := io.ReadAll(sr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("rebuilt stream does not match")
	}
}

func shardBuffers(n int) ([]*bytes.Buffer, []io.Writer) {
	bufs := make([]*bytes.Buffer, n)
	sinks := make([]io.Writer, n)
	for i := range bufs {
		bufs[i] = &bytes.Buffer{}
		sinks[i] = bufs[i]
	}
	return bufs, sinks
}

func shardSources(bufs []*bytes.Buffer, missing ...int) []io.Reader {
	sources := make([]io.Reader, len(bufs))
	for i, b := range bufs {
		sources[i] = bytes.NewReader(b.Bytes())
	}
	for _, i := range missing {
		sources[i] = nil
	}
	return sources
}
