package stages

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrSealKeySize   = errors.New("stages: seal key must be 32 bytes")
	ErrSealTruncated = errors.New("stages: sealed stream ended before its final frame")
	ErrSealCorrupt   = errors.New("stages: sealed frame failed authentication")
	ErrSealFrameSize = errors.New("stages: sealed frame exceeds the maximum size")
)

// SealKeySize is the key length SealWriter and OpenReader require.
const SealKeySize = chacha20poly1305.KeySize

const (
	sealSaltSize   = 16
	sealHeaderSize = 5 // type byte + big-endian ciphertext length
	sealFrameSize  = 64 * 1024
	maxSealFrame   = sealFrameSize + chacha20poly1305.Overhead
	sealInfo       = "streamlink seal v1"

	frameData  = 0x01
	frameFinal = 0x02
)

// sealNonce builds the 96-bit nonce for frame number seq. The per-stream
// subkey is unique (random salt), so a plain counter cannot repeat under
// the same key.
func sealNonce(seq uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], seq)
	return nonce
}

// sealAEAD derives the per-stream subkey from the shared key and the
// stream's salt, binding it to this format version.
func sealAEAD(key, salt []byte) (cipher.AEAD, error) {
	hk := hkdf.New(sha256.New, key, salt, []byte(sealInfo))
	subkey := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hk, subkey); err != nil {
		return nil, err
	}
	return chacha20poly1305.New(subkey)
}

// SealWriter encrypts and authenticates everything written to it into
// framed ChaCha20-Poly1305 ciphertext on the destination.
//
// Wire layout: a 16-byte random salt, then frames of
//
//	1 byte:  type (data or final)
//	4 bytes: ciphertext length, big endian
//	N bytes: ciphertext
//
// The frame type is bound as additional data and the nonce is the frame
// counter, so frames cannot be reordered, dropped, or truncated without
// OpenReader noticing. Close emits an empty final frame marking a
// complete stream.
type SealWriter struct {
	aead   cipher.AEAD
	dst    io.Writer
	buf    []byte
	seq    uint64
	closed bool
}

// NewSealWriter creates a sealing stage in front of dst and writes the
// stream salt. The key must be SealKeySize bytes.
func NewSealWriter(dst io.Writer, key []byte) (*SealWriter, error) {
	if len(key) != SealKeySize {
		return nil, ErrSealKeySize
	}
	salt := make([]byte, sealSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	aead, err := sealAEAD(key, salt)
	if err != nil {
		return nil, err
	}
	if _, err := dst.Write(salt); err != nil {
		return nil, err
	}
	return &SealWriter{
		aead: aead,
		dst:  dst,
		buf:  make([]byte, 0, sealFrameSize),
	}, nil
}

// Write buffers p, emitting a sealed frame for every full frame's worth of
// plaintext.
func (w *SealWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	total := len(p)
	for len(p) > 0 {
		n := min(sealFrameSize-len(w.buf), len(p))
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		if len(w.buf) == sealFrameSize {
			if err := w.emit(frameData); err != nil {
				return total - len(p), err
			}
		}
	}
	return total, nil
}

// Flush seals any buffered plaintext into a short frame and forwards the
// flush downstream.
func (w *SealWriter) Flush() error {
	if w.closed {
		return io.ErrClosedPipe
	}
	if len(w.buf) > 0 {
		if err := w.emit(frameData); err != nil {
			return err
		}
	}
	if f, ok := w.dst.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Close seals any remaining plaintext, emits the final frame, and closes
// the destination when it can close. Close is idempotent.
func (w *SealWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var err error
	if len(w.buf) > 0 {
		err = w.emit(frameData)
	}
	if err == nil {
		err = w.emit(frameFinal)
	}
	if c, ok := w.dst.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (w *SealWriter) emit(frameType byte) error {
	w.seq++
	ct := w.aead.Seal(nil, sealNonce(w.seq), w.buf, []byte{frameType})

	var hdr [sealHeaderSize]byte
	hdr[0] = frameType
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(ct)))
	if _, err := w.dst.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.dst.Write(ct); err != nil {
		return err
	}
	w.buf = w.buf[:0]
	return nil
}

// OpenReader decrypts and verifies a stream produced by SealWriter. A
// stream that ends without its final frame fails with ErrSealTruncated; a
// tampered, reordered, or replayed frame fails with ErrSealCorrupt.
type OpenReader struct {
	aead  cipher.AEAD // nil until the salt has been read
	src   io.Reader
	key   []byte
	plain []byte
	off   int
	seq   uint64
	final bool
}

// NewOpenReader creates an opening stage over src. The key must be
// SealKeySize bytes.
func NewOpenReader(src io.Reader, key []byte) (*OpenReader, error) {
	if len(key) != SealKeySize {
		return nil, ErrSealKeySize
	}
	return &OpenReader{src: src, key: key}, nil
}

// Read returns verified plaintext.
func (r *OpenReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.aead == nil {
		if err := r.readSalt(); err != nil {
			return 0, err
		}
	}
	for r.off == len(r.plain) {
		if r.final {
			return 0, io.EOF
		}
		if err := r.readFrame(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.plain[r.off:])
	r.off += n
	return n, nil
}

// Close closes the source when it can close.
func (r *OpenReader) Close() error {
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (r *OpenReader) readSalt() error {
	salt := make([]byte, sealSaltSize)
	if _, err := io.ReadFull(r.src, salt); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return ErrSealTruncated
		}
		return err
	}
	aead, err := sealAEAD(r.key, salt)
	if err != nil {
		return err
	}
	r.aead = aead
	r.key = nil
	return nil
}

func (r *OpenReader) readFrame() error {
	var hdr [sealHeaderSize]byte
	if _, err := io.ReadFull(r.src, hdr[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return ErrSealTruncated
		}
		return err
	}
	frameType := hdr[0]
	if frameType != frameData && frameType != frameFinal {
		return ErrSealCorrupt
	}
	ctLen := binary.BigEndian.Uint32(hdr[1:])
	if ctLen > maxSealFrame {
		return ErrSealFrameSize
	}
	if int(ctLen) < r.aead.Overhead() {
		return ErrSealCorrupt
	}

	ct := make([]byte, ctLen)
	if _, err := io.ReadFull(r.src, ct); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return ErrSealTruncated
		}
		return err
	}

	r.seq++
	plain, err := r.aead.Open(ct[:0], sealNonce(r.seq), ct, []byte{frameType})
	if err != nil {
		return ErrSealCorrupt
	}

	if frameType == frameFinal {
		if len(plain) != 0 {
			return ErrSealCorrupt
		}
		r.final = true
		return nil
	}
	r.plain = plain
	r.off = 0
	return nil
}
