package streamlink

import (
	"io"
	"testing"
)

func TestSeekOnlyToCurrentPosition(t *testing.T) {
	r, w := newTestLink(t, 16)

	mustWrite(t, w, []byte("abcdef"))
	mustRead(t, r, []byte("ab"))

	// The degenerate seeks every cursor allows: its own position.
	if pos, err := w.Seek(6, io.SeekStart); err != nil || pos != 6 {
		t.Fatalf("writer Seek(6, start): got (%d, %v)", pos, err)
	}
	if pos, err := w.Seek(0, io.SeekCurrent); err != nil || pos != 6 {
		t.Fatalf("writer Seek(0, current): got (%d, %v)", pos, err)
	}
	if pos, err := r.Seek(2, io.SeekStart); err != nil || pos != 2 {
		t.Fatalf("reader Seek(2, start): got (%d, %v)", pos, err)
	}
	if pos, err := r.Seek(0, io.SeekCurrent); err != nil || pos != 2 {
		t.Fatalf("reader Seek(0, current): got (%d, %v)", pos, err)
	}

	// Anything that would actually move fails and leaves the cursor alone.
	if _, err := r.Seek(0, io.SeekStart); err != ErrNotSeekable {
		t.Fatalf("expected ErrNotSeekable, got %v", err)
	}
	if _, err := r.Seek(1, io.SeekCurrent); err != ErrNotSeekable {
		t.Fatalf("expected ErrNotSeekable, got %v", err)
	}
	if _, err := w.Seek(-1, io.SeekCurrent); err != ErrNotSeekable {
		t.Fatalf("expected ErrNotSeekable, got %v", err)
	}
	if pos := r.Position(); pos != 2 {
		t.Fatalf("failed seek moved the cursor to %d", pos)
	}
}

func TestSeekEndNeedsDeclaredLength(t *testing.T) {
	l, err := NewLink(LinkConfig{Capacity: 16})
	if err != nil {
		t.Fatalf("NewLink: %v", err)
	}
	r, w := l.Reader(), l.Writer()
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})

	if _, err := r.Seek(0, io.SeekEnd); err != ErrNotSeekable {
		t.Fatalf("expected ErrNotSeekable without a length, got %v", err)
	}

	l.SetKnownLength(4, false)
	mustWrite(t, w, []byte("abcd"))
	w.Close()
	buf := make([]byte, 4)
	mustReadFull(t, r, buf)

	// At end-of-stream the reader's position is the declared length.
	if pos, err := r.Seek(0, io.SeekEnd); err != nil || pos != 4 {
		t.Fatalf("Seek(0, end): got (%d, %v)", pos, err)
	}
	if _, err := r.Seek(-1, io.SeekEnd); err != ErrNotSeekable {
		t.Fatalf("expected ErrNotSeekable, got %v", err)
	}
}

func TestSeekRejectsUnknownWhence(t *testing.T) {
	r, _ := newTestLink(t, 4)

	if _, err := r.Seek(0, 42); err != ErrNotSeekable {
		t.Fatalf("expected ErrNotSeekable, got %v", err)
	}
}

func TestLengthUnknownUntilDeclared(t *testing.T) {
	l, err := NewLink(LinkConfig{Capacity: 4})
	if err != nil {
		t.Fatalf("NewLink: %v", err)
	}
	r, w := l.Reader(), l.Writer()
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})

	if _, err := r.Length(); err != ErrLengthUnknown {
		t.Fatalf("expected ErrLengthUnknown, got %v", err)
	}
	if _, err := w.Length(); err != ErrLengthUnknown {
		t.Fatalf("expected ErrLengthUnknown, got %v", err)
	}

	l.SetKnownLength(9, false)
	if n, err := r.Length(); err != nil || n != 9 {
		t.Fatalf("reader Length: got (%d, %v)", n, err)
	}
	if n, err := w.Length(); err != nil || n != 9 {
		t.Fatalf("writer Length: got (%d, %v)", n, err)
	}

	// Declaring a negative length marks it unknown again.
	l.SetKnownLength(-1, false)
	if _, err := w.Length(); err != ErrLengthUnknown {
		t.Fatalf("expected ErrLengthUnknown, got %v", err)
	}
}
