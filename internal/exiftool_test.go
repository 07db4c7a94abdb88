package internal

import (
	"bytes"
	"testing"
)

// countingRewriter records how often the exiftool rewriter handed bytes to
// its fallback.
type countingRewriter struct {
	next  Rewriter
	calls int
}

func (c *countingRewriter) Rewrite(data []byte) []byte {
	c.calls++
	return c.next.Rewrite(data)
}

func TestExiftoolRewriter_Fallback(t *testing.T) {
	fallback := &countingRewriter{next: NewExifRewriter(DefaultMarker, nil)}
	r := NewExiftoolRewriter(DefaultMarker, fallback, nil)
	defer r.Close()

	pdf := []byte("%PDF-1.4\n%%EOF\n")
	if out := r.Rewrite(pdf); !bytes.Equal(out, pdf) {
		t.Errorf("Undecodable payloads must pass through")
	}
	if fallback.calls != 1 {
		t.Errorf("Unknown formats go to the fallback, got %d calls", fallback.calls)
	}

	if r.Available() {
		return
	}
	src := encodeJPEG(t)
	out := r.Rewrite(src)
	if fallback.calls != 2 {
		t.Errorf("Without exiftool every payload goes to the fallback, got %d calls", fallback.calls)
	}
	comment, err := ReadUserComment(out)
	if err != nil || comment != DefaultMarker {
		t.Fatalf("UserComment = %q, %v", comment, err)
	}
	samePixels(t, src, out)
}

func TestExiftoolRewriter_WritesUserComment(t *testing.T) {
	fallback := &countingRewriter{next: NopRewriter{}}
	r := NewExiftoolRewriter(DefaultMarker, fallback, nil)
	defer r.Close()
	if !r.Available() {
		t.Skip("exiftool not installed")
	}

	src := encodeJPEG(t)
	out := r.Rewrite(src)
	if fallback.calls != 0 {
		t.Fatalf("exiftool should handle the JPEG itself, fallback ran %d times", fallback.calls)
	}
	if bytes.Equal(out, src) {
		t.Fatalf("exiftool returned the payload unchanged")
	}
	comment, err := ReadUserComment(out)
	if err != nil || comment != DefaultMarker {
		t.Fatalf("UserComment = %q, %v", comment, err)
	}
	samePixels(t, src, out)
}
