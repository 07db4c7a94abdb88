package internal

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
	xtiff "golang.org/x/image/tiff"
)

func testImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	for x := 0; x < 16; x++ {
		for y := 0; y < 12; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 20), B: 128, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage()); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

func shortVal(v uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, v)
}

// describedBlock carries unrelated metadata in IFD0, the Exif IFD and GPS.
func describedBlock() *exifBlock {
	b := newExifBlock()
	b.ifd0 = []ifdEntry{
		{ID: 0x010F, Type: tiff.DTAscii, Count: 5, Val: []byte("Acme\x00")},
		{ID: 0x0110, Type: tiff.DTAscii, Count: 10, Val: []byte("Shot 3000\x00")},
		{ID: 0x0112, Type: tiff.DTShort, Count: 1, Val: shortVal(6)},
		{ID: 0x0131, Type: tiff.DTAscii, Count: 14, Val: []byte("screencapture\x00")},
	}
	b.exif = []ifdEntry{
		{ID: 0x9003, Type: tiff.DTAscii, Count: 20, Val: []byte("2024:05:01 10:20:30\x00")},
		{ID: 0xA002, Type: tiff.DTLong, Count: 1, Val: binary.BigEndian.AppendUint32(nil, 16)},
	}
	b.gps = []ifdEntry{
		{ID: 0x0001, Type: tiff.DTAscii, Count: 2, Val: []byte("N\x00")},
	}
	return b
}

func withExif(t *testing.T, data []byte, block *exifBlock) []byte {
	t.Helper()
	switch sniffFormat(data) {
	case formatJPEG:
		loc, err := findJPEGExif(data)
		if err != nil {
			t.Fatalf("findJPEGExif: %v", err)
		}
		out, err := spliceJPEGExif(data, loc, block.bytes())
		if err != nil {
			t.Fatalf("spliceJPEGExif: %v", err)
		}
		return out
	case formatPNG:
		_, start, end, err := findPNGExif(data)
		if err != nil {
			t.Fatalf("findPNGExif: %v", err)
		}
		return splicePNGExif(data, start, end, block.bytes())
	}
	t.Fatalf("unsupported test container")
	return nil
}

func findEntry(entries []ifdEntry, id uint16) (ifdEntry, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return ifdEntry{}, false
}

func countEntries(entries []ifdEntry, id uint16) int {
	n := 0
	for _, e := range entries {
		if e.ID == id {
			n++
		}
	}
	return n
}

func parsedBlock(t *testing.T, data []byte) *exifBlock {
	t.Helper()
	raw, err := extractExifBlock(data)
	if err != nil {
		t.Fatalf("extractExifBlock: %v", err)
	}
	block, err := parseExifBlock(raw)
	if err != nil {
		t.Fatalf("parseExifBlock: %v", err)
	}
	return block
}

func samePixels(t *testing.T, a, b []byte) {
	t.Helper()
	imgA, _, err := image.Decode(bytes.NewReader(a))
	if err != nil {
		t.Fatalf("decode a: %v", err)
	}
	imgB, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("decode b: %v", err)
	}
	if imgA.Bounds() != imgB.Bounds() {
		t.Fatalf("bounds differ: %v vs %v", imgA.Bounds(), imgB.Bounds())
	}
	for y := imgA.Bounds().Min.Y; y < imgA.Bounds().Max.Y; y++ {
		for x := imgA.Bounds().Min.X; x < imgA.Bounds().Max.X; x++ {
			r1, g1, b1, a1 := imgA.At(x, y).RGBA()
			r2, g2, b2, a2 := imgB.At(x, y).RGBA()
			if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
				t.Fatalf("pixel (%d,%d) differs", x, y)
			}
		}
	}
}

func TestExifRewriter_SetsMarker(t *testing.T) {
	tests := []struct {
		name string
		data func(*testing.T) []byte
	}{
		{"png without metadata", encodePNG},
		{"jpeg without metadata", encodeJPEG},
		{"png with metadata", func(t *testing.T) []byte { return withExif(t, encodePNG(t), describedBlock()) }},
		{"jpeg with metadata", func(t *testing.T) []byte { return withExif(t, encodeJPEG(t), describedBlock()) }},
	}

	r := NewExifRewriter("Screenshot", nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.data(t)
			out := r.Rewrite(in)

			comment, err := ReadUserComment(out)
			if err != nil {
				t.Fatalf("ReadUserComment: %v", err)
			}
			if comment != "Screenshot" {
				t.Errorf("UserComment = %q, want Screenshot", comment)
			}
			if sniffFormat(out) != sniffFormat(in) {
				t.Errorf("container changed from %s to %s", sniffFormat(in), sniffFormat(out))
			}
			samePixels(t, in, out)
		})
	}
}

func TestExifRewriter_Idempotent(t *testing.T) {
	r := NewExifRewriter("Screenshot", nil)
	for name, in := range map[string][]byte{
		"png":  withExif(t, encodePNG(t), describedBlock()),
		"jpeg": withExif(t, encodeJPEG(t), describedBlock()),
	} {
		t.Run(name, func(t *testing.T) {
			once := r.Rewrite(in)
			twice := r.Rewrite(once)
			if !bytes.Equal(once, twice) {
				t.Errorf("second rewrite changed the bytes")
			}
			block := parsedBlock(t, twice)
			if n := countEntries(block.exif, tagUserComment); n != 1 {
				t.Errorf("expected exactly one UserComment, found %d", n)
			}
			if got, _ := block.userComment(); got != "Screenshot" {
				t.Errorf("UserComment = %q", got)
			}
		})
	}
}

func TestExifRewriter_ReplacesExistingComment(t *testing.T) {
	block := describedBlock()
	block.setUserComment("holiday")
	in := withExif(t, encodeJPEG(t), block)

	out := NewExifRewriter("Screenshot", nil).Rewrite(in)
	got := parsedBlock(t, out)
	if n := countEntries(got.exif, tagUserComment); n != 1 {
		t.Fatalf("expected one UserComment, found %d", n)
	}
	if c, _ := got.userComment(); c != "Screenshot" {
		t.Errorf("UserComment = %q, want Screenshot", c)
	}
}

func TestExifRewriter_PreservesUnrelatedFields(t *testing.T) {
	want := describedBlock()
	for name, in := range map[string][]byte{
		"png":  withExif(t, encodePNG(t), describedBlock()),
		"jpeg": withExif(t, encodeJPEG(t), describedBlock()),
	} {
		t.Run(name, func(t *testing.T) {
			out := NewExifRewriter("Screenshot", nil).Rewrite(in)
			got := parsedBlock(t, out)

			groups := []struct {
				name      string
				want, got []ifdEntry
			}{
				{"ifd0", want.ifd0, got.ifd0},
				{"exif", want.exif, got.exif},
				{"gps", want.gps, got.gps},
			}
			for _, g := range groups {
				for _, w := range g.want {
					e, ok := findEntry(g.got, w.ID)
					if !ok {
						t.Errorf("%s: tag 0x%04X lost", g.name, w.ID)
						continue
					}
					if e.Type != w.Type || e.Count != w.Count || !bytes.Equal(e.Val, w.Val) {
						t.Errorf("%s: tag 0x%04X changed: got %+v want %+v", g.name, w.ID, e, w)
					}
				}
			}
			if len(got.ifd0) != len(want.ifd0) {
				t.Errorf("ifd0 has %d entries, want %d", len(got.ifd0), len(want.ifd0))
			}
			if len(got.exif) != len(want.exif)+1 {
				t.Errorf("exif has %d entries, want %d", len(got.exif), len(want.exif)+1)
			}

			x, err := exif.Decode(bytes.NewReader(mustExtract(t, out)))
			if err != nil && x == nil {
				t.Fatalf("goexif decode: %v", err)
			}
			makeTag, err := x.Get(exif.Make)
			if err != nil {
				t.Fatalf("Make missing: %v", err)
			}
			if s, _ := makeTag.StringVal(); s != "Acme" {
				t.Errorf("Make = %q", s)
			}
		})
	}
}

func mustExtract(t *testing.T, data []byte) []byte {
	t.Helper()
	raw, err := extractExifBlock(data)
	if err != nil {
		t.Fatalf("extractExifBlock: %v", err)
	}
	return raw
}

func TestExifRewriter_JPEGScanDataUntouched(t *testing.T) {
	in := encodeJPEG(t)
	out := NewExifRewriter("Screenshot", nil).Rewrite(in)

	before, err := findJPEGExif(in)
	if err != nil {
		t.Fatal(err)
	}
	after, err := findJPEGExif(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(in[before.insertAt:], out[after.end:]) {
		t.Errorf("bytes after the exif segment differ")
	}
	if !bytes.Equal(in[:before.insertAt], out[:after.start]) {
		t.Errorf("bytes before the exif segment differ")
	}
}

func TestExifRewriter_NormalizesOtherFormats(t *testing.T) {
	var gifBuf bytes.Buffer
	if err := gif.Encode(&gifBuf, testImage(), nil); err != nil {
		t.Fatal(err)
	}
	var tiffBuf bytes.Buffer
	if err := xtiff.Encode(&tiffBuf, testImage(), nil); err != nil {
		t.Fatal(err)
	}

	r := NewExifRewriter("Screenshot", nil)
	for name, in := range map[string][]byte{"gif": gifBuf.Bytes(), "tiff": tiffBuf.Bytes()} {
		t.Run(name, func(t *testing.T) {
			out := r.Rewrite(in)
			if sniffFormat(out) != formatPNG {
				t.Fatalf("expected png output, got %s", sniffFormat(out))
			}
			if c, err := ReadUserComment(out); err != nil || c != "Screenshot" {
				t.Errorf("UserComment = %q, %v", c, err)
			}
			samePixels(t, in, out)
			if name == "tiff" {
				block := parsedBlock(t, out)
				if _, ok := findEntry(block.ifd0, tagStripOffsets); ok {
					t.Errorf("strip layout carried into png metadata")
				}
			}
		})
	}
}

func TestExifRewriter_PassthroughOnUndecodable(t *testing.T) {
	inputs := map[string][]byte{
		"pdf":            []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\n"),
		"garbage":        {0x00, 0x01, 0x02, 0x03},
		"empty":          {},
		"truncated jpeg": {0xFF, 0xD8, 0xFF, 0xE1, 0x00},
		"truncated png":  append(append([]byte(nil), pngSignature...), 0x00, 0x00),
	}
	r := NewExifRewriter("Screenshot", nil)
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			out := r.Rewrite(in)
			if !bytes.Equal(out, in) {
				t.Errorf("expected input unchanged")
			}
		})
	}
}

func TestNopRewriter_ReturnsSameBytes(t *testing.T) {
	in := encodePNG(t)
	out := NopRewriter{}.Rewrite(in)
	if len(out) != len(in) || &out[0] != &in[0] {
		t.Errorf("NopRewriter must return its input slice")
	}
}

func TestExifBlock_RoundTripLittleEndian(t *testing.T) {
	b := describedBlock()
	b.order = binary.LittleEndian
	for i := range b.ifd0 {
		if b.ifd0[i].Type == tiff.DTShort {
			b.ifd0[i].Val = binary.LittleEndian.AppendUint16(nil, 6)
		}
	}
	b.exif = b.exif[:1]
	b.setUserComment("Screenshot")

	got, err := parseExifBlock(b.bytes())
	if err != nil {
		t.Fatalf("parseExifBlock: %v", err)
	}
	if got.order != binary.LittleEndian {
		t.Errorf("byte order not kept")
	}
	if c, ok := got.userComment(); !ok || c != "Screenshot" {
		t.Errorf("UserComment = %q, %v", c, ok)
	}
	if e, ok := findEntry(got.ifd0, 0x0112); !ok || binary.LittleEndian.Uint16(e.Val) != 6 {
		t.Errorf("Orientation lost: %+v", e)
	}
}
