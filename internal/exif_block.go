package internal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/rwcarlsen/goexif/tiff"
)

// TIFF tag ids the rewriter needs to understand structurally. Every other tag
// is carried as opaque bytes.
const (
	tagImageWidth        = 0x0100
	tagImageLength       = 0x0101
	tagBitsPerSample     = 0x0102
	tagCompression       = 0x0103
	tagPhotometric       = 0x0106
	tagStripOffsets      = 0x0111
	tagSamplesPerPixel   = 0x0115
	tagRowsPerStrip      = 0x0116
	tagStripByteCounts   = 0x0117
	tagFreeOffsets       = 0x0120
	tagFreeByteCounts    = 0x0121
	tagPlanarConfig      = 0x011C
	tagPredictor         = 0x013D
	tagColorMap          = 0x0140
	tagTileWidth         = 0x0142
	tagTileLength        = 0x0143
	tagTileOffsets       = 0x0144
	tagTileByteCounts    = 0x0145
	tagSubIFDs           = 0x014A
	tagExtraSamples      = 0x0152
	tagSampleFormat      = 0x0153
	tagJPEGTables        = 0x015B
	tagThumbOffset       = 0x0201
	tagThumbLength       = 0x0202
	tagExifIFDPointer    = 0x8769
	tagGPSIFDPointer     = 0x8825
	tagUserComment       = 0x9286
	tagInteropIFDPointer = 0xA005
)

// userCommentASCII is the 8 byte character code prefix EXIF requires in front
// of a UserComment value.
var userCommentASCII = []byte("ASCII\x00\x00\x00")

// pixelLayoutTags describe how pixel data is stored in a TIFF file. They are
// meaningless once the pixels are re-encoded into another container.
var pixelLayoutTags = map[uint16]bool{
	tagImageWidth:      true,
	tagImageLength:     true,
	tagBitsPerSample:   true,
	tagCompression:     true,
	tagPhotometric:     true,
	tagStripOffsets:    true,
	tagSamplesPerPixel: true,
	tagRowsPerStrip:    true,
	tagStripByteCounts: true,
	tagFreeOffsets:     true,
	tagFreeByteCounts:  true,
	tagPlanarConfig:    true,
	tagPredictor:       true,
	tagColorMap:        true,
	tagTileWidth:       true,
	tagTileLength:      true,
	tagTileOffsets:     true,
	tagTileByteCounts:  true,
	tagExtraSamples:    true,
	tagSampleFormat:    true,
	tagJPEGTables:      true,
}

var errEmptyExif = errors.New("exif: block has no IFD0")

type ifdEntry struct {
	ID    uint16
	Type  tiff.DataType
	Count uint32
	Val   []byte
}

// exifBlock is the decoded metadata dictionary of one image: the IFDs of a
// TIFF-structured EXIF block with structural pointers stripped out. Pointers
// and offsets are rebuilt by bytes().
type exifBlock struct {
	order   binary.ByteOrder
	ifd0    []ifdEntry
	exif    []ifdEntry
	gps     []ifdEntry
	interop []ifdEntry
	ifd1    []ifdEntry
	thumb   []byte
}

func newExifBlock() *exifBlock {
	return &exifBlock{order: binary.BigEndian}
}

// parseExifBlock decodes a raw TIFF-structured EXIF block (starting at the
// "II" or "MM" byte order mark).
func parseExifBlock(raw []byte) (*exifBlock, error) {
	t, err := tiff.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("exif: decode tiff: %w", err)
	}
	if len(t.Dirs) == 0 {
		return nil, errEmptyExif
	}

	b := &exifBlock{order: t.Order}
	var exifOff, gpsOff int64 = -1, -1
	for _, tag := range t.Dirs[0].Tags {
		switch tag.Id {
		case tagExifIFDPointer:
			exifOff = int64(pointerValue(tag, t.Order))
		case tagGPSIFDPointer:
			gpsOff = int64(pointerValue(tag, t.Order))
		case tagSubIFDs:
			// points at IFDs this block does not carry
		default:
			b.ifd0 = append(b.ifd0, entryFromTag(tag))
		}
	}

	if exifOff >= 0 {
		dir, err := decodeSubDir(raw, exifOff, t.Order)
		if err != nil {
			return nil, fmt.Errorf("exif: exif sub-IFD: %w", err)
		}
		interopOff := int64(-1)
		for _, tag := range dir.Tags {
			if tag.Id == tagInteropIFDPointer {
				interopOff = int64(pointerValue(tag, t.Order))
				continue
			}
			b.exif = append(b.exif, entryFromTag(tag))
		}
		if interopOff >= 0 {
			if d, err := decodeSubDir(raw, interopOff, t.Order); err == nil {
				b.interop = entriesFromDir(d)
			}
		}
	}
	if gpsOff >= 0 {
		dir, err := decodeSubDir(raw, gpsOff, t.Order)
		if err != nil {
			return nil, fmt.Errorf("exif: gps sub-IFD: %w", err)
		}
		b.gps = entriesFromDir(dir)
	}

	if len(t.Dirs) > 1 {
		b.loadThumbnail(raw, t.Dirs[1])
	}
	return b, nil
}

// loadThumbnail keeps IFD1 only when its JPEG thumbnail can be copied out of
// the raw block; otherwise the thumbnail is dropped.
func (b *exifBlock) loadThumbnail(raw []byte, dir *tiff.Dir) {
	var off, n int64 = -1, -1
	var entries []ifdEntry
	for _, tag := range dir.Tags {
		switch tag.Id {
		case tagThumbOffset:
			off = int64(pointerValue(tag, b.order))
		case tagThumbLength:
			n = int64(pointerValue(tag, b.order))
		default:
			entries = append(entries, entryFromTag(tag))
		}
	}
	if off < 0 || n <= 0 || off+n > int64(len(raw)) {
		return
	}
	b.ifd1 = entries
	b.thumb = append([]byte(nil), raw[off:off+n]...)
}

func decodeSubDir(raw []byte, off int64, order binary.ByteOrder) (*tiff.Dir, error) {
	if off <= 0 || off >= int64(len(raw)) {
		return nil, fmt.Errorf("offset %d out of range", off)
	}
	r := bytes.NewReader(raw)
	if _, err := r.Seek(off, 0); err != nil {
		return nil, err
	}
	dir, _, err := tiff.DecodeDir(r, order)
	return dir, err
}

func pointerValue(tag *tiff.Tag, order binary.ByteOrder) uint32 {
	switch {
	case len(tag.Val) >= 4:
		return order.Uint32(tag.Val)
	case len(tag.Val) >= 2:
		return uint32(order.Uint16(tag.Val))
	}
	return 0
}

func entryFromTag(tag *tiff.Tag) ifdEntry {
	return ifdEntry{
		ID:    tag.Id,
		Type:  tag.Type,
		Count: tag.Count,
		Val:   append([]byte(nil), tag.Val...),
	}
}

func entriesFromDir(d *tiff.Dir) []ifdEntry {
	entries := make([]ifdEntry, 0, len(d.Tags))
	for _, tag := range d.Tags {
		entries = append(entries, entryFromTag(tag))
	}
	return entries
}

// setUserComment stores the marker as the Exif UserComment, replacing any
// previous value.
func (b *exifBlock) setUserComment(marker string) {
	val := append(append([]byte(nil), userCommentASCII...), marker...)
	b.exif = setEntry(b.exif, ifdEntry{
		ID:    tagUserComment,
		Type:  tiff.DTUndefined,
		Count: uint32(len(val)),
		Val:   val,
	})
}

// userComment returns the UserComment text without its character code prefix.
func (b *exifBlock) userComment() (string, bool) {
	for _, e := range b.exif {
		if e.ID != tagUserComment {
			continue
		}
		val := e.Val
		if len(val) >= 8 {
			val = val[8:]
		}
		return string(bytes.TrimRight(val, "\x00 ")), true
	}
	return "", false
}

// dropPixelLayout removes TIFF strip/tile bookkeeping so a TIFF file's IFD0
// can describe a re-encoded image.
func (b *exifBlock) dropPixelLayout() {
	kept := b.ifd0[:0]
	for _, e := range b.ifd0 {
		if !pixelLayoutTags[e.ID] {
			kept = append(kept, e)
		}
	}
	b.ifd0 = kept
	b.ifd1 = nil
	b.thumb = nil
}

func (b *exifBlock) dropThumbnail() {
	b.ifd1 = nil
	b.thumb = nil
}

func setEntry(entries []ifdEntry, e ifdEntry) []ifdEntry {
	for i := range entries {
		if entries[i].ID == e.ID {
			entries[i] = e
			return entries
		}
	}
	return append(entries, e)
}

type ifdLayout struct {
	entries []ifdEntry
	offset  uint32
}

func (l *ifdLayout) size() uint32 {
	n := 2 + 12*uint32(len(l.entries)) + 4
	for _, e := range l.entries {
		if len(e.Val) > 4 {
			n += uint32(len(e.Val) + len(e.Val)%2)
		}
	}
	return n
}

func pointerEntry(id uint16, order binary.ByteOrder, off uint32) ifdEntry {
	val := make([]byte, 4)
	order.PutUint32(val, off)
	return ifdEntry{ID: id, Type: tiff.DTLong, Count: 1, Val: val}
}

func sortedCopy(entries []ifdEntry) []ifdEntry {
	out := append([]ifdEntry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// bytes serializes the block as a TIFF structure in its original byte order.
// Tag values are written back unchanged; only offsets are recomputed.
func (b *exifBlock) bytes() []byte {
	order := b.order
	ifd0 := &ifdLayout{entries: sortedCopy(b.ifd0)}
	exif := &ifdLayout{entries: sortedCopy(b.exif)}
	gps := &ifdLayout{entries: sortedCopy(b.gps)}
	interop := &ifdLayout{entries: sortedCopy(b.interop)}
	ifd1 := &ifdLayout{entries: sortedCopy(b.ifd1)}

	hasExif := len(b.exif) > 0 || len(b.interop) > 0
	hasGPS := len(b.gps) > 0
	hasInterop := len(b.interop) > 0
	hasThumb := len(b.thumb) > 0

	// Pointer entries are added with placeholder values first so every IFD
	// has its final size before offsets are assigned.
	if hasExif {
		ifd0.entries = setEntry(ifd0.entries, pointerEntry(tagExifIFDPointer, order, 0))
	}
	if hasGPS {
		ifd0.entries = setEntry(ifd0.entries, pointerEntry(tagGPSIFDPointer, order, 0))
	}
	if hasInterop {
		exif.entries = setEntry(exif.entries, pointerEntry(tagInteropIFDPointer, order, 0))
	}
	if hasThumb {
		ifd1.entries = setEntry(ifd1.entries, pointerEntry(tagThumbOffset, order, 0))
		ifd1.entries = setEntry(ifd1.entries, pointerEntry(tagThumbLength, order, uint32(len(b.thumb))))
	}

	layouts := []*ifdLayout{ifd0}
	if hasExif {
		layouts = append(layouts, exif)
	}
	if hasGPS {
		layouts = append(layouts, gps)
	}
	if hasInterop {
		layouts = append(layouts, interop)
	}
	if hasThumb {
		layouts = append(layouts, ifd1)
	}

	off := uint32(8)
	for _, l := range layouts {
		l.offset = off
		off += l.size()
	}
	thumbOff := off

	if hasExif {
		ifd0.entries = setEntry(ifd0.entries, pointerEntry(tagExifIFDPointer, order, exif.offset))
	}
	if hasGPS {
		ifd0.entries = setEntry(ifd0.entries, pointerEntry(tagGPSIFDPointer, order, gps.offset))
	}
	if hasInterop {
		exif.entries = setEntry(exif.entries, pointerEntry(tagInteropIFDPointer, order, interop.offset))
	}
	if hasThumb {
		ifd1.entries = setEntry(ifd1.entries, pointerEntry(tagThumbOffset, order, thumbOff))
	}
	for _, l := range layouts {
		l.entries = sortedCopy(l.entries)
	}

	buf := make([]byte, 0, int(thumbOff)+len(b.thumb))
	if order == binary.LittleEndian {
		buf = append(buf, 'I', 'I')
	} else {
		buf = append(buf, 'M', 'M')
	}
	buf = appendUint16(buf, order, 42)
	buf = appendUint32(buf, order, ifd0.offset)

	for _, l := range layouts {
		next := uint32(0)
		if l == ifd0 && hasThumb {
			next = ifd1.offset
		}
		buf = appendIFD(buf, l, order, next)
	}
	return append(buf, b.thumb...)
}

func appendIFD(buf []byte, l *ifdLayout, order binary.ByteOrder, next uint32) []byte {
	buf = appendUint16(buf, order, uint16(len(l.entries)))
	dataOff := l.offset + 2 + 12*uint32(len(l.entries)) + 4
	var data []byte
	for _, e := range l.entries {
		buf = appendUint16(buf, order, e.ID)
		buf = appendUint16(buf, order, uint16(e.Type))
		buf = appendUint32(buf, order, e.Count)
		if len(e.Val) <= 4 {
			inline := make([]byte, 4)
			copy(inline, e.Val)
			buf = append(buf, inline...)
			continue
		}
		buf = appendUint32(buf, order, dataOff+uint32(len(data)))
		data = append(data, e.Val...)
		if len(e.Val)%2 == 1 {
			data = append(data, 0)
		}
	}
	buf = appendUint32(buf, order, next)
	return append(buf, data...)
}

func appendUint16(buf []byte, order binary.ByteOrder, v uint16) []byte {
	var b [2]byte
	order.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendUint32(buf []byte, order binary.ByteOrder, v uint32) []byte {
	var b [4]byte
	order.PutUint32(b[:], v)
	return append(buf, b[:]...)
}
