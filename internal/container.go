package internal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// imageFormat is the container format sniffed from the leading bytes.
type imageFormat string

const (
	formatJPEG    imageFormat = "jpeg"
	formatPNG     imageFormat = "png"
	formatTIFF    imageFormat = "tiff"
	formatOther   imageFormat = "other"
	maxAPP1Length             = 0xFFFF - 2
)

var (
	pngSignature = []byte("\x89PNG\r\n\x1a\n")
	exifHeader   = []byte("Exif\x00\x00")

	errNotJPEG     = errors.New("container: not a jpeg stream")
	errNotPNG      = errors.New("container: not a png stream")
	errTruncated   = errors.New("container: truncated segment")
	errAPP1TooLong = errors.New("container: exif segment exceeds 64KiB")
)

func sniffFormat(data []byte) imageFormat {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return formatJPEG
	case bytes.HasPrefix(data, pngSignature):
		return formatPNG
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return formatTIFF
	}
	return formatOther
}

// jpegExif locates the Exif APP1 segment of a JPEG stream. start/end bound the
// whole segment (marker included); start == end == insertAt when there is none.
type jpegExif struct {
	block      []byte
	start, end int
	insertAt   int
}

func findJPEGExif(data []byte) (*jpegExif, error) {
	if sniffFormat(data) != formatJPEG {
		return nil, errNotJPEG
	}
	res := &jpegExif{start: -1, insertAt: 2}
	leading := true
	scan := false
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			return nil, fmt.Errorf("container: bad marker at %d", pos)
		}
		marker := data[pos+1]
		if marker == 0xFF {
			pos++
			continue
		}
		if marker == 0xDA || marker == 0xD9 {
			scan = true
			break
		}
		length := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		end := pos + 2 + length
		if length < 2 || end > len(data) {
			return nil, errTruncated
		}
		switch {
		case marker == 0xE0 && leading:
			res.insertAt = end
		case marker == 0xE1 && res.start < 0 && bytes.HasPrefix(data[pos+4:end], exifHeader):
			res.start, res.end = pos, end
			res.block = data[pos+4+len(exifHeader) : end]
			leading = false
		default:
			leading = false
		}
		pos = end
	}
	if !scan {
		return nil, errTruncated
	}
	if res.start < 0 {
		res.start, res.end = res.insertAt, res.insertAt
	}
	return res, nil
}

// spliceJPEGExif replaces (or inserts) the Exif APP1 segment. The rest of the
// stream, including entropy-coded data, is copied unchanged.
func spliceJPEGExif(data []byte, loc *jpegExif, block []byte) ([]byte, error) {
	payload := len(exifHeader) + len(block)
	if payload+2 > maxAPP1Length {
		return nil, errAPP1TooLong
	}
	out := make([]byte, 0, len(data)-(loc.end-loc.start)+payload+4)
	out = append(out, data[:loc.start]...)
	out = append(out, 0xFF, 0xE1)
	out = binary.BigEndian.AppendUint16(out, uint16(payload+2))
	out = append(out, exifHeader...)
	out = append(out, block...)
	return append(out, data[loc.end:]...), nil
}

type pngChunk struct {
	typ        string
	start, end int
}

func pngChunks(data []byte) ([]pngChunk, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, errNotPNG
	}
	var chunks []pngChunk
	pos := len(pngSignature)
	for pos+8 <= len(data) {
		n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		end := pos + 12 + n
		if n < 0 || end > len(data) {
			return nil, errTruncated
		}
		c := pngChunk{typ: string(data[pos+4 : pos+8]), start: pos, end: end}
		chunks = append(chunks, c)
		pos = end
		if c.typ == "IEND" {
			break
		}
	}
	return chunks, nil
}

// findPNGExif returns the eXIf payload, if any, and the byte range it occupies.
// Without one, the range is an empty slot right before the first IDAT.
func findPNGExif(data []byte) (block []byte, start, end int, err error) {
	chunks, err := pngChunks(data)
	if err != nil {
		return nil, 0, 0, err
	}
	slot := -1
	for _, c := range chunks {
		switch c.typ {
		case "eXIf":
			return data[c.start+8 : c.end-4], c.start, c.end, nil
		case "IDAT":
			if slot < 0 {
				slot = c.start
			}
		}
	}
	if slot < 0 {
		return nil, 0, 0, fmt.Errorf("container: png without IDAT")
	}
	return nil, slot, slot, nil
}

func splicePNGExif(data []byte, start, end int, block []byte) []byte {
	chunk := make([]byte, 0, len(block)+12)
	chunk = binary.BigEndian.AppendUint32(chunk, uint32(len(block)))
	chunk = append(chunk, "eXIf"...)
	chunk = append(chunk, block...)
	chunk = binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(chunk[4:]))

	out := make([]byte, 0, len(data)-(end-start)+len(chunk))
	out = append(out, data[:start]...)
	out = append(out, chunk...)
	return append(out, data[end:]...)
}

// extractExifBlock returns the raw TIFF-structured EXIF block embedded in a
// JPEG or PNG stream, or the stream itself for a TIFF file.
func extractExifBlock(data []byte) ([]byte, error) {
	switch sniffFormat(data) {
	case formatJPEG:
		loc, err := findJPEGExif(data)
		if err != nil {
			return nil, err
		}
		if loc.block == nil {
			return nil, errNoExif
		}
		return loc.block, nil
	case formatPNG:
		block, _, _, err := findPNGExif(data)
		if err != nil {
			return nil, err
		}
		if block == nil {
			return nil, errNoExif
		}
		return block, nil
	case formatTIFF:
		return data, nil
	}
	return nil, errNoExif
}

var errNoExif = errors.New("container: no exif metadata")
