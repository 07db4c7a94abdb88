package internal

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	// Formats that are normalized to PNG when tagged.
	_ "image/gif"

	"github.com/rwcarlsen/goexif/exif"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultMarker is the UserComment value written into imported screenshots.
const DefaultMarker = "Screenshot"

// Rewriter annotates image bytes before they are committed to the library.
// Rewrite never fails: on any error it returns its input unchanged.
type Rewriter interface {
	Rewrite(data []byte) []byte
}

// NopRewriter passes bytes through untouched. Used when tagging is disabled.
type NopRewriter struct{}

func (NopRewriter) Rewrite(data []byte) []byte { return data }

// ExifRewriter sets the EXIF UserComment of JPEG and PNG streams in place and
// normalizes other decodable formats to PNG with an eXIf chunk.
type ExifRewriter struct {
	Marker string
	Logger *zap.Logger
}

func NewExifRewriter(marker string, logger *zap.Logger) *ExifRewriter {
	if marker == "" {
		marker = DefaultMarker
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExifRewriter{Marker: marker, Logger: logger}
}

func (r *ExifRewriter) Rewrite(data []byte) []byte {
	out, err := r.rewrite(data)
	if err != nil {
		r.Logger.Debug("metadata rewrite skipped", zap.Error(err))
		return data
	}
	return out
}

func (r *ExifRewriter) rewrite(data []byte) ([]byte, error) {
	switch sniffFormat(data) {
	case formatJPEG:
		return r.rewriteJPEG(data)
	case formatPNG:
		return r.rewritePNG(data)
	case formatTIFF:
		block, err := parseExifBlock(data)
		if err != nil {
			block = newExifBlock()
		}
		block.dropPixelLayout()
		return r.normalize(data, block)
	default:
		return r.normalize(data, newExifBlock())
	}
}

func (r *ExifRewriter) rewriteJPEG(data []byte) ([]byte, error) {
	loc, err := findJPEGExif(data)
	if err != nil {
		return nil, err
	}
	block := newExifBlock()
	if loc.block != nil {
		if block, err = parseExifBlock(loc.block); err != nil {
			return nil, err
		}
	}
	block.setUserComment(r.Marker)
	out, err := spliceJPEGExif(data, loc, block.bytes())
	if err == errAPP1TooLong && len(block.thumb) > 0 {
		// an oversized thumbnail is the only part worth giving up
		block.dropThumbnail()
		out, err = spliceJPEGExif(data, loc, block.bytes())
	}
	return out, err
}

func (r *ExifRewriter) rewritePNG(data []byte) ([]byte, error) {
	raw, start, end, err := findPNGExif(data)
	if err != nil {
		return nil, err
	}
	block := newExifBlock()
	if raw != nil {
		if block, err = parseExifBlock(raw); err != nil {
			return nil, err
		}
	}
	block.setUserComment(r.Marker)
	return splicePNGExif(data, start, end, block.bytes()), nil
}

// normalize re-encodes a decodable image as PNG, the one lossless container
// every supported source can be expressed in, and attaches the metadata.
func (r *ExifRewriter) normalize(data []byte, block *exifBlock) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	r.Logger.Debug("normalized image to png", zap.String("source_format", format))
	return r.rewritePNGBlock(buf.Bytes(), block)
}

func (r *ExifRewriter) rewritePNGBlock(data []byte, block *exifBlock) ([]byte, error) {
	_, start, end, err := findPNGExif(data)
	if err != nil {
		return nil, err
	}
	block.setUserComment(r.Marker)
	return splicePNGExif(data, start, end, block.bytes()), nil
}

// ReadUserComment returns the EXIF UserComment of a JPEG, PNG or TIFF stream.
func ReadUserComment(data []byte) (string, error) {
	raw, err := extractExifBlock(data)
	if err != nil {
		return "", err
	}
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil && x == nil {
		return "", fmt.Errorf("decode exif: %w", err)
	}
	tag, err := x.Get(exif.UserComment)
	if err != nil {
		return "", err
	}
	val := tag.Val
	if len(val) >= len(userCommentASCII) {
		val = val[len(userCommentASCII):]
	}
	return string(bytes.TrimRight(val, "\x00 ")), nil
}
