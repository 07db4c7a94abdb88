package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/barasher/go-exiftool"
	"go.uber.org/zap"
)

// ExiftoolRewriter writes the marker through an external exiftool process.
// It covers formats the native writer can only normalize (TIFF, HEIC) without
// re-encoding them. Fallback handles the bytes when exiftool is missing.
type ExiftoolRewriter struct {
	Marker   string
	Fallback Rewriter
	Logger   *zap.Logger

	et *exiftool.Exiftool
}

// NewExiftoolRewriter starts a long-lived exiftool process. When exiftool is
// not installed the returned rewriter delegates everything to fallback.
func NewExiftoolRewriter(marker string, fallback Rewriter, logger *zap.Logger) *ExiftoolRewriter {
	if marker == "" {
		marker = DefaultMarker
	}
	if fallback == nil {
		fallback = NopRewriter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &ExiftoolRewriter{Marker: marker, Fallback: fallback, Logger: logger}
	et, err := exiftool.NewExiftool()
	if err != nil {
		logger.Warn("exiftool unavailable, using built-in exif writer", zap.Error(err))
		return r
	}
	r.et = et
	return r
}

// Available reports whether an exiftool process backs this rewriter.
func (r *ExiftoolRewriter) Available() bool {
	return r.et != nil
}

func (r *ExiftoolRewriter) Rewrite(data []byte) []byte {
	if r.et == nil || sniffFormat(data) == formatOther {
		return r.Fallback.Rewrite(data)
	}
	out, err := r.rewrite(data)
	if err != nil {
		r.Logger.Debug("exiftool rewrite skipped", zap.Error(err))
		return data
	}
	return out
}

func (r *ExiftoolRewriter) rewrite(data []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "shotimport-exif")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "payload"+extensionFor(sniffFormat(data)))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, err
	}

	// only UserComment is written; every other tag stays as exiftool found it
	fm := exiftool.FileMetadata{File: path, Fields: map[string]interface{}{}}
	fm.SetString("UserComment", r.Marker)
	batch := []exiftool.FileMetadata{fm}
	r.et.WriteMetadata(batch)
	if batch[0].Err != nil {
		return nil, fmt.Errorf("exiftool: write: %w", batch[0].Err)
	}
	return os.ReadFile(path)
}

// Close stops the exiftool process.
func (r *ExiftoolRewriter) Close() error {
	if r.et == nil {
		return nil
	}
	return r.et.Close()
}

func extensionFor(f imageFormat) string {
	switch f {
	case formatJPEG:
		return ".jpg"
	case formatPNG:
		return ".png"
	case formatTIFF:
		return ".tif"
	}
	return ""
}
