package internal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ImportSession manages one import pass with manifest logging and a browse
// directory of hardlinks to the imported assets.
type ImportSession struct {
	ID            string         // Session ID (timestamp plus short random suffix)
	LibraryPath   string         // Library root path
	SessionDir    string         // Full path to session directory
	ManifestFile  *os.File       // Open file handle for manifest.jsonl
	WatchDir      string         // Directory the candidates came from
	Album         string         // Collection the pass imports into
	usedFilenames map[string]int // Track filename usage for collision detection

	mu sync.Mutex
}

// ManifestEvent represents a single event in the manifest log
type ManifestEvent struct {
	Event   string `json:"event"`
	Ts      string `json:"ts"`
	Src     string `json:"src,omitempty"`
	AssetID string `json:"asset_id,omitempty"`
	Stored  string `json:"stored,omitempty"`
	Hash    string `json:"hash,omitempty"`
	Browse  string `json:"browse,omitempty"`
	Size    int64  `json:"size,omitempty"`
	Error   string `json:"error,omitempty"`

	// Error details (for categorized errors)
	ErrorKind       string `json:"error_kind,omitempty"`
	ErrorCategory   string `json:"error_category,omitempty"`
	ErrorSeverity   string `json:"error_severity,omitempty"`
	ErrorSuggestion string `json:"error_suggestion,omitempty"`

	// Session start/end fields
	WatchDir     string   `json:"watch_dir,omitempty"`
	Album        string   `json:"album,omitempty"`
	Candidates   int      `json:"candidates,omitempty"`
	Imported     int      `json:"imported,omitempty"`
	Deleted      int      `json:"deleted,omitempty"`
	Failed       int      `json:"failed,omitempty"`
	TimedOut     int      `json:"timed_out,omitempty"`
	DeleteFailed int      `json:"delete_failed,omitempty"`
	Unconfirmed  []string `json:"unconfirmed,omitempty"`
	DurationMS   int64    `json:"duration_ms,omitempty"`
}

// NewImportSession creates imports/<id>/manifest.jsonl inside the library.
func NewImportSession(libraryPath, watchDir, album string) (*ImportSession, error) {
	sessionID := time.Now().Format("2006-01-02-150405") + "-" + uuid.NewString()[:8]
	sessionDir := filepath.Join(libraryPath, "imports", sessionID)

	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	manifestPath := filepath.Join(sessionDir, "manifest.jsonl")
	manifestFile, err := os.OpenFile(manifestPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest file: %w", err)
	}

	return &ImportSession{
		ID:            sessionID,
		LibraryPath:   libraryPath,
		SessionDir:    sessionDir,
		ManifestFile:  manifestFile,
		WatchDir:      watchDir,
		Album:         album,
		usedFilenames: make(map[string]int),
	}, nil
}

// LogSessionStart writes the session start event to manifest
func (s *ImportSession) LogSessionStart(candidates int) error {
	return s.writeEvent(ManifestEvent{
		Event:      "session_start",
		WatchDir:   s.WatchDir,
		Album:      s.Album,
		Candidates: candidates,
	})
}

// LogImported records a confirmed commit.
func (s *ImportSession) LogImported(src string, asset *Asset, browse string) error {
	return s.writeEvent(ManifestEvent{
		Event:   "imported",
		Src:     src,
		AssetID: asset.ID,
		Stored:  asset.Path,
		Hash:    asset.SHA256,
		Size:    asset.Size,
		Browse:  browse,
	})
}

// LogDeleted records the removal of an imported source file.
func (s *ImportSession) LogDeleted(src string) error {
	return s.writeEvent(ManifestEvent{Event: "deleted", Src: src})
}

// LogDetailedError logs a categorized error with full details
func (s *ImportSession) LogDetailedError(src string, procErr *ProcessError) error {
	return s.writeEvent(ManifestEvent{
		Event:           "error",
		Src:             src,
		Error:           procErr.OriginalErr.Error(),
		ErrorKind:       string(procErr.Kind),
		ErrorCategory:   string(procErr.Category),
		ErrorSeverity:   string(procErr.Severity),
		ErrorSuggestion: procErr.Suggestion,
	})
}

// LogSessionEnd writes the session end event to manifest
func (s *ImportSession) LogSessionEnd(summary RunSummary) error {
	return s.writeEvent(ManifestEvent{
		Event:        "session_end",
		Candidates:   summary.Candidates,
		Imported:     summary.Imported,
		Deleted:      summary.Deleted,
		Failed:       summary.Failed,
		TimedOut:     summary.TimedOut,
		DeleteFailed: summary.DeleteFailed,
		Unconfirmed:  summary.Unconfirmed,
		DurationMS:   summary.Duration.Milliseconds(),
	})
}

// CreateHardlink links a stored asset into the session directory under its
// original file name. Returns the basename used (with collision suffix if
// needed).
func (s *ImportSession) CreateHardlink(libraryFilePath, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	basename := filepath.Base(name)
	if ext := filepath.Ext(libraryFilePath); ext != "" && !strings.EqualFold(filepath.Ext(basename), ext) {
		// the stored bytes may have been normalized to another container
		basename = strings.TrimSuffix(basename, filepath.Ext(basename)) + ext
	}

	count, exists := s.usedFilenames[basename]
	finalBasename := basename
	if exists {
		ext := filepath.Ext(basename)
		nameNoExt := strings.TrimSuffix(basename, ext)
		finalBasename = fmt.Sprintf("%s_%d%s", nameNoExt, count+1, ext)
	}
	s.usedFilenames[basename] = count + 1

	browsePath := filepath.Join(s.SessionDir, finalBasename)
	if err := os.Link(libraryFilePath, browsePath); err != nil {
		return "", fmt.Errorf("hardlink failed: %w", err)
	}
	return finalBasename, nil
}

// Close closes the manifest file and session
func (s *ImportSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ManifestFile != nil {
		err := s.ManifestFile.Close()
		s.ManifestFile = nil
		return err
	}
	return nil
}

// writeEvent writes a manifest event as a JSON line
func (s *ImportSession) writeEvent(event ManifestEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ManifestFile == nil {
		return fmt.Errorf("manifest closed")
	}

	event.Ts = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := s.ManifestFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write to manifest: %w", err)
	}
	return s.ManifestFile.Sync()
}
