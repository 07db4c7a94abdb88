package internal

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrPermissionDenied means the library has not granted access. Fatal.
	ErrPermissionDenied = errors.New("library access not authorized")
	// ErrCollectionUnavailable means the target album could not be resolved or created. Fatal.
	ErrCollectionUnavailable = errors.New("collection unavailable")
	// ErrNoCollection means a commit was attempted without a resolved collection.
	ErrNoCollection = errors.New("no collection resolved")
	// ErrDirectoryUnreadable means the watch directory is missing or cannot be listed. Fatal.
	ErrDirectoryUnreadable = errors.New("directory unreadable")
	// ErrWatchDirUnavailable means the watch directory did not exist and could not be created. Fatal.
	ErrWatchDirUnavailable = errors.New("watch directory cannot be created")
	// ErrCommitTimedOut means no outcome arrived within the commit timeout.
	ErrCommitTimedOut = errors.New("commit timed out")
)

// TransactionError is a failed library change. It only affects one file.
type TransactionError struct {
	Reason string
	Err    error
}

func (e *TransactionError) Error() string {
	if e.Err == nil {
		return "transaction failed: " + e.Reason
	}
	return fmt.Sprintf("transaction failed: %s: %v", e.Reason, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// ErrorKind names the pipeline step that failed.
type ErrorKind string

const (
	KindReadFailed            ErrorKind = "read_failed"
	KindCommitFailed          ErrorKind = "commit_failed"
	KindCommitTimedOut        ErrorKind = "commit_timed_out"
	KindDeleteFailed          ErrorKind = "delete_failed"
	KindCollectionUnavailable ErrorKind = "collection_unavailable"
	KindPermissionDenied      ErrorKind = "permission_denied"
	KindDirectoryUnreadable   ErrorKind = "directory_unreadable"
)

// ErrorCategory represents the type of error encountered
type ErrorCategory string

const (
	ErrorCategoryIO          ErrorCategory = "io_error"           // File system, permissions, disk space
	ErrorCategoryLibrary     ErrorCategory = "library_error"      // Catalog transaction or collection failures
	ErrorCategoryTimeout     ErrorCategory = "timeout"            // No commit outcome in time
	ErrorCategoryUnsupported ErrorCategory = "unsupported_format" // Unrecognized file format
	ErrorCategoryUnknown     ErrorCategory = "unknown_error"
)

// ErrorSeverity indicates how critical the error is
type ErrorSeverity string

const (
	ErrorSeverityCritical ErrorSeverity = "critical" // aborts the run
	ErrorSeverityError    ErrorSeverity = "error"    // the file was not imported
	ErrorSeverityWarning  ErrorSeverity = "warning"  // imported, but cleanup failed
)

// ProcessError is a categorized failure of one pipeline step.
type ProcessError struct {
	FilePath    string
	Kind        ErrorKind
	Category    ErrorCategory
	Severity    ErrorSeverity
	OriginalErr error
	Suggestion  string
}

func (e *ProcessError) Error() string {
	if e.FilePath == "" {
		return fmt.Sprintf("[%s/%s] %v", e.Severity, e.Kind, e.OriginalErr)
	}
	return fmt.Sprintf("[%s/%s] %s: %v", e.Severity, e.Kind, e.FilePath, e.OriginalErr)
}

func (e *ProcessError) Unwrap() error { return e.OriginalErr }

// IsFatal reports whether the error must abort the whole run.
func (e *ProcessError) IsFatal() bool {
	return e.Severity == ErrorSeverityCritical
}

// NewProcessError classifies err for the given pipeline step.
func NewProcessError(filePath string, kind ErrorKind, err error) *ProcessError {
	if err == nil {
		return nil
	}
	procErr := &ProcessError{
		FilePath:    filePath,
		Kind:        kind,
		OriginalErr: err,
	}

	switch kind {
	case KindPermissionDenied:
		procErr.Category = ErrorCategoryLibrary
		procErr.Severity = ErrorSeverityCritical
		procErr.Suggestion = "Grant write access to the library directory and run again"
	case KindCollectionUnavailable:
		procErr.Category = ErrorCategoryLibrary
		procErr.Severity = ErrorSeverityCritical
		procErr.Suggestion = "Check the album name and that the library catalog is writable"
	case KindDirectoryUnreadable:
		procErr.Category = ErrorCategoryIO
		procErr.Severity = ErrorSeverityCritical
		procErr.Suggestion = "Create the watch directory or fix checkPath in the settings"
	case KindCommitTimedOut:
		procErr.Category = ErrorCategoryTimeout
		procErr.Severity = ErrorSeverityError
		procErr.Suggestion = "The library did not answer in time; the file was kept and will be picked up by the next run"
	case KindDeleteFailed:
		procErr.Category = ErrorCategoryIO
		procErr.Severity = ErrorSeverityWarning
		procErr.Suggestion = "The screenshot is in the library; remove the source file by hand"
	case KindReadFailed:
		procErr.Category = ErrorCategoryIO
		procErr.Severity = ErrorSeverityError
		procErr.Suggestion = "The file was left untouched; check that it is readable"
	case KindCommitFailed:
		procErr.Category = ErrorCategoryLibrary
		procErr.Severity = ErrorSeverityError
		procErr.Suggestion = "The file was kept in place; check the log for the transaction error"
	default:
		procErr.Severity = ErrorSeverityError
	}

	categorizeByMessage(procErr)
	return procErr
}

// categorizeByMessage refines category and suggestion from well-known OS
// error texts.
func categorizeByMessage(procErr *ProcessError) {
	errStr := strings.ToLower(procErr.OriginalErr.Error())
	switch {
	case strings.Contains(errStr, "no space left"):
		procErr.Category = ErrorCategoryIO
		procErr.Suggestion = "Free up disk space on the library drive and retry the import"
	case strings.Contains(errStr, "read-only file system"):
		procErr.Category = ErrorCategoryIO
		procErr.Suggestion = "Library filesystem is read-only - check mount options"
	case strings.Contains(errStr, "too many open files"):
		procErr.Category = ErrorCategoryIO
		procErr.Suggestion = "System file descriptor limit reached - increase ulimit or restart"
	case strings.Contains(errStr, "permission denied") && procErr.Kind == KindReadFailed:
		procErr.Suggestion = "Check file permissions on the watch directory"
	case strings.Contains(errStr, "no such file") && procErr.Kind == KindReadFailed:
		procErr.Category = ErrorCategoryIO
		procErr.Suggestion = "The screenshot disappeared before it could be read"
	case strings.Contains(errStr, "unsupported") || strings.Contains(errStr, "unknown format"):
		procErr.Category = ErrorCategoryUnsupported
		procErr.Suggestion = "File format not recognized"
	}
	if procErr.Category == "" {
		procErr.Category = ErrorCategoryUnknown
		procErr.Suggestion = "Unexpected error - check logs for details"
	}
}

// KindOf maps a fatal sentinel error to its kind.
func KindOf(err error) ErrorKind {
	var procErr *ProcessError
	switch {
	case errors.As(err, &procErr):
		return procErr.Kind
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrCollectionUnavailable), errors.Is(err, ErrNoCollection):
		return KindCollectionUnavailable
	case errors.Is(err, ErrDirectoryUnreadable):
		return KindDirectoryUnreadable
	case errors.Is(err, ErrCommitTimedOut):
		return KindCommitTimedOut
	}
	return KindCommitFailed
}

// ErrorStats tracks error statistics during a run
type ErrorStats struct {
	Total      int
	Critical   int
	Errors     int
	Warnings   int
	ByCategory map[ErrorCategory]int
	ByKind     map[ErrorKind]int
	LastErrors []*ProcessError // Last 5 errors for quick diagnosis
}

func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ByCategory: make(map[ErrorCategory]int),
		ByKind:     make(map[ErrorKind]int),
		LastErrors: make([]*ProcessError, 0, 5),
	}
}

func (s *ErrorStats) Add(err *ProcessError) {
	s.Total++
	s.ByCategory[err.Category]++
	s.ByKind[err.Kind]++

	switch err.Severity {
	case ErrorSeverityCritical:
		s.Critical++
	case ErrorSeverityError:
		s.Errors++
	case ErrorSeverityWarning:
		s.Warnings++
	}

	if len(s.LastErrors) >= 5 {
		s.LastErrors = s.LastErrors[1:]
	}
	s.LastErrors = append(s.LastErrors, err)
}

// GenerateReport creates a human-readable error report
func (s *ErrorStats) GenerateReport() string {
	var report strings.Builder

	fmt.Fprintf(&report, "\nImport encountered %d problems:\n\n", s.Total)
	if s.Critical > 0 {
		fmt.Fprintf(&report, "  Critical: %d (run aborted)\n", s.Critical)
	}
	if s.Errors > 0 {
		fmt.Fprintf(&report, "  Errors:   %d (files not imported)\n", s.Errors)
	}
	if s.Warnings > 0 {
		fmt.Fprintf(&report, "  Warnings: %d (imported, cleanup failed)\n", s.Warnings)
	}

	report.WriteString("\nError categories:\n")
	categories := make([]string, 0, len(s.ByCategory))
	for cat := range s.ByCategory {
		categories = append(categories, string(cat))
	}
	sort.Strings(categories)
	for _, cat := range categories {
		fmt.Fprintf(&report, "  - %s: %d\n", cat, s.ByCategory[ErrorCategory(cat)])
	}

	report.WriteString("\nRecent errors:\n")
	for i, err := range s.LastErrors {
		fmt.Fprintf(&report, "\n%d. %s\n", i+1, err.FilePath)
		fmt.Fprintf(&report, "   Kind: %s | Severity: %s\n", err.Kind, err.Severity)
		fmt.Fprintf(&report, "   Error: %v\n", err.OriginalErr)
		if err.Suggestion != "" {
			fmt.Fprintf(&report, "   Suggestion: %s\n", err.Suggestion)
		}
	}

	report.WriteString("\n")
	report.WriteString(s.generateSuggestions())
	return report.String()
}

func (s *ErrorStats) generateSuggestions() string {
	var suggestions strings.Builder
	suggestions.WriteString("Suggested next steps:\n")

	if s.ByCategory[ErrorCategoryIO] > 0 {
		suggestions.WriteString("  - Check disk space and permissions on the watch and library directories\n")
	}
	if s.ByKind[KindCommitTimedOut] > 0 {
		suggestions.WriteString("  - Raise commitTimeout in the settings if the library drive is slow\n")
	}
	if s.ByKind[KindCommitFailed] > 0 {
		suggestions.WriteString("  - Inspect the library log for transaction errors\n")
	}
	suggestions.WriteString("  - Check the session manifest for a per-file log\n")
	return suggestions.String()
}
