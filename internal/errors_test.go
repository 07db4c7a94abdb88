package internal

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewProcessError_Kinds(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		err      error
		category ErrorCategory
		severity ErrorSeverity
		fatal    bool
	}{
		{KindReadFailed, errors.New("open a.png: input/output error"), ErrorCategoryIO, ErrorSeverityError, false},
		{KindCommitFailed, &TransactionError{Reason: "commit", Err: errors.New("constraint failed")}, ErrorCategoryLibrary, ErrorSeverityError, false},
		{KindCommitTimedOut, ErrCommitTimedOut, ErrorCategoryTimeout, ErrorSeverityError, false},
		{KindDeleteFailed, errors.New("remove a.png: operation not permitted"), ErrorCategoryIO, ErrorSeverityWarning, false},
		{KindCollectionUnavailable, ErrCollectionUnavailable, ErrorCategoryLibrary, ErrorSeverityCritical, true},
		{KindPermissionDenied, ErrPermissionDenied, ErrorCategoryLibrary, ErrorSeverityCritical, true},
		{KindDirectoryUnreadable, ErrDirectoryUnreadable, ErrorCategoryIO, ErrorSeverityCritical, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			procErr := NewProcessError("/watch/a.png", tt.kind, tt.err)
			if procErr.Category != tt.category {
				t.Errorf("Expected category %s, got %s", tt.category, procErr.Category)
			}
			if procErr.Severity != tt.severity {
				t.Errorf("Expected severity %s, got %s", tt.severity, procErr.Severity)
			}
			if procErr.IsFatal() != tt.fatal {
				t.Errorf("Expected IsFatal=%v", tt.fatal)
			}
			if procErr.Suggestion == "" {
				t.Errorf("Expected a suggestion")
			}
			if !errors.Is(procErr, tt.err) {
				t.Errorf("ProcessError does not unwrap to %v", tt.err)
			}
		})
	}
}

func TestNewProcessError_Nil(t *testing.T) {
	if NewProcessError("/a.png", KindReadFailed, nil) != nil {
		t.Errorf("Expected nil for nil error")
	}
}

func TestNewProcessError_DiskSpace(t *testing.T) {
	err := &TransactionError{Reason: "commit", Err: errors.New("write failed: no space left on device")}
	procErr := NewProcessError("/watch/a.png", KindCommitFailed, err)

	if procErr.Category != ErrorCategoryIO {
		t.Errorf("Expected IO category, got %s", procErr.Category)
	}
	if !strings.Contains(procErr.Suggestion, "disk space") {
		t.Errorf("Expected disk space suggestion, got: %s", procErr.Suggestion)
	}
}

func TestNewProcessError_PermissionOnRead(t *testing.T) {
	err := errors.New("open /watch/a.png: permission denied")
	procErr := NewProcessError("/watch/a.png", KindReadFailed, err)

	if procErr.IsFatal() {
		t.Errorf("A read failure must not abort the run")
	}
	if !strings.Contains(procErr.Suggestion, "permissions") {
		t.Errorf("Expected permission suggestion, got: %s", procErr.Suggestion)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{fmt.Errorf("open library: %w", ErrPermissionDenied), KindPermissionDenied},
		{fmt.Errorf("%w: %q", ErrCollectionUnavailable, "Screenshots"), KindCollectionUnavailable},
		{ErrNoCollection, KindCollectionUnavailable},
		{fmt.Errorf("%w: /missing", ErrDirectoryUnreadable), KindDirectoryUnreadable},
		{NewProcessError("/a.png", KindDeleteFailed, errors.New("busy")), KindDeleteFailed},
		{&TransactionError{Reason: "commit"}, KindCommitFailed},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestTransactionError(t *testing.T) {
	inner := errors.New("database is locked")
	err := &TransactionError{Reason: "begin", Err: inner}
	if !errors.Is(err, inner) {
		t.Errorf("TransactionError does not unwrap")
	}
	if err.Error() != "transaction failed: begin: database is locked" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
	if (&TransactionError{Reason: "rejected"}).Error() != "transaction failed: rejected" {
		t.Errorf("Unexpected message without cause")
	}
}

func TestErrorStats_Add(t *testing.T) {
	stats := NewErrorStats()
	stats.Add(NewProcessError("/a.png", KindReadFailed, errors.New("input/output error")))
	stats.Add(NewProcessError("/b.png", KindCommitTimedOut, ErrCommitTimedOut))
	stats.Add(NewProcessError("/c.png", KindDeleteFailed, errors.New("busy")))

	if stats.Total != 3 {
		t.Errorf("Expected 3 total, got %d", stats.Total)
	}
	if stats.Errors != 2 || stats.Warnings != 1 || stats.Critical != 0 {
		t.Errorf("Unexpected severity counts: %+v", stats)
	}
	if stats.ByKind[KindCommitTimedOut] != 1 {
		t.Errorf("Expected one timeout, got %d", stats.ByKind[KindCommitTimedOut])
	}
}

func TestErrorStats_LastErrorsLimit(t *testing.T) {
	stats := NewErrorStats()
	for i := 0; i < 10; i++ {
		stats.Add(NewProcessError(fmt.Sprintf("/file%d.png", i), KindReadFailed, errors.New("input/output error")))
	}

	if len(stats.LastErrors) != 5 {
		t.Errorf("Expected 5 last errors, got %d", len(stats.LastErrors))
	}
	if stats.LastErrors[0].FilePath != "/file5.png" {
		t.Errorf("Expected oldest kept error to be /file5.png, got %s", stats.LastErrors[0].FilePath)
	}
}

func TestErrorStats_GenerateReport(t *testing.T) {
	stats := NewErrorStats()
	stats.Add(NewProcessError("/watch/a.png", KindCommitTimedOut, ErrCommitTimedOut))
	stats.Add(NewProcessError("/watch/b.png", KindCommitFailed, &TransactionError{Reason: "commit"}))

	report := stats.GenerateReport()
	for _, want := range []string{
		"Import encountered 2 problems",
		"Error categories",
		"Recent errors",
		"/watch/a.png",
		"Suggested next steps",
		"commitTimeout",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("Report missing %q:\n%s", want, report)
		}
	}
}
