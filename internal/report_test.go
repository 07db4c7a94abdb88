package internal

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestConsoleReporter(t *testing.T) {
	failure := NewProcessError("/w/b.png", KindCommitFailed, errors.New("disk full"))
	events := []Event{
		{Type: EventImported, Path: "/w/a.png", AssetID: "abc"},
		{Type: EventDeleted, Path: "/w/a.png"},
		{Type: EventIgnored, Path: "/w/notes.txt"},
		{Type: EventFailed, Path: "/w/b.png", Err: failure},
		{Type: EventNotice, Message: "using default settings"},
	}

	tests := []struct {
		name    string
		verbose bool
		want    []string
		absent  []string
	}{
		{
			name: "quiet",
			want: []string{
				"imported  /w/a.png (asset abc)",
				"removed   /w/a.png",
				"failed    /w/b.png: disk full",
				failure.Suggestion,
				"using default settings",
			},
			absent: []string{"notes.txt"},
		},
		{
			name:    "verbose",
			verbose: true,
			want:    []string{"ignored   /w/notes.txt"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			r := NewConsoleReporter(&buf, tt.verbose)
			for _, e := range events {
				r.Report(e)
			}
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(out, a) {
					t.Errorf("output should not contain %q:\n%s", a, out)
				}
			}
			if strings.Contains(out, "\x1b[") {
				t.Errorf("no color codes expected when not writing to a terminal")
			}
		})
	}
}

func TestPromptConfirmer_AssumeYes(t *testing.T) {
	if !(PromptConfirmer{AssumeYes: true}).Confirm("t", "m") {
		t.Error("AssumeYes should confirm")
	}
	if (PromptConfirmer{}).Confirm("t", "m") {
		t.Error("No terminal should mean no")
	}
}
