package internal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// EventType classifies what a Reporter is told about.
type EventType string

const (
	EventImported EventType = "imported"
	EventDeleted  EventType = "deleted"
	EventFailed   EventType = "failed"
	EventIgnored  EventType = "ignored"
	EventNotice   EventType = "notice"
)

// Event is one operator-facing message.
type Event struct {
	Type    EventType
	Path    string
	AssetID string
	Message string
	Err     *ProcessError
}

// Reporter is the operator-facing channel. Every failure reaches it exactly
// once.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Event)

func (f ReporterFunc) Report(e Event) { f(e) }

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(title, message string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(title, message string) bool

func (f ConfirmFunc) Confirm(title, message string) bool { return f(title, message) }

// ConsoleReporter prints events as single lines, colored on a terminal.
type ConsoleReporter struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool

	ok, warn, fail, dim *color.Color
}

// NewConsoleReporter writes to out. Ignored files are only shown when verbose.
func NewConsoleReporter(out io.Writer, verbose bool) *ConsoleReporter {
	r := &ConsoleReporter{
		out:     out,
		verbose: verbose,
		ok:      color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		fail:    color.New(color.FgRed, color.Bold),
		dim:     color.New(color.Faint),
	}
	if !shouldColorize(out) {
		for _, c := range []*color.Color{r.ok, r.warn, r.fail, r.dim} {
			c.DisableColor()
		}
	}
	return r
}

func (r *ConsoleReporter) Report(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e.Type {
	case EventImported:
		r.ok.Fprintf(r.out, "imported  %s", e.Path)
		fmt.Fprintf(r.out, " (asset %s)\n", e.AssetID)
	case EventDeleted:
		r.dim.Fprintf(r.out, "removed   %s\n", e.Path)
	case EventFailed:
		c := r.fail
		if e.Err != nil && e.Err.Severity == ErrorSeverityWarning {
			c = r.warn
		}
		if e.Err == nil {
			c.Fprintf(r.out, "failed    %s: %s\n", e.Path, e.Message)
			return
		}
		c.Fprintf(r.out, "failed    %s: %v\n", e.Path, e.Err.OriginalErr)
		if e.Err.Suggestion != "" {
			r.dim.Fprintf(r.out, "          %s\n", e.Err.Suggestion)
		}
	case EventIgnored:
		if r.verbose {
			r.dim.Fprintf(r.out, "ignored   %s\n", e.Path)
		}
	default:
		r.warn.Fprintf(r.out, "%s\n", e.Message)
	}
}

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// PromptConfirmer asks on a terminal and answers no when input is not
// interactive. AssumeYes short-circuits the prompt.
type PromptConfirmer struct {
	In        *os.File
	Out       io.Writer
	AssumeYes bool
}

func (p PromptConfirmer) Confirm(title, message string) bool {
	if p.AssumeYes {
		return true
	}
	if p.In == nil || !isatty.IsTerminal(p.In.Fd()) {
		return false
	}
	fmt.Fprintf(p.Out, "%s: %s [y/N] ", title, message)
	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
