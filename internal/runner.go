package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

const (
	lockFileName = "shotimport.lock"
	// settleDelay lets the create/write events of one screenshot collapse
	// into a single pass.
	settleDelay = 500 * time.Millisecond
)

// ErrRunInProgress means another process holds the library's run lock.
var ErrRunInProgress = errors.New("another import pass is running")

// Step is one stage of an import pass.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner executes import passes: authorize, lock, resolve the album, ensure
// the watch directory, scan, import.
type Runner struct {
	Config   *Config
	Gateway  Gateway
	Rewriter Rewriter
	Reporter Reporter
	Logger   *zap.Logger
	Stats    *ErrorStats
	// Manifest enables the per-pass session manifest in the library.
	Manifest bool

	lock       *flock.Flock
	locked     bool
	collection *Collection
	candidates []Candidate
	summary    RunSummary
}

func NewRunner(cfg *Config, gw Gateway, rewriter Rewriter, reporter Reporter, logger *zap.Logger) *Runner {
	if reporter == nil {
		reporter = ReporterFunc(func(Event) {})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		Config:   cfg,
		Gateway:  gw,
		Rewriter: rewriter,
		Reporter: reporter,
		Logger:   logger,
		Stats:    NewErrorStats(),
		Manifest: true,
		lock:     flock.New(filepath.Join(cfg.LibraryPath, lockFileName)),
	}
}

// Steps returns the stages of one pass in execution order.
func (r *Runner) Steps() []Step {
	return []Step{
		{Name: "authorize library", Run: r.authorize},
		{Name: "acquire run lock", Run: r.acquireLock},
		{Name: "resolve album", Run: r.resolveAlbum},
		{Name: "ensure watch directory", Run: r.ensureWatchDir},
		{Name: "scan watch directory", Run: r.scan},
		{Name: "import", Run: r.importCandidates},
	}
}

// RunOnce executes every step in order and stops at the first failure.
func (r *Runner) RunOnce(ctx context.Context) (RunSummary, error) {
	r.summary = RunSummary{}
	r.candidates = nil
	defer r.releaseLock()

	for _, step := range r.Steps() {
		r.Logger.Debug("running step", zap.String("step", step.Name))
		if err := step.Run(ctx); err != nil {
			return r.summary, err
		}
	}
	return r.summary, nil
}

func (r *Runner) authorize(ctx context.Context) error {
	status := r.Gateway.AuthorizationStatus()
	if status == AuthNotDetermined {
		status = r.Gateway.RequestAuthorization(ctx)
	}
	if status != AuthAuthorized {
		return r.fatal(KindPermissionDenied, fmt.Errorf("%w: library %s is %s", ErrPermissionDenied, r.Config.LibraryPath, status))
	}
	return nil
}

func (r *Runner) acquireLock(ctx context.Context) error {
	ok, err := r.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrRunInProgress
	}
	r.locked = true
	return nil
}

func (r *Runner) releaseLock() {
	if !r.locked {
		return
	}
	if err := r.lock.Unlock(); err != nil {
		r.Logger.Warn("failed to release run lock", zap.Error(err))
	}
	r.locked = false
}

// resolveAlbum runs once per Runner; the handle is reused by later passes.
func (r *Runner) resolveAlbum(ctx context.Context) error {
	if r.collection != nil {
		return nil
	}
	col, err := r.Gateway.ResolveOrCreateCollection(ctx, r.Config.AlbumName)
	if err != nil {
		kind := KindOf(err)
		if kind != KindPermissionDenied {
			kind = KindCollectionUnavailable
			if !errors.Is(err, ErrCollectionUnavailable) {
				err = fmt.Errorf("%w: %v", ErrCollectionUnavailable, err)
			}
		}
		return r.fatal(kind, err)
	}
	if col == nil {
		return r.fatal(KindCollectionUnavailable, fmt.Errorf("%w: %q", ErrCollectionUnavailable, r.Config.AlbumName))
	}
	r.collection = col
	return nil
}

func (r *Runner) ensureWatchDir(ctx context.Context) error {
	dir := r.Config.WatchPath
	if _, err := os.Stat(dir); err == nil || !errors.Is(err, os.ErrNotExist) || !r.Config.CreateWatchDir {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return r.fatal(KindDirectoryUnreadable, fmt.Errorf("%w: %s: %v", ErrWatchDirUnavailable, dir, err))
	}
	r.Logger.Info("created watch directory", zap.String("dir", dir))
	return nil
}

func (r *Runner) scan(ctx context.Context) error {
	candidates, err := ScanFunc(r.Config.WatchPath, r.Config.ExtensionSet(), func(path string) {
		r.Logger.Debug("ignored", zap.String("file", path))
		r.Reporter.Report(Event{Type: EventIgnored, Path: path})
	})
	if err != nil {
		return r.fatal(KindDirectoryUnreadable, err)
	}
	for _, c := range candidates {
		r.Logger.Debug("queued for import", zap.String("file", c.Path))
	}
	r.candidates = candidates
	return nil
}

func (r *Runner) importCandidates(ctx context.Context) error {
	if len(r.candidates) == 0 {
		return nil
	}

	p := NewPipeline(r.Gateway, r.Rewriter, r.collection, r.Config, r.Reporter, r.Logger)
	p.Stats = r.Stats
	if r.Manifest {
		session, err := NewImportSession(r.Config.LibraryPath, r.Config.WatchPath, r.Config.AlbumName)
		if err != nil {
			r.Logger.Warn("session manifest disabled", zap.Error(err))
		} else {
			defer session.Close()
			p.Session = session
		}
	}

	summary, err := p.Run(ctx, r.candidates)
	r.summary = summary
	return err
}

// fatal reports an error that stops the pass.
func (r *Runner) fatal(kind ErrorKind, err error) error {
	procErr := NewProcessError("", kind, err)
	r.Stats.Add(procErr)
	r.Logger.Error("import pass aborted", zap.String("kind", string(kind)), zap.Error(err))
	r.Reporter.Report(Event{Type: EventFailed, Err: procErr, Message: err.Error()})
	return procErr
}

// Watch runs a pass at start, on every relevant filesystem event and every
// PollInterval, until ctx is done. Passes never overlap; triggers that
// arrive during a pass are folded into one follow-up pass.
func (r *Runner) Watch(ctx context.Context) error {
	if _, err := r.RunOnce(ctx); err != nil {
		if !errors.Is(err, ErrRunInProgress) {
			return err
		}
		r.Logger.Info("skipping pass, run lock held elsewhere")
	}

	watcher, err := NewWatcher(r.Config.WatchPath, r.Config.ExtensionSet(), settleDelay)
	if err != nil {
		return fmt.Errorf("%w: watch %s: %v", ErrDirectoryUnreadable, r.Config.WatchPath, err)
	}
	defer watcher.Close()

	ticker := time.NewTicker(r.Config.PollInterval)
	defer ticker.Stop()

	trigger := make(chan struct{}, 1)
	request := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-watcher.Changes():
			request()
		case werr := <-watcher.Errors():
			if errors.Is(werr, ErrDirectoryUnreadable) {
				return r.fatal(KindDirectoryUnreadable, werr)
			}
			r.Logger.Warn("watcher error", zap.Error(werr))
		case <-ticker.C:
			request()
		case <-trigger:
			summary, err := r.RunOnce(ctx)
			switch {
			case errors.Is(err, ErrRunInProgress):
				r.Logger.Info("skipping pass, run lock held elsewhere")
			case err != nil:
				if ctx.Err() != nil {
					return nil
				}
				return err
			case summary.Candidates > 0:
				r.Logger.Info("pass complete", zap.Int("imported", summary.Imported), zap.Int("failed", summary.Failed))
			}
		}
	}
}
