package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the step a pipeline is in for the current file.
type State int

const (
	StateIdle State = iota
	StateReading
	StateRewriting
	StateCommitting
	StateAwaitingOutcome
	StateDeleting
	StateReporting
)

func (s State) String() string {
	switch s {
	case StateReading:
		return "reading"
	case StateRewriting:
		return "rewriting"
	case StateCommitting:
		return "committing"
	case StateAwaitingOutcome:
		return "awaiting_outcome"
	case StateDeleting:
		return "deleting"
	case StateReporting:
		return "reporting"
	}
	return "idle"
}

// RunSummary counts what happened to the candidates of one pass.
type RunSummary struct {
	Candidates   int
	Imported     int
	Deleted      int
	Failed       int
	TimedOut     int
	DeleteFailed int
	// Unconfirmed lists files whose commit timed out. They were kept and may
	// be imported twice if the late commit succeeded.
	Unconfirmed []string
	Duration    time.Duration
}

// Pipeline imports candidates one at a time.
type Pipeline struct {
	Gateway           Gateway
	Rewriter          Rewriter
	Collection        *Collection
	DeleteAfterImport bool
	CommitTimeout     time.Duration
	Reporter          Reporter
	Logger            *zap.Logger
	// Session receives a manifest entry per outcome when set.
	Session *ImportSession
	Stats   *ErrorStats

	readFile func(string) ([]byte, error)
	remove   func(string) error

	mu    sync.Mutex
	state State
}

// NewPipeline wires a pipeline with its collaborators. Tagging is off when
// rewriter is nil.
func NewPipeline(gw Gateway, rewriter Rewriter, collection *Collection, cfg *Config, reporter Reporter, logger *zap.Logger) *Pipeline {
	if rewriter == nil {
		rewriter = NopRewriter{}
	}
	if reporter == nil {
		reporter = ReporterFunc(func(Event) {})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		Gateway:           gw,
		Rewriter:          rewriter,
		Collection:        collection,
		DeleteAfterImport: cfg.DeleteAfterImport,
		CommitTimeout:     cfg.CommitTimeout,
		Reporter:          reporter,
		Logger:            logger,
		Stats:             NewErrorStats(),
	}
}

// State returns the step currently being executed.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State, path string) {
	p.mu.Lock()
	prev := p.state
	p.state = s
	p.mu.Unlock()
	p.Logger.Debug("state transition",
		zap.String("file", path), zap.Stringer("from", prev), zap.Stringer("to", s))
}

// Run imports candidates in order. Per-file failures are reported and the
// pass continues; the returned error is set only when the pass had to stop.
func (p *Pipeline) Run(ctx context.Context, candidates []Candidate) (RunSummary, error) {
	start := time.Now()
	summary := RunSummary{Candidates: len(candidates)}
	if p.Session != nil {
		if err := p.Session.LogSessionStart(len(candidates)); err != nil {
			p.Logger.Warn("manifest write failed", zap.Error(err))
		}
	}

	var fatal error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			fatal = err
			break
		}
		if err := p.importOne(ctx, c, &summary); err != nil {
			fatal = err
			break
		}
	}

	summary.Duration = time.Since(start)
	if p.Session != nil {
		if err := p.Session.LogSessionEnd(summary); err != nil {
			p.Logger.Warn("manifest write failed", zap.Error(err))
		}
	}
	p.Logger.Info("import pass finished",
		zap.Int("candidates", summary.Candidates),
		zap.Int("imported", summary.Imported),
		zap.Int("deleted", summary.Deleted),
		zap.Int("failed", summary.Failed),
		zap.Int("timed_out", summary.TimedOut),
		zap.Duration("duration", summary.Duration))
	return summary, fatal
}

func (p *Pipeline) importOne(ctx context.Context, c Candidate, summary *RunSummary) error {
	defer p.setState(StateIdle, c.Path)

	p.setState(StateReading, c.Path)
	data, err := p.read(c.Path)
	if err != nil {
		p.fail(c.Path, KindReadFailed, err)
		summary.Failed++
		return nil
	}

	p.setState(StateRewriting, c.Path)
	payload := p.Rewriter.Rewrite(data)

	if p.Collection == nil {
		return p.fail(c.Path, KindCollectionUnavailable, ErrNoCollection)
	}

	p.setState(StateCommitting, c.Path)
	outcome, err := p.commit(ctx, payload, filepath.Base(c.Path))
	if err != nil {
		return err
	}

	switch outcome.Status {
	case OutcomeTimedOut:
		p.setState(StateReporting, c.Path)
		p.fail(c.Path, KindCommitTimedOut, outcome.Err)
		summary.TimedOut++
		summary.Unconfirmed = append(summary.Unconfirmed, c.Path)
		return nil
	case OutcomeFailed:
		p.setState(StateReporting, c.Path)
		kind := KindOf(outcome.Err)
		if kind != KindPermissionDenied && kind != KindCollectionUnavailable {
			kind = KindCommitFailed
		}
		procErr := p.fail(c.Path, kind, outcome.Err)
		if procErr.IsFatal() {
			return procErr
		}
		summary.Failed++
		return nil
	}

	summary.Imported++
	p.imported(c.Path, outcome.Asset)

	if !p.DeleteAfterImport {
		return nil
	}
	p.setState(StateDeleting, c.Path)
	if err := p.delete(c.Path); err != nil {
		p.fail(c.Path, KindDeleteFailed, err)
		summary.DeleteFailed++
		return nil
	}
	summary.Deleted++
	p.Reporter.Report(Event{Type: EventDeleted, Path: c.Path})
	if p.Session != nil {
		if err := p.Session.LogDeleted(c.Path); err != nil {
			p.Logger.Warn("manifest write failed", zap.Error(err))
		}
	}
	return nil
}

// commit submits the asset and blocks until its outcome arrives, the commit
// timeout expires or ctx is done. Only the last case returns an error.
func (p *Pipeline) commit(ctx context.Context, payload []byte, filename string) (Outcome, error) {
	pc := newPendingCommit(filename, p.Logger)
	p.Gateway.CommitAsset(ctx, payload, filename, p.Collection, pc.deliver)
	p.setState(StateAwaitingOutcome, filename)

	timeout := p.CommitTimeout
	if timeout <= 0 {
		timeout = defaultCommitTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-pc.ch:
		return o, nil
	case <-timer.C:
		if o, ok := pc.abandon(); ok {
			return o, nil
		}
		p.Logger.Warn("commit outcome not received in time, keeping source file",
			zap.String("file", filename), zap.Duration("timeout", timeout))
		return Outcome{
			Status: OutcomeTimedOut,
			Err:    fmt.Errorf("%w after %s", ErrCommitTimedOut, timeout),
		}, nil
	case <-ctx.Done():
		if o, ok := pc.abandon(); ok {
			return o, nil
		}
		return Outcome{}, ctx.Err()
	}
}

// pendingCommit hands one outcome to a waiting pipeline. Outcomes arriving
// after the pipeline gave up are logged instead.
type pendingCommit struct {
	filename string
	logger   *zap.Logger

	mu        sync.Mutex
	abandoned bool
	ch        chan Outcome
}

func newPendingCommit(filename string, logger *zap.Logger) *pendingCommit {
	return &pendingCommit{filename: filename, logger: logger, ch: make(chan Outcome, 1)}
}

func (pc *pendingCommit) deliver(o Outcome) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.abandoned {
		fields := []zap.Field{zap.String("file", pc.filename), zap.Stringer("status", o.Status)}
		if o.Asset != nil {
			fields = append(fields, zap.String("asset_id", o.Asset.ID))
		}
		if o.Err != nil {
			fields = append(fields, zap.Error(o.Err))
		}
		pc.logger.Warn("late commit outcome", fields...)
		return
	}
	pc.ch <- o
}

func (pc *pendingCommit) abandon() (Outcome, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.abandoned = true
	select {
	case o := <-pc.ch:
		return o, true
	default:
		return Outcome{}, false
	}
}

func (p *Pipeline) imported(path string, asset *Asset) {
	assetID := ""
	if asset != nil {
		assetID = asset.ID
	}
	p.Logger.Info("imported", zap.String("file", path), zap.String("asset_id", assetID))
	p.Reporter.Report(Event{Type: EventImported, Path: path, AssetID: assetID})

	if p.Session == nil || asset == nil {
		return
	}
	browse, err := p.Session.CreateHardlink(asset.Path, filepath.Base(path))
	if err != nil {
		p.Logger.Debug("browse link skipped", zap.String("file", path), zap.Error(err))
	}
	if err := p.Session.LogImported(path, asset, browse); err != nil {
		p.Logger.Warn("manifest write failed", zap.Error(err))
	}
}

// fail reports a classified error exactly once on every channel.
func (p *Pipeline) fail(path string, kind ErrorKind, err error) *ProcessError {
	procErr := NewProcessError(path, kind, err)
	if p.Stats != nil {
		p.Stats.Add(procErr)
	}
	p.Logger.Warn("import step failed",
		zap.String("file", path),
		zap.String("kind", string(kind)),
		zap.String("severity", string(procErr.Severity)),
		zap.Error(err))
	p.Reporter.Report(Event{Type: EventFailed, Path: path, Err: procErr, Message: err.Error()})
	if p.Session != nil {
		if werr := p.Session.LogDetailedError(path, procErr); werr != nil {
			p.Logger.Warn("manifest write failed", zap.Error(werr))
		}
	}
	return procErr
}

func (p *Pipeline) read(path string) ([]byte, error) {
	if p.readFile != nil {
		return p.readFile(path)
	}
	return os.ReadFile(path)
}

func (p *Pipeline) delete(path string) error {
	if p.remove != nil {
		return p.remove(path)
	}
	return os.Remove(path)
}
