package internal

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	catalogFileName = "catalog.db"
	originalsDir    = "originals"
)

// Library is a local photo library: a SQLite catalog of collections and
// assets plus a content-addressed store of the imported bytes. It implements
// Gateway.
type Library struct {
	root   string
	logger *zap.Logger

	authMu sync.Mutex
	status AuthStatus
	db     *sqlx.DB

	// changeMu serializes change blocks; at most one is in flight.
	changeMu sync.Mutex
	wg       sync.WaitGroup
}

var _ Gateway = (*Library)(nil)

// NewLibrary returns a library rooted at root. Nothing is touched on disk
// until RequestAuthorization.
func NewLibrary(root string, logger *zap.Logger) *Library {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Library{root: root, logger: logger, status: AuthNotDetermined}
}

// Root is the library directory.
func (l *Library) Root() string { return l.root }

func (l *Library) AuthorizationStatus() AuthStatus {
	l.authMu.Lock()
	defer l.authMu.Unlock()
	return l.status
}

// RequestAuthorization creates the library directory if needed, checks that
// it is writable and opens the catalog. The answer is remembered.
func (l *Library) RequestAuthorization(ctx context.Context) AuthStatus {
	l.authMu.Lock()
	defer l.authMu.Unlock()
	if l.status != AuthNotDetermined {
		return l.status
	}

	status, err := l.authorize(ctx)
	if err != nil {
		l.logger.Warn("library authorization failed",
			zap.String("library", l.root), zap.Stringer("status", status), zap.Error(err))
	}
	l.status = status
	return status
}

func (l *Library) authorize(ctx context.Context) (AuthStatus, error) {
	if info, err := os.Stat(l.root); err == nil && !info.IsDir() {
		return AuthRestricted, fmt.Errorf("%s is not a directory", l.root)
	}
	if err := os.MkdirAll(filepath.Join(l.root, originalsDir), 0o755); err != nil {
		return AuthDenied, err
	}
	probe, err := os.CreateTemp(l.root, ".probe-*")
	if err != nil {
		return AuthDenied, err
	}
	probe.Close()
	os.Remove(probe.Name())

	db, err := openCatalog(ctx, filepath.Join(l.root, catalogFileName))
	if err != nil {
		return AuthDenied, err
	}
	l.db = db
	if err := l.initSchema(ctx); err != nil {
		_ = db.Close()
		l.db = nil
		return AuthRestricted, err
	}
	return AuthAuthorized, nil
}

func openCatalog(ctx context.Context, path string) (*sqlx.DB, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one connection keeps the pragmas and the write lock in one place
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragma journal_mode: %w", err)
	}
	return db, nil
}

func (l *Library) checkAuthorized() error {
	if l.AuthorizationStatus() != AuthAuthorized {
		return ErrPermissionDenied
	}
	return nil
}

// Changes is the view of the library handed to a change block. Everything
// done through it is committed or rolled back together.
type Changes struct {
	ctx  context.Context
	tx   *sqlx.Tx
	lib  *Library
	undo []func()
}

// PerformChanges runs block in a single transaction on a background
// goroutine and calls done with the result. Files written by a failed block
// are removed again.
func (l *Library) PerformChanges(ctx context.Context, block func(*Changes) error, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	if err := l.checkAuthorized(); err != nil {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			done(err)
		}()
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.changeMu.Lock()
		err := l.runChanges(ctx, block)
		l.changeMu.Unlock()
		done(err)
	}()
}

func (l *Library) runChanges(ctx context.Context, block func(*Changes) error) error {
	if err := ctx.Err(); err != nil {
		return &TransactionError{Reason: "cancelled", Err: err}
	}
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return &TransactionError{Reason: "begin", Err: err}
	}
	ch := &Changes{ctx: ctx, tx: tx, lib: l}

	if err := block(ch); err != nil {
		_ = tx.Rollback()
		ch.rollbackFiles()
		var txErr *TransactionError
		if errors.As(err, &txErr) {
			return err
		}
		return &TransactionError{Reason: "change rejected", Err: err}
	}
	if err := tx.Commit(); err != nil {
		ch.rollbackFiles()
		return &TransactionError{Reason: "commit", Err: err}
	}
	return nil
}

func (c *Changes) rollbackFiles() {
	for i := len(c.undo) - 1; i >= 0; i-- {
		c.undo[i]()
	}
}

// CreateCollection inserts a new collection. It fails if the title is taken.
func (c *Changes) CreateCollection(title string) (*Collection, error) {
	now := time.Now()
	col := &Collection{ID: uuid.NewString(), Title: title, CreatedAt: now}
	_, err := c.tx.ExecContext(c.ctx,
		"INSERT INTO collections (id, title, created_at) VALUES (?, ?, ?)",
		col.ID, col.Title, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("create collection %q: %w", title, err)
	}
	return col, nil
}

// AddAsset stores data and records it as a new asset in collection.
// Identical bytes share one stored file.
func (c *Changes) AddAsset(data []byte, filename string, collection *Collection) (*Asset, error) {
	if collection == nil {
		return nil, ErrNoCollection
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	format := formatName(data, filename)

	rel, err := c.storeBlob(digest, format, data)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	asset := &Asset{
		ID:        uuid.NewString(),
		Filename:  filename,
		SHA256:    digest,
		Format:    format,
		Size:      int64(len(data)),
		Path:      filepath.Join(c.lib.root, rel),
		CreatedAt: now,
	}
	if _, err := c.tx.ExecContext(c.ctx,
		"INSERT INTO assets (id, filename, sha256, format, created_at) VALUES (?, ?, ?, ?, ?)",
		asset.ID, asset.Filename, asset.SHA256, asset.Format, now.UnixNano()); err != nil {
		return nil, fmt.Errorf("insert asset: %w", err)
	}
	if _, err := c.tx.ExecContext(c.ctx,
		"INSERT INTO memberships (collection_id, asset_id, added_at) VALUES (?, ?, ?)",
		collection.ID, asset.ID, now.UnixNano()); err != nil {
		return nil, fmt.Errorf("add asset to %q: %w", collection.Title, err)
	}
	return asset, nil
}

func (c *Changes) storeBlob(digest, format string, data []byte) (string, error) {
	var existing string
	err := c.tx.GetContext(c.ctx, &existing, "SELECT path FROM blobs WHERE sha256 = ?", digest)
	switch {
	case err == nil:
		if _, statErr := os.Stat(filepath.Join(c.lib.root, existing)); statErr == nil {
			return existing, nil
		}
		// catalog row without bytes: write them again under the same name
	case errors.Is(err, sql.ErrNoRows):
		existing = ""
	default:
		return "", fmt.Errorf("look up blob: %w", err)
	}

	rel := existing
	if rel == "" {
		rel = filepath.Join(originalsDir, digest[:2], digest+extensionForName(format))
	}
	abs := filepath.Join(c.lib.root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".incoming-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write asset: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("sync asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close asset: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("move asset into store: %w", err)
	}
	c.undo = append(c.undo, func() { os.Remove(abs) })

	if existing == "" {
		if _, err := c.tx.ExecContext(c.ctx,
			"INSERT INTO blobs (sha256, path, size) VALUES (?, ?, ?)",
			digest, rel, len(data)); err != nil {
			return "", fmt.Errorf("insert blob: %w", err)
		}
	}
	return rel, nil
}

func (l *Library) ResolveOrCreateCollection(ctx context.Context, name string) (*Collection, error) {
	if err := l.checkAuthorized(); err != nil {
		return nil, err
	}
	if col, err := l.findCollection(ctx, name); err != nil || col != nil {
		return col, err
	}

	created := make(chan error, 1)
	l.PerformChanges(ctx, func(ch *Changes) error {
		_, err := ch.CreateCollection(name)
		return err
	}, func(err error) { created <- err })

	select {
	case err := <-created:
		if err != nil {
			// a concurrent creator may have won; the re-query decides
			l.logger.Debug("collection create failed, re-querying", zap.String("title", name), zap.Error(err))
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	col, err := l.findCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return nil, fmt.Errorf("%w: %q", ErrCollectionUnavailable, name)
	}
	l.logger.Info("created collection", zap.String("title", col.Title), zap.String("id", col.ID))
	return col, nil
}

func (l *Library) CommitAsset(ctx context.Context, data []byte, filename string, collection *Collection, done func(Outcome)) {
	if done == nil {
		done = func(Outcome) {}
	}
	var asset *Asset
	l.PerformChanges(ctx, func(ch *Changes) error {
		a, err := ch.AddAsset(data, filename, collection)
		if err != nil {
			return err
		}
		asset = a
		return nil
	}, func(err error) {
		if err != nil {
			done(Outcome{Status: OutcomeFailed, Err: err})
			return
		}
		done(Outcome{Status: OutcomeSucceeded, Asset: asset})
	})
}

// Wait blocks until every submitted change block has finished.
func (l *Library) Wait() {
	l.wg.Wait()
}

// Close waits for outstanding changes and closes the catalog.
func (l *Library) Close() error {
	l.Wait()
	l.authMu.Lock()
	defer l.authMu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	l.status = AuthNotDetermined
	return err
}

type collectionRow struct {
	ID        string `db:"id"`
	Title     string `db:"title"`
	CreatedAt int64  `db:"created_at"`
}

func (r collectionRow) collection() *Collection {
	return &Collection{ID: r.ID, Title: r.Title, CreatedAt: time.Unix(0, r.CreatedAt)}
}

type assetRow struct {
	ID        string `db:"id"`
	Filename  string `db:"filename"`
	SHA256    string `db:"sha256"`
	Format    string `db:"format"`
	CreatedAt int64  `db:"created_at"`
	Path      string `db:"path"`
	Size      int64  `db:"size"`
}

func (r assetRow) asset(root string) Asset {
	return Asset{
		ID:        r.ID,
		Filename:  r.Filename,
		SHA256:    r.SHA256,
		Format:    r.Format,
		Size:      r.Size,
		Path:      filepath.Join(root, r.Path),
		CreatedAt: time.Unix(0, r.CreatedAt),
	}
}

func (l *Library) findCollection(ctx context.Context, title string) (*Collection, error) {
	var rows []collectionRow
	err := l.db.SelectContext(ctx, &rows,
		"SELECT id, title, created_at FROM collections WHERE title = ? ORDER BY created_at, rowid LIMIT 1", title)
	if err != nil {
		return nil, fmt.Errorf("%w: query %q: %v", ErrCollectionUnavailable, title, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].collection(), nil
}

// Collections lists all collections by creation time.
func (l *Library) Collections(ctx context.Context) ([]Collection, error) {
	if err := l.checkAuthorized(); err != nil {
		return nil, err
	}
	var rows []collectionRow
	if err := l.db.SelectContext(ctx, &rows,
		"SELECT id, title, created_at FROM collections ORDER BY created_at, rowid"); err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	cols := make([]Collection, 0, len(rows))
	for _, r := range rows {
		cols = append(cols, *r.collection())
	}
	return cols, nil
}

// Assets lists the assets of a collection in the order they were added.
// An empty collectionID lists every asset.
func (l *Library) Assets(ctx context.Context, collectionID string) ([]Asset, error) {
	if err := l.checkAuthorized(); err != nil {
		return nil, err
	}
	query := `SELECT a.id, a.filename, a.sha256, a.format, a.created_at, b.path, b.size
		FROM assets a JOIN blobs b ON b.sha256 = a.sha256`
	var args []any
	if collectionID != "" {
		query += " JOIN memberships m ON m.asset_id = a.id WHERE m.collection_id = ? ORDER BY m.added_at, m.rowid"
		args = append(args, collectionID)
	} else {
		query += " ORDER BY a.created_at, a.rowid"
	}

	var rows []assetRow
	if err := l.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	assets := make([]Asset, 0, len(rows))
	for _, r := range rows {
		assets = append(assets, r.asset(l.root))
	}
	return assets, nil
}

// Members returns the asset IDs of a collection.
func (l *Library) Members(ctx context.Context, collectionID string) ([]string, error) {
	if err := l.checkAuthorized(); err != nil {
		return nil, err
	}
	var ids []string
	if err := l.db.SelectContext(ctx, &ids,
		"SELECT asset_id FROM memberships WHERE collection_id = ? ORDER BY added_at, rowid", collectionID); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return ids, nil
}

func formatName(data []byte, filename string) string {
	switch sniffFormat(data) {
	case formatJPEG:
		return "jpeg"
	case formatPNG:
		return "png"
	case formatTIFF:
		return "tiff"
	}
	if ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")); ext != "" {
		return ext
	}
	return "bin"
}

func extensionForName(format string) string {
	switch format {
	case "jpeg":
		return ".jpg"
	case "bin":
		return ""
	}
	return "." + format
}
