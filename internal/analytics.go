package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// LibraryStats summarizes what a library holds. LogicalSize counts every
// asset; StoredSize counts shared bytes once.
type LibraryStats struct {
	Root        string            `json:"root"`
	Collections int               `json:"collections"`
	Assets      int               `json:"assets"`
	Blobs       int               `json:"stored_files"`
	LogicalSize int64             `json:"logical_size_bytes"`
	StoredSize  int64             `json:"stored_size_bytes"`
	Formats     map[string]int    `json:"formats"`
	PerAlbum    []CollectionStats `json:"albums"`
}

// CollectionStats is the per-album part of LibraryStats.
type CollectionStats struct {
	Title     string    `json:"title"`
	Assets    int       `json:"assets"`
	Size      int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	LastAdded time.Time `json:"last_added,omitempty"`
}

type collectionStatsRow struct {
	Title     string `db:"title"`
	CreatedAt int64  `db:"created_at"`
	Assets    int    `db:"assets"`
	Size      int64  `db:"size"`
	LastAdded int64  `db:"last_added"`
}

// Stats aggregates the catalog.
func (l *Library) Stats(ctx context.Context) (*LibraryStats, error) {
	if err := l.checkAuthorized(); err != nil {
		return nil, err
	}
	stats := &LibraryStats{Root: l.root, Formats: make(map[string]int)}

	totals := []struct {
		dest  any
		query string
	}{
		{&stats.Collections, "SELECT COUNT(1) FROM collections"},
		{&stats.Assets, "SELECT COUNT(1) FROM assets"},
		{&stats.Blobs, "SELECT COUNT(1) FROM blobs"},
		{&stats.StoredSize, "SELECT COALESCE(SUM(size), 0) FROM blobs"},
		{&stats.LogicalSize, "SELECT COALESCE(SUM(b.size), 0) FROM assets a JOIN blobs b ON b.sha256 = a.sha256"},
	}
	for _, t := range totals {
		if err := l.db.GetContext(ctx, t.dest, t.query); err != nil {
			return nil, fmt.Errorf("library stats: %w", err)
		}
	}

	var formats []struct {
		Format string `db:"format"`
		Count  int    `db:"n"`
	}
	if err := l.db.SelectContext(ctx, &formats, "SELECT format, COUNT(1) AS n FROM assets GROUP BY format"); err != nil {
		return nil, fmt.Errorf("library stats: %w", err)
	}
	for _, f := range formats {
		stats.Formats[f.Format] = f.Count
	}

	var rows []collectionStatsRow
	err := l.db.SelectContext(ctx, &rows, `
		SELECT c.title, c.created_at,
			COUNT(m.asset_id) AS assets,
			COALESCE(SUM(b.size), 0) AS size,
			COALESCE(MAX(m.added_at), 0) AS last_added
		FROM collections c
		LEFT JOIN memberships m ON m.collection_id = c.id
		LEFT JOIN assets a ON a.id = m.asset_id
		LEFT JOIN blobs b ON b.sha256 = a.sha256
		GROUP BY c.id
		ORDER BY c.created_at, c.rowid`)
	if err != nil {
		return nil, fmt.Errorf("library stats: %w", err)
	}
	for _, r := range rows {
		cs := CollectionStats{
			Title:     r.Title,
			Assets:    r.Assets,
			Size:      r.Size,
			CreatedAt: time.Unix(0, r.CreatedAt),
		}
		if r.LastAdded > 0 {
			cs.LastAdded = time.Unix(0, r.LastAdded)
		}
		stats.PerAlbum = append(stats.PerAlbum, cs)
	}
	return stats, nil
}

// DisplayStats writes stats as a table or, with format "json", as JSON.
func DisplayStats(w io.Writer, stats *LibraryStats, format string) error {
	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(stats)
	}

	fmt.Fprintf(w, "Library: %s\n", stats.Root)
	fmt.Fprintf(w, "  %d albums, %d assets (%s, %s on disk in %d files)\n\n",
		stats.Collections, stats.Assets,
		humanize.Bytes(uint64(stats.LogicalSize)), humanize.Bytes(uint64(stats.StoredSize)), stats.Blobs)

	rows := make([][]string, 0, len(stats.PerAlbum))
	for _, a := range stats.PerAlbum {
		last := "never"
		if !a.LastAdded.IsZero() {
			last = humanize.Time(a.LastAdded)
		}
		rows = append(rows, []string{a.Title, humanize.Comma(int64(a.Assets)), humanize.Bytes(uint64(a.Size)), last})
	}
	fmt.Fprintln(w, renderTable([]string{"Album", "Assets", "Size", "Last import"}, rows, []int{1, 2}))
	return nil
}

// DisplaySummary writes the counts of one import pass.
func DisplaySummary(w io.Writer, summary RunSummary) {
	rows := [][]string{
		{"candidates", humanize.Comma(int64(summary.Candidates))},
		{"imported", humanize.Comma(int64(summary.Imported))},
		{"deleted", humanize.Comma(int64(summary.Deleted))},
		{"failed", humanize.Comma(int64(summary.Failed))},
		{"timed out", humanize.Comma(int64(summary.TimedOut))},
		{"delete failed", humanize.Comma(int64(summary.DeleteFailed))},
	}
	fmt.Fprintln(w, renderTable([]string{"Outcome", "Files"}, rows, []int{1}))
	for _, path := range summary.Unconfirmed {
		fmt.Fprintf(w, "unconfirmed: %s (kept, may already be in the library)\n", path)
	}
}

// renderTable draws a rounded table; columns listed in right are right-aligned.
func renderTable(headers []string, rows [][]string, right []int) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(right))
	for _, col := range right {
		configs = append(configs, table.ColumnConfig{
			Number:      col + 1,
			Align:       text.AlignRight,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}
