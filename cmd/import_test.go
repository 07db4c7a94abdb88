package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"shotimport/internal"
)

func writePNG(t *testing.T, path string, shade uint8) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: shade, G: uint8(x * 16), B: uint8(y * 16), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func testConfig(t *testing.T) *internal.Config {
	t.Helper()
	tempDir := t.TempDir()
	cfg := internal.DefaultConfig()
	cfg.WatchPath = filepath.Join(tempDir, "Screenshots")
	cfg.LibraryPath = filepath.Join(tempDir, "library")
	cfg.AllowedExtensions = []string{"png"}
	cfg.AlbumName = "Screenshots"
	cfg.CommitTimeout = 10 * time.Second
	return cfg
}

func TestImport_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.WatchPath, 0o755); err != nil {
		t.Fatal(err)
	}
	writePNG(t, filepath.Join(cfg.WatchPath, "a.png"), 10)
	writePNG(t, filepath.Join(cfg.WatchPath, "c.PNG"), 200)
	if err := os.WriteFile(filepath.Join(cfg.WatchPath, "b.txt"), []byte("notes"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	summary, err := runImport(context.Background(), cfg, &out, zap.NewNop(), true)
	if err != nil {
		t.Fatalf("runImport failed: %v\n%s", err, out.String())
	}
	if summary.Candidates != 2 || summary.Imported != 2 || summary.Deleted != 2 || summary.Failed != 0 {
		t.Fatalf("Unexpected summary: %+v", summary)
	}

	for _, name := range []string{"a.png", "c.PNG"} {
		if _, err := os.Stat(filepath.Join(cfg.WatchPath, name)); !os.IsNotExist(err) {
			t.Errorf("%s should have been removed after import", name)
		}
	}
	if _, err := os.Stat(filepath.Join(cfg.WatchPath, "b.txt")); err != nil {
		t.Errorf("b.txt must be left alone: %v", err)
	}

	library := internal.NewLibrary(cfg.LibraryPath, nil)
	defer library.Close()
	ctx := context.Background()
	if status := library.RequestAuthorization(ctx); status != internal.AuthAuthorized {
		t.Fatalf("library not authorized: %s", status)
	}
	cols, err := library.Collections(ctx)
	if err != nil {
		t.Fatalf("Collections: %v", err)
	}
	if len(cols) != 1 || cols[0].Title != "Screenshots" {
		t.Fatalf("Expected exactly the Screenshots album, got %+v", cols)
	}
	assets, err := library.Assets(ctx, cols[0].ID)
	if err != nil {
		t.Fatalf("Assets: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("Expected 2 assets in album, got %d", len(assets))
	}
	for _, a := range assets {
		data, err := os.ReadFile(a.Path)
		if err != nil {
			t.Fatalf("read stored asset: %v", err)
		}
		comment, err := internal.ReadUserComment(data)
		if err != nil || comment != internal.DefaultMarker {
			t.Errorf("%s: UserComment = %q, %v", a.Filename, comment, err)
		}
	}

	if !strings.Contains(out.String(), "imported") {
		t.Errorf("Expected console output to mention imports:\n%s", out.String())
	}
}

func TestImport_SecondPassReusesAlbum(t *testing.T) {
	cfg := testConfig(t)
	cfg.DeleteAfterImport = false
	if err := os.MkdirAll(cfg.WatchPath, 0o755); err != nil {
		t.Fatal(err)
	}
	writePNG(t, filepath.Join(cfg.WatchPath, "a.png"), 10)

	for i := 0; i < 2; i++ {
		if _, err := runImport(context.Background(), cfg, &bytes.Buffer{}, zap.NewNop(), false); err != nil {
			t.Fatalf("pass %d failed: %v", i, err)
		}
	}

	library := internal.NewLibrary(cfg.LibraryPath, nil)
	defer library.Close()
	ctx := context.Background()
	library.RequestAuthorization(ctx)
	cols, err := library.Collections(ctx)
	if err != nil {
		t.Fatalf("Collections: %v", err)
	}
	if len(cols) != 1 {
		t.Fatalf("Expected one album after two passes, got %d", len(cols))
	}
	members, err := library.Members(ctx, cols[0].ID)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("Expected the kept file to be imported by each pass, got %d members", len(members))
	}
	if _, err := os.Stat(filepath.Join(cfg.WatchPath, "a.png")); err != nil {
		t.Errorf("a.png must be kept when deleteAfterImport is off: %v", err)
	}
}

func TestImport_CreatesWatchDir(t *testing.T) {
	cfg := testConfig(t)

	summary, err := runImport(context.Background(), cfg, &bytes.Buffer{}, zap.NewNop(), false)
	if err != nil {
		t.Fatalf("runImport failed: %v", err)
	}
	if summary.Candidates != 0 {
		t.Errorf("Expected empty pass, got %+v", summary)
	}
	if info, err := os.Stat(cfg.WatchPath); err != nil || !info.IsDir() {
		t.Errorf("Watch directory not created: %v", err)
	}
}

func TestImport_MissingWatchDirWithoutCreate(t *testing.T) {
	cfg := testConfig(t)
	cfg.CreateWatchDir = false

	_, err := runImport(context.Background(), cfg, &bytes.Buffer{}, zap.NewNop(), false)
	if ExitCode(err) != ExitDirectoryUnreadable {
		t.Fatalf("Expected exit %d, got %d (%v)", ExitDirectoryUnreadable, ExitCode(err), err)
	}
}

func TestImport_LibraryNotADirectory(t *testing.T) {
	cfg := testConfig(t)
	if err := os.WriteFile(cfg.LibraryPath, []byte("not a library"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := runImport(context.Background(), cfg, &bytes.Buffer{}, zap.NewNop(), false)
	if ExitCode(err) != ExitPermissionDenied {
		t.Fatalf("Expected exit %d, got %d (%v)", ExitPermissionDenied, ExitCode(err), err)
	}
	if !Reported(err) {
		t.Errorf("Fatal pass errors should already be reported")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"generic", errors.New("boom"), ExitFailure},
		{"unreadable", fmt.Errorf("%w: /missing", internal.ErrDirectoryUnreadable), ExitDirectoryUnreadable},
		{"album", fmt.Errorf("%w: %q", internal.ErrCollectionUnavailable, "Screenshots"), ExitCollectionUnavailable},
		{"no collection", internal.NewProcessError("/a.png", internal.KindCollectionUnavailable, internal.ErrNoCollection), ExitCollectionUnavailable},
		{"watch dir", internal.NewProcessError("", internal.KindDirectoryUnreadable, fmt.Errorf("%w: /x", internal.ErrWatchDirUnavailable)), ExitWatchDirUnavailable},
		{"permission", fmt.Errorf("%w: denied", internal.ErrPermissionDenied), ExitPermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestConfigInit_WritesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Settings.json")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"config", "init", path})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("template not written: %v", err)
	}
	for _, key := range []string{`"checkPath"`, `"allowedExtensions"`, `"addMetadataTag"`, `"deleteAfterImport"`} {
		if !bytes.Contains(data, []byte(key)) {
			t.Errorf("template missing %s:\n%s", key, data)
		}
	}

	rootCmd.SetArgs([]string{"config", "init", path})
	if err := rootCmd.Execute(); err == nil {
		t.Errorf("Expected config init to refuse overwriting without --force")
	}
}
