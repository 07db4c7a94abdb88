package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	SettingsFileName     = "Settings.json"
	defaultAlbumName     = "Screenshots"
	defaultCommitTimeout = 2 * time.Minute
	defaultPollInterval  = 30 * time.Second
)

var defaultExtensions = []string{"jpg", "jpeg", "png", "gif", "tiff", "bmp", "pdf"}

// Config is the immutable settings record of one run.
type Config struct {
	WatchPath         string        `mapstructure:"checkPath"`
	AllowedExtensions []string      `mapstructure:"allowedExtensions"`
	AlbumName         string        `mapstructure:"albumName"`
	AddMetadataTag    bool          `mapstructure:"addMetadataTag"`
	DeleteAfterImport bool          `mapstructure:"deleteAfterImport"`
	Debug             bool          `mapstructure:"debug"`
	LibraryPath       string        `mapstructure:"libraryPath"`
	CommitTimeout     time.Duration `mapstructure:"commitTimeout"`
	UseExifTool       bool          `mapstructure:"useExifTool"`
	MarkerValue       string        `mapstructure:"markerValue"`
	CreateWatchDir    bool          `mapstructure:"createWatchDir"`
	PollInterval      time.Duration `mapstructure:"pollInterval"`
	LogFile           string        `mapstructure:"logFile"`

	// Source is the settings file the record was read from, empty for defaults.
	Source string `mapstructure:"-"`
}

// LoadOptions controls where settings come from and who is asked about them.
type LoadOptions struct {
	// Path of the settings file; DefaultConfigPath() when empty.
	Path     string
	Confirm  Confirmer
	Reporter Reporter
}

// DefaultConfigPath is Settings.json under the user config directory.
func DefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to find user config dir: %w", err)
	}
	return filepath.Join(configDir, "shotimport", SettingsFileName), nil
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	v.SetDefault("checkPath", filepath.Join(home, "Desktop", "Screenshots"))
	v.SetDefault("allowedExtensions", defaultExtensions)
	v.SetDefault("albumName", defaultAlbumName)
	v.SetDefault("addMetadataTag", true)
	v.SetDefault("deleteAfterImport", true)
	v.SetDefault("debug", false)
	v.SetDefault("libraryPath", filepath.Join(home, "Pictures", "shotimport"))
	v.SetDefault("commitTimeout", defaultCommitTimeout)
	v.SetDefault("useExifTool", false)
	v.SetDefault("markerValue", DefaultMarker)
	v.SetDefault("createWatchDir", true)
	v.SetDefault("pollInterval", defaultPollInterval)
	v.SetDefault("logFile", "")
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, _ := decodeConfig(v)
	return cfg
}

// LoadConfig reads the settings file. A missing file leads to an offer to
// write the defaults as a template; an unparseable one is reported and the
// defaults are used instead. Neither case aborts.
func LoadConfig(opts LoadOptions) (*Config, error) {
	path := opts.Path
	if path == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	report := opts.Reporter
	if report == nil {
		report = ReporterFunc(func(Event) {})
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
		v.SetConfigType("json")
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg, err := decodeConfig(v)
		if err != nil {
			return nil, err
		}
		offerTemplate(cfg, path, opts.Confirm, report)
		return cfg, nil
	}

	if err := v.ReadInConfig(); err != nil {
		return fallbackConfig(path, err, report)
	}

	// Older settings files call the metadata flag addScreenshotEXIF.
	if !v.InConfig("addMetadataTag") && v.InConfig("addScreenshotEXIF") {
		v.Set("addMetadataTag", v.GetBool("addScreenshotEXIF"))
	}

	// Well-formed files can still carry values of the wrong type.
	cfg, err := decodeConfig(v)
	if err != nil {
		return fallbackConfig(path, err, report)
	}
	cfg.Source = path
	return cfg, nil
}

func fallbackConfig(path string, cause error, report Reporter) (*Config, error) {
	report.Report(Event{
		Type:    EventNotice,
		Path:    path,
		Message: fmt.Sprintf("Could not parse %q, using default settings (%v)", path, cause),
	})
	v := viper.New()
	setDefaults(v)
	return decodeConfig(v)
}

func decodeConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	c.WatchPath = expandHome(strings.TrimSpace(c.WatchPath))
	c.LibraryPath = expandHome(strings.TrimSpace(c.LibraryPath))
	c.AlbumName = strings.TrimSpace(c.AlbumName)

	seen := make(map[string]bool, len(c.AllowedExtensions))
	exts := make([]string, 0, len(c.AllowedExtensions))
	for _, e := range c.AllowedExtensions {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		exts = append(exts, e)
	}
	c.AllowedExtensions = exts

	if c.CommitTimeout <= 0 {
		c.CommitTimeout = defaultCommitTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.MarkerValue == "" {
		c.MarkerValue = DefaultMarker
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.WatchPath == "" {
		problems = append(problems, "checkPath is empty")
	}
	if c.LibraryPath == "" {
		problems = append(problems, "libraryPath is empty")
	}
	if c.AlbumName == "" {
		problems = append(problems, "albumName is empty")
	}
	if len(c.AllowedExtensions) == 0 {
		problems = append(problems, "allowedExtensions is empty")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid settings: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ExtensionSet returns the allow-list as a lookup set.
func (c *Config) ExtensionSet() map[string]bool {
	set := make(map[string]bool, len(c.AllowedExtensions))
	for _, e := range c.AllowedExtensions {
		set[e] = true
	}
	return set
}

// LogPath resolves the log file, defaulting into the library directory.
func (c *Config) LogPath() string {
	if c.LogFile != "" {
		return expandHome(c.LogFile)
	}
	return filepath.Join(c.LibraryPath, "shotimport.log")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// settingsTemplate fixes key spelling and order of the exported settings.
type settingsTemplate struct {
	AddMetadataTag    bool     `json:"addMetadataTag"`
	AlbumName         string   `json:"albumName"`
	AllowedExtensions []string `json:"allowedExtensions"`
	CheckPath         string   `json:"checkPath"`
	Debug             bool     `json:"debug"`
	DeleteAfterImport bool     `json:"deleteAfterImport"`
	LibraryPath       string   `json:"libraryPath"`
	CommitTimeout     string   `json:"commitTimeout"`
	UseExifTool       bool     `json:"useExifTool"`
	MarkerValue       string   `json:"markerValue"`
	CreateWatchDir    bool     `json:"createWatchDir"`
	PollInterval      string   `json:"pollInterval"`
	LogFile           string   `json:"logFile,omitempty"`
}

// WriteSettings exports cfg as an editable JSON settings file.
func WriteSettings(cfg *Config, path string) error {
	exts := append([]string(nil), cfg.AllowedExtensions...)
	sort.Strings(exts)
	tmpl := settingsTemplate{
		AddMetadataTag:    cfg.AddMetadataTag,
		AlbumName:         cfg.AlbumName,
		AllowedExtensions: exts,
		CheckPath:         cfg.WatchPath,
		Debug:             cfg.Debug,
		DeleteAfterImport: cfg.DeleteAfterImport,
		LibraryPath:       cfg.LibraryPath,
		CommitTimeout:     cfg.CommitTimeout.String(),
		UseExifTool:       cfg.UseExifTool,
		MarkerValue:       cfg.MarkerValue,
		CreateWatchDir:    cfg.CreateWatchDir,
		PollInterval:      cfg.PollInterval.String(),
		LogFile:           cfg.LogFile,
	}
	data, err := json.MarshalIndent(tmpl, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings dir: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func offerTemplate(cfg *Config, path string, confirm Confirmer, report Reporter) {
	if confirm == nil {
		return
	}
	ok := confirm.Confirm("shotimport",
		fmt.Sprintf("Do you want to generate %q using default settings, so that you can customize it?", SettingsFileName))
	if !ok {
		return
	}
	targets := []string{path}
	if cfg.WatchPath != "" {
		targets = append(targets, filepath.Join(cfg.WatchPath, SettingsFileName))
	}
	for _, target := range targets {
		if err := WriteSettings(cfg, target); err != nil {
			report.Report(Event{
				Type:    EventNotice,
				Path:    target,
				Message: fmt.Sprintf("Failed to write default settings: %v", err),
			})
		}
	}
}
