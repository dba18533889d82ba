package internal

import (
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/xhsdl/internal/fetch"
	"github.com/starford/xhsdl/internal/retriever"
	"github.com/starford/xhsdl/internal/state"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	HTTP     HTTPConfig        `yaml:"http"`
	Download DownloadConfig    `yaml:"download"`
	Library  LibraryConfig     `yaml:"library"`
	Ledger   LedgerConfig      `yaml:"ledger"`
	Prefs    PrefsConfig       `yaml:"prefs"`
	State    StateConfig       `yaml:"state"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	if err := c.Download.Validate(); err != nil {
		return err
	}
	if err := c.Library.Validate(); err != nil {
		return err
	}
	if err := c.Ledger.Validate(); err != nil {
		return err
	}
	if err := c.Prefs.Validate(); err != nil {
		return err
	}
	return c.State.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
}

// HTTPConfig holds outbound HTTP client configuration.
type HTTPConfig struct {
	UserAgent             string        `yaml:"user_agent"`
	Referer               string        `yaml:"referer"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	ResolveTimeout        time.Duration `yaml:"resolve_timeout"`
	PageTimeout           time.Duration `yaml:"page_timeout"`
	RateLimit             float64       `yaml:"rate_limit"` // requests per second, 0 disables pacing
	RateBurst             int           `yaml:"rate_burst"`
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.UserAgent, validation.Required),
		validation.Field(&c.Referer, validation.Required),
		validation.Field(&c.ConnectTimeout, validation.Required, validation.Min(100*time.Millisecond)),
		validation.Field(&c.ResponseHeaderTimeout, validation.Required, validation.Min(100*time.Millisecond)),
		validation.Field(&c.ResolveTimeout, validation.Required, validation.Min(100*time.Millisecond)),
		validation.Field(&c.PageTimeout, validation.Required, validation.Min(100*time.Millisecond)),
		validation.Field(&c.RateLimit, validation.Min(0.0)),
		validation.Field(&c.RateBurst, validation.Min(0)),
	)
}

// FetchConfig converts c into the fetch client configuration.
func (c *HTTPConfig) FetchConfig() fetch.Config {
	return fetch.Config{
		UserAgent:             c.UserAgent,
		Referer:               c.Referer,
		ConnectTimeout:        c.ConnectTimeout,
		ResponseHeaderTimeout: c.ResponseHeaderTimeout,
		ResolveTimeout:        c.ResolveTimeout,
		PageTimeout:           c.PageTimeout,
		RateLimit:             c.RateLimit,
		RateBurst:             c.RateBurst,
	}
}

// DownloadConfig holds retrieval configuration.
type DownloadConfig struct {
	WorkDir string        `yaml:"work_dir"` // empty means a directory under os.TempDir
	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the download configuration.
func (c *DownloadConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Required, validation.Min(1), validation.Max(16)),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Second)),
	)
}

// LibraryConfig holds the path to the media library directory.
type LibraryConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the library configuration.
func (c *LibraryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// LedgerConfig holds the download ledger SQLite configuration.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the ledger configuration.
func (c *LedgerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// PrefsConfig holds the naming preferences file location.
type PrefsConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the preferences configuration.
func (c *PrefsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// StateConfig bounds embedded-state evaluation.
type StateConfig struct {
	EvalTimeout time.Duration `yaml:"eval_timeout"`
}

// Validate validates the state configuration.
func (c *StateConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.EvalTimeout, validation.Required, validation.Min(10*time.Millisecond), validation.Max(time.Minute)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	fc := fetch.DefaultConfig()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		HTTP: HTTPConfig{
			UserAgent:             fc.UserAgent,
			Referer:               fc.Referer,
			ConnectTimeout:        fc.ConnectTimeout,
			ResponseHeaderTimeout: fc.ResponseHeaderTimeout,
			ResolveTimeout:        fc.ResolveTimeout,
			PageTimeout:           fc.PageTimeout,
			RateLimit:             fc.RateLimit,
			RateBurst:             fc.RateBurst,
		},
		Download: DownloadConfig{
			Workers: 1,
			Timeout: retriever.DefaultTimeout,
		},
		Library: LibraryConfig{
			Path: "./library",
		},
		Ledger: LedgerConfig{
			Path: "./xhsdl.db",
		},
		Prefs: PrefsConfig{
			Path: "./prefs.yaml",
		},
		State: StateConfig{
			EvalTimeout: state.DefaultTimeout,
		},
	}
}
