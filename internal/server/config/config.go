package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"squash/internal/core"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	BaseURL  string `env:"BASE_URL"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	StagingPath string `env:"STAGING_PATH" envDefault:"./storage/uploads"`
	OutputPath  string `env:"OUTPUT_PATH" envDefault:"./storage/compressed"`

	MaxUploadSize     int64    `env:"MAX_UPLOAD_SIZE" envDefault:"16777216"` // 16 MiB
	AllowedExtensions []string `env:"ALLOWED_EXTENSIONS" envSeparator:"," envDefault:"png,jpg,jpeg,gif,bmp,webp,pdf,doc,docx,xls,xlsx,ppt,pptx,odt,ods,rtf,txt,csv,json,xml,md,log,zip,tar,gz,7z,rar"`
	ImageQuality      int      `env:"IMAGE_QUALITY" envDefault:"60"`
	ArchiveFormat     string   `env:"ARCHIVE_FORMAT" envDefault:"zip"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`
	ReapInterval   time.Duration `env:"REAP_INTERVAL" envDefault:"10m"`
	OrphanMaxAge   time.Duration `env:"ORPHAN_MAX_AGE" envDefault:"1h"`

	// DatabaseURL enables the compression ledger when set.
	DatabaseURL string `env:"DATABASE_URL"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`

	allowed map[string]bool
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// Default returns the configuration used when no environment is set.
func Default() *Config {
	cfg, err := parse(env.Options{Environment: map[string]string{}})
	if err != nil {
		panic(err)
	}
	return cfg
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and normalizes the extension allow-list.
func (c *Config) Validate() error {
	var errs []error

	if c.MaxUploadSize <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_SIZE must be positive"))
	}
	if c.ImageQuality < 1 || c.ImageQuality > 100 {
		errs = append(errs, fmt.Errorf("IMAGE_QUALITY must be between 1 and 100, got %d", c.ImageQuality))
	}
	if _, err := core.NewArchiveStrategy(c.ArchiveFormat); err != nil {
		errs = append(errs, fmt.Errorf("ARCHIVE_FORMAT: %w", err))
	}
	if c.StagingPath == "" || c.OutputPath == "" {
		errs = append(errs, errors.New("STAGING_PATH and OUTPUT_PATH are required"))
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.ReapInterval <= 0 || c.OrphanMaxAge <= 0 {
		errs = append(errs, errors.New("REAP_INTERVAL and ORPHAN_MAX_AGE must be positive"))
	}

	c.allowed = make(map[string]bool, len(c.AllowedExtensions))
	for _, ext := range c.AllowedExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext == "" {
			continue
		}
		if !isAlnum(ext) {
			errs = append(errs, fmt.Errorf("ALLOWED_EXTENSIONS: invalid extension %q", ext))
			continue
		}
		c.allowed["."+ext] = true
	}

	return errors.Join(errs...)
}

// AllowsExtension reports whether ext (with leading dot, any case) may be
// uploaded. An empty allow-list accepts every extension.
func (c *Config) AllowsExtension(ext string) bool {
	if len(c.allowed) == 0 {
		return true
	}
	return c.allowed[strings.ToLower(ext)]
}

func isAlnum(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
