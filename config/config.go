// Package config holds the runtime settings of a viewing session.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

type Config struct {
	Viewer    Viewer    `json:"viewer"`
	Search    Search    `json:"search"`
	Recompose Recompose `json:"recompose"`
	Store     Store     `json:"store"`
	OCR       OCR       `json:"ocr"`
	Log       Log       `json:"log"`
}

type Viewer struct {
	// ZoomMode is one of fit-width, fit-height or explicit.
	ZoomMode          string  `json:"zoom_mode"`
	Scale             float64 `json:"scale"`
	ViewportWidth     float64 `json:"viewport_width"`
	ViewportHeight    float64 `json:"viewport_height"`
	DevicePixelRatio  float64 `json:"device_pixel_ratio"`
	QualityMultiplier float64 `json:"quality_multiplier"`
	ChromeAllowance   float64 `json:"chrome_allowance"`
}

type Search struct {
	ContextRunes int      `json:"context_runes"`
	Concurrency  int      `json:"concurrency"`
	RegexTimeout Duration `json:"regex_timeout"`
}

type Recompose struct {
	// FontPath points at a TrueType font used for generated pages. Empty
	// selects the bundled Go font, which only covers Latin scripts.
	FontPath      string `json:"font_path"`
	TOC           bool   `json:"toc"`
	PageNumbers   bool   `json:"page_numbers"`
	CountTOCPages bool   `json:"count_toc_pages"`
	Landscape     bool   `json:"landscape"`
	Bookmarks     bool   `json:"bookmarks"`
	Locale        string `json:"locale"`
}

type Store struct {
	Path     string `json:"path"`
	Disabled bool   `json:"disabled"`
}

type OCR struct {
	Enabled   bool     `json:"enabled"`
	Languages []string `json:"languages"`
}

type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Duration decodes from a Go duration string such as "250ms".
type Duration struct{ time.Duration }

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Defaults returns the settings used when no file is given.
func Defaults() Config {
	return Config{
		Viewer: Viewer{
			ZoomMode:          "fit-width",
			Scale:             1.0,
			ViewportWidth:     1024,
			ViewportHeight:    768,
			DevicePixelRatio:  1.0,
			QualityMultiplier: 2.0,
			ChromeAllowance:   48,
		},
		Search: Search{
			ContextRunes: 40,
			Concurrency:  8,
			RegexTimeout: Duration{2 * time.Second},
		},
		Recompose: Recompose{
			TOC:       true,
			Landscape: true,
			Locale:    "en",
		},
		Store: Store{Path: "pdfdeck.db"},
		OCR:   OCR{Languages: []string{"eng"}},
		Log:   Log{Level: "info", Format: "text"},
	}
}

// LoadJSON reads a config from path or raw bytes on top of Defaults.
// Unknown fields are rejected.
func LoadJSON(path string, raw []byte) (Config, error) {
	cfg := Defaults()
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func Validate(cfg Config) error {
	switch cfg.Viewer.ZoomMode {
	case "fit-width", "fit-height", "explicit":
	default:
		return fmt.Errorf("config: unknown zoom_mode %q", cfg.Viewer.ZoomMode)
	}
	if cfg.Viewer.ZoomMode == "explicit" && cfg.Viewer.Scale <= 0 {
		return errors.New("config: scale must be > 0")
	}
	if cfg.Viewer.ViewportWidth <= 1 || cfg.Viewer.ViewportHeight <= cfg.Viewer.ChromeAllowance {
		return errors.New("config: viewport too small")
	}
	if cfg.Viewer.DevicePixelRatio <= 0 || cfg.Viewer.QualityMultiplier <= 0 {
		return errors.New("config: device_pixel_ratio and quality_multiplier must be > 0")
	}
	if cfg.Search.ContextRunes < 0 {
		return errors.New("config: context_runes must be >= 0")
	}
	if cfg.Search.Concurrency < 1 {
		return errors.New("config: search concurrency must be >= 1")
	}
	if cfg.Search.RegexTimeout.Duration <= 0 {
		return errors.New("config: regex_timeout must be > 0")
	}
	if !cfg.Store.Disabled && strings.TrimSpace(cfg.Store.Path) == "" {
		return errors.New("config: store path empty")
	}
	if cfg.OCR.Enabled && len(cfg.OCR.Languages) == 0 {
		return errors.New("config: ocr enabled without languages")
	}
	return nil
}
