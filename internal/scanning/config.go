package scanning

import (
	"slices"
	"strings"
	"time"
)

const (
	// DefaultMaxUploadSize is the largest document accepted by the upload boundary (10 MiB)
	DefaultMaxUploadSize int64 = 10 << 20

	// DefaultRenderDPI is the resolution used to rasterize the first PDF page
	DefaultRenderDPI = 300.0

	// DefaultTimeout bounds a single model call
	DefaultTimeout = 60 * time.Second

	DefaultGeminiModel = "gemini-2.5-flash"
	DefaultOllamaModel = "llava"
)

// Config carries the process-wide settings the normalizer and reconciler need.
// It is passed in explicitly so tests can run with alternate settings.
type Config struct {
	// Model is the model identifier reported in logs
	Model string

	// AllowedExtensions lists the accepted file extensions, lower-case without the dot
	AllowedExtensions []string

	// MaxUploadSize is the maximum document size in bytes
	MaxUploadSize int64

	// RenderDPI is the PDF rasterization resolution
	RenderDPI float64

	// Timeout bounds each model call. Zero leaves the deadline to the caller's context.
	Timeout time.Duration
}

// DefaultConfig returns the stock configuration
func DefaultConfig() Config {
	return Config{
		Model:             DefaultGeminiModel,
		AllowedExtensions: []string{"pdf", "png", "jpg", "jpeg"},
		MaxUploadSize:     DefaultMaxUploadSize,
		RenderDPI:         DefaultRenderDPI,
		Timeout:           DefaultTimeout,
	}
}

// withDefaults fills zero values from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if len(c.AllowedExtensions) == 0 {
		c.AllowedExtensions = d.AllowedExtensions
	}
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = d.MaxUploadSize
	}
	if c.RenderDPI <= 0 {
		c.RenderDPI = d.RenderDPI
	}
	return c
}

// Allows reports whether ext is in the allow-set
func (c Config) Allows(ext string) bool {
	return slices.Contains(c.withDefaults().AllowedExtensions, NormalizeExtension(ext))
}

// NormalizeExtension lower-cases ext and strips a leading dot
func NormalizeExtension(ext string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
}
