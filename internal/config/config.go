package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go-spot-counter/internal/pipeline"
	"go-spot-counter/pkg/validation"
)

// Archive backends
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveAzure = "azure"
)

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	AnalysisTimeout    time.Duration
	MaxRequestBodySize int64

	Workers           int
	PreviewMaxSize    int
	RunHistorySize    int
	MaxImageDimension int

	// Defaults applied to fields a request leaves out
	Defaults pipeline.Parameters

	ArchiveBackend string
	ArchiveDir     string
	AzureAccount   string
	AzureKey       string
	AzureContainer string
}

func (c *Config) ServerAddress() string {
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvOrDefault("PORT", "8080"),
		RequestTimeout:     parseDurationOrDefault("REQUEST_TIMEOUT", 30*time.Second),
		AnalysisTimeout:    parseDurationOrDefault("ANALYSIS_TIMEOUT", 20*time.Second),
		MaxRequestBodySize: parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 25*1024*1024), // 25MB
		Workers:            int(parseIntOrDefault("WORKERS", 0)),
		PreviewMaxSize:     int(parseIntOrDefault("PREVIEW_MAX_SIZE", 512)),
		RunHistorySize:     int(parseIntOrDefault("RUN_HISTORY_SIZE", 100)),
		MaxImageDimension:  int(parseIntOrDefault("MAX_IMAGE_DIMENSION", int64(validation.DefaultParameterLimits().MaxImageDimension))),
		ArchiveBackend:     strings.ToLower(getEnvOrDefault("ARCHIVE_BACKEND", ArchiveNone)),
		ArchiveDir:         getEnvOrDefault("ARCHIVE_DIR", "./runs"),
		AzureAccount:       os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureKey:           os.Getenv("AZURE_STORAGE_KEY"),
		AzureContainer:     getEnvOrDefault("AZURE_STORAGE_CONTAINER", "spot-runs"),
	}

	defaults, err := loadDefaultParameters()
	if err != nil {
		return nil, err
	}
	cfg.Defaults = defaults

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at request time
func (c *Config) Validate() error {
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.RequestTimeout <= 0 || c.AnalysisTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, analysis=%s)",
			c.RequestTimeout, c.AnalysisTimeout)
	}
	if c.Workers < 0 {
		return fmt.Errorf("WORKERS must be >= 0 (got %d)", c.Workers)
	}
	if c.MaxImageDimension < 0 {
		return fmt.Errorf("MAX_IMAGE_DIMENSION must be >= 0 (got %d)", c.MaxImageDimension)
	}
	if c.PreviewMaxSize < 0 {
		return fmt.Errorf("PREVIEW_MAX_SIZE must be >= 0 (got %d)", c.PreviewMaxSize)
	}
	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("invalid default parameters: %w", err)
	}

	switch c.ArchiveBackend {
	case ArchiveNone:
	case ArchiveLocal:
		if strings.TrimSpace(c.ArchiveDir) == "" {
			return fmt.Errorf("ARCHIVE_DIR is required for the local archive")
		}
	case ArchiveAzure:
		if c.AzureAccount == "" || c.AzureKey == "" || c.AzureContainer == "" {
			return fmt.Errorf("AZURE_STORAGE_ACCOUNT, AZURE_STORAGE_KEY and AZURE_STORAGE_CONTAINER are required for the azure archive")
		}
	default:
		return fmt.Errorf("invalid ARCHIVE_BACKEND: %q", c.ArchiveBackend)
	}
	return nil
}

func loadDefaultParameters() (pipeline.Parameters, error) {
	p := pipeline.DefaultParameters()
	p.Threshold = int(parseIntOrDefault("DEFAULT_THRESHOLD", int64(p.Threshold)))
	p.KernelSize = int(parseIntOrDefault("DEFAULT_KERNEL_SIZE", int64(p.KernelSize)))
	p.MinArea = parseFloatOrDefault("DEFAULT_MIN_AREA", p.MinArea)
	p.MaxArea = parseFloatOrDefault("DEFAULT_MAX_AREA", p.MaxArea)

	if v := os.Getenv("DEFAULT_KERNEL_SHAPE"); v != "" {
		shape, err := pipeline.ParseKernelShape(v)
		if err != nil {
			return p, fmt.Errorf("invalid DEFAULT_KERNEL_SHAPE: %w", err)
		}
		p.KernelShape = shape
	}
	if v := os.Getenv("DEFAULT_MARKER_COLOR"); v != "" {
		c, err := pipeline.ParseHexColor(v)
		if err != nil {
			return p, fmt.Errorf("invalid DEFAULT_MARKER_COLOR: %w", err)
		}
		p.MarkerColor = c
	}
	return p, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}
