package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Format is a supported output image format.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWEBP Format = "webp"
	FormatBMP  Format = "bmp"
	// FormatKeep re-encodes each file in its own source format.
	FormatKeep Format = "keep"
)

// Config represents the main configuration structure
type Config struct {
	Compression CompressionConfig `mapstructure:"compression"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CompressionConfig describes how a batch of images is transformed. It is
// shared read-only across workers once a batch starts.
type CompressionConfig struct {
	Quality          int    `mapstructure:"quality"`
	Format           Format `mapstructure:"format"`
	Width            int    `mapstructure:"width"`
	Height           int    `mapstructure:"height"`
	KeepAspect       bool   `mapstructure:"keep_aspect"`
	PreserveMetadata bool   `mapstructure:"preserve_metadata"`
	OutputDir        string `mapstructure:"output_dir"`
}

// PerformanceConfig contains performance tuning settings
type PerformanceConfig struct {
	WorkerThreads int `mapstructure:"worker_threads"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// SupportedExtensions lists the raster file extensions accepted as batch input.
var SupportedExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp"}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Compression: CompressionConfig{
			Quality:          70,
			Format:           FormatKeep,
			PreserveMetadata: true,
		},
		Performance: PerformanceConfig{
			WorkerThreads: 0, // 0 means derive from hardware parallelism
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "image-compressor.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.image-compressor")
		viper.AddConfigPath("/etc/image-compressor")
	}

	viper.SetEnvPrefix("IMAGE_COMPRESSOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Compression.Validate(); err != nil {
		return err
	}

	if c.Performance.WorkerThreads < 0 {
		return fmt.Errorf("worker_threads must not be negative: %d", c.Performance.WorkerThreads)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// Validate checks the compression parameters.
func (cc *CompressionConfig) Validate() error {
	if cc.Quality < 1 || cc.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100: %d", cc.Quality)
	}

	switch cc.Format {
	case FormatJPEG, FormatPNG, FormatWEBP, FormatBMP, FormatKeep:
	case "":
		cc.Format = FormatKeep
	default:
		return fmt.Errorf("invalid format: %s (valid: jpeg, png, webp, bmp, keep)", cc.Format)
	}

	if cc.Width < 0 || cc.Height < 0 {
		return fmt.Errorf("resize dimensions must not be negative: %dx%d", cc.Width, cc.Height)
	}

	return nil
}

// HasResize reports whether any resize dimension is configured.
func (cc *CompressionConfig) HasResize() bool {
	return cc.Width > 0 || cc.Height > 0
}

// Workers returns the effective worker pool size. A zero configured value
// derives the size from the available hardware parallelism, never below 2.
func (c *Config) Workers() int {
	if c.Performance.WorkerThreads > 0 {
		return c.Performance.WorkerThreads
	}
	n := runtime.NumCPU()
	if n < 2 {
		n = 2
	}
	return n
}

// IsSupportedExtension checks if the extension belongs to a supported raster format.
func IsSupportedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, supportedExt := range SupportedExtensions {
		if ext == supportedExt {
			return true
		}
	}
	return false
}

// FormatForExtension maps a file extension to its Format, or FormatKeep
// with ok=false when the extension is not a supported raster format.
func FormatForExtension(ext string) (Format, bool) {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return FormatJPEG, true
	case ".png":
		return FormatPNG, true
	case ".webp":
		return FormatWEBP, true
	case ".bmp":
		return FormatBMP, true
	default:
		return FormatKeep, false
	}
}

// Extension returns the file extension (with dot) for the format.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatPNG:
		return ".png"
	case FormatWEBP:
		return ".webp"
	case FormatBMP:
		return ".bmp"
	default:
		return ""
	}
}

// CarriesMetadata reports whether the format container can hold EXIF tags.
// BMP has no metadata container; converting to it drops tags silently.
func (f Format) CarriesMetadata() bool {
	switch f {
	case FormatJPEG, FormatPNG, FormatWEBP:
		return true
	default:
		return false
	}
}

// Helper functions

func isValidPath(path string) bool {
	if path == "" {
		return false
	}

	expandedPath := os.ExpandEnv(path)
	if strings.HasPrefix(expandedPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return false
		}
		expandedPath = filepath.Join(home, expandedPath[1:])
	}

	stat, err := os.Stat(expandedPath)
	return err == nil && stat.IsDir()
}

// ValidateOutputDir checks that the configured output directory exists or can
// be created.
func (cc *CompressionConfig) ValidateOutputDir() error {
	if cc.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if isValidPath(cc.OutputDir) {
		return nil
	}
	if err := os.MkdirAll(cc.OutputDir, 0755); err != nil {
		return fmt.Errorf("output_dir is not usable: %w", err)
	}
	return nil
}
