package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"image-compressor-go/internal/batch"
	"image-compressor-go/internal/config"
	"image-compressor-go/internal/logger"
	"image-compressor-go/internal/metadata"
	"image-compressor-go/internal/scheduler"
	"image-compressor-go/internal/statistics"
	"image-compressor-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile      string
	outputDir    string
	quality      int
	format       string
	width        int
	height       int
	keepAspect   bool
	preserveMeta bool
	workers      int
	verbose      bool
	quiet        bool
	port         int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "image-compressor [files or directories...]",
	Short: "Batch compress, resize and convert images",
	Long: `ImageCompressor takes a batch of image files, optionally resizes,
converts and recompresses them, and writes the results to an output
directory with per-file progress and before/after size comparison.

Features:
- Bounded worker pool with per-file progress events
- JPEG, PNG, WEBP and BMP output at configurable quality
- Aspect-preserving resize
- Never produces an output larger than the original
- Collision-safe output naming (name.ext, name (1).ext, ...)
- EXIF preservation where the target format supports it`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(args)
	},
}

// inspectCmd dumps the metadata of a single file.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show image metadata for a specific file",
	Long: `Shows the metadata fields of an image file as reported by exiftool.
Useful for checking what the preserve-metadata option would carry over.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

// serveCmd starts the web interface server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start web interface server",
	Long: `Starts a local web server with a graphical interface. The interface
lets you submit batches, watch per-file progress in real time over a
websocket, and cancel a running batch.

Access the interface at http://localhost:<port> (default: 8080)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.Flags().StringVar(&outputDir, "out", "", "output directory for compressed files")
	rootCmd.Flags().IntVar(&quality, "quality", 0, "compression quality 1-100 (default from config)")
	rootCmd.Flags().StringVar(&format, "format", "", "target format: jpeg, png, webp, bmp or keep")
	rootCmd.Flags().IntVar(&width, "width", 0, "resize width in pixels (0 keeps original)")
	rootCmd.Flags().IntVar(&height, "height", 0, "resize height in pixels (0 keeps original)")
	rootCmd.Flags().BoolVar(&keepAspect, "keep-aspect", false, "fit within width x height preserving aspect ratio")
	rootCmd.Flags().BoolVar(&preserveMeta, "preserve-metadata", true, "copy EXIF into outputs that support it")
	rootCmd.Flags().IntVar(&workers, "workers", 0, "worker pool size (0 = hardware parallelism)")

	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run web server on")

	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveCmd)
}

// initConfig loads configuration file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.image-compressor")
		viper.AddConfigPath("/etc/image-compressor")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// runCompress executes a batch over the given files and directories.
func runCompress(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)

	files := batch.Collect(args)
	if len(files) == 0 {
		return fmt.Errorf("no supported image files found in the given paths")
	}

	run := batch.New()
	for _, f := range files {
		if _, err := run.Add(f); err != nil {
			log.Warnf("Skipping input: %v", err)
		}
	}
	if run.Len() == 0 {
		return fmt.Errorf("no readable image files found")
	}

	// SIGINT cancels dispatch; in-flight files settle at their next
	// checkpoint and remaining ones are reported as skipped.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Warn("Cancellation requested, finishing in-flight files")
		cancel()
	}()

	sched := scheduler.New(cfg, log, scheduler.Callbacks{
		OnRecordStatusChanged: func(rec batch.Record, ev batch.Event) {
			if quiet || !ev.Status.Terminal() {
				return
			}
			switch ev.Status {
			case batch.StatusDone:
				fmt.Printf("  %s: %s -> %s (%s -> %s)\n",
					ev.Status, rec.SourcePath, rec.OutputPath,
					statistics.FormatBytes(rec.OriginalSize),
					statistics.FormatBytes(rec.CompressedSize))
			case batch.StatusFailed:
				fmt.Printf("  %s: %s (%s: %s)\n", ev.Status, rec.SourcePath, rec.ErrKind, rec.ErrMessage)
			default:
				fmt.Printf("  %s: %s\n", ev.Status, rec.SourcePath)
			}
		},
	})

	summary, err := sched.Run(ctx, run)
	if err != nil {
		return fmt.Errorf("batch failed: %w", err)
	}

	if !quiet {
		fmt.Printf("\nDone: %d compressed, %d failed, %d skipped, %s saved in %v\n",
			summary.Done, summary.Failed, summary.Skipped,
			statistics.FormatBytes(summary.BytesSaved),
			summary.Duration.Round(time.Millisecond))
	}

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", summary.Failed, summary.Total)
	}
	return nil
}

// runInspect prints the metadata fields of a single file.
func runInspect(filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	fields, err := metadata.Describe(filePath)
	if err != nil {
		return fmt.Errorf("inspect failed: %w", err)
	}

	fmt.Printf("Metadata for %s:\n", filePath)
	for _, name := range metadata.FieldNames(fields) {
		fmt.Printf("  %s: %v\n", name, fields[name])
	}
	if metadata.HasEXIF(filePath) {
		fmt.Println("\nEXIF: present (will be preserved where the target format supports it)")
	} else {
		fmt.Println("\nEXIF: not present")
	}
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
	}

	log := setupLogger(cfg)
	server := web.NewServer(cfg, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("ImageCompressor web interface started on http://localhost:%d\n", port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	if outputDir != "" {
		cfg.Compression.OutputDir = outputDir
	}
	if quality > 0 {
		cfg.Compression.Quality = quality
	}
	if format != "" {
		cfg.Compression.Format = config.Format(format)
	}
	if width > 0 {
		cfg.Compression.Width = width
	}
	if height > 0 {
		cfg.Compression.Height = height
	}
	if keepAspect {
		cfg.Compression.KeepAspect = true
	}
	cfg.Compression.PreserveMetadata = preserveMeta
	if workers > 0 {
		cfg.Performance.WorkerThreads = workers
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Compression.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required (use --out)")
	}

	return cfg, nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
