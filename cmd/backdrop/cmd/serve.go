package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/backdrop/internal/config"
	"github.com/MeKo-Tech/backdrop/internal/server"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the background API",
	Long: `Start an HTTP server that removes and replaces image backgrounds.

The server provides the following endpoints:
  POST /remove-bg        - Cut out the subject of an uploaded image
  POST /remove-bg/batch  - Cut out several base64 encoded images
  POST /replace-bg       - Composite an uploaded foreground onto a background
  POST /upload-image     - Cut out an image and return it as a download
  GET  /download         - Fetch a stored result (requires --storage-dir)
  GET  /ws               - WebSocket interface for remove and replace jobs
  GET  /models           - List registered models
  GET  /health           - Health check endpoint
  GET  /metrics          - Prometheus metrics

Examples:
  backdrop serve
  backdrop serve --port 8080
  backdrop serve --host 0.0.0.0 --port 3000 --rate-limit-enabled`,
	RunE: runServe,
}

// serverConfigFromFlags merges server flags over the loaded configuration.
func serverConfigFromFlags(cmd *cobra.Command, cfg *config.Config) server.Config {
	sc := server.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		CORSOrigin:  cfg.Server.CORSOrigin,
		MaxUploadMB: cfg.Server.MaxUploadMB,
		TimeoutSec:  cfg.Server.TimeoutSec,
		ModelsDir:   cfg.ModelsDir,
		RemoveModel: cfg.Server.RemoveModel,
		Compose:     cfg.ComposeOptions(),
		BatchLimit:  cfg.Server.BatchLimit,
		StorageDir:  cfg.Server.StorageDir,
		RateLimit: server.RateLimitConfig{
			Enabled:           cfg.Server.RateLimit.Enabled,
			RequestsPerMinute: cfg.Server.RateLimit.RequestsPerMinute,
			RequestsPerHour:   cfg.Server.RateLimit.RequestsPerHour,
			MaxRequestsPerDay: cfg.Server.RateLimit.MaxRequestsPerDay,
		},
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		sc.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		sc.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("cors-origin") {
		sc.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-upload-size") {
		sc.MaxUploadMB, _ = flags.GetInt64("max-upload-size")
	}
	if flags.Changed("timeout") {
		sc.TimeoutSec, _ = flags.GetInt("timeout")
	}
	if flags.Changed("remove-model") {
		sc.RemoveModel, _ = flags.GetString("remove-model")
	}
	if flags.Changed("storage-dir") {
		sc.StorageDir, _ = flags.GetString("storage-dir")
	}
	if flags.Changed("batch-limit") {
		sc.BatchLimit, _ = flags.GetInt("batch-limit")
	}
	if flags.Changed("rate-limit-enabled") {
		sc.RateLimit.Enabled, _ = flags.GetBool("rate-limit-enabled")
	}
	if flags.Changed("requests-per-minute") {
		sc.RateLimit.RequestsPerMinute, _ = flags.GetInt("requests-per-minute")
	}
	if flags.Changed("requests-per-hour") {
		sc.RateLimit.RequestsPerHour, _ = flags.GetInt("requests-per-hour")
	}
	if flags.Changed("max-requests-per-day") {
		sc.RateLimit.MaxRequestsPerDay, _ = flags.GetInt("max-requests-per-day")
	}
	return sc
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	sc := serverConfigFromFlags(cmd, cfg)

	shutdownTimeout := cfg.Server.ShutdownTimeoutSec
	if cmd.Flags().Changed("shutdown-timeout") {
		shutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
	}

	if sc.Port < 1 || sc.Port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", sc.Port)
	}

	pl, err := buildPipeline(cfg, server.ModelHooks())
	if err != nil {
		return err
	}

	srv, err := server.NewServer(sc, pl)
	if err != nil {
		_ = pl.Close()
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", sc.Host, sc.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// Uploads and inference both count against these.
		ReadTimeout:  time.Duration(sc.TimeoutSec) * time.Second,
		WriteTimeout: 2 * time.Duration(sc.TimeoutSec) * time.Second,
	}

	go func() {
		slog.Info("Starting backdrop server",
			"host", sc.Host,
			"port", sc.Port,
			"backend", cfg.Segmentation.Backend,
			"default_model", pl.DefaultModel())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("Context cancelled, initiating shutdown")
	}

	slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", shutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server shutdown completed")
	}

	if err := srv.Close(); err != nil {
		slog.Error("Server cleanup error", "error", err)
	}
	releaseRuntime(cfg)

	slog.Info("Graceful shutdown completed")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int64("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 60, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().String("remove-model", "u2net", "default model for /remove-bg")
	serveCmd.Flags().String("storage-dir", "", "keep uploads and results here and enable /download")
	serveCmd.Flags().Int("batch-limit", 10, "maximum images per /remove-bg/batch request")
	// Rate limiting flags
	serveCmd.Flags().Bool("rate-limit-enabled", false, "enable rate limiting")
	serveCmd.Flags().Int("requests-per-minute", 60, "maximum requests per minute per client")
	serveCmd.Flags().Int("requests-per-hour", 1000, "maximum requests per hour per client")
	serveCmd.Flags().Int("max-requests-per-day", 0, "maximum requests per day per client (0 disables)")
}
