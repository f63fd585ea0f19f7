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

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/toraxia/internal/config"
	"github.com/MeKo-Tech/toraxia/internal/server"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server for the analysis API",
		Long: `Start an HTTP server that provides REST and WebSocket endpoints for analysis.

The server provides the following endpoints:
  POST   /analyze                 - Analyze an uploaded radiograph
  GET    /analyses/{id}           - Fetch a retained analysis
  DELETE /analyses/{id}           - Drop a retained analysis
  POST   /analyses/{id}/explain   - Explain another class
  GET    /analyses/{id}/report    - Download a PDF report
  GET    /ws/explain              - Stream explanations over WebSocket
  GET    /model                   - Describe the loaded model
  GET    /health                  - Health check endpoint
  GET    /metrics                 - Prometheus metrics

Examples:
  toraxia serve
  toraxia serve --port 8080
  toraxia serve --host 0.0.0.0 --port 3000 --rate-limit 30`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.config()
			applyServerFlags(cmd, cfg)
			if err := applyAnalyzerFlags(cmd, cfg); err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
	addAnalyzerFlags(cmd)
	f := cmd.Flags()
	f.StringP("host", "H", "localhost", "server host")
	f.IntP("port", "p", 8080, "server port")
	f.String("cors-origin", "*", "CORS allowed origins")
	f.Int("max-upload-size", 50, "maximum upload size in MB")
	f.Int("timeout", 60, "request timeout in seconds")
	f.Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	f.Int("session-ttl", 1800, "seconds an idle analysis is retained")
	f.Int("max-sessions", 256, "maximum number of retained analyses")
	f.Int("rate-limit", 0, "maximum analysis requests per minute per client (0 disables)")
	return cmd
}

func applyServerFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if changed(f, "host") {
		cfg.Server.Host, _ = f.GetString("host")
	}
	if changed(f, "port") {
		cfg.Server.Port, _ = f.GetInt("port")
	}
	if changed(f, "cors-origin") {
		cfg.Server.CORSOrigin, _ = f.GetString("cors-origin")
	}
	if changed(f, "max-upload-size") {
		cfg.Server.MaxUploadMB, _ = f.GetInt("max-upload-size")
	}
	if changed(f, "timeout") {
		cfg.Server.TimeoutSec, _ = f.GetInt("timeout")
	}
	if changed(f, "shutdown-timeout") {
		cfg.Server.ShutdownTimeout, _ = f.GetInt("shutdown-timeout")
	}
	if changed(f, "session-ttl") {
		cfg.Server.SessionTTLSec, _ = f.GetInt("session-ttl")
	}
	if changed(f, "max-sessions") {
		cfg.Server.MaxSessions, _ = f.GetInt("max-sessions")
	}
	if changed(f, "rate-limit") {
		cfg.Server.RateLimit, _ = f.GetInt("rate-limit")
	}
}

// toServerConfig maps the centralized configuration to server.Config.
func toServerConfig(cfg *config.Config) server.Config {
	return server.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		CORSOrigin:     cfg.Server.CORSOrigin,
		MaxUploadMB:    int64(cfg.Server.MaxUploadMB),
		TimeoutSec:     cfg.Server.TimeoutSec,
		SessionTTL:     cfg.Server.SessionTTL(),
		MaxSessions:    cfg.Server.MaxSessions,
		RateLimit:      cfg.Server.RateLimit,
		Language:       cfg.Output.Language,
		PipelineConfig: cfg.ToPipelineConfig(),
	}
}

func runServer(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiServer, err := server.NewServer(toServerConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	mux := http.NewServeMux()
	apiServer.SetupRoutes(mux)

	timeout := cfg.Server.Timeout()
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout + 5*time.Second,
	}

	go func() {
		slog.Info("Starting analysis server", "host", cfg.Server.Host, "port", cfg.Server.Port)
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

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	slog.Info("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server shutdown completed")
	}

	slog.Info("Cleaning up server resources")
	if err := apiServer.Close(); err != nil {
		slog.Error("Server cleanup error", "error", err)
	} else {
		slog.Info("Server cleanup completed")
	}

	slog.Info("Graceful shutdown completed")
	return nil
}
