package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmgilman/go/lazygit"
	"github.com/jmgilman/go/lazygit/config"
)

// loadConfig reads --config when given and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if repoURL != "" {
		cfg.Repo.URL = repoURL
	}
	if branch != "" {
		cfg.Repo.Branch = branch
	}
	if dir != "" {
		cfg.Repo.Dir = dir
	}
	if metricsListen != "" {
		cfg.Metrics.Listen = metricsListen
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openRepo loads the configuration, starts the metrics endpoint when
// configured and opens the repository.
func openRepo(ctx context.Context) (*lazygit.Repository, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger()
	if cfg.Metrics.Listen != "" {
		if err := serveMetrics(cfg.Metrics.Listen, logger); err != nil {
			return nil, err
		}
	}

	opts, err := cfg.Options(logger)
	if err != nil {
		return nil, err
	}
	return lazygit.Open(ctx, cfg.Repo.URL, opts...)
}

// serveMetrics exposes the default Prometheus registry on addr for the life
// of the process.
func serveMetrics(addr string, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}
