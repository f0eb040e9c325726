// Package main implements the DiaCheck risk API server.
package main

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

	"golang.org/x/sync/errgroup"

	"github.com/diacheck/diacheck/engine/features"
	"github.com/diacheck/diacheck/engine/model"
	"github.com/diacheck/diacheck/engine/predict"
	"github.com/diacheck/diacheck/pkg/logging"
	"github.com/diacheck/diacheck/pkg/metrics"
)

func main() {
	cfg := loadConfig()
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}, os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

// app is the wired service shared by the HTTP handlers and the reload
// listener.
type app struct {
	cfg    Config
	svc    *predict.Service
	reg    *metrics.Registry
	logger *slog.Logger

	// startErr is why the bundle was not installed at startup.
	startErr error
}

// loadError returns the latest load failure: a failed reload if there was
// one since startup, else the startup failure while no bundle is loaded.
func (a *app) loadError() error {
	if err := a.svc.LastError(); err != nil {
		return err
	}
	if !a.svc.Ready() {
		return a.startErr
	}
	return nil
}

// newApp loads configuration files and the model bundle. A bundle that fails
// to load or validate is logged and leaves the service unavailable; bad
// overrides or an unknown variant are startup errors.
func newApp(cfg Config, logger *slog.Logger) (*app, error) {
	overrides, err := features.LoadOverrides(cfg.FeatureOverrides)
	if err != nil {
		return nil, err
	}

	var opts []model.Option
	if cfg.ORTLibPath != "" {
		opts = append(opts, model.WithONNXRuntime(cfg.ORTLibPath))
	}

	b, loadErr := model.Load(cfg.ModelPath, opts...)
	if loadErr != nil {
		logger.Error("model failed to load", "path", cfg.ModelPath, "err", loadErr)
	}

	variant, err := predict.ResolveVariant(cfg.ModelVariant, b, overrides)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("resolve variant: %w", err)
	}

	startErr := loadErr
	if b != nil {
		if err := predict.Validate(b, variant); err != nil {
			logger.Error("model bundle rejected", "path", cfg.ModelPath, "variant", variant.ID, "err", err)
			b.Close()
			b = nil
			startErr = err
		}
	}

	opts = append(opts, model.WithLogger(logger))
	handle := model.NewHandle(predict.Loader(cfg.ModelPath, variant, opts...), logger)
	if b != nil {
		handle.Set(b)
		logger.Info("model loaded",
			"path", cfg.ModelPath,
			"variant", variant.ID,
			"kind", b.Kind,
			"features", b.NumFeatures(),
		)
	}

	reg := metrics.New()
	svc := predict.New(handle, variant, predict.NewMetrics(reg, variant.ID), logger)
	return &app{cfg: cfg, svc: svc, reg: reg, logger: logger, startErr: startErr}, nil
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api server starting", "port", cfg.Port, "variant", a.svc.Variant().ID, "model_ready", a.svc.Ready())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if cfg.NATSURL != "" {
		if nc, err := a.connectNATS(); err != nil {
			logger.Error("nats unavailable, reload listener disabled", "url", cfg.NATSURL, "err", err)
		} else {
			defer nc.Close()
			g.Go(func() error {
				return a.listenReload(ctx, nc, cfg.ReloadSubject)
			})
		}
	}

	return g.Wait()
}
