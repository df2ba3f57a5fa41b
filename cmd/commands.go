package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/standings/internal/adapters/repository"
	"github.com/okian/standings/internal/adapters/source"
	app "github.com/okian/standings/internal/app"
	"github.com/okian/standings/internal/config"
	"github.com/okian/standings/internal/domain/reconcile"
	"github.com/okian/standings/internal/fakesource"
	"github.com/okian/standings/pkg/logger"
)

// setup initializes logging and loads configuration. Logs go to stderr so
// command output on stdout stays machine readable.
func setup(ctx context.Context) (*config.Config, error) {
	if err := logger.InitWithOptions(logger.WithWriter(os.Stderr)); err != nil {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := logger.InitWithOptions(logger.WithFormat(cfg.LogFormat), logger.WithWriter(os.Stderr)); err != nil {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, nil
}

// newService builds the service from configuration. The ranking source is
// attached only when it is configured.
func newService(ctx context.Context, cfg *config.Config) (*app.Service, error) {
	opts := []app.Option{
		app.WithLogger(logger.Get().Named("service")),
		app.WithMutationConcurrency(cfg.MutationConcurrency),
		app.WithMaxSkipped(cfg.MaxSkippedEntities),
		app.WithReconcileInterval(cfg.ReconcileInterval()),
		app.WithPassTimeout(cfg.PassTimeout()),
	}

	if cfg.StoreDriver == config.StoreSQLite {
		store, err := repository.NewSQLiteStore(ctx, cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		opts = append(opts, app.WithStore(store))
	}

	if cfg.RequireSource() == nil {
		client, err := source.NewClient(cfg.SourceBaseURL, cfg.SourceClientID, cfg.SourceClientSecret,
			source.WithPageDelay(cfg.PageDelay()),
			source.WithTimeout(cfg.SourceTimeout()),
			source.WithMaxPages(cfg.SourceMaxPages),
		)
		if err != nil {
			return nil, fmt.Errorf("create source client: %w", err)
		}
		opts = append(opts, app.WithSource(client))
	}

	return app.New(ctx, opts...), nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runReconcile(ctx context.Context, out io.Writer) error {
	cfg, err := setup(ctx)
	if err != nil {
		return err
	}
	if err := cfg.RequireSource(); err != nil {
		return err
	}
	svc, err := newService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Stop()

	report, err := svc.RunOnce(ctx)
	if report != nil {
		if werr := writeIndented(out, report); werr != nil {
			return werr
		}
	}
	if err != nil {
		if reconcile.IsPartial(err) {
			return fmt.Errorf("pass finished with unapplied region counters: %w", err)
		}
		return fmt.Errorf("pass failed: %w", err)
	}
	return nil
}

func runRegionsList(ctx context.Context, out io.Writer) error {
	cfg, err := setup(ctx)
	if err != nil {
		return err
	}
	svc, err := newService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Stop()

	regions, err := svc.Regions(ctx)
	if err != nil {
		return err
	}
	return writeIndented(out, regions)
}

func runRegionsReset(ctx context.Context, out io.Writer) error {
	cfg, err := setup(ctx)
	if err != nil {
		return err
	}
	svc, err := newService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Stop()

	n, err := svc.ResetRecentInactive(ctx)
	if err != nil {
		return err
	}
	return writeIndented(out, map[string]int64{"regions_reset": n})
}

type fakeSourceOptions struct {
	addr         string
	entities     int
	pageSize     int
	seed         uint64
	churnEvery   time.Duration
	clientID     string
	clientSecret string
}

func runFakeSource(ctx context.Context, opts fakeSourceOptions) error {
	if err := logger.Init(); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	ctx, stop := signalContext(ctx)
	defer stop()

	fake := fakesource.New(
		fakesource.WithEntities(opts.entities),
		fakesource.WithPageSize(opts.pageSize),
		fakesource.WithSeed(opts.seed),
		fakesource.WithCredentials(opts.clientID, opts.clientSecret),
	)

	if opts.churnEvery > 0 {
		go func() {
			ticker := time.NewTicker(opts.churnEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					fake.Churn()
				}
			}
		}()
	}

	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           fake,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return serveUntilDone(ctx, srv)
}

// serveUntilDone runs srv until ctx is canceled, then shuts it down gracefully.
func serveUntilDone(ctx context.Context, srv *http.Server) error {
	log := logger.Get()
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
		return err
	}
	log.Info(ctx, "server stopped")
	return nil
}
