package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/CaseSolvedUK/rest-migrate/internal/migrate"
	"github.com/CaseSolvedUK/rest-migrate/pkg/clients"
	"github.com/CaseSolvedUK/rest-migrate/pkg/config"
	"github.com/CaseSolvedUK/rest-migrate/pkg/fetch"
	"github.com/CaseSolvedUK/rest-migrate/pkg/logger"
	"github.com/CaseSolvedUK/rest-migrate/pkg/mapping"
	"github.com/CaseSolvedUK/rest-migrate/pkg/observability"
	"github.com/CaseSolvedUK/rest-migrate/pkg/progress"
	"github.com/CaseSolvedUK/rest-migrate/pkg/store"
	"github.com/CaseSolvedUK/rest-migrate/pkg/store/mongostore"
	"github.com/CaseSolvedUK/rest-migrate/pkg/store/pgstore"
	"github.com/CaseSolvedUK/rest-migrate/pkg/tree"
)

// app holds the components a command needs. Fields are nil until the
// matching open* call.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	tree     *tree.Tree
	store    store.Store
	importer *migrate.Importer
	sink     progress.Sink
	shutdown observability.ShutdownFunc
}

func newApp(cfg *config.Config) *app {
	return &app{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "restmigrate-cli")),
	}
}

// openTree loads the segment tree file
func (a *app) openTree() error {
	repo, err := tree.OpenFile(a.cfg.Tree.File)
	if err != nil {
		return err
	}
	a.tree = tree.New(repo, a.logger)
	return nil
}

// openStore connects the configured record store behind a document cache
func (a *app) openStore(ctx context.Context) error {
	schema := store.NewSchema()
	if a.cfg.Store.SchemaFile != "" {
		var err error
		if schema, err = store.LoadSchema(a.cfg.Store.SchemaFile); err != nil {
			return err
		}
	}

	var (
		inner store.Store
		err   error
	)
	switch a.cfg.Store.Backend {
	case config.BackendMongoDB:
		inner, err = mongostore.Open(ctx, a.cfg.Store.DSN, a.cfg.Store.Database, a.cfg.Store.ConnectTimeout, schema, a.logger)
	case config.BackendPostgres:
		inner, err = pgstore.Open(ctx, a.cfg.Store.DSN, a.cfg.Store.ConnectTimeout, schema, a.logger)
	default:
		a.logger.Warn("using the in-memory store; imported documents are discarded on exit")
		inner = store.NewMemoryStore(schema)
	}
	if err != nil {
		return err
	}

	cached, err := store.NewCachedStore(inner, a.cfg.Store.CacheSize)
	if err != nil {
		_ = inner.Close(ctx)
		return fmt.Errorf("failed to create document cache: %w", err)
	}
	a.store = cached
	return nil
}

// openProgress builds the configured progress sinks behind one async buffer
func (a *app) openProgress() error {
	var sinks progress.Multi
	for _, name := range a.cfg.Progress.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, progress.NewLogSink(a.logger))
		case "kafka":
			k, err := progress.NewKafkaSink(a.cfg.Progress.Kafka, a.logger)
			if err != nil {
				_ = sinks.Close()
				return err
			}
			sinks = append(sinks, k)
		}
	}
	a.sink = progress.NewAsync("progress", sinks, a.cfg.Progress.BufferSize)
	return nil
}

// openImporter wires tree, store, fetch and progress into an Importer
func (a *app) openImporter(ctx context.Context) error {
	shutdown, err := observability.Init(a.cfg.Tracing, version, nil)
	if err != nil {
		return err
	}
	a.shutdown = shutdown

	if a.tree == nil {
		if err := a.openTree(); err != nil {
			return err
		}
	}
	if a.store == nil {
		if err := a.openStore(ctx); err != nil {
			return err
		}
	}
	if err := a.openProgress(); err != nil {
		return err
	}

	providers := clients.NewProviderRegistry(a.cfg.OAuth)
	sessions := clients.NewSessionFactory(a.cfg.HTTP, nil, providers, a.logger)
	fetcher := fetch.New(a.tree, sessions, a.logger)
	a.importer = migrate.New(a.tree, fetcher, a.store, mapping.NewRegistry(), a.sink, a.logger)
	return nil
}

// serveMetrics exposes Prometheus metrics until ctx is done
func (a *app) serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	a.logger.Info("serving metrics", zap.String("addr", addr))
}

func (a *app) close(ctx context.Context) {
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.logger.Warn("failed to close progress sinks", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.logger.Warn("failed to close store", zap.Error(err))
		}
	}
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			a.logger.Warn("failed to flush traces", zap.Error(err))
		}
	}
}
