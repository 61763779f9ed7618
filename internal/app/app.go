// Package app wires configured collaborators into a runnable orchestrator.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dshills/sheetload/internal/config"
	"github.com/dshills/sheetload/internal/discovery"
	"github.com/dshills/sheetload/internal/events"
	"github.com/dshills/sheetload/internal/fingerprint"
	"github.com/dshills/sheetload/internal/normalizer"
	"github.com/dshills/sheetload/internal/objectstore"
	"github.com/dshills/sheetload/internal/parser"
	"github.com/dshills/sheetload/internal/pipeline"
	"github.com/dshills/sheetload/internal/registry"
	"github.com/dshills/sheetload/internal/serializer"
	"github.com/dshills/sheetload/internal/storage"
	"github.com/dshills/sheetload/internal/telemetry"
	"github.com/dshills/sheetload/internal/warehouse"
)

// App owns every long-lived resource of one process
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Sink         events.Sink
	Registry     *registry.Registry
	Orchestrator *pipeline.Orchestrator

	closers []func(context.Context) error
}

// Options tunes bootstrap
type Options struct {
	Version   string
	LogWriter io.Writer // stderr in production; stdout is reserved for MCP
}

// Logging builds the logger and event sink from configuration
func Logging(cfg *config.Config, w io.Writer) (*slog.Logger, events.Sink, error) {
	logger, err := events.NewLogger(w, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	return logger, events.NewSlogSink(logger), nil
}

// OpenRegistry connects the configured registry backend. It does not
// create the table; the orchestrator does that during setup.
func OpenRegistry(ctx context.Context, cfg config.RegistryConfig, sink events.Sink) (*registry.Registry, error) {
	var (
		store storage.Storage
		err   error
	)
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err = storage.NewSQLiteStorage(cfg.DSN)
	case config.DriverPostgres:
		store, err = storage.NewPostgresStorage(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: unknown registry driver %q", config.ErrInvalidConfig, cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	return registry.New(store, sink), nil
}

// New builds every collaborator. On failure, resources already opened are
// released before returning.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	logger, sink, err := Logging(cfg, opts.LogWriter)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, Sink: sink}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "sheetload",
		ServiceVersion: opts.Version,
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Writer:         opts.LogWriter,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, tp.Shutdown)

	reg, err := OpenRegistry(ctx, cfg.Registry, sink)
	if err != nil {
		return nil, err
	}
	a.Registry = reg
	a.closers = append(a.closers, func(context.Context) error { return reg.Close() })

	disc, err := discovery.New(discovery.Config{
		Root:           cfg.InputDirectory,
		Pattern:        cfg.FilePattern,
		IgnorePatterns: cfg.IgnorePatterns,
	}, sink)
	if err != nil {
		return nil, err
	}

	fp, err := fingerprint.New(cfg.ChecksumAlgorithm)
	if err != nil {
		return nil, err
	}

	format, err := serializer.ParseFormat(cfg.OutputFormat)
	if err != nil {
		return nil, err
	}
	ser, err := serializer.New(cfg.TempDirectory, format, sink)
	if err != nil {
		return nil, err
	}

	up, err := objectstore.New(ctx, objectstore.Config{
		Backend:       cfg.ObjectStore.Backend,
		Bucket:        cfg.ObjectStore.Bucket,
		Prefix:        cfg.ObjectStore.Prefix,
		Region:        cfg.ObjectStore.Region,
		Profile:       cfg.ObjectStore.Profile,
		Endpoint:      cfg.ObjectStore.Endpoint,
		UsePathStyle:  cfg.ObjectStore.UsePathStyle,
		UploadTimeout: cfg.ObjectStore.UploadTimeout,
		PartSizeMB:    cfg.ObjectStore.PartSizeMB,
		LocalRoot:     cfg.ObjectStore.LocalRoot,
	}, ser.OutputDir(), sink)
	if err != nil {
		return nil, err
	}

	wh, err := warehouse.Open(ctx, warehouse.Config{
		DSN:            cfg.Warehouse.DSN,
		Schema:         cfg.Warehouse.Schema,
		Table:          cfg.Warehouse.Table,
		IAMRole:        cfg.Warehouse.IAMRole,
		Region:         cfg.Warehouse.Region,
		LoadTimeout:    cfg.Warehouse.LoadTimeout,
		ConnectRetries: cfg.Warehouse.ConnectRetries,
	}, sink)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return wh.Close() })

	orch, err := pipeline.New(pipeline.Config{
		Schema:        cfg.Schema,
		DryRun:        cfg.DryRun,
		KeepArtifacts: cfg.KeepArtifacts,
	}, pipeline.Dependencies{
		Discoverer:    disc,
		Fingerprinter: fp,
		Registry:      reg,
		Parser:        parser.New(cfg.SheetName),
		Normalizer:    normalizer.New(cfg.Schema, sink),
		Serializer:    ser,
		Uploader:      up,
		Warehouse:     wh,
	}, sink, pipeline.WithTracer(tp))
	if err != nil {
		return nil, err
	}
	a.Orchestrator = orch

	return a, nil
}

// Close releases resources in reverse order of acquisition
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
