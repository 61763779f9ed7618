package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/sheetload/internal/events"
	"github.com/dshills/sheetload/internal/parser"
	"github.com/dshills/sheetload/internal/registry"
	"github.com/dshills/sheetload/internal/serializer"
	"github.com/dshills/sheetload/internal/warehouse"
	"github.com/dshills/sheetload/pkg/types"
)

// ErrRunInProgress is returned when Run is called while another run holds the lock
var ErrRunInProgress = errors.New("a run is already in progress")

const tracerName = "github.com/dshills/sheetload/internal/pipeline"

// Fingerprinter computes a content checksum
type Fingerprinter interface {
	Fingerprint(path string) (string, error)
}

// Registry gates and records processing
type Registry interface {
	EnsureExists(ctx context.Context) error
	ShouldProcess(ctx context.Context, fileName, fingerprint string) bool
	RecordOutcome(ctx context.Context, outcome registry.Outcome)
}

// Discoverer lists candidate files under an input root. An unavailable root
// is an empty result; an error means the listing was interrupted.
type Discoverer interface {
	Root() string
	Discover(ctx context.Context) ([]string, error)
}

// Parser reads one sheet from a workbook
type Parser interface {
	ParseFile(path string) (*parser.Sheet, error)
}

// Normalizer casts parsed rows onto the target schema
type Normalizer interface {
	Normalize(ctx context.Context, rows []types.RawRow, sourceFile, fingerprint string) (*types.Table, error)
}

// Serializer writes a table to a local artifact
type Serializer interface {
	Serialize(ctx context.Context, table *types.Table, stem string) (*serializer.Artifact, error)
}

// Uploader copies an artifact to the object store
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// Warehouse provisions the destination table and loads artifacts
type Warehouse interface {
	EnsureTable(ctx context.Context, schema types.Schema) error
	Load(ctx context.Context, req warehouse.LoadRequest) (string, error)
}

// Dependencies are the collaborators of one Orchestrator
type Dependencies struct {
	Discoverer    Discoverer
	Fingerprinter Fingerprinter
	Registry      Registry
	Parser        Parser
	Normalizer    Normalizer
	Serializer    Serializer
	Uploader      Uploader
	Warehouse     Warehouse
}

func (d Dependencies) validate() error {
	var missing []string
	if d.Discoverer == nil {
		missing = append(missing, "discoverer")
	}
	if d.Fingerprinter == nil {
		missing = append(missing, "fingerprinter")
	}
	if d.Registry == nil {
		missing = append(missing, "registry")
	}
	if d.Parser == nil {
		missing = append(missing, "parser")
	}
	if d.Normalizer == nil {
		missing = append(missing, "normalizer")
	}
	if d.Serializer == nil {
		missing = append(missing, "serializer")
	}
	if d.Uploader == nil {
		missing = append(missing, "uploader")
	}
	if d.Warehouse == nil {
		missing = append(missing, "warehouse")
	}
	if len(missing) > 0 {
		return fmt.Errorf("pipeline: missing dependencies: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Config is the read-only run configuration
type Config struct {
	Schema        types.Schema
	DryRun        bool
	KeepArtifacts bool // Keep local artifacts after a successful load
}

// Orchestrator runs the per-file state machine: fingerprint, gate, then
// parse, normalize, serialize, upload, load and record. Files are processed
// one at a time; the registry's check-then-record sequence is not atomic.
type Orchestrator struct {
	cfg    Config
	deps   Dependencies
	sink   events.Sink
	tracer trace.Tracer
	lock   RunLock
	now    func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithTracer overrides the global tracer provider
func WithTracer(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) { o.tracer = tp.Tracer(tracerName) }
}

// WithClock overrides the clock used for run timestamps
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator
func New(cfg Config, deps Dependencies, sink events.Sink, opts ...Option) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = events.Discard
	}
	o := &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		sink:   sink,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Running reports whether a run currently holds the lock
func (o *Orchestrator) Running() bool {
	return o.lock.Held()
}

// Run executes one pass over the input root. It never panics; fatal
// conditions are reported through Result.Err with ExitFatal.
func (o *Orchestrator) Run(ctx context.Context) *Result {
	return o.run(ctx, o.cfg.DryRun)
}

// RunDryRun executes one pass with dry-run forced on
func (o *Orchestrator) RunDryRun(ctx context.Context) *Result {
	return o.run(ctx, true)
}

func (o *Orchestrator) run(ctx context.Context, dryRun bool) *Result {
	result := &Result{
		RunID:     uuid.NewString(),
		DryRun:    dryRun,
		StartedAt: o.now(),
	}

	if !o.lock.TryAcquire() {
		result.fatal(ErrRunInProgress)
		result.FinishedAt = o.now()
		return result
	}
	defer o.lock.Release()

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", result.RunID),
		attribute.Bool("run.dry_run", dryRun),
	))
	defer span.End()

	o.sink.Emit(ctx, events.LevelInfo, "run.started", events.Fields{
		"run_id":  result.RunID,
		"dry_run": dryRun,
		"root":    o.deps.Discoverer.Root(),
	})

	o.execute(ctx, dryRun, result)

	result.finalize()
	result.FinishedAt = o.now()

	span.SetAttributes(
		attribute.Int("run.discovered", result.Discovered),
		attribute.Int("run.processed", result.Processed),
		attribute.Int("run.skipped", result.Skipped),
		attribute.Int("run.failed", result.Failed),
		attribute.Int("run.exit_code", result.ExitCode),
	)
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Error)
	}

	level := events.LevelInfo
	if result.ExitCode != ExitOK {
		level = events.LevelWarn
	}
	fields := events.Fields{
		"run_id":      result.RunID,
		"discovered":  result.Discovered,
		"processed":   result.Processed,
		"skipped":     result.Skipped,
		"failed":      result.Failed,
		"exit_code":   result.ExitCode,
		"duration_ms": result.Duration().Milliseconds(),
	}
	if result.Err != nil {
		fields["error"] = result.Error
	}
	o.sink.Emit(ctx, level, "run.completed", fields)

	return result
}

func (o *Orchestrator) execute(ctx context.Context, dryRun bool, result *Result) {
	if err := o.setup(ctx); err != nil {
		o.sink.Emit(ctx, events.LevelError, "run.setup_failed", events.Fields{"error": err.Error()})
		result.fatal(err)
		return
	}

	files, err := o.deps.Discoverer.Discover(ctx)
	if err != nil {
		o.sink.Emit(ctx, events.LevelError, "run.discovery_interrupted", events.Fields{"error": err.Error()})
		result.fatal(fmt.Errorf("discovery: %w", err))
		return
	}
	result.Discovered = len(files)
	if len(files) == 0 {
		o.sink.Emit(ctx, events.LevelWarn, "run.no_files", events.Fields{"root": o.deps.Discoverer.Root()})
		return
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			o.sink.Emit(ctx, events.LevelWarn, "run.interrupted", events.Fields{
				"remaining": len(files) - len(result.Files),
			})
			result.fatal(fmt.Errorf("run interrupted: %w", err))
			return
		}
		result.add(o.processFile(ctx, path, dryRun))
	}
}

// setup provisions the registry and destination table concurrently
func (o *Orchestrator) setup(ctx context.Context) error {
	ctx, span := o.tracer.Start(ctx, "pipeline.setup")
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.deps.Registry.EnsureExists(gctx)
	})
	g.Go(func() error {
		if err := o.deps.Warehouse.EnsureTable(gctx, o.cfg.Schema); err != nil {
			return fmt.Errorf("ensure table: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("setup: %w", err)
	}
	return nil
}

// processFile runs one file to a terminal state. Failures after the gate
// are recorded in the registry; panics from collaborators become failures.
func (o *Orchestrator) processFile(ctx context.Context, path string, dryRun bool) (fr FileResult) {
	start := o.now()
	fr = FileResult{Path: path, FileName: filepath.Base(path)}

	ctx, span := o.tracer.Start(ctx, "pipeline.file", trace.WithAttributes(
		attribute.String("file.path", path),
		attribute.String("file.name", fr.FileName),
	))
	defer func() {
		fr.Duration = o.now().Sub(start)
		span.SetAttributes(attribute.String("file.state", string(fr.State)))
		span.End()
	}()

	fail := func(stage string, err error, record bool) FileResult {
		fr.State = StateFailed
		fr.Stage = stage
		fr.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, fr.Error)
		o.sink.Emit(ctx, events.LevelError, "file.failed", events.Fields{
			"path":  path,
			"stage": stage,
			"error": fr.Error,
		})
		if record {
			o.deps.Registry.RecordOutcome(ctx, registry.Failed(fr.FileName, fr.Fingerprint, err))
		}
		return fr
	}

	fingerprint, err := o.deps.Fingerprinter.Fingerprint(path)
	if err != nil {
		// No gate decision was possible; recorded unless this is a dry run
		return fail(StageFingerprint, err, !dryRun)
	}
	fr.Fingerprint = fingerprint
	span.AddEvent(StageFingerprint)

	if !o.deps.Registry.ShouldProcess(ctx, fr.FileName, fingerprint) {
		fr.State = StateSkipped
		o.sink.Emit(ctx, events.LevelInfo, "file.skipped", events.Fields{
			"path":        path,
			"fingerprint": fingerprint,
		})
		return fr
	}

	if dryRun {
		fr.State = StateProcessed
		fr.DryRun = true
		o.sink.Emit(ctx, events.LevelInfo, "file.dry_run", events.Fields{
			"path":        path,
			"fingerprint": fingerprint,
		})
		return fr
	}

	stage, err := o.transformAndLoad(ctx, span, path, &fr)
	if err != nil {
		return fail(stage, err, true)
	}

	fr.State = StateProcessed
	o.deps.Registry.RecordOutcome(ctx, registry.Succeeded(fr.FileName, fingerprint, fr.RowCount))
	o.sink.Emit(ctx, events.LevelInfo, "file.processed", events.Fields{
		"path":     path,
		"rows":     fr.RowCount,
		"uri":      fr.URI,
		"job_id":   fr.JobID,
		"duration": o.now().Sub(start).String(),
	})
	return fr
}

// transformAndLoad returns the failing stage alongside any error
func (o *Orchestrator) transformAndLoad(ctx context.Context, span trace.Span, path string, fr *FileResult) (stage string, err error) {
	stage = StageParse
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during %s: %v", stage, r)
		}
	}()

	sheet, err := o.deps.Parser.ParseFile(path)
	if err != nil {
		return stage, err
	}
	span.AddEvent(StageParse, trace.WithAttributes(attribute.Int("rows", len(sheet.Rows))))

	stage = StageNormalize
	table, err := o.deps.Normalizer.Normalize(ctx, sheet.Rows, o.sourceIdentity(path), fr.Fingerprint)
	if err != nil {
		return stage, err
	}
	fr.RowCount = int64(table.Len())
	span.AddEvent(StageNormalize)

	stage = StageSerialize
	stem := strings.TrimSuffix(fr.FileName, filepath.Ext(fr.FileName))
	artifact, err := o.deps.Serializer.Serialize(ctx, table, stem)
	if err != nil {
		return stage, err
	}
	span.AddEvent(StageSerialize, trace.WithAttributes(attribute.String("artifact", artifact.Path)))

	stage = StageUpload
	uri, err := o.deps.Uploader.Upload(ctx, artifact.Path)
	if err != nil {
		return stage, err
	}
	fr.URI = uri
	span.AddEvent(StageUpload, trace.WithAttributes(attribute.String("uri", uri)))

	stage = StageLoad
	jobID, err := o.deps.Warehouse.Load(ctx, warehouse.LoadRequest{
		URI:     uri,
		Format:  string(artifact.Format),
		Columns: artifact.Columns,
	})
	if err != nil {
		return stage, err
	}
	fr.JobID = jobID
	span.AddEvent(StageLoad, trace.WithAttributes(attribute.String("job_id", jobID)))

	if !o.cfg.KeepArtifacts {
		if err := os.Remove(artifact.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			o.sink.Emit(ctx, events.LevelWarn, "file.cleanup_failed", events.Fields{
				"artifact": artifact.Path,
				"error":    err.Error(),
			})
		}
	}
	return "", nil
}

// sourceIdentity is the path relative to the input root, slash separated
func (o *Orchestrator) sourceIdentity(path string) string {
	rel, err := filepath.Rel(o.deps.Discoverer.Root(), path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
