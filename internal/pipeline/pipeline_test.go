package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dshills/sheetload/internal/events"
	"github.com/dshills/sheetload/internal/parser"
	"github.com/dshills/sheetload/internal/registry"
	"github.com/dshills/sheetload/internal/serializer"
	"github.com/dshills/sheetload/internal/storage"
	"github.com/dshills/sheetload/internal/warehouse"
	"github.com/dshills/sheetload/pkg/types"
)

var testSchema = types.Schema{
	{Name: "A", Type: types.TypeInteger},
	{Name: "B", Type: types.TypeBoolean},
}

const testRoot = "/data/in"

// fakeDiscoverer returns a fixed file list
type fakeDiscoverer struct {
	files []string
	err   error
	calls int
}

func (d *fakeDiscoverer) Root() string { return testRoot }

func (d *fakeDiscoverer) Discover(context.Context) ([]string, error) {
	d.calls++
	return d.files, d.err
}

// fakeFingerprinter derives a checksum from the base name and a version map
type fakeFingerprinter struct {
	versions map[string]string
	fail     map[string]error
}

func (f *fakeFingerprinter) Fingerprint(path string) (string, error) {
	name := filepath.Base(path)
	if err := f.fail[name]; err != nil {
		return "", err
	}
	return "fp-" + name + "-" + f.versions[name], nil
}

// fakeParser returns one row per file, or panics/errors on request
type fakeParser struct {
	panicOn string
	calls   int
}

func (p *fakeParser) ParseFile(path string) (*parser.Sheet, error) {
	p.calls++
	if filepath.Base(path) == p.panicOn {
		panic("corrupt zip")
	}
	return &parser.Sheet{
		Name:    "Sheet1",
		Headers: []string{"A", "B"},
		Rows:    []types.RawRow{{"A": "1", "B": "yes"}, {"A": "2.5", "B": "no"}},
	}, nil
}

// fakeNormalizer builds a table and fails for selected source files
type fakeNormalizer struct {
	failOn  string
	sources []string
}

func (n *fakeNormalizer) Normalize(_ context.Context, rows []types.RawRow, sourceFile, fingerprint string) (*types.Table, error) {
	n.sources = append(n.sources, sourceFile)
	if filepath.Base(sourceFile) == n.failOn {
		return nil, errors.New("column A is not numeric")
	}
	table := types.NewTable(testSchema.WithAudit())
	for range rows {
		_ = table.Append([]types.Value{
			types.IntegerValue(1), types.BooleanValue(true),
			types.StringValue(sourceFile), types.StringValue(fingerprint), types.StringValue("ts"),
		})
	}
	return table, nil
}

// fakeSerializer returns an artifact path without touching disk
type fakeSerializer struct {
	stems []string
}

func (s *fakeSerializer) Serialize(_ context.Context, table *types.Table, stem string) (*serializer.Artifact, error) {
	s.stems = append(s.stems, stem)
	return &serializer.Artifact{
		Path:    filepath.Join("/nonexistent/out", stem+".parquet"),
		Format:  serializer.FormatParquet,
		Columns: table.Columns.Names(),
		Rows:    table.Len(),
	}, nil
}

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, localPath string) (string, error) {
	args := m.Called(ctx, localPath)
	return args.String(0), args.Error(1)
}

type mockWarehouse struct {
	mock.Mock
}

func (m *mockWarehouse) EnsureTable(ctx context.Context, schema types.Schema) error {
	args := m.Called(ctx, schema)
	return args.Error(0)
}

func (m *mockWarehouse) Load(ctx context.Context, req warehouse.LoadRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type harness struct {
	discoverer    *fakeDiscoverer
	fingerprinter *fakeFingerprinter
	registry      *registry.Registry
	parser        *fakeParser
	normalizer    *fakeNormalizer
	serializer    *fakeSerializer
	uploader      *mockUploader
	warehouse     *mockWarehouse
	recorder      *events.Recorder
}

func newHarness(t *testing.T, files ...string) *harness {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = filepath.Join(testRoot, f)
	}

	rec := &events.Recorder{}
	return &harness{
		discoverer:    &fakeDiscoverer{files: paths},
		fingerprinter: &fakeFingerprinter{versions: map[string]string{}, fail: map[string]error{}},
		registry:      registry.New(store, rec),
		parser:        &fakeParser{},
		normalizer:    &fakeNormalizer{},
		serializer:    &fakeSerializer{},
		uploader:      &mockUploader{},
		warehouse:     &mockWarehouse{},
		recorder:      rec,
	}
}

func (h *harness) orchestrator(t *testing.T, cfg Config, opts ...Option) *Orchestrator {
	t.Helper()
	cfg.Schema = testSchema
	o, err := New(cfg, Dependencies{
		Discoverer:    h.discoverer,
		Fingerprinter: h.fingerprinter,
		Registry:      h.registry,
		Parser:        h.parser,
		Normalizer:    h.normalizer,
		Serializer:    h.serializer,
		Uploader:      h.uploader,
		Warehouse:     h.warehouse,
	}, h.recorder, opts...)
	require.NoError(t, err)
	return o
}

func (h *harness) expectHappyPath() {
	h.warehouse.On("EnsureTable", mock.Anything, testSchema).Return(nil)
	h.uploader.On("Upload", mock.Anything, mock.Anything).Return("s3://lake/x.parquet", nil)
	h.warehouse.On("Load", mock.Anything, mock.Anything).Return("1001", nil)
}

func (h *harness) history(t *testing.T, name string) []*storage.FileRecord {
	t.Helper()
	records, err := h.registry.History(context.Background(), name, 10)
	require.NoError(t, err)
	return records
}

func TestRun_ProcessesNewFiles(t *testing.T) {
	h := newHarness(t, "a.xlsx", "b.xlsx")
	h.expectHappyPath()

	result := h.orchestrator(t, Config{}).Run(context.Background())

	require.NoError(t, result.Err)
	assert.Equal(t, ExitOK, result.ExitCode)
	assert.Equal(t, 2, result.Discovered)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 0, result.Skipped)
	assert.NotEmpty(t, result.RunID)

	for _, fr := range result.Files {
		assert.Equal(t, StateProcessed, fr.State)
		assert.Equal(t, int64(2), fr.RowCount)
		assert.Equal(t, "1001", fr.JobID)
		assert.Equal(t, "s3://lake/x.parquet", fr.URI)
	}

	records := h.history(t, "a.xlsx")
	require.Len(t, records, 1)
	assert.Equal(t, storage.StatusSuccess, records[0].Status)
	assert.Equal(t, "fp-a.xlsx-", records[0].Checksum)
	assert.Equal(t, int64(2), *records[0].RowCount)

	assert.Equal(t, []string{"a.xlsx", "b.xlsx"}, h.normalizer.sources)
	assert.Equal(t, []string{"a", "b"}, h.serializer.stems)
	h.warehouse.AssertNumberOfCalls(t, "Load", 2)
	h.warehouse.AssertCalled(t, "Load", mock.Anything, warehouse.LoadRequest{
		URI:     "s3://lake/x.parquet",
		Format:  "parquet",
		Columns: []string{"A", "B", "source_file", "checksum", "ingest_ts"},
	})
}

func TestRun_SecondRunSkipsUnchanged(t *testing.T) {
	h := newHarness(t, "a.xlsx")
	h.expectHappyPath()
	o := h.orchestrator(t, Config{})

	first := o.Run(context.Background())
	require.Equal(t, 1, first.Processed)

	second := o.Run(context.Background())
	assert.Equal(t, ExitOK, second.ExitCode)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, StateSkipped, second.Files[0].State)
	assert.NotEqual(t, first.RunID, second.RunID)

	h.warehouse.AssertNumberOfCalls(t, "Load", 1)
	assert.Len(t, h.history(t, "a.xlsx"), 1)
}

func TestRun_ChangedContentReprocesses(t *testing.T) {
	h := newHarness(t, "a.xlsx")
	h.expectHappyPath()
	o := h.orchestrator(t, Config{})

	o.Run(context.Background())
	h.fingerprinter.versions["a.xlsx"] = "v2"
	result := o.Run(context.Background())

	assert.Equal(t, 1, result.Processed)
	h.warehouse.AssertNumberOfCalls(t, "Load", 2)
	assert.Len(t, h.history(t, "a.xlsx"), 2)
}

func TestRun_FailureIsolation(t *testing.T) {
	h := newHarness(t, "a.xlsx", "b.xlsx", "c.xlsx")
	h.expectHappyPath()
	h.normalizer.failOn = "b.xlsx"

	result := h.orchestrator(t, Config{}).Run(context.Background())

	require.NoError(t, result.Err)
	assert.Equal(t, ExitFileFailures, result.ExitCode)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Failed)

	failed := result.Files[1]
	assert.Equal(t, StateFailed, failed.State)
	assert.Equal(t, StageNormalize, failed.Stage)
	assert.Contains(t, failed.Error, "not numeric")

	b := h.history(t, "b.xlsx")
	require.Len(t, b, 1)
	assert.Equal(t, storage.StatusFailed, b[0].Status)
	assert.Equal(t, "column A is not numeric", *b[0].ErrorMessage)

	for _, name := range []string{"a.xlsx", "c.xlsx"} {
		records := h.history(t, name)
		require.Len(t, records, 1)
		assert.Equal(t, storage.StatusSuccess, records[0].Status)
	}

	// The failed file is retried on the next run
	h.normalizer.failOn = ""
	retry := h.orchestrator(t, Config{}).Run(context.Background())
	assert.Equal(t, 1, retry.Processed)
	assert.Equal(t, 2, retry.Skipped)
	assert.Equal(t, ExitOK, retry.ExitCode)
}

func TestRun_DryRun(t *testing.T) {
	h := newHarness(t, "a.xlsx", "b.xlsx")
	h.warehouse.On("EnsureTable", mock.Anything, testSchema).Return(nil)

	result := h.orchestrator(t, Config{DryRun: true}).Run(context.Background())

	assert.Equal(t, ExitOK, result.ExitCode)
	assert.True(t, result.DryRun)
	assert.Equal(t, 2, result.Processed)
	for _, fr := range result.Files {
		assert.True(t, fr.DryRun)
	}

	assert.Equal(t, 0, h.parser.calls)
	assert.Empty(t, h.serializer.stems)
	h.uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
	h.warehouse.AssertNotCalled(t, "Load", mock.Anything, mock.Anything)
	assert.Empty(t, h.history(t, "a.xlsx"))
	assert.Len(t, h.recorder.Named("file.dry_run"), 2)
}

func TestRunDryRun_OverridesConfig(t *testing.T) {
	h := newHarness(t, "a.xlsx")
	h.warehouse.On("EnsureTable", mock.Anything, testSchema).Return(nil)

	result := h.orchestrator(t, Config{}).RunDryRun(context.Background())

	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.Processed)
	h.warehouse.AssertNotCalled(t, "Load", mock.Anything, mock.Anything)
}

func TestRun_NoFiles(t *testing.T) {
	h := newHarness(t)
	h.warehouse.On("EnsureTable", mock.Anything, testSchema).Return(nil)

	result := h.orchestrator(t, Config{}).Run(context.Background())

	assert.Equal(t, ExitOK, result.ExitCode)
	assert.Equal(t, 0, result.Discovered)
	assert.Len(t, h.recorder.Named("run.no_files"), 1)
}

func TestRun_SetupFailureIsFatal(t *testing.T) {
	h := newHarness(t, "a.xlsx")
	h.warehouse.On("EnsureTable", mock.Anything, testSchema).Return(errors.New("permission denied for schema raw"))

	result := h.orchestrator(t, Config{}).Run(context.Background())

	assert.Equal(t, ExitFatal, result.ExitCode)
	require.Error(t, result.Err)
	assert.Contains(t, result.Error, "permission denied")
	assert.Equal(t, 0, h.discoverer.calls)
	assert.Empty(t, result.Files)
}

func TestRun_DiscoveryInterruptedIsFatal(t *testing.T) {
	h := newHarness(t)
	h.warehouse.On("EnsureTable", mock.Anything, testSchema).Return(nil)
	h.discoverer.err = fmt.Errorf("walk %s: %w", testRoot, context.Canceled)

	result := h.orchestrator(t, Config{}).Run(context.Background())

	assert.Equal(t, ExitFatal, result.ExitCode)
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Contains(t, result.Error, "discovery")
	assert.Len(t, h.recorder.Named("run.discovery_interrupted"), 1)
}

func TestRun_FingerprintFailureRecorded(t *testing.T) {
	h := newHarness(t, "locked.xlsx", "ok.xlsx")
	h.expectHappyPath()
	h.fingerprinter.fail["locked.xlsx"] = errors.New("permission denied")

	result := h.orchestrator(t, Config{}).Run(context.Background())

	assert.Equal(t, ExitFileFailures, result.ExitCode)
	assert.Equal(t, StageFingerprint, result.Files[0].Stage)

	records := h.history(t, "locked.xlsx")
	require.Len(t, records, 1)
	assert.Equal(t, storage.StatusFailed, records[0].Status)
	assert.Empty(t, records[0].Checksum)
}

func TestRun_FingerprintFailureDryRunNotRecorded(t *testing.T) {
	h := newHarness(t, "locked.xlsx")
	h.warehouse.On("EnsureTable", mock.Anything, testSchema).Return(nil)
	h.fingerprinter.fail["locked.xlsx"] = errors.New("permission denied")

	result := h.orchestrator(t, Config{DryRun: true}).Run(context.Background())

	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, h.history(t, "locked.xlsx"))
}

func TestRun_PanicBecomesFailure(t *testing.T) {
	h := newHarness(t, "bad.xlsx", "good.xlsx")
	h.expectHappyPath()
	h.parser.panicOn = "bad.xlsx"

	result := h.orchestrator(t, Config{}).Run(context.Background())

	assert.Equal(t, ExitFileFailures, result.ExitCode)
	assert.Equal(t, StageParse, result.Files[0].Stage)
	assert.Contains(t, result.Files[0].Error, "corrupt zip")
	assert.Equal(t, StateProcessed, result.Files[1].State)
}

func TestRun_UploadAndLoadFailures(t *testing.T) {
	h := newHarness(t, "up.xlsx", "load.xlsx")
	h.warehouse.On("EnsureTable", mock.Anything, testSchema).Return(nil)
	h.uploader.On("Upload", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.HasSuffix(p, "up.parquet")
	})).Return("", errors.New("timeout"))
	h.uploader.On("Upload", mock.Anything, mock.Anything).Return("s3://lake/load.parquet", nil)
	h.warehouse.On("Load", mock.Anything, mock.Anything).Return("", errors.New("COPY failed"))

	result := h.orchestrator(t, Config{}).Run(context.Background())

	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, StageUpload, result.Files[0].Stage)
	assert.Equal(t, StageLoad, result.Files[1].Stage)
}

func TestRun_RegistryWriteFailureDoesNotFailFile(t *testing.T) {
	h := newHarness(t, "a.xlsx")
	h.expectHappyPath()
	h.registry = registry.New(&readOnlyStore{Storage: mustStore(t)}, h.recorder)

	result := h.orchestrator(t, Config{}).Run(context.Background())

	assert.Equal(t, ExitOK, result.ExitCode)
	assert.Equal(t, 1, result.Processed)
	assert.Len(t, h.recorder.Named("registry.write_failed"), 1)
}

func TestRun_InProgress(t *testing.T) {
	h := newHarness(t, "a.xlsx")
	o := h.orchestrator(t, Config{})

	require.True(t, o.lock.TryAcquire())
	assert.True(t, o.Running())
	result := o.Run(context.Background())
	o.lock.Release()

	assert.ErrorIs(t, result.Err, ErrRunInProgress)
	assert.Equal(t, ExitFatal, result.ExitCode)
	assert.False(t, o.Running())
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(t, "a.xlsx", "b.xlsx")
	h.warehouse.On("EnsureTable", mock.Anything, testSchema).Return(nil)
	o := h.orchestrator(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := o.Run(ctx)
	assert.Equal(t, ExitFatal, result.ExitCode)
	require.Error(t, result.Err)
	assert.Equal(t, 0, result.Processed)
	h.warehouse.AssertNotCalled(t, "Load", mock.Anything, mock.Anything)
}

func TestRun_Spans(t *testing.T) {
	h := newHarness(t, "a.xlsx", "b.xlsx")
	h.expectHappyPath()
	h.normalizer.failOn = "b.xlsx"

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	h.orchestrator(t, Config{}, WithTracer(tp)).Run(context.Background())

	names := map[string]int{}
	for _, s := range sr.Ended() {
		names[s.Name()]++
	}
	assert.Equal(t, 1, names["pipeline.run"])
	assert.Equal(t, 1, names["pipeline.setup"])
	assert.Equal(t, 2, names["pipeline.file"])
}

func TestNew_MissingDependencies(t *testing.T) {
	_, err := New(Config{}, Dependencies{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discoverer")
	assert.Contains(t, err.Error(), "warehouse")
}

// readOnlyStore rejects appends
type readOnlyStore struct {
	storage.Storage
}

func (readOnlyStore) AppendRecord(context.Context, *storage.FileRecord) error {
	return errors.New("database is locked")
}

func mustStore(t *testing.T) storage.Storage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
