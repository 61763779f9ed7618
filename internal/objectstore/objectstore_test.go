package objectstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 records single-part uploads; multipart calls are not expected
type fakeS3 struct {
	manager.UploadAPIClient

	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func writeArtifact(t *testing.T, base, rel, content string) string {
	t.Helper()
	p := filepath.Join(base, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestObjectKey(t *testing.T) {
	base := filepath.Join("tmp", "out")
	artifact := filepath.Join(base, "ingest_date=20240701", "r_20240701_093015.parquet")

	assert.Equal(t, "ingest/ingest_date=20240701/r_20240701_093015.parquet", ObjectKey("ingest", base, artifact))
	assert.Equal(t, "ingest/ingest_date=20240701/r_20240701_093015.parquet", ObjectKey("/ingest/", base, artifact))
	assert.Equal(t, "ingest_date=20240701/r_20240701_093015.parquet", ObjectKey("", base, artifact))
	assert.Equal(t, "p/elsewhere.csv", ObjectKey("p", base, filepath.Join("other", "elsewhere.csv")))
}

func TestS3Uploader_Upload(t *testing.T) {
	base := t.TempDir()
	artifact := writeArtifact(t, base, "ingest_date=20240701/r.csv", "a,b\n1,2\n")
	client := &fakeS3{}

	u := newS3Uploader(client, Config{Bucket: "lake", Prefix: "sheets"}, base, nil)
	uri, err := u.Upload(context.Background(), artifact)
	require.NoError(t, err)

	assert.Equal(t, "s3://lake/sheets/ingest_date=20240701/r.csv", uri)
	assert.Equal(t, "a,b\n1,2\n", string(client.objects["lake/sheets/ingest_date=20240701/r.csv"]))
}

func TestS3Uploader_Error(t *testing.T) {
	base := t.TempDir()
	artifact := writeArtifact(t, base, "r.csv", "x")
	client := &fakeS3{err: errors.New("access denied")}

	u := newS3Uploader(client, Config{Bucket: "lake"}, base, nil)
	_, err := u.Upload(context.Background(), artifact)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://lake/r.csv")
}

func TestS3Uploader_MissingFile(t *testing.T) {
	u := newS3Uploader(&fakeS3{}, Config{Bucket: "lake"}, t.TempDir(), nil)
	_, err := u.Upload(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewS3Uploader_RequiresBucket(t *testing.T) {
	_, err := NewS3Uploader(context.Background(), Config{Backend: BackendS3}, t.TempDir(), nil)
	assert.Error(t, err)
}

func TestLocalUploader_Upload(t *testing.T) {
	base := t.TempDir()
	root := t.TempDir()
	artifact := writeArtifact(t, base, "ingest_date=20240701/r.parquet", "PAR1")

	u := NewLocalUploader(root, "lake", base, nil)
	uri, err := u.Upload(context.Background(), artifact)
	require.NoError(t, err)

	dest := filepath.Join(root, "lake", "ingest_date=20240701", "r.parquet")
	assert.True(t, strings.HasPrefix(uri, "file://"))
	assert.True(t, strings.HasSuffix(uri, "lake/ingest_date=20240701/r.parquet"))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "PAR1", string(data))

	// No temp files left behind
	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestNew_Backends(t *testing.T) {
	ctx := context.Background()

	u, err := New(ctx, Config{Backend: BackendLocal, LocalRoot: t.TempDir()}, t.TempDir(), nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalUploader{}, u)

	_, err = New(ctx, Config{Backend: "gcs"}, t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrUnsupportedBackend)
}
