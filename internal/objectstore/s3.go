package objectstore

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dshills/sheetload/internal/events"
)

// S3Uploader uploads artifacts with the multipart upload manager
type S3Uploader struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
	baseDir  string
	timeout  time.Duration
	sink     events.Sink
}

// NewS3Uploader loads the default AWS credential chain and builds an uploader
func NewS3Uploader(ctx context.Context, cfg Config, baseDir string, sink events.Sink) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 uploader: bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3Uploader(client, cfg, baseDir, sink), nil
}

func newS3Uploader(client manager.UploadAPIClient, cfg Config, baseDir string, sink events.Sink) *S3Uploader {
	if sink == nil {
		sink = events.Discard
	}
	partSize := cfg.PartSizeMB
	if partSize <= 0 {
		partSize = DefaultPartSizeMB
	}
	timeout := cfg.UploadTimeout
	if timeout <= 0 {
		timeout = DefaultUploadTimeout
	}

	return &S3Uploader{
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = partSize * 1024 * 1024
		}),
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		baseDir: baseDir,
		timeout: timeout,
		sink:    sink,
	}
}

// Upload puts localPath under the configured bucket and returns s3://bucket/key
func (u *S3Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	key := ObjectKey(u.prefix, u.baseDir, localPath)

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	start := time.Now()
	_, err = u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("upload s3://%s/%s: %w", u.bucket, key, err)
	}

	uri := fmt.Sprintf("s3://%s/%s", u.bucket, key)
	u.sink.Emit(ctx, events.LevelInfo, "objectstore.uploaded", events.Fields{
		"uri":         uri,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return uri, nil
}
