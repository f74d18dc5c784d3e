// Package publish uploads written datasets and their metadata sidecars to an
// S3-compatible object store.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/BartekS5/refpull/pkg/logger"
)

// ObjectStore is the subset of the object store API the publisher needs.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	PutFile(ctx context.Context, bucket, key, filePath, contentType string) error
}

// Config configures a MinIO/S3 connection.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

func (c Config) validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("object store endpoint is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("object store credentials are required")
	}
	return nil
}

// MinIOStore implements ObjectStore with minio-go.
type MinIOStore struct {
	client *minio.Client
	region string
}

func NewMinIOStore(cfg Config) (*MinIOStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinIOStore{client: client, region: cfg.Region}, nil
}

func (s *MinIOStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

func (s *MinIOStore) PutFile(ctx context.Context, bucket, key, filePath, contentType string) error {
	_, err := s.client.FPutObject(ctx, bucket, key, filePath, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Publisher uploads a dataset and its sidecar. Each object is uploaded on
// its own; a failure after the first upload leaves the dataset object in
// place without its sidecar.
type Publisher struct {
	store  ObjectStore
	bucket string
	prefix string
	log    *slog.Logger
}

func NewPublisher(store ObjectStore, bucket, prefix string) *Publisher {
	return &Publisher{
		store:  store,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    logger.New("publish"),
	}
}

// Result lists the uploaded object keys.
type Result struct {
	Bucket      string
	DatasetKey  string
	MetadataKey string
}

// Publish uploads datasetPath and metadataPath for one run.
func (p *Publisher) Publish(ctx context.Context, pipeline, dataset, datasetPath, metadataPath string) (*Result, error) {
	if p.bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if err := p.store.EnsureBucket(ctx, p.bucket); err != nil {
		return nil, err
	}

	res := &Result{
		Bucket:      p.bucket,
		DatasetKey:  ObjectKey(p.prefix, pipeline, dataset, filepath.Base(datasetPath)),
		MetadataKey: ObjectKey(p.prefix, pipeline, dataset, filepath.Base(metadataPath)),
	}
	if err := p.store.PutFile(ctx, p.bucket, res.DatasetKey, datasetPath, "text/csv"); err != nil {
		return nil, err
	}
	if err := p.store.PutFile(ctx, p.bucket, res.MetadataKey, metadataPath, "application/json"); err != nil {
		return nil, err
	}

	p.log.Info("dataset published",
		slog.String("bucket", p.bucket),
		slog.String("dataset_key", res.DatasetKey),
		slog.String("metadata_key", res.MetadataKey))
	return res, nil
}

// ObjectKey builds <prefix>/<pipeline>/<dataset>/<file>, skipping an empty
// prefix.
func ObjectKey(prefix, pipeline, dataset, file string) string {
	parts := make([]string, 0, 4)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, pipeline, strings.NewReplacer("/", "_", `\`, "_").Replace(dataset), file)
	return path.Join(parts...)
}
