// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package archive uploads a run's artifacts to S3-compatible storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/specialistvlad/hilrunner/internal/ctxlog"
	"github.com/specialistvlad/hilrunner/internal/env"
	"github.com/specialistvlad/hilrunner/internal/pipeline"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

// ConfigFromEnv reads HILRUNNER_ARCHIVE_*. Archiving is disabled when no
// endpoint is set.
func ConfigFromEnv() (Config, bool, error) {
	endpoint := env.String("HILRUNNER_ARCHIVE_ENDPOINT", "")
	if endpoint == "" {
		return Config{}, false, nil
	}
	useSSL, err := env.Bool("HILRUNNER_ARCHIVE_USE_SSL", true)
	if err != nil {
		return Config{}, false, err
	}
	cfg := Config{
		Endpoint:  endpoint,
		AccessKey: env.String("HILRUNNER_ARCHIVE_ACCESS_KEY", ""),
		SecretKey: env.String("HILRUNNER_ARCHIVE_SECRET_KEY", ""),
		Region:    env.String("HILRUNNER_ARCHIVE_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("HILRUNNER_ARCHIVE_BUCKET", "hil-artifacts"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, false, err
	}
	return cfg, true, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

// store is the part of *minio.Client the archiver needs.
type store interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archiver implements pipeline.Reporter by uploading every file in Dir to
// <bucket>/<experiment>/<run-id>/.
type Archiver struct {
	store  store
	bucket string
	region string
	dir    string
}

var _ pipeline.Reporter = (*Archiver)(nil)

// New creates a MinIO-backed archiver for dir.
func New(cfg Config, dir string) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Archiver{store: client, bucket: cfg.Bucket, region: cfg.Region, dir: dir}, nil
}

// Prefix is the object key prefix for a run.
func Prefix(s pipeline.Summary) string {
	return path.Join(s.Experiment, s.RunID) + "/"
}

// Report implements pipeline.Reporter. It uploads whatever it can and returns
// the first error.
func (a *Archiver) Report(ctx context.Context, s pipeline.Summary) error {
	logger := ctxlog.FromContext(ctx)
	if err := a.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", a.bucket, err)
	}

	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return fmt.Errorf("list artifacts: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	prefix := Prefix(s)
	var firstErr error
	for _, name := range names {
		key := prefix + name
		_, err := a.store.FPutObject(ctx, a.bucket, key, filepath.Join(a.dir, name), minio.PutObjectOptions{ContentType: contentType(name)})
		if err != nil {
			logger.Warn("Failed to archive artifact", "object", key, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("upload %s: %w", key, err)
			}
			continue
		}
		logger.Debug("Archived artifact.", "object", key)
	}
	logger.Info("✅ Artifacts archived", "bucket", a.bucket, "prefix", prefix, "count", len(names))
	return firstErr
}

func (a *Archiver) ensureBucket(ctx context.Context) error {
	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region})
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "text/plain; charset=utf-8"
	}
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
