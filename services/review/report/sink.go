// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const markdownContentType = "text/markdown; charset=utf-8"

// Config configures report publication.
type Config struct {
	// Dir receives reports whose request names no output URL.
	Dir string `json:"dir" yaml:"dir"`

	// GCSEnabled creates a GCS client for gs:// output URLs.
	GCSEnabled bool `json:"gcs_enabled" yaml:"gcs_enabled"`

	// GCSCredentialsFile is a service account key. Empty uses
	// application default credentials.
	GCSCredentialsFile string `json:"gcs_credentials_file" yaml:"gcs_credentials_file"`
}

// DefaultConfig writes reports under ./reports.
func DefaultConfig() Config {
	return Config{Dir: "reports"}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Dir) == "" {
		return errors.New("report.dir is required")
	}
	if c.GCSCredentialsFile != "" {
		if _, err := os.Stat(c.GCSCredentialsFile); err != nil {
			return fmt.Errorf("report.gcs_credentials_file: %w", err)
		}
	}
	return nil
}

// FileSink writes reports to the local filesystem.
//
// By default every report stays under the sink's directory: relative
// paths resolve against it and paths that leave it are refused with
// ErrUnsupportedLocation.
type FileSink struct {
	dir     string
	anyPath bool
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// AllowAnyPath lets output paths name any file the process can write.
// Relative paths then resolve against the working directory. Only for
// callers whose output URLs come from the local user.
func AllowAnyPath() FileSinkOption {
	return func(s *FileSink) { s.anyPath = true }
}

// NewFileSink creates a sink whose default directory is dir.
func NewFileSink(dir string, opts ...FileSinkOption) *FileSink {
	s := &FileSink{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultPath returns the path used for a review without an output URL.
func (s *FileSink) DefaultPath(reviewID string) string {
	return filepath.Join(s.dir, "review-"+reviewID+".md")
}

// Write stores data at path, creating parent directories.
func (s *FileSink) Write(_ context.Context, path string, data []byte) (string, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", fmt.Errorf("write report %s: %w", abs, err)
	}
	return abs, nil
}

func (s *FileSink) resolve(path string) (string, error) {
	if s.anyPath {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("resolve report path %s: %w", path, err)
		}
		return abs, nil
	}

	root, err := filepath.Abs(s.dir)
	if err != nil {
		return "", fmt.Errorf("resolve report directory %s: %w", s.dir, err)
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the report directory", ErrUnsupportedLocation, path)
	}
	return abs, nil
}

// ObjectStore puts whole objects into a bucket.
type ObjectStore interface {
	Put(ctx context.Context, bucket, object, contentType string, data []byte) error
}

// GCSSink writes reports to Google Cloud Storage.
//
// Thread Safety: Safe for concurrent use.
type GCSSink struct {
	store  ObjectStore
	closer io.Closer
}

// NewGCSSink creates a sink backed by a storage client. An empty
// credentialsFile uses application default credentials.
func NewGCSSink(ctx context.Context, credentialsFile string) (*GCSSink, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSSink{store: gcsStore{client: client}, closer: client}, nil
}

// NewGCSSinkWithStore creates a sink over an arbitrary object store.
func NewGCSSinkWithStore(store ObjectStore) *GCSSink {
	return &GCSSink{store: store}
}

// Write uploads data to gs://bucket/object and returns that URL.
func (s *GCSSink) Write(ctx context.Context, bucket, object string, data []byte) (string, error) {
	if err := s.store.Put(ctx, bucket, object, markdownContentType, data); err != nil {
		return "", fmt.Errorf("upload report to gs://%s/%s: %w", bucket, object, err)
	}
	return "gs://" + bucket + "/" + object, nil
}

// Close releases the storage client.
func (s *GCSSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

type gcsStore struct {
	client *storage.Client
}

func (g gcsStore) Put(ctx context.Context, bucket, object, contentType string, data []byte) error {
	w := g.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "no-cache, no-store, must-revalidate"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	slog.Debug("uploaded report", slog.String("bucket", bucket), slog.String("object", object), slog.Int("bytes", len(data)))
	return nil
}
