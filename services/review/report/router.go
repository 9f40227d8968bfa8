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
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
)

// Router renders outcomes and sends them to the sink matching the
// request's output URL:
//
//	""                    -> <dir>/review-<id>.md
//	file:///abs/path.md   -> that file, if the file sink accepts it
//	relative/or/abs/path  -> that file, if the file sink accepts it
//	gs://bucket/object    -> GCS (object "review-<id>.md" when the URL ends in "/")
//
// It implements mcts.ReportSink.
type Router struct {
	files  *FileSink
	gcs    *GCSSink
	logger *slog.Logger
}

var _ mcts.ReportSink = (*Router)(nil)

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithGCS enables gs:// output URLs.
func WithGCS(s *GCSSink) RouterOption {
	return func(r *Router) { r.gcs = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter creates a router over a file sink.
func NewRouter(files *FileSink, opts ...RouterOption) *Router {
	r := &Router{files: files, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish implements mcts.ReportSink.
func (r *Router) Publish(ctx context.Context, o *mcts.Outcome) (string, error) {
	data, err := Render(o)
	if err != nil {
		return "", err
	}
	loc, err := r.write(ctx, o.ReviewID, o.Request.OutputURL, data)
	if err != nil {
		return "", err
	}
	r.logger.InfoContext(ctx, "report published",
		slog.String("review_id", o.ReviewID),
		slog.String("location", loc),
		slog.Bool("failed", o.Failed),
	)
	return loc, nil
}

func (r *Router) write(ctx context.Context, reviewID, outputURL string, data []byte) (string, error) {
	outputURL = strings.TrimSpace(outputURL)
	if outputURL == "" {
		return r.files.Write(ctx, r.files.DefaultPath(reviewID), data)
	}

	u, err := url.Parse(outputURL)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain paths, including Windows drive letters.
		return r.files.Write(ctx, outputURL, data)
	}

	switch u.Scheme {
	case "file":
		p := u.Path
		if u.Host != "" && u.Host != "localhost" {
			p = u.Host + p
		}
		if p == "" {
			return "", fmt.Errorf("%w: empty file path in %s", ErrUnsupportedLocation, outputURL)
		}
		return r.files.Write(ctx, p, data)
	case "gs":
		if r.gcs == nil {
			return "", fmt.Errorf("%w: %s requires GCS", ErrSinkNotConfigured, outputURL)
		}
		if u.Host == "" {
			return "", fmt.Errorf("%w: missing bucket in %s", ErrUnsupportedLocation, outputURL)
		}
		object := strings.TrimPrefix(u.Path, "/")
		if object == "" || strings.HasSuffix(object, "/") {
			object = path.Join(object, "review-"+reviewID+".md")
		}
		return r.gcs.Write(ctx, u.Host, object, data)
	default:
		return "", fmt.Errorf("%w: scheme %q", ErrUnsupportedLocation, u.Scheme)
	}
}
