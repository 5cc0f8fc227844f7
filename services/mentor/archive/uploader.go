// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/MathMentor/services/mentor/config"
)

// =============================================================================
// Uploader
// =============================================================================

// Uploader ships escalation bundles to a GCS bucket.
//
// Description:
//
//	One JSON object per closed run, keyed by close date and session id
//	so reviewers can browse a day's escalations in order. The sink is
//	optional and best-effort: the pipeline logs a failed upload and
//	moves on rather than failing the session over it.
//
// Thread Safety: Safe for concurrent use. A nil uploader is valid and
// archives nothing.
type Uploader struct {
	client *storage.Client
	bucket string
	prefix string
	log    *slog.Logger
}

// NewUploader connects to GCS. Returns nil when the sink is disabled in
// config. With no credentials file configured the client falls back to
// application default credentials.
func NewUploader(ctx context.Context, cfg config.GCSConfig, log *slog.Logger) (*Uploader, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Bucket == "" {
		return nil, errors.New("archive: gcs enabled without a bucket")
	}
	if log == nil {
		log = slog.Default()
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("archive: gcs credentials file %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: gcs client: %w", err)
	}
	return &Uploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    log,
	}, nil
}

// Upload writes one bundle as a pretty-printed JSON object.
func (u *Uploader) Upload(ctx context.Context, bundle Bundle) error {
	if u == nil || u.client == nil {
		return nil
	}
	if err := bundle.Validate(); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encode bundle %s: %w", bundle.SessionID, err)
	}
	closed := bundle.ClosedAt
	if closed.IsZero() {
		closed = time.Now()
	}
	name := objectName(u.prefix, bundle.SessionID, closed)

	writer := u.client.Bucket(u.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.CacheControl = "no-cache, no-store, must-revalidate"
	if _, err := writer.Write(raw); err != nil {
		_ = writer.Close()
		return fmt.Errorf("archive: write gs://%s/%s: %w", u.bucket, name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("archive: close gs://%s/%s: %w", u.bucket, name, err)
	}

	u.log.Info("escalation bundle archived",
		"session_id", bundle.SessionID,
		"state", bundle.State,
		"object", fmt.Sprintf("gs://%s/%s", u.bucket, name))
	return nil
}

// Close releases the underlying client. Safe on a nil uploader.
func (u *Uploader) Close() error {
	if u == nil || u.client == nil {
		return nil
	}
	return u.client.Close()
}
