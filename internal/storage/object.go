/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package storage publishes calendar feeds to an object store.
package storage

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/friendsincode/rerun_calendar/internal/config"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("object not found")

// ObjectStore abstracts object storage operations.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	// URL is where a published key can be fetched; empty when the store
	// has no public address.
	URL(key string) string
}

// FromConfig picks S3 when a bucket is configured, otherwise the export
// directory. It returns nil when neither is set.
func FromConfig(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (ObjectStore, error) {
	switch {
	case cfg.S3Bucket != "":
		return NewS3Store(ctx, S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
			PublicBaseURL:   cfg.S3PublicBaseURL,
		}, logger)
	case cfg.ExportDir != "":
		return NewFilesystemStore(cfg.ExportDir, logger)
	default:
		return nil, nil
	}
}
