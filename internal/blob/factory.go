// Package blob opens the configured archive blob store.
package blob

import (
	"context"
	"fmt"
	"strings"

	"baboard/internal/blob/core"
	"baboard/internal/infra/blob/fs"
	"baboard/internal/infra/blob/memory"
	"baboard/internal/infra/blob/s3"
	"baboard/internal/platform/config"
)

// Store is re-exported so callers need not import the core package.
type Store = core.Store

// Open selects a blob backend from cfg.Driver. The filesystem driver is the
// default when the driver is empty.
func Open(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	driver := strings.ToLower(cfg.Driver)
	if driver == "" {
		driver = config.BlobFilesystem
	}
	switch core.Driver(driver) {
	case core.DriverFilesystem:
		store, err := fs.New(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return store, nil
	case core.DriverMemory:
		return memory.New(), nil
	case core.DriverS3:
		store, err := s3.New(ctx, s3.Config{
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			SessionToken:    cfg.S3SessionToken,
			PathStyle:       cfg.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
