// Package storage writes export files to a local directory or an S3 prefix.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("object not found")

// BlobStore defines the interface for abstract storage backends.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	// Location renders key for humans.
	Location(key string) string
}

// Open returns an S3Store for s3://bucket/prefix targets and a LocalStore otherwise.
// cfg is only loaded for S3 targets.
func Open(ctx context.Context, target string, cfg func(ctx context.Context) (aws.Config, error)) (BlobStore, error) {
	if !strings.HasPrefix(target, "s3://") {
		return NewLocalStore(target), nil
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid S3 target %q", target)
	}
	awsCfg, err := cfg(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config for %s: %w", target, err)
	}
	return NewS3Store(awsCfg, u.Host, strings.Trim(u.Path, "/")), nil
}
