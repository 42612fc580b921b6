// Package core holds the shared types of the durable key-value storage used
// for client-session state (the persisted audit log).
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Driver identifies a concrete storage backend.
type Driver string

const (
	DriverMemory     Driver = "memory"   // process memory (tests, ephemeral dev)
	DriverFilesystem Driver = "fs"       // one file per key under a root directory
	DriverSQLite     Driver = "sqlite"   // single-table sqlite database
	DriverPostgres   Driver = "postgres" // single-table postgres database
	DriverS3         Driver = "s3"       // S3 / MinIO compatible bucket
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("kvstore: key not found")

// Store persists opaque values under string keys. Put replaces any
// previous value. Implementations must be safe for concurrent use.
type Store interface {
	Driver() Driver
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// ValidateKey rejects empty keys and keys that could escape a namespace
// when mapped to paths.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("kvstore: empty key")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("kvstore: invalid key %q contains '..'", key)
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("kvstore: invalid absolute key %q", key)
	}
	return nil
}
