// Package kvstore selects and wraps the durable key-value backend. Domain code
// depends on the Store interface only; driver packages are imported here.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/emr-dashboard/internal/platform/db"
	"github.com/ehr/emr-dashboard/internal/platform/kvstore/core"
	"github.com/ehr/emr-dashboard/internal/platform/kvstore/fs"
	"github.com/ehr/emr-dashboard/internal/platform/kvstore/memory"
	"github.com/ehr/emr-dashboard/internal/platform/kvstore/postgres"
	"github.com/ehr/emr-dashboard/internal/platform/kvstore/s3"
	"github.com/ehr/emr-dashboard/internal/platform/kvstore/sqlite"
)

type (
	Store  = core.Store
	Driver = core.Driver
)

const (
	DriverMemory     = core.DriverMemory
	DriverFilesystem = core.DriverFilesystem
	DriverSQLite     = core.DriverSQLite
	DriverPostgres   = core.DriverPostgres
	DriverS3         = core.DriverS3
)

var ErrNotFound = core.ErrNotFound

// Options carries the settings for every driver; only the fields of the
// selected driver are read.
type Options struct {
	Driver      string
	Path        string // fs root directory or sqlite file
	DatabaseURL string
	MaxConns    int32
	MinConns    int32
	S3          s3.Config
}

// Open constructs the Store selected by opts.Driver (default memory).
func Open(ctx context.Context, opts Options) (Store, error) {
	driver := Driver(opts.Driver)
	if driver == "" {
		driver = DriverMemory
	}
	switch driver {
	case DriverMemory:
		return memory.New(), nil
	case DriverFilesystem:
		return fs.New(opts.Path)
	case DriverSQLite:
		return sqlite.New(opts.Path)
	case DriverPostgres:
		pool, err := db.NewPool(ctx, opts.DatabaseURL, opts.MaxConns, opts.MinConns)
		if err != nil {
			return nil, err
		}
		st, err := postgres.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return st, nil
	case DriverS3:
		return s3.New(ctx, opts.S3)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// Drivers lists the accepted driver names.
func Drivers() []Driver {
	return []Driver{DriverMemory, DriverFilesystem, DriverSQLite, DriverPostgres, DriverS3}
}

const healthProbeKey = "emr/health-probe"

// HealthHandler reports whether the storage backend answers reads. Backends
// exposing Stats() include them in the response.
func HealthHandler(store Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		body := map[string]interface{}{"driver": store.Driver()}
		if s, ok := store.(interface{ Stats() any }); ok {
			body["pool"] = s.Stats()
		}

		if _, err := store.Get(ctx, healthProbeKey); err != nil && !errors.Is(err, ErrNotFound) {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		body["status"] = "healthy"
		return c.JSON(http.StatusOK, body)
	}
}
