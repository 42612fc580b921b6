package kvstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the behaviour every driver must share.
func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	_, err := st.Get(ctx, "emr/missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.Put(ctx, "emr/audit-logs", []byte(`[{"id":"a"}]`)))
	got, err := st.Get(ctx, "emr/audit-logs")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"a"}]`, string(got))

	require.NoError(t, st.Put(ctx, "emr/audit-logs", []byte(`[]`)))
	got, err = st.Get(ctx, "emr/audit-logs")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(got), "put must replace the previous value")

	require.NoError(t, st.Delete(ctx, "emr/audit-logs"))
	_, err = st.Get(ctx, "emr/audit-logs")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, st.Delete(ctx, "emr/audit-logs"), "deleting a missing key is not an error")

	assert.Error(t, st.Put(ctx, "", []byte("x")))
	assert.Error(t, st.Put(ctx, "../escape", []byte("x")))
	assert.Error(t, st.Put(ctx, "/abs", []byte("x")))
}

func TestOpen_Memory(t *testing.T) {
	st, err := Open(context.Background(), Options{})
	require.NoError(t, err)
	defer st.Close()
	assert.Equal(t, DriverMemory, st.Driver())
	exerciseStore(t, st)
}

func TestOpen_Filesystem(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(context.Background(), Options{Driver: "fs", Path: dir})
	require.NoError(t, err)
	defer st.Close()
	assert.Equal(t, DriverFilesystem, st.Driver())
	exerciseStore(t, st)

	require.NoError(t, st.Put(context.Background(), "emr/audit-logs", []byte(`[]`)))
	_, err = os.Stat(filepath.Join(dir, "emr", "audit-logs.json"))
	assert.NoError(t, err, "value should be stored as a json file under the root")
}

func TestOpen_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	st, err := Open(context.Background(), Options{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, st.Driver())
	exerciseStore(t, st)

	require.NoError(t, st.Put(context.Background(), "emr/audit-logs", []byte(`["persisted"]`)))
	require.NoError(t, st.Close())

	reopened, err := Open(context.Background(), Options{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(context.Background(), "emr/audit-logs")
	require.NoError(t, err)
	assert.Equal(t, `["persisted"]`, string(got))
}

func TestOpen_Postgres(t *testing.T) {
	url := os.Getenv("EMR_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("EMR_TEST_DATABASE_URL not set")
	}
	st, err := Open(context.Background(), Options{Driver: "postgres", DatabaseURL: url, MaxConns: 2})
	require.NoError(t, err)
	defer st.Close()
	exerciseStore(t, st)
}

func TestOpen_PostgresRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "postgres"})
	assert.Error(t, err)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "redis"})
	assert.Error(t, err)
}

func TestDrivers(t *testing.T) {
	assert.Len(t, Drivers(), 5)
}

func TestHealthHandler(t *testing.T) {
	st, err := Open(context.Background(), Options{Driver: "memory"})
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/storage", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, HealthHandler(st)(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "memory", body["driver"])
}
