// Package testutil provides shared test fixtures.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/database"
)

// NewDB creates a migrated throwaway database for one test. The file lives in
// the test's temp dir and the connection is closed on cleanup.
func NewDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
		Name: "test",
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db.Conn()
}

// Logger returns a silenced logger for tests.
func Logger() zerolog.Logger {
	return zerolog.Nop()
}
