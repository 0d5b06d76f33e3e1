package database

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

// TestingT is an interface for testing compatibility.
type TestingT interface {
	Logf(format string, args ...any)
	FailNow()
	TempDir() string
	Cleanup(func())
}

// SetupTestStore creates an isolated, migrated SQLite store for a test.
func SetupTestStore(t TestingT) *Store {
	var (
		name = fmt.Sprintf("test_%s.sqlite", uuid.New().String()[0:8])
		path = filepath.Join(t.TempDir(), name)
	)

	store, err := Open(path)
	if err != nil {
		t.Logf("failed to open test store at %s: %v", path, err)
		t.FailNow()
	}

	if err := Migrate(store.DB); err != nil {
		t.Logf("failed to migrate test store: %v", err)
		t.FailNow()
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}
