// Package testdb opens throwaway run ledgers for tests. It lives apart from
// testutil because the ledger depends on the batch packages that testutil
// serves.
package testdb

import (
	"os"
	"testing"

	"github.com/starford/rpfba/internal/ledger"
)

// New creates a temporary ledger database that is automatically cleaned up.
func New(t *testing.T) *ledger.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "rpfba-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := ledger.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
