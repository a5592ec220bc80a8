package library

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testNow is the fixed clock every test runs against.
var testNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.Local)

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(DriverPureGo, filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func boardGame(name string, copies, minP, maxP int) ItemDraft {
	return ItemDraft{
		Name:        name,
		TotalCopies: copies,
		Categories:  []string{"Strategy"},
		Details:     BoardGameDetails{MinPlayers: minP, MaxPlayers: maxP, PlayingTime: 60, PlayDifficulty: DifficultyNormal},
	}
}

func mustInsert(t *testing.T, db *Database, draft ItemDraft) int64 {
	t.Helper()
	id, err := db.InsertItem(context.Background(), draft)
	require.NoError(t, err)
	return id
}

func TestNewDatabaseCreatesDirectoryAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "piazza.db")
	db, err := NewDatabase(DriverPureGo, path)
	require.NoError(t, err)
	defer db.Close()

	v, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, v)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "again.db")
	db, err := NewDatabase(DriverPureGo, path)
	require.NoError(t, err)
	id := mustInsert(t, db, boardGame("Catan", 1, 3, 4))
	require.NoError(t, db.Close())

	db, err = NewDatabase(DriverPureGo, path)
	require.NoError(t, err)
	defer db.Close()
	it, err := db.GetItem(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Catan", it.Name)
}

func TestBothDriversOpen(t *testing.T) {
	for _, driver := range []string{DriverCGO, DriverPureGo} {
		t.Run(driver, func(t *testing.T) {
			db, err := NewDatabase(driver, filepath.Join(t.TempDir(), "d.db"))
			if err != nil && strings.Contains(err.Error(), "cgo") {
				t.Skip("cgo driver unavailable in this build")
			}
			require.NoError(t, err)
			defer db.Close()

			id := mustInsert(t, db, boardGame("Azul", 2, 2, 4))
			it, err := db.GetItem(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, 2, it.CopiesAvailable)
		})
	}
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := NewDatabase("postgres", filepath.Join(t.TempDir(), "x.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported sqlite driver")
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO interests(user_id,item_id,declared_at) VALUES(1,1,0)`); err != nil {
			return err
		}
		return newError(Conflict, ReasonAlreadyInterested, "boom")
	})
	require.Error(t, err)
	ins, err := db.UserInterests(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, ins)
}
