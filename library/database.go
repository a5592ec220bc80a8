package library

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverCGO    = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPureGo = "sqlite"  // modernc.org/sqlite
)

// Database provides high-level helpers around a SQLite connection. It is the
// sole owner of every entity; nothing read from it is cached.
type Database struct {
	db *sql.DB

	// writeMu serializes write transactions inside the process. Together with
	// BEGIN IMMEDIATE this gives single-writer semantics.
	writeMu sync.Mutex

	itemStmt      *sql.Stmt
	openCountStmt *sql.Stmt
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewDatabase opens (or creates) the SQLite database at dbPath with the given
// driver, applies schema migrations, and prepares common statements.
func NewDatabase(driver, dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn, err := buildDSN(driver, dbPath)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{db: db}
	if err := database.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// buildDSN enables busy_timeout, foreign keys and immediate write
// transactions. The two drivers spell pragmas differently.
func buildDSN(driver, dbPath string) (string, error) {
	switch driver {
	case DriverCGO, "":
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dbPath), nil
	case DriverPureGo:
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate", dbPath), nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q (want %q or %q)", driver, DriverCGO, DriverPureGo)
	}
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.itemStmt != nil {
		d.itemStmt.Close()
	}
	if d.openCountStmt != nil {
		d.openCountStmt.Close()
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	// WAL lets readers run while a writer holds the lock.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS items (
            id INTEGER PRIMARY KEY,
            name TEXT NOT NULL,
            name_key TEXT NOT NULL UNIQUE,
            kind TEXT NOT NULL CHECK (kind IN ('boardgame','videogame','book')),
            description TEXT NOT NULL DEFAULT '',
            thumbnail TEXT NOT NULL DEFAULT '',
            total_copies INTEGER NOT NULL DEFAULT 1 CHECK (total_copies >= 0)
        );`,
		`CREATE TABLE IF NOT EXISTS boardgames (
            id INTEGER PRIMARY KEY REFERENCES items(id) ON DELETE CASCADE,
            min_players INTEGER NOT NULL DEFAULT 0,
            max_players INTEGER NOT NULL DEFAULT 0,
            playing_time INTEGER NOT NULL DEFAULT 0,
            learn_difficulty INTEGER NOT NULL DEFAULT 0,
            play_difficulty INTEGER NOT NULL DEFAULT 0,
            external_ref INTEGER,
            bgg_rank INTEGER,
            avg_rating REAL,
            bgg_rating REAL
        );`,
		`CREATE TABLE IF NOT EXISTS videogames (
            id INTEGER PRIMARY KEY REFERENCES items(id) ON DELETE CASCADE,
            min_players INTEGER NOT NULL DEFAULT 0,
            max_players INTEGER NOT NULL DEFAULT 0,
            playing_time INTEGER NOT NULL DEFAULT 0,
            difficulty INTEGER NOT NULL DEFAULT 0,
            platform INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY REFERENCES items(id) ON DELETE CASCADE,
            author TEXT NOT NULL DEFAULT '',
            pages INTEGER NOT NULL DEFAULT 0,
            genre TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE TABLE IF NOT EXISTS categories (
            item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
            category TEXT NOT NULL,
            position INTEGER NOT NULL,
            PRIMARY KEY (item_id, category)
        );`,
		// Loans keep their item id after the item is deleted, so no foreign key.
		`CREATE TABLE IF NOT EXISTS borrows (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL,
            item_id INTEGER NOT NULL,
            retrieved_at INTEGER NOT NULL,
            planned_return INTEGER,
            returned_at INTEGER,
            reminder_sent BOOLEAN NOT NULL DEFAULT 0
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_borrows_open ON borrows(user_id, item_id) WHERE returned_at IS NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_borrows_item ON borrows(item_id, returned_at);`,
		`CREATE TABLE IF NOT EXISTS interests (
            user_id INTEGER NOT NULL,
            item_id INTEGER NOT NULL,
            declared_at INTEGER NOT NULL,
            PRIMARY KEY (user_id, item_id)
        );`,
		`CREATE TABLE IF NOT EXISTS suggestions (
            name TEXT PRIMARY KEY,
            type TEXT NOT NULL,
            proposer INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'PENDING',
            created_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS suggestion_votes (
            user_id INTEGER NOT NULL,
            name TEXT NOT NULL REFERENCES suggestions(name) ON DELETE CASCADE,
            voted_at INTEGER NOT NULL,
            PRIMARY KEY (user_id, name)
        );`,
		// Flattened read model the filter compiler targets. Column names here
		// are the only identifiers a filter can reach.
		`CREATE VIEW IF NOT EXISTS catalog AS
            SELECT i.id AS id,
                   i.name AS name,
                   i.name_key AS name_key,
                   i.kind AS kind,
                   COALESCE(bg.min_players, vg.min_players) AS min_players,
                   COALESCE(bg.max_players, vg.max_players) AS max_players,
                   bg.play_difficulty AS play_difficulty,
                   bg.learn_difficulty AS learn_difficulty,
                   vg.difficulty AS difficulty,
                   vg.platform AS platform,
                   bk.genre AS genre,
                   bk.pages AS pages,
                   COALESCE(bg.playing_time, vg.playing_time, bk.pages) AS length
            FROM items i
            LEFT JOIN boardgames bg ON bg.id = i.id
            LEFT JOIN videogames vg ON vg.id = i.id
            LEFT JOIN books bk ON bk.id = i.id;`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}

	return tx.Commit()
}

// SchemaVersion reports the migration level recorded in the meta table.
func (d *Database) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := d.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key='schema_version'`).Scan(&v)
	return v, err
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

const itemColumns = `i.id, i.name, i.kind, i.description, i.thumbnail, i.total_copies,
        i.total_copies - IFNULL((SELECT COUNT(*) FROM borrows b WHERE b.item_id = i.id AND b.returned_at IS NULL), 0)`

func (d *Database) prepareStatements() error {
	var err error
	if d.itemStmt, err = d.db.Prepare(`SELECT ` + itemColumns + ` FROM items i WHERE i.id = ?`); err != nil {
		return err
	}
	if d.openCountStmt, err = d.db.Prepare(`SELECT COUNT(*) FROM borrows WHERE item_id = ? AND returned_at IS NULL`); err != nil {
		return err
	}
	return nil
}

// stmt binds a prepared statement to q when q is a transaction.
func stmt(ctx context.Context, q queryer, s *sql.Stmt) *sql.Stmt {
	if tx, ok := q.(*sql.Tx); ok {
		return tx.StmtContext(ctx, s)
	}
	return s
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// withTx runs fn inside one write transaction. Any error returned by fn rolls
// the whole transaction back.
func (d *Database) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// isUniqueViolation recognizes constraint errors from either driver.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ---------------------------------------------------------------------------
// Time columns are unix seconds.
// ---------------------------------------------------------------------------

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}
