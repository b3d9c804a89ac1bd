// Package store persists projects, file records and chat turns in sqlite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("store: not found")

// DB handles SQLite operations
type DB struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// Open opens (and migrates) the database at dbPath. ":memory:" opens a
// private in-memory database.
func Open(dbPath string) (*DB, error) {
	dsn := "file::memory:?_foreign_keys=on"
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = "file:" + dbPath + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: keeps :memory: coherent and serialises writers
	db.SetMaxOpenConns(1)

	database := &DB{
		db:     db,
		dbPath: dbPath,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := database.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks the connection
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Migrate ensures the database schema is up to date
func (d *DB) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		path TEXT NOT NULL,
		blob_key TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (project_id, path),
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS chat_turns (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id);
	CREATE INDEX IF NOT EXISTS idx_chat_turns_project ON chat_turns(project_id, created_at);
	`

	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create initial schema: %w", err)
	}

	// columns added after the initial schema are derived from struct tags
	if err := d.autoMigrateTable(ctx, "projects", &Project{}); err != nil {
		return fmt.Errorf("failed to auto-migrate projects: %w", err)
	}
	if err := d.autoMigrateTable(ctx, "files", &File{}); err != nil {
		return fmt.Errorf("failed to auto-migrate files: %w", err)
	}
	if err := d.autoMigrateTable(ctx, "chat_turns", &ChatTurn{}); err != nil {
		return fmt.Errorf("failed to auto-migrate chat_turns: %w", err)
	}
	return nil
}

// autoMigrateTable adds missing columns to a table based on struct tags
func (d *DB) autoMigrateTable(ctx context.Context, tableName string, model interface{}) error {
	t := reflect.TypeOf(model)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	existing, err := d.columns(ctx, tableName)
	if err != nil {
		return err
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		dbTag := field.Tag.Get("db")
		if dbTag == "" || dbTag == "-" {
			continue
		}
		column := strings.Split(dbTag, ",")[0]
		if existing[column] {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", tableName, column, sqliteType(field.Type))
		if _, err := d.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to add column %s: %w", column, err)
		}
	}
	return nil
}

func (d *DB) columns(ctx context.Context, tableName string) (map[string]bool, error) {
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			dtype     string
			notnull   int
			dfltValue interface{}
			pk        int
		)
		if err := rows.Scan(&cid, &name, &dtype, &notnull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

// sqliteType maps a Go field type to a column type with a default so that
// existing rows stay valid. Slices and maps are stored as JSON text.
func sqliteType(t reflect.Type) string {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.String:
		return "TEXT NOT NULL DEFAULT ''"
	case reflect.Int, reflect.Int64, reflect.Int32, reflect.Int16, reflect.Int8,
		reflect.Uint, reflect.Uint64, reflect.Uint32, reflect.Uint16, reflect.Uint8:
		return "INTEGER NOT NULL DEFAULT 0"
	case reflect.Bool:
		return "BOOLEAN NOT NULL DEFAULT FALSE"
	case reflect.Float64, reflect.Float32:
		return "REAL NOT NULL DEFAULT 0"
	case reflect.Slice, reflect.Map:
		return "TEXT NOT NULL DEFAULT 'null'"
	default:
		if t.PkgPath() == "time" && t.Name() == "Time" {
			return "DATETIME"
		}
		return "TEXT"
	}
}

func newID() string {
	return uuid.NewString()
}
