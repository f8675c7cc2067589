package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	// Registers "libsql" for remote Turso databases.
	_ "github.com/tursodatabase/libsql-client-go/libsql"

	// Registers "sqlite" (pure Go) for local files and :memory:.
	_ "modernc.org/sqlite"
)

// MemoryURL opens a private in-memory database.
const MemoryURL = ":memory:"

// localPragmas are applied to every pooled connection of a local database.
var localPragmas = []string{"foreign_keys(1)", "busy_timeout(5000)"}

var remoteSchemes = []string{"libsql://", "https://", "http://", "wss://", "ws://"}

// Driver reports which database/sql driver serves dbURL.
func Driver(dbURL string) string {
	for _, s := range remoteSchemes {
		if strings.HasPrefix(dbURL, s) {
			return "libsql"
		}
	}
	return "sqlite"
}

// Connect opens the course database and verifies it with a ping.
//
// Supported forms:
//
//	In memory:    ":memory:"
//	Local file:   "file:data/courses.db" or "data/courses.db"
//	Remote Turso: "libsql://[db-name].turso.io?authToken=[token]"
//
// Parent directories of local files are created as needed.
func Connect(ctx context.Context, dbURL string) (*sql.DB, error) {
	dbURL = strings.TrimSpace(dbURL)
	if dbURL == "" {
		return nil, fmt.Errorf("database URL must not be empty")
	}

	driver := Driver(dbURL)
	dsn := dbURL
	if driver == "sqlite" {
		if err := ensureParentDir(dbURL); err != nil {
			return nil, err
		}
		dsn = withPragmas(dbURL)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	if dbURL == MemoryURL {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(dsn)
	for _, p := range localPragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

func ensureParentDir(dbURL string) error {
	if dbURL == MemoryURL {
		return nil
	}
	path := strings.TrimPrefix(dbURL, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == MemoryURL {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	return nil
}
