// internal/db/db.go
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/unclebandit/smsleopard-broadcast/internal/config"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const pingTimeout = 5 * time.Second

// Open connects to the configured database and pings it.
func Open(cfg config.DatabaseConfig) (*sql.DB, Dialect, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, "", err
	}

	dsn := cfg.DSN()
	if dialect == SQLite {
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, "", err
			}
		}
	}

	conn, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", dialect, err)
	}

	switch dialect {
	case SQLite:
		// SQLite prefers a single writer.
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	default:
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(25)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("failed to ping %s: %w", dialect, err)
	}

	if dialect == SQLite {
		_, _ = conn.Exec("PRAGMA journal_mode = WAL")
		_, _ = conn.Exec("PRAGMA busy_timeout = 5000")
	}
	return conn, dialect, nil
}

func ParseDialect(driver string) (Dialect, error) {
	switch driver {
	case "", "postgres", "postgresql":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unknown database driver: %s", driver)
	}
}

// Migrate applies the embedded schema for the dialect. Statements are idempotent.
func Migrate(ctx context.Context, conn *sql.DB, dialect Dialect) error {
	b, err := migrationsFS.ReadFile("migrations/" + string(dialect) + ".sql")
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("migrate %s: %w", dialect, err)
	}
	return nil
}

var dollarParam = regexp.MustCompile(`\$(\d+)`)

// Rebind rewrites $N placeholders for the dialect. Queries are written Postgres-style.
func (d Dialect) Rebind(query string) string {
	if d == SQLite {
		return dollarParam.ReplaceAllString(query, "?$1")
	}
	return query
}
