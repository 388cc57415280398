package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"hexascan/config"
	"hexascan/core/utils"
)

// DB wraps *sql.DB and rewrites `?` placeholders to `$n` when talking to
// postgres, so store queries are written once in sqlite form.
type DB struct {
	*sql.DB
	pg bool
}

func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	switch driver {
	case "", "postgres", "pgx":
		raw, err := sql.Open("pgx", cfg.DBURL)
		if err != nil {
			return nil, err
		}
		raw.SetMaxOpenConns(16)
		return &DB{DB: raw, pg: true}, nil
	case "sqlite":
		raw, err := sql.Open("sqlite", cfg.DBURL)
		if err != nil {
			return nil, err
		}
		// modernc sqlite does not tolerate concurrent writers on one file.
		raw.SetMaxOpenConns(1)
		if _, err := raw.Exec("PRAGMA foreign_keys=ON"); err != nil {
			raw.Close()
			return nil, err
		}
		return &DB{DB: raw, pg: false}, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}

func (d *DB) IsPostgres() bool {
	return d != nil && d.pg
}

func (d *DB) rebind(query string) string {
	if !d.pg {
		return query
	}
	return rebindDollar(query)
}

func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.DB.ExecContext(ctx, d.rebind(query), args...)
}

func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.DB.QueryContext(ctx, d.rebind(query), args...)
}

func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.DB.QueryRowContext(ctx, d.rebind(query), args...)
}

func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := d.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, pg: d.pg}, nil
}

type Tx struct {
	*sql.Tx
	pg bool
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if t.pg {
		query = rebindDollar(query)
	}
	return t.Tx.ExecContext(ctx, query, args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	if t.pg {
		query = rebindDollar(query)
	}
	return t.Tx.QueryRowContext(ctx, query, args...)
}

func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
