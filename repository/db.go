package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/goliatone/go-authstate"
	goerrors "github.com/goliatone/go-errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the database for the driver and dsn
func Open(driver, dsn string) (*bun.DB, error) {
	switch strings.ToLower(driver) {
	case "", DriverSQLite, "sqlite3":
		return OpenSQLite(dsn)
	case DriverPostgres, "postgresql", "pgx":
		return OpenPostgres(dsn)
	default:
		return nil, goerrors.New("unsupported database driver", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"driver": driver})
	}
}

// OpenSQLite opens a SQLite database through bun's sqliteshim
func OpenSQLite(dsn string) (*bun.DB, error) {
	if dsn == "" {
		dsn = ":memory:"
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open sqlite database")
	}
	// sqlite serializes writers, a single connection also keeps in-memory
	// databases alive for the lifetime of the pool
	sqldb.SetMaxOpenConns(1)

	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// OpenPostgres opens a Postgres database through the pgx stdlib driver
func OpenPostgres(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open postgres database")
	}
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

// Migrate creates the profiles table plus any extra model tables when missing
func Migrate(ctx context.Context, db bun.IDB, models ...any) error {
	all := append([]any{(*authstate.UserProfile)(nil)}, models...)
	for _, model := range all {
		if _, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create table")
		}
	}
	return nil
}
