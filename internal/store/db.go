package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ops is the query surface shared by the root handle and transactions, so
// every repository method can run standalone or inside RunInTx unchanged.
type ops interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
	QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
}

type DB struct {
	ops
	root *sqlx.DB
}

func Open(dsn string) (*DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// WAL keeps readers unblocked during writes; busy_timeout absorbs most
	// writer contention before it surfaces as SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &DB{ops: db, root: db}, nil
}

// RunInTx runs fn inside a transaction; fn receives a handle whose
// repository methods all operate on that transaction. Transactions stay
// short: acquire, mutate, commit. Calling RunInTx on a transactional handle
// joins the open transaction.
func (db *DB) RunInTx(ctx context.Context, fn func(tx *DB) error) error {
	if _, ok := db.ops.(*sqlx.Tx); ok {
		return fn(db)
	}

	tx, err := db.root.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&DB{ops: tx, root: db.root}); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DB) Close() error {
	return db.root.Close()
}
