package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Transactor runs fn as one atomic unit of work. Every write performed through
// a repository with the ctx handed to fn becomes visible together, or not at all.
// Nested calls join the outer unit.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgTxKey struct{}

type pgUnit struct {
	tx          pgx.Tx
	afterCommit []func()
}

// TxManager is the Postgres Transactor.
type TxManager struct {
	pool *pgxpool.Pool
}

func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

func (m *TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(pgTxKey{}).(*pgUnit); ok {
		return fn(ctx)
	}

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	unit := &pgUnit{tx: tx}
	txCtx := context.WithValue(ctx, pgTxKey{}, unit)

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	for _, hook := range unit.afterCommit {
		hook()
	}
	return nil
}

// Executor returns the transaction bound to ctx, or the pool when ctx carries none.
func Executor(ctx context.Context, pool *pgxpool.Pool) DBTX {
	if unit, ok := ctx.Value(pgTxKey{}).(*pgUnit); ok {
		return unit.tx
	}
	return pool
}

// AfterCommit defers fn until the outermost unit bound to ctx commits. It is
// dropped on rollback. Without a unit in ctx fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	if unit, ok := ctx.Value(pgTxKey{}).(*pgUnit); ok {
		unit.afterCommit = append(unit.afterCommit, fn)
		return
	}
	if unit := memUnitFrom(ctx); unit != nil {
		unit.afterCommit = append(unit.afterCommit, fn)
		return
	}
	fn()
}

// InTx reports whether ctx is bound to a unit of work.
func InTx(ctx context.Context) bool {
	if _, ok := ctx.Value(pgTxKey{}).(*pgUnit); ok {
		return true
	}
	return memUnitFrom(ctx) != nil
}

const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique constraint failure,
// optionally restricted to one constraint name.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
