package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner runs fn inside one atomic unit. A call made while a transaction
// is already attached to ctx joins it instead of opening a new one.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// WithReadTx runs fn against a consistent snapshot; writes are not allowed.
	WithReadTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}
type hooksKey struct{}

// PgTxRunner is the Postgres TxRunner. Repositories pick the transaction up
// through TxFromContext.
type PgTxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *PgTxRunner {
	return &PgTxRunner{pool: pool}
}

func (r *PgTxRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

func (r *PgTxRunner) WithReadTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (r *PgTxRunner) run(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := r.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Rollback after a successful commit is a no-op.
	defer tx.Rollback(context.WithoutCancel(ctx))

	ctx, hooks := WithCommitHooks(ctx)
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	hooks.Run()
	return nil
}

// TxFromContext returns the transaction attached by PgTxRunner, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// CommitHooks collects callbacks that must only run once the enclosing
// transaction has committed.
type CommitHooks struct {
	mu  sync.Mutex
	fns []func()
}

// WithCommitHooks attaches a fresh hook list to ctx.
func WithCommitHooks(ctx context.Context) (context.Context, *CommitHooks) {
	h := &CommitHooks{}
	return context.WithValue(ctx, hooksKey{}, h), h
}

// Run executes the registered callbacks in registration order.
func (h *CommitHooks) Run() {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// AfterCommit defers fn until the transaction on ctx commits. Outside a
// transaction fn runs immediately. A rolled back transaction drops fn.
func AfterCommit(ctx context.Context, fn func()) {
	h, ok := ctx.Value(hooksKey{}).(*CommitHooks)
	if !ok {
		fn()
		return
	}
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}
