package database

import (
	"context"

	"github.com/uptrace/bun"
)

type txKey struct{}

// RunInTx runs fn inside a transaction carried by the context passed to fn.
// Nested calls join the outer transaction.
func RunInTx(ctx context.Context, db *bun.DB, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// Conn returns the transaction in ctx, or db when there is none.
func Conn(ctx context.Context, db *bun.DB) bun.IDB {
	if tx, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return tx
	}
	return db
}

func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(bun.Tx)
	return ok
}

// TxRunner runs fn in one transaction.
type TxRunner interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

type Transactor struct {
	db *bun.DB
}

func NewTransactor(db *bun.DB) Transactor {
	return Transactor{db: db}
}

func (t Transactor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return RunInTx(ctx, t.db, fn)
}
