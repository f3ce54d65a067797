package database

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type txContextKey string

const txKey = txContextKey("fern-tx")

// From returns the transaction carried by ctx, or the pooled connection when
// no transaction is open. Every repository call goes through this so that a
// WithinTx scope covers all of its reads and writes.
func From(ctx context.Context, db DB) Querier {
	if tx, ok := ctx.Value(txKey).(*sqlx.Tx); ok && tx != nil {
		return tx
	}
	return db
}

// InTx reports whether ctx carries an open transaction
func InTx(ctx context.Context) bool {
	tx, ok := ctx.Value(txKey).(*sqlx.Tx)
	return ok && tx != nil
}

// WithinTx runs fn inside a single transaction. A nested call reuses the
// open transaction of the outer scope; only the outermost scope commits.
// On error the transaction is rolled back and no partial state survives.
func WithinTx(ctx context.Context, logger ectologger.Logger, db DB, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Error("Failed to begin transaction")
		return fmt.Errorf("error while beginning transaction")
	}

	txCtx := context.WithValue(ctx, txKey, tx)

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.WithContext(ctx).WithError(rbErr).Error("Failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		logger.WithContext(ctx).WithError(err).Error("Failed to commit transaction")
		return fmt.Errorf("error while committing transaction")
	}

	return nil
}
