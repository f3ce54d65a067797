package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
)

// SQLTxRunner runs a scope inside one Postgres transaction
type SQLTxRunner struct {
	db     database.DB
	logger ectologger.Logger
}

func NewSQLTxRunner(db database.DB, logger ectologger.Logger) *SQLTxRunner {
	return &SQLTxRunner{db: db, logger: logger}
}

func (r *SQLTxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.WithinTx(ctx, r.logger, r.db, fn)
}
