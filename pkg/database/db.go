package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Querier is the read/write surface shared by the pooled connection and an
// open transaction. Repositories always resolve their Querier through
// From(ctx, db) so that calls inside WithinTx land on the transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
}

// DB is the database handle used throughout the service
type DB interface {
	Querier
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	PingContext(ctx context.Context) error
	Close() error
	Unsafe() *sqlx.DB
}

type Instance struct {
	*sqlx.DB
	logger ectologger.Logger
}

// NewInstance wraps an sqlx pool as a DB
func NewInstance(db *sqlx.DB, logger ectologger.Logger) DB {
	return &Instance{DB: db, logger: logger}
}

func (db *Instance) Unsafe() *sqlx.DB {
	return db.DB
}

// ConnectConfig holds the connection settings for the negotiation store
type ConnectConfig struct {
	Driver          string
	Host            string
	Port            string
	UserName        string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Connect opens and pings the database pool
func Connect(ctx context.Context, cfg ConnectConfig, logger ectologger.Logger) (DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.UserName, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sqlx.ConnectContext(ctx, cfg.Driver, dsn)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Error("Failed to connect to database")
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return NewInstance(db, logger), nil
}
