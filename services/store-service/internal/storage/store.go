package storage

import (
	"context"
	_ "embed"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/servicebook/libs/db"
	"github.com/md-rashed-zaman/servicebook/services/store-service/internal/outbox"
	"github.com/md-rashed-zaman/servicebook/services/store-service/internal/service"
)

//go:embed schema.sql
var schema string

// Migrate applies the idempotent schema.
func Migrate(ctx context.Context, pool *db.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return db.Classify("storage.Migrate", err)
}

// Store runs service transactions on a pgx pool.
type Store struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewStore(pool *db.Pool, repo *outbox.Repository) *Store {
	return &Store{pool: pool, outbox: repo}
}

func (s *Store) InTx(ctx context.Context, fn func(service.Queries) error) error {
	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		return fn(&queries{tx: tx, outbox: s.outbox})
	})
}

// queries implements service.Queries on one transaction.
type queries struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (q *queries) AppendOutbox(ctx context.Context, evt outbox.Event) error {
	return db.Classify("storage.AppendOutbox", q.outbox.Insert(ctx, q.tx, evt))
}
