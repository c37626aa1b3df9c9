package store

import (
	"context"
	"dgtscraper/internal/registration"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema_postgres.sql
var postgresSchema string

const upsertPostgres = `insert into registrations (natural_key, bastidor, fecha_tramite, record)
values ($1, $2, $3, $4)
on conflict (natural_key) do update set
    record = excluded.record,
    updated_at = now()`

// PostgresStore keeps each registration as a jsonb document with the
// columns of its natural key alongside.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, dsn string) (PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return PostgresStore{}, fmt.Errorf("store: parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return PostgresStore{}, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return PostgresStore{}, err
	}

	_, err = pool.Exec(ctx, postgresSchema)
	if err != nil {
		pool.Close()
		return PostgresStore{}, fmt.Errorf("store: create schema: %w", err)
	}
	return PostgresStore{pool: pool}, nil
}

func (s PostgresStore) Upsert(ctx context.Context, records []registration.Record) error {
	batch := &pgx.Batch{}
	for _, r := range records {
		document, err := json.Marshal(r)
		if err != nil {
			return err
		}
		batch.Queue(upsertPostgres, r.Key(), r.VIN, r.ProcedureDate.Time(), document)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.SendBatch(ctx, batch).Close()
	if err != nil {
		return fmt.Errorf("store: upsert batch: %w", err)
	}
	return tx.Commit(ctx)
}

func (s PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
