package store

import (
	"context"
	"database/sql"
	"dgtscraper/internal/registration"
	_ "embed"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var sqliteSchema string

// upsertSqlite is built from registration.Layout so that its placeholders
// line up with Record.Row.
var upsertSqlite = func() string {
	columns := make([]string, len(registration.Layout))
	updates := make([]string, len(registration.Layout))
	for i, f := range registration.Layout {
		columns[i] = f.Name
		updates[i] = fmt.Sprintf("%s = excluded.%s", f.Name, f.Name)
	}
	placeholders := strings.Repeat(", ?", len(columns))
	return fmt.Sprintf(
		"insert into registrations (natural_key, %s) values (?%s) on conflict (natural_key) do update set %s",
		strings.Join(columns, ", "),
		placeholders,
		strings.Join(updates, ", "),
	)
}()

// makeTx creates a transaction along with the functions that end it.
type makeTx = func(ctx context.Context) (tx *sql.Tx, discard, commit func() error, err error)

func newMakeTx(db *sql.DB) makeTx {
	return func(ctx context.Context) (*sql.Tx, func() error, func() error, error) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return nil, nil, nil, err
		}
		return tx, tx.Rollback, tx.Commit, nil
	}
}

type SqliteStore struct {
	db     *sql.DB
	makeTx makeTx
}

// OpenSqlite opens (creating it if needed) the database at dsn, which is a
// file path or any DSN modernc.org/sqlite accepts.
func OpenSqlite(ctx context.Context, dsn string) (SqliteStore, error) {
	if dsn == "" {
		return SqliteStore{}, fmt.Errorf("store: sqlite dsn is empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return SqliteStore{}, err
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx, sqliteSchema)
	if err != nil {
		db.Close()
		return SqliteStore{}, fmt.Errorf("store: create schema: %w", err)
	}
	return SqliteStore{db: db, makeTx: newMakeTx(db)}, nil
}

func (s SqliteStore) Upsert(ctx context.Context, records []registration.Record) error {
	tx, discard, commit, err := s.makeTx(ctx)
	if err != nil {
		return err
	}
	defer discard()

	stmt, err := tx.PrepareContext(ctx, upsertSqlite)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		args := append([]any{r.Key()}, r.Row()...)
		_, err = stmt.ExecContext(ctx, args...)
		if err != nil {
			return fmt.Errorf("store: upsert %s: %w", r.Key(), err)
		}
	}
	return commit()
}

// Count returns the number of stored registrations.
func (s SqliteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "select count(*) from registrations").Scan(&count)
	return count, err
}

func (s SqliteStore) Close() error {
	return s.db.Close()
}
