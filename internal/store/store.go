// Package store persists parsed registrations, keyed by their natural key
// so that loading the same period twice updates rows in place.
package store

import (
	"context"
	"dgtscraper/internal/registration"
	"fmt"
)

const (
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"
)

const DefaultBatchSize = 1000

type Config struct {
	Driver    string `json:"driver"`
	Dsn       string `json:"dsn"`
	BatchSize int    `json:"batch_size"`
}

type Store interface {
	// Upsert inserts the records or replaces the ones with the same natural
	// key. It is atomic: either every record is written or none is.
	Upsert(ctx context.Context, records []registration.Record) error
	Close() error
}

func Open(ctx context.Context, config Config) (Store, error) {
	switch config.Driver {
	case DriverSqlite, "":
		return OpenSqlite(ctx, config.Dsn)
	case DriverPostgres:
		return OpenPostgres(ctx, config.Dsn)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", config.Driver)
	}
}

// BatchWriter buffers records and upserts them in batches.
type BatchWriter struct {
	store     Store
	batchSize int
	pending   []registration.Record
	written   int
}

func NewBatchWriter(store Store, batchSize int) *BatchWriter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &BatchWriter{
		store:     store,
		batchSize: batchSize,
		pending:   make([]registration.Record, 0, batchSize),
	}
}

func (w *BatchWriter) Write(ctx context.Context, record registration.Record) error {
	w.pending = append(w.pending, record)
	if len(w.pending) < w.batchSize {
		return nil
	}
	return w.Flush(ctx)
}

// Flush writes the buffered records, it must be called once after the last
// Write.
func (w *BatchWriter) Flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	err := w.store.Upsert(ctx, w.pending)
	if err != nil {
		return err
	}
	w.written += len(w.pending)
	w.pending = w.pending[:0]
	return nil
}

// Written is the number of records flushed so far.
func (w *BatchWriter) Written() int {
	return w.written
}
