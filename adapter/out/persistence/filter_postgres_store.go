package persistence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"spamfilter/core/domain"
	"spamfilter/pkg/apperr"
)

// =============================================================================
// Postgres Reference Store (metadata + training-run history)
// =============================================================================

const postgresSchema = `
CREATE TABLE IF NOT EXISTS reference_records (
	id      INTEGER PRIMARY KEY,
	message TEXT    NOT NULL,
	label   TEXT    NOT NULL
);
CREATE TABLE IF NOT EXISTS training_runs (
	id            UUID PRIMARY KEY,
	mode          TEXT             NOT NULL,
	model_name    TEXT             NOT NULL,
	train_samples INTEGER          NOT NULL,
	test_samples  INTEGER          NOT NULL,
	best_alpha    DOUBLE PRECISION NOT NULL,
	best_accuracy DOUBLE PRECISION NOT NULL,
	index_backend TEXT             NOT NULL,
	started_at    TIMESTAMPTZ      NOT NULL,
	finished_at   TIMESTAMPTZ      NOT NULL
);`

// PostgresStore keeps reference metadata and run history in Postgres.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates the store and its tables.
func NewPostgresStore(ctx context.Context, db *sqlx.DB) (*PostgresStore, error) {
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return nil, apperr.DatabaseError("create schema", err)
	}
	return &PostgresStore{db: db}, nil
}

// LoadRecords reads every reference record ordered by id.
func (s *PostgresStore) LoadRecords(ctx context.Context) (RecordStore, error) {
	var rows []domain.Record
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, message, label FROM reference_records ORDER BY id`); err != nil {
		return nil, apperr.DatabaseError("load reference records", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("reference_records is empty")
	}
	return NewRecordStore(rows)
}

// ReplaceRecords truncates the table and bulk-loads records with COPY.
func (s *PostgresStore) ReplaceRecords(ctx context.Context, records []domain.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.DatabaseError("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `TRUNCATE reference_records`); err != nil {
		return apperr.DatabaseError("truncate reference records", err)
	}
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("reference_records", "id", "message", "label"))
	if err != nil {
		return apperr.DatabaseError("prepare copy", err)
	}
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Message, r.Label); err != nil {
			stmt.Close()
			return apperr.DatabaseError(fmt.Sprintf("copy record %d", r.ID), err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return apperr.DatabaseError("flush copy", err)
	}
	if err := stmt.Close(); err != nil {
		return apperr.DatabaseError("close copy", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.DatabaseError("commit reference records", err)
	}
	return nil
}

// RecordRun appends a training-run row.
func (s *PostgresStore) RecordRun(ctx context.Context, run *domain.TrainingRun) error {
	query := `
		INSERT INTO training_runs (id, mode, model_name, train_samples, test_samples,
			best_alpha, best_accuracy, index_backend, started_at, finished_at)
		VALUES (:id, :mode, :model_name, :train_samples, :test_samples,
			:best_alpha, :best_accuracy, :index_backend, :started_at, :finished_at)`
	if _, err := s.db.NamedExecContext(ctx, query, run); err != nil {
		return apperr.DatabaseError("record training run", err)
	}
	return nil
}

// RecentRuns lists the latest runs first.
func (s *PostgresStore) RecentRuns(ctx context.Context, limit int) ([]domain.TrainingRun, error) {
	var runs []domain.TrainingRun
	query := `SELECT * FROM training_runs ORDER BY started_at DESC LIMIT $1`
	if err := s.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, apperr.DatabaseError("list training runs", err)
	}
	return runs, nil
}
