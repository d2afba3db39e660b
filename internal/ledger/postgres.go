package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations create the ledger tables. They are idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS ingestions (
		id          UUID PRIMARY KEY,
		received_at TIMESTAMPTZ NOT NULL,
		remote_addr TEXT NOT NULL DEFAULT '',
		fields      JSONB NOT NULL DEFAULT '{}',
		total_bytes BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS ingested_files (
		ingestion_id UUID NOT NULL REFERENCES ingestions(id) ON DELETE CASCADE,
		position     INT NOT NULL,
		field        TEXT NOT NULL,
		name         TEXT NOT NULL,
		mime_type    TEXT NOT NULL,
		encoding     TEXT NOT NULL,
		md5          TEXT NOT NULL,
		size         BIGINT NOT NULL,
		truncated    BOOLEAN NOT NULL DEFAULT FALSE,
		stored_path  TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (ingestion_id, position)
	)`,
	`CREATE INDEX IF NOT EXISTS ingestions_received_at_idx ON ingestions (received_at DESC)`,
}

// PostgresStore persists records with pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an open pool. Call Migrate before first use.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the ledger tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ledger migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Save writes the record and its files in one transaction.
func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO ingestions (id, received_at, remote_addr, fields, total_bytes)
		 VALUES ($1::uuid, $2, $3, $4::jsonb, $5)`,
		rec.ID, rec.ReceivedAt, rec.RemoteAddr, string(fields), rec.TotalBytes)
	if err != nil {
		return fmt.Errorf("insert ingestion: %w", err)
	}

	if len(rec.Files) > 0 {
		batch := &pgx.Batch{}
		for i, f := range rec.Files {
			batch.Queue(
				`INSERT INTO ingested_files
				 (ingestion_id, position, field, name, mime_type, encoding, md5, size, truncated, stored_path)
				 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				rec.ID, i, f.Field, f.Name, f.MimeType, f.Encoding, f.MD5, f.Size, f.Truncated, f.StoredPath)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert files: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get loads a record and its files.
func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	var (
		rec    Record
		fields []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, received_at, remote_addr, fields::text, total_bytes
		 FROM ingestions WHERE id::text = $1`, id).
		Scan(&rec.ID, &rec.ReceivedAt, &rec.RemoteAddr, &fields, &rec.TotalBytes)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get ingestion: %w", err)
	}
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return Record{}, fmt.Errorf("decode fields: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT field, name, mime_type, encoding, md5, size, truncated, stored_path
		 FROM ingested_files WHERE ingestion_id = $1::uuid ORDER BY position`, rec.ID)
	if err != nil {
		return Record{}, fmt.Errorf("get files: %w", err)
	}
	rec.Files, err = pgx.CollectRows(rows, pgx.RowToStructByPos[FileRecord])
	if err != nil {
		return Record{}, fmt.Errorf("scan files: %w", err)
	}
	return rec, nil
}

// List returns summaries of the latest records.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT i.id::text, i.received_at,
		        (SELECT count(*) FROM ingested_files f WHERE f.ingestion_id = i.id)::int,
		        i.total_bytes
		 FROM ingestions i
		 ORDER BY i.received_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list ingestions: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Summary])
	if err != nil {
		return nil, fmt.Errorf("scan ingestions: %w", err)
	}
	return out, nil
}
