package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/rules-qa/internal/core/domain"
)

// ChunkRepository stores the verbatim rule chunk corpus. It is the source the
// BM25 index is rebuilt from and the vector index is synced from.
type ChunkRepository struct {
	db *sql.DB
}

func NewChunkRepository(db *sql.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *ChunkRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/indexer startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS document_chunks (
	chunk_id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	text TEXT NOT NULL,
	header TEXT NOT NULL DEFAULT '',
	header_level INT NOT NULL DEFAULT 0,
	position_in_doc INT NOT NULL DEFAULT 0,
	source_name TEXT NOT NULL,
	doc_type TEXT NOT NULL,
	publication_date TIMESTAMPTZ,
	section TEXT,
	team TEXT,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_document_chunks_document ON document_chunks(document_id, position_in_doc);
CREATE INDEX IF NOT EXISTS idx_document_chunks_team ON document_chunks(team);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// ListChunks returns the whole corpus in document order.
func (r *ChunkRepository) ListChunks(ctx context.Context) ([]domain.DocumentChunk, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT chunk_id, document_id, text, header, header_level, position_in_doc, source_name, doc_type, publication_date, section, team
FROM document_chunks
ORDER BY document_id, position_in_doc, chunk_id
`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DocumentChunk, 0, 256)
	for rows.Next() {
		var chunk domain.DocumentChunk
		var docType string
		var published sql.NullTime
		var section, team sql.NullString
		if err := rows.Scan(
			&chunk.ChunkID, &chunk.DocumentID, &chunk.Text, &chunk.Header, &chunk.HeaderLevel, &chunk.PositionInDoc,
			&chunk.Metadata.SourceName, &docType, &published, &section, &team,
		); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunk.Metadata.DocType = domain.DocType(docType)
		if published.Valid {
			chunk.Metadata.PublicationDate = published.Time.UTC()
		}
		chunk.Metadata.Section = section.String
		chunk.Metadata.Team = team.String
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

// UpsertChunks inserts or replaces chunks in one transaction.
func (r *ChunkRepository) UpsertChunks(ctx context.Context, chunks []domain.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	for _, chunk := range chunks {
		var published any
		if !chunk.Metadata.PublicationDate.IsZero() {
			published = chunk.Metadata.PublicationDate.UTC()
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO document_chunks (
	chunk_id, document_id, text, header, header_level, position_in_doc, source_name, doc_type, publication_date, section, team, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (chunk_id) DO UPDATE SET
	document_id = EXCLUDED.document_id,
	text = EXCLUDED.text,
	header = EXCLUDED.header,
	header_level = EXCLUDED.header_level,
	position_in_doc = EXCLUDED.position_in_doc,
	source_name = EXCLUDED.source_name,
	doc_type = EXCLUDED.doc_type,
	publication_date = EXCLUDED.publication_date,
	section = EXCLUDED.section,
	team = EXCLUDED.team,
	updated_at = EXCLUDED.updated_at
`,
			chunk.ChunkID, chunk.DocumentID, chunk.Text, chunk.Header, chunk.HeaderLevel, chunk.PositionInDoc,
			chunk.Metadata.SourceName, string(chunk.Metadata.DocType), published,
			nullableString(chunk.Metadata.Section), nullableString(chunk.Metadata.Team), now,
		)
		if err != nil {
			return fmt.Errorf("upsert chunk %s: %w", chunk.ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert tx: %w", err)
	}
	return nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
