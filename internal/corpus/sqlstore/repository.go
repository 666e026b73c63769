package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/intentql/intentql/internal/corpus"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping store db: %w", err)
	}
	return nil
}

// ListTemplates loads the full corpus in insertion order. Embeddings come back
// as raw blobs; decoding is the index builder's concern.
func (r *Repository) ListTemplates(ctx context.Context) ([]corpus.TemplateRow, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, intent_text, sql_template, embedding
FROM nl2sql_template
ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	templates := make([]corpus.TemplateRow, 0)
	for rows.Next() {
		var row corpus.TemplateRow
		var embedding []byte
		if err := rows.Scan(&row.ID, &row.IntentText, &row.SQLText, &embedding); err != nil {
			return nil, fmt.Errorf("scan template row: %w", err)
		}
		row.Embedding = embedding
		templates = append(templates, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate template rows: %w", err)
	}
	return templates, nil
}

// InsertTemplate appends a template to the corpus and returns its id. Used by
// the seed tool; the query path never writes templates.
func (r *Repository) InsertTemplate(ctx context.Context, intentText, sqlText string, embedding []byte) (int64, error) {
	query := `
INSERT INTO nl2sql_template (intent_text, sql_template, embedding)
VALUES ($1, $2, $3)
RETURNING id`
	var id int64
	if err := r.db.QueryRowContext(ctx, query, intentText, sqlText, embedding).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert template: %w", err)
	}
	return id, nil
}

// RecordFallback stores one unmatched prompt verbatim.
func (r *Repository) RecordFallback(ctx context.Context, prompt string) error {
	query := `
INSERT INTO nl2sql_fallback (id, prompt)
VALUES ($1, $2)`
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), prompt); err != nil {
		return fmt.Errorf("record fallback prompt: %w", err)
	}
	return nil
}
