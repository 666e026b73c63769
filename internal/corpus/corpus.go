// Package corpus defines the SQL template corpus: parameterized statements
// paired with a natural-language intent and its embedding. Rows are produced
// by the offline training pipeline and are read-only at query time.
package corpus

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("corpus: not found")

// TemplateRow is a template exactly as stored: the embedding is still the raw
// byte blob written by the training pipeline.
type TemplateRow struct {
	ID         int64
	IntentText string
	SQLText    string
	Embedding  []byte
}

// Template is a decoded template ready for indexing.
type Template struct {
	ID         int64
	IntentText string
	SQLText    string
	Embedding  []float32
}

type TemplateLister interface {
	ListTemplates(ctx context.Context) ([]TemplateRow, error)
}

// FeedbackRecorder persists unmatched prompts for later corpus curation.
type FeedbackRecorder interface {
	RecordFallback(ctx context.Context, prompt string) error
}
