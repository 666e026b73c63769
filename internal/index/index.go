// Package index holds the in-memory nearest-neighbor index over template
// embeddings. A build produces an immutable Snapshot; the process-wide Handle
// swaps snapshots atomically so concurrent readers never observe a
// half-built (tree, corpus) pair.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/intentql/intentql/internal/corpus"
	"github.com/intentql/intentql/internal/embedding"
	"github.com/intentql/intentql/internal/observability"
)

// ErrEmptyCorpus means a rebuild found no rows with a usable embedding.
var ErrEmptyCorpus = errors.New("index: no usable embeddings in template corpus")

// Snapshot is a point-in-time immutable index. Neighbor positions returned
// by Search resolve into Templates.
type Snapshot struct {
	Templates []corpus.Template
	Dimension int
	BuiltAt   time.Time

	tree *kdTree
}

func (s *Snapshot) Search(query []float32, k int) []Neighbor {
	return s.tree.search(query, k)
}

// Handle is the process-wide pointer to the active snapshot. Replacement is
// a single atomic store; snapshots are never mutated in place.
type Handle struct {
	current atomic.Pointer[Snapshot]
}

func (h *Handle) Load() (*Snapshot, bool) {
	snapshot := h.current.Load()
	return snapshot, snapshot != nil
}

func (h *Handle) Swap(snapshot *Snapshot) {
	h.current.Store(snapshot)
}

// Builder rebuilds the index from the template store. Each rebuild scans the
// full corpus; rows without a parseable embedding are skipped with a warning.
type Builder struct {
	Store  corpus.TemplateLister
	Logger *slog.Logger
}

func (b *Builder) Rebuild(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	rows, err := b.Store.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load template corpus: %w", err)
	}

	templates := make([]corpus.Template, 0, len(rows))
	points := make([][]float32, 0, len(rows))
	dimension := 0
	for _, row := range rows {
		if len(row.Embedding) == 0 {
			b.warn(ctx, row.ID, "missing embedding")
			continue
		}
		vec, err := corpus.DecodeEmbedding(row.Embedding)
		if err != nil {
			b.warn(ctx, row.ID, err.Error())
			continue
		}
		if dimension == 0 {
			dimension = len(vec)
		}
		if len(vec) != dimension {
			b.warn(ctx, row.ID, fmt.Sprintf("dimension %d does not match corpus dimension %d", len(vec), dimension))
			continue
		}
		embedding.Normalize(vec)
		templates = append(templates, corpus.Template{
			ID:         row.ID,
			IntentText: row.IntentText,
			SQLText:    row.SQLText,
			Embedding:  vec,
		})
		points = append(points, vec)
	}

	if len(templates) == 0 {
		return nil, ErrEmptyCorpus
	}

	snapshot := &Snapshot{
		Templates: templates,
		Dimension: dimension,
		BuiltAt:   time.Now(),
		tree:      buildTree(points),
	}
	observability.ObserveIndexRebuild(time.Since(start), len(templates))
	if b.Logger != nil {
		b.Logger.InfoContext(ctx, "index rebuilt",
			slog.Int("templates", len(templates)),
			slog.Int("skipped", len(rows)-len(templates)),
			slog.Int("dimension", dimension),
			slog.String("duration", time.Since(start).String()),
		)
	}
	return snapshot, nil
}

func (b *Builder) warn(ctx context.Context, templateID int64, reason string) {
	if b.Logger == nil {
		return
	}
	b.Logger.WarnContext(ctx, "skipping template during index rebuild",
		slog.Int64("template_id", templateID),
		slog.String("reason", reason),
	)
}
