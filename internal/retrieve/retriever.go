// Package retrieve matches a natural-language query against the template
// corpus via the nearest-neighbor index.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/intentql/intentql/internal/corpus"
	"github.com/intentql/intentql/internal/embedding"
	"github.com/intentql/intentql/internal/index"
)

// ErrIndexNotReady means no successful rebuild has happened yet.
var ErrIndexNotReady = errors.New("retrieve: index has not been built")

type Candidate struct {
	Template   corpus.Template
	Position   int
	Similarity float64
}

type Retriever struct {
	Provider embedding.Provider
	Index    *index.Handle
	SearchK  int
}

// Retrieve embeds the query and returns the best candidate plus the full
// ranked list for fallback suggestions. Candidates are ordered by similarity
// descending; ties keep corpus insertion order.
func (r *Retriever) Retrieve(ctx context.Context, query string) (Candidate, []Candidate, error) {
	snapshot, ok := r.Index.Load()
	if !ok {
		return Candidate{}, nil, ErrIndexNotReady
	}

	vec, err := r.Provider.Embed(ctx, query)
	if err != nil {
		return Candidate{}, nil, fmt.Errorf("embed query: %w", err)
	}
	embedding.Normalize(vec)
	if len(vec) != snapshot.Dimension {
		return Candidate{}, nil, fmt.Errorf("query embedding dimension %d does not match index dimension %d", len(vec), snapshot.Dimension)
	}

	k := r.SearchK
	if k <= 0 {
		k = 20
	}
	neighbors := snapshot.Search(vec, k)
	if len(neighbors) == 0 {
		// A built snapshot always holds at least one template, so an empty
		// result means the snapshot itself is malformed.
		return Candidate{}, nil, fmt.Errorf("index snapshot returned no candidates")
	}

	ranked := make([]Candidate, 0, len(neighbors))
	for _, nb := range neighbors {
		ranked = append(ranked, Candidate{
			Template: snapshot.Templates[nb.Position],
			Position: nb.Position,
			// Exact identity for unit-normalized vectors:
			// cos(a, b) = 1 - |a-b|^2 / 2.
			Similarity: 1 - nb.SquaredDistance/2,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Similarity != ranked[j].Similarity {
			return ranked[i].Similarity > ranked[j].Similarity
		}
		return ranked[i].Position < ranked[j].Position
	})

	return ranked[0], ranked, nil
}
