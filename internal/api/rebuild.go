package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/intentql/intentql/internal/index"
)

type rebuildResponse struct {
	Templates int       `json:"templates"`
	Dimension int       `json:"dimension"`
	BuiltAt   time.Time `json:"built_at"`
}

func handleIndexRebuild(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Rebuilder == nil || deps.IndexHandle == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "INDEX_NOT_CONFIGURED", "index dependencies are not configured", false, nil)
		return
	}

	snapshot, err := deps.Rebuilder.Rebuild(r.Context())
	if errors.Is(err, index.ErrEmptyCorpus) {
		writeError(r.Context(), w, http.StatusConflict, "EMPTY_CORPUS", "template corpus has no usable embeddings", false, nil)
		return
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "REBUILD_FAILED", "index rebuild failed", true, map[string]any{"details": err.Error()})
		return
	}

	// Readers pick up the new snapshot on their next load; in-flight
	// searches finish against the old one.
	deps.IndexHandle.Swap(snapshot)

	writeJSON(w, http.StatusOK, rebuildResponse{
		Templates: len(snapshot.Templates),
		Dimension: snapshot.Dimension,
		BuiltAt:   snapshot.BuiltAt,
	})
}

func handleIndexStatus(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.IndexHandle == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "INDEX_NOT_CONFIGURED", "index dependencies are not configured", false, nil)
		return
	}
	snapshot, ok := deps.IndexHandle.Load()
	if !ok {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "INDEX_NOT_READY", "template index has not been built yet", true, nil)
		return
	}
	writeJSON(w, http.StatusOK, rebuildResponse{
		Templates: len(snapshot.Templates),
		Dimension: snapshot.Dimension,
		BuiltAt:   snapshot.BuiltAt,
	})
}
