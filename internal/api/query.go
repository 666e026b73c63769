package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/intentql/intentql/internal/bind"
	"github.com/intentql/intentql/internal/config"
	"github.com/intentql/intentql/internal/narrate"
	"github.com/intentql/intentql/internal/observability"
	"github.com/intentql/intentql/internal/profile"
	"github.com/intentql/intentql/internal/retrieve"
)

type queryRequest struct {
	Query               string   `json:"query"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
	Narrate             *bool    `json:"narrate"`
}

type suggestionRecord struct {
	Suggestion     string   `json:"suggestion"`
	Parameters     []string `json:"parameters"`
	Similarity     float64  `json:"similarity"`
	BestSimilarity float64  `json:"best_similarity"`
}

// ndjsonWriter serializes one JSON object per line and flushes after every
// write so rows reach the client while the cursor is still open.
type ndjsonWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	encoder *json.Encoder
}

func newNDJSONWriter(w http.ResponseWriter, status int) *ndjsonWriter {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(status)
	flusher, _ := w.(http.Flusher)
	return &ndjsonWriter{w: w, flusher: flusher, encoder: json.NewEncoder(w)}
}

func (nw *ndjsonWriter) Write(record any) error {
	if err := nw.encoder.Encode(record); err != nil {
		return err
	}
	if nw.flusher != nil {
		nw.flusher.Flush()
	}
	return nil
}

func handleQuery(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Retriever == nil || deps.Binder == nil || deps.Streamer == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query dependencies are not configured", false, nil)
		return
	}

	var request queryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Query) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", "query is required", false, nil)
		return
	}

	threshold := cfg.Retrieval.SimilarityThreshold
	if request.SimilarityThreshold != nil {
		threshold = *request.SimilarityThreshold
	}
	narrationWanted := cfg.Narration.Enabled
	if request.Narrate != nil {
		narrationWanted = *request.Narrate
	}

	best, ranked, err := deps.Retriever.Retrieve(r.Context(), request.Query)
	if errors.Is(err, retrieve.ErrIndexNotReady) {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "INDEX_NOT_READY", "template index has not been built yet", true, nil)
		return
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "EMBEDDING_FAILED", "could not embed query", true, map[string]any{"details": err.Error()})
		return
	}
	observability.ObserveRetrievalSimilarity(best.Similarity)

	if best.Similarity < threshold {
		handleFallback(deps, w, r, request.Query, ranked, cfg.Retrieval.SuggestionLimit)
		return
	}

	params := bind.ExtractParams(request.Query)
	stmt, err := deps.Binder.Bind(best.Template.SQLText, params)
	var missing *bind.MissingBindError
	if errors.As(err, &missing) {
		observability.IncrementMissingBind()
		out := newNDJSONWriter(w, http.StatusBadRequest)
		_ = out.Write(map[string]any{"error": missing.Error()})
		return
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "BIND_FAILED", "could not bind template parameters", false, map[string]any{"details": err.Error()})
		return
	}

	out := newNDJSONWriter(w, http.StatusOK)
	resultProfile := profile.New(cfg.Profiling.CategoryCap)
	delivered, err := deps.Streamer.Run(r.Context(), stmt, func(row map[string]any) error {
		resultProfile.Observe(row)
		return out.Write(row)
	})
	observability.AddRowsStreamed(delivered)
	if err != nil {
		// The status line is already on the wire; the only channel left for
		// the failure is an in-band record.
		_ = out.Write(map[string]any{"error": err.Error()})
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "query stream aborted",
				slog.Int64("rows_delivered", delivered), slog.String("error", err.Error()))
		}
		return
	}

	if narrationWanted {
		if deps.Narrator == nil {
			_ = out.Write(map[string]any{"narration": "(narration not configured)"})
			return
		}
		summary := resultProfile.Summarize(cfg.Profiling.TopValues)
		narration, err := deps.Narrator.Narrate(r.Context(), narrate.Request{
			Query:    request.Query,
			BoundSQL: stmt.SQL,
			Summary:  summary,
		})
		if err != nil {
			observability.IncrementNarrationFailure()
			if deps.Logger != nil {
				deps.Logger.WarnContext(r.Context(), "narration failed", slog.String("error", err.Error()))
			}
			_ = out.Write(map[string]any{"narration": "(narration unavailable: " + err.Error() + ")"})
			return
		}
		_ = out.Write(map[string]any{"narration": narration})
	}
}

// handleFallback answers a below-threshold query with ranked suggestions and
// records the raw prompt for corpus curation. Recording is best effort; a
// storage failure must not turn a useful suggestion list into a 500.
func handleFallback(deps Dependencies, w http.ResponseWriter, r *http.Request, query string, ranked []retrieve.Candidate, limit int) {
	observability.IncrementFallback()
	if deps.Feedback != nil {
		if err := deps.Feedback.RecordFallback(r.Context(), query); err != nil && deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "fallback prompt not recorded", slog.String("error", err.Error()))
		}
	}

	if limit <= 0 {
		limit = 100
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	bestSimilarity := 0.0
	if len(ranked) > 0 {
		bestSimilarity = ranked[0].Similarity
	}

	out := newNDJSONWriter(w, http.StatusOK)
	if err := out.Write(map[string]any{"error": "no template matched the query closely enough"}); err != nil {
		return
	}
	for _, candidate := range ranked {
		record := suggestionRecord{
			Suggestion:     candidate.Template.IntentText,
			Parameters:     bind.PlaceholderNames(candidate.Template.SQLText),
			Similarity:     candidate.Similarity,
			BestSimilarity: bestSimilarity,
		}
		if err := out.Write(record); err != nil {
			return
		}
	}
}
