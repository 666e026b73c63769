// Package api exposes the HTTP surface: health and readiness probes,
// Prometheus metrics, the streaming query endpoint, and index management.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intentql/intentql/internal/bind"
	"github.com/intentql/intentql/internal/config"
	"github.com/intentql/intentql/internal/corpus"
	"github.com/intentql/intentql/internal/index"
	"github.com/intentql/intentql/internal/narrate"
	"github.com/intentql/intentql/internal/observability"
	"github.com/intentql/intentql/internal/retrieve"
	"github.com/intentql/intentql/internal/stream"
)

type ReadinessCheck func(ctx context.Context) error

// QueryRetriever finds the closest template for a natural-language query.
type QueryRetriever interface {
	Retrieve(ctx context.Context, query string) (retrieve.Candidate, []retrieve.Candidate, error)
}

// IndexRebuilder loads the corpus and produces a fresh index snapshot.
type IndexRebuilder interface {
	Rebuild(ctx context.Context) (*index.Snapshot, error)
}

type StatementBinder interface {
	Bind(sqlTemplate string, params map[string]bind.Value) (bind.Statement, error)
}

type RowStreamer interface {
	Run(ctx context.Context, stmt bind.Statement, fn stream.RowFunc) (int64, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Retriever         QueryRetriever
	Binder            StatementBinder
	Streamer          RowStreamer
	Rebuilder         IndexRebuilder
	IndexHandle       *index.Handle
	Feedback          corpus.FeedbackRecorder
	Narrator          narrate.Narrator
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/query", func(w http.ResponseWriter, r *http.Request) {
		handleQuery(cfg, deps, w, r)
	})
	protected.HandleFunc("POST /v1/index/rebuild", func(w http.ResponseWriter, r *http.Request) {
		handleIndexRebuild(deps, w, r)
	})
	protected.HandleFunc("GET /v1/index/status", func(w http.ResponseWriter, r *http.Request) {
		handleIndexStatus(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/query", protectedHandler)
	mux.Handle("POST /v1/index/rebuild", protectedHandler)
	mux.Handle("GET /v1/index/status", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckStore verifies corpus database connectivity for the readiness probe.
func CheckStore(pinger interface {
	HealthCheck(ctx context.Context) error
}) ReadinessCheck {
	return func(ctx context.Context) error {
		if pinger == nil {
			return errors.New("corpus store is not configured")
		}
		return pinger.HealthCheck(ctx)
	}
}

// CheckIndex reports ready only once a snapshot has been swapped in.
func CheckIndex(handle *index.Handle) ReadinessCheck {
	return func(_ context.Context) error {
		if handle == nil {
			return errors.New("index handle is not configured")
		}
		if _, ok := handle.Load(); !ok {
			return retrieve.ErrIndexNotReady
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
