package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/intentql/intentql/internal/bind"
	"github.com/intentql/intentql/internal/config"
	"github.com/intentql/intentql/internal/corpus"
	"github.com/intentql/intentql/internal/index"
	"github.com/intentql/intentql/internal/narrate"
	"github.com/intentql/intentql/internal/retrieve"
	"github.com/intentql/intentql/internal/stream"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("intentql-api", func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

type fakeRetriever struct {
	best   retrieve.Candidate
	ranked []retrieve.Candidate
	err    error
}

func (f *fakeRetriever) Retrieve(context.Context, string) (retrieve.Candidate, []retrieve.Candidate, error) {
	return f.best, f.ranked, f.err
}

type fakeStreamer struct {
	rows []map[string]any
	err  error
	got  bind.Statement
}

func (f *fakeStreamer) Run(_ context.Context, stmt bind.Statement, fn stream.RowFunc) (int64, error) {
	f.got = stmt
	var n int64
	for _, row := range f.rows {
		n++
		if err := fn(row); err != nil {
			return n, err
		}
	}
	return n, f.err
}

type fakeFeedback struct {
	prompts []string
	err     error
}

func (f *fakeFeedback) RecordFallback(_ context.Context, prompt string) error {
	f.prompts = append(f.prompts, prompt)
	return f.err
}

type fakeNarrator struct {
	narration string
	err       error
	got       narrate.Request
}

func (f *fakeNarrator) Narrate(_ context.Context, req narrate.Request) (string, error) {
	f.got = req
	return f.narration, f.err
}

type fakeRebuilder struct {
	snapshot *index.Snapshot
	err      error
}

func (f *fakeRebuilder) Rebuild(context.Context) (*index.Snapshot, error) {
	return f.snapshot, f.err
}

func candidate(id int64, intent, sqlText string, sim float64) retrieve.Candidate {
	return retrieve.Candidate{
		Template:   corpus.Template{ID: id, IntentText: intent, SQLText: sqlText},
		Similarity: sim,
	}
}

func postQuery(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeLines(t *testing.T, body *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("bad ndjson line %q: %v", line, err)
		}
		records = append(records, record)
	}
	return records
}

func TestHealthEndpoint(t *testing.T) {
	handler := NewHandler(testConfig(t), Dependencies{})
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestReadyReportsFailure(t *testing.T) {
	handler := NewHandler(testConfig(t), Dependencies{
		Readiness: func(context.Context) error { return errors.New("store down") },
	})
	req := httptest.NewRequest(http.MethodGet, "/v1/ready", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestQueryStreamsRowsAndNarration(t *testing.T) {
	narrator := &fakeNarrator{narration: "two rows of sales"}
	streamer := &fakeStreamer{rows: []map[string]any{
		{"region": "emea", "amount": 10.0},
		{"region": "emea", "amount": 20.0},
	}}
	handler := NewHandler(testConfig(t), Dependencies{
		Retriever: &fakeRetriever{
			best: candidate(1, "sales by region", "SELECT region, amount FROM sales WHERE region = {region}", 0.9),
		},
		Binder:   bind.NewBinder(),
		Streamer: streamer,
		Narrator: narrator,
	})

	rec := postQuery(t, handler, `{"query":"sales for {region=emea}","narrate":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/x-ndjson" {
		t.Fatalf("content type = %q", got)
	}
	records := decodeLines(t, rec.Body)
	if len(records) != 3 {
		t.Fatalf("records = %v", records)
	}
	if records[0]["region"] != "emea" {
		t.Fatalf("first row = %v", records[0])
	}
	if records[2]["narration"] != "two rows of sales" {
		t.Fatalf("trailer = %v", records[2])
	}
	if narrator.got.Summary.Rows != 2 {
		t.Fatalf("narrator summary rows = %d", narrator.got.Summary.Rows)
	}
	wantSQL := "SELECT region, amount FROM sales WHERE region = :region"
	if streamer.got.SQL != wantSQL {
		t.Fatalf("bound sql = %q", streamer.got.SQL)
	}
	if got := streamer.got.Params["region"]; got != bind.StringValue("emea") {
		t.Fatalf("bound region = %+v", got)
	}
}

func TestQueryMissingBind(t *testing.T) {
	streamer := &fakeStreamer{rows: []map[string]any{{"x": 1.0}}}
	handler := NewHandler(testConfig(t), Dependencies{
		Retriever: &fakeRetriever{
			best: candidate(1, "orders", "SELECT * FROM orders WHERE region = {region} AND year = {year}", 0.8),
		},
		Binder:   bind.NewBinder(),
		Streamer: streamer,
	})

	rec := postQuery(t, handler, `{"query":"orders for {region=emea}"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	records := decodeLines(t, rec.Body)
	if len(records) != 1 {
		t.Fatalf("records = %v", records)
	}
	msg, _ := records[0]["error"].(string)
	if !strings.Contains(msg, "year") {
		t.Fatalf("error = %q", msg)
	}
}

func TestQueryFallbackSuggestions(t *testing.T) {
	feedback := &fakeFeedback{}
	handler := NewHandler(testConfig(t), Dependencies{
		Retriever: &fakeRetriever{
			best: candidate(1, "sales by region", "SELECT 1 FROM t WHERE r = {region}", 0.31),
			ranked: []retrieve.Candidate{
				candidate(1, "sales by region", "SELECT 1 FROM t WHERE r = {region}", 0.31),
				candidate(2, "orders by year", "SELECT 1 FROM o WHERE y = {year}", 0.22),
			},
		},
		Binder:   bind.NewBinder(),
		Streamer: &fakeStreamer{},
		Feedback: feedback,
	})

	rec := postQuery(t, handler, `{"query":"something unrelated"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	records := decodeLines(t, rec.Body)
	if len(records) != 3 {
		t.Fatalf("records = %v", records)
	}
	if _, ok := records[0]["error"]; !ok {
		t.Fatalf("first record = %v", records[0])
	}
	if records[1]["suggestion"] != "sales by region" {
		t.Fatalf("suggestion = %v", records[1])
	}
	if records[1]["best_similarity"] != 0.31 {
		t.Fatalf("best_similarity = %v", records[1]["best_similarity"])
	}
	params, _ := records[2]["parameters"].([]any)
	if len(params) != 1 || params[0] != "year" {
		t.Fatalf("parameters = %v", records[2]["parameters"])
	}
	if len(feedback.prompts) != 1 || feedback.prompts[0] != "something unrelated" {
		t.Fatalf("recorded prompts = %v", feedback.prompts)
	}
}

func TestQueryFallbackSurvivesFeedbackFailure(t *testing.T) {
	handler := NewHandler(testConfig(t), Dependencies{
		Retriever: &fakeRetriever{
			best:   candidate(1, "sales", "SELECT 1", 0.1),
			ranked: []retrieve.Candidate{candidate(1, "sales", "SELECT 1", 0.1)},
		},
		Binder:   bind.NewBinder(),
		Streamer: &fakeStreamer{},
		Feedback: &fakeFeedback{err: errors.New("db down")},
	})
	rec := postQuery(t, handler, `{"query":"anything"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestQueryThresholdOverride(t *testing.T) {
	handler := NewHandler(testConfig(t), Dependencies{
		Retriever: &fakeRetriever{
			best: candidate(1, "sales", "SELECT region FROM t", 0.40),
		},
		Binder:   bind.NewBinder(),
		Streamer: &fakeStreamer{rows: []map[string]any{{"region": "emea"}}},
	})
	// 0.40 is below the default threshold but above the override.
	rec := postQuery(t, handler, `{"query":"sales","similarity_threshold":0.3}`)
	records := decodeLines(t, rec.Body)
	if len(records) != 1 || records[0]["region"] != "emea" {
		t.Fatalf("records = %v", records)
	}
}

func TestQueryIndexNotReady(t *testing.T) {
	handler := NewHandler(testConfig(t), Dependencies{
		Retriever: &fakeRetriever{err: retrieve.ErrIndexNotReady},
		Binder:    bind.NewBinder(),
		Streamer:  &fakeStreamer{},
	})
	rec := postQuery(t, handler, `{"query":"sales"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INDEX_NOT_READY") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestQueryMidStreamErrorGoesInBand(t *testing.T) {
	handler := NewHandler(testConfig(t), Dependencies{
		Retriever: &fakeRetriever{best: candidate(1, "sales", "SELECT 1", 0.9)},
		Binder:    bind.NewBinder(),
		Streamer: &fakeStreamer{
			rows: []map[string]any{{"n": 1.0}},
			err:  errors.New("cursor lost"),
		},
	})
	rec := postQuery(t, handler, `{"query":"sales"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	records := decodeLines(t, rec.Body)
	if len(records) != 2 {
		t.Fatalf("records = %v", records)
	}
	if records[1]["error"] != "cursor lost" {
		t.Fatalf("trailer = %v", records[1])
	}
}

func TestQueryNarrationFailureIsNonFatal(t *testing.T) {
	handler := NewHandler(testConfig(t), Dependencies{
		Retriever: &fakeRetriever{best: candidate(1, "sales", "SELECT 1", 0.9)},
		Binder:    bind.NewBinder(),
		Streamer:  &fakeStreamer{rows: []map[string]any{{"n": 1.0}}},
		Narrator:  &fakeNarrator{err: errors.New("model offline")},
	})
	rec := postQuery(t, handler, `{"query":"sales","narrate":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	records := decodeLines(t, rec.Body)
	trailer, _ := records[len(records)-1]["narration"].(string)
	if !strings.Contains(trailer, "narration unavailable") {
		t.Fatalf("trailer = %q", trailer)
	}
}

func TestQueryNarrateRequestedWithoutNarrator(t *testing.T) {
	handler := NewHandler(testConfig(t), Dependencies{
		Retriever: &fakeRetriever{best: candidate(1, "sales", "SELECT 1", 0.9)},
		Binder:    bind.NewBinder(),
		Streamer:  &fakeStreamer{rows: []map[string]any{{"n": 1.0}}},
	})
	rec := postQuery(t, handler, `{"query":"sales","narrate":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	records := decodeLines(t, rec.Body)
	if len(records) != 2 {
		t.Fatalf("records = %v", records)
	}
	if records[1]["narration"] != "(narration not configured)" {
		t.Fatalf("trailer = %v", records[1])
	}
}

func TestRebuildSwapsSnapshot(t *testing.T) {
	handle := &index.Handle{}
	snapshot := &index.Snapshot{
		Templates: []corpus.Template{{ID: 1, IntentText: "sales", SQLText: "SELECT 1"}},
		Dimension: 4,
	}
	handler := NewHandler(testConfig(t), Dependencies{
		Rebuilder:   &fakeRebuilder{snapshot: snapshot},
		IndexHandle: handle,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/index/rebuild", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	loaded, ok := handle.Load()
	if !ok || loaded.Dimension != 4 {
		t.Fatalf("handle not swapped: %v %v", loaded, ok)
	}
}

func TestRebuildEmptyCorpus(t *testing.T) {
	handler := NewHandler(testConfig(t), Dependencies{
		Rebuilder:   &fakeRebuilder{err: index.ErrEmptyCorpus},
		IndexHandle: &index.Handle{},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/index/rebuild", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "EMPTY_CORPUS") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestIndexStatusBeforeAndAfterBuild(t *testing.T) {
	handle := &index.Handle{}
	handler := NewHandler(testConfig(t), Dependencies{IndexHandle: handle})

	req := httptest.NewRequest(http.MethodGet, "/v1/index/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status before build = %d", rec.Code)
	}

	handle.Swap(&index.Snapshot{Dimension: 8})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status after build = %d", rec.Code)
	}
}

func TestAuthRequiredWithoutMiddleware(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Required = true
	handler := NewHandler(cfg, Dependencies{
		Retriever: &fakeRetriever{},
		Binder:    bind.NewBinder(),
		Streamer:  &fakeStreamer{},
	})
	rec := postQuery(t, handler, `{"query":"sales"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}
