package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/intentql/intentql/internal/config"
)

func loadConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load("intentql-api", func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestNewLoggerTagsServiceAndProfile(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"INTENTQL_PROFILE": "prod"})
	var buf bytes.Buffer
	logger := NewLogger(cfg, &buf)
	logger.Info("hello")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if record["service"] != "intentql-api" {
		t.Fatalf("service = %v", record["service"])
	}
	if record["profile"] != "prod" {
		t.Fatalf("profile = %v", record["profile"])
	}
	if _, ok := record["source"]; ok {
		t.Fatal("prod logs must not carry source locations")
	}
}

func TestNewLoggerDevProfileAddsSource(t *testing.T) {
	cfg := loadConfig(t, nil)
	var buf bytes.Buffer
	logger := NewLogger(cfg, &buf)
	logger.Info("hello")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if _, ok := record["source"]; !ok {
		t.Fatalf("dev logs must carry source locations: %s", buf.String())
	}
}

func TestNewLoggerTextHandler(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"INTENTQL_LOG_JSON": "false"})
	var buf bytes.Buffer
	logger := NewLogger(cfg, &buf)
	logger.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("text log = %q", buf.String())
	}
}
