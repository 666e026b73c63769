package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticValidatorParsesSpec(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("key1:analyst:query|rebuild, key2:reader:query")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}

	identity, ok := validator.Validate(context.Background(), "key1")
	if !ok {
		t.Fatal("key1 should validate")
	}
	if identity.Name != "analyst" {
		t.Fatalf("Name = %q", identity.Name)
	}
	if !identity.HasRole("rebuild") || !identity.HasRole("query") {
		t.Fatalf("unexpected roles: %v", identity.Roles)
	}
	if identity.HasRole("admin") {
		t.Fatal("unexpected admin role")
	}

	if _, ok := validator.Validate(context.Background(), "nope"); ok {
		t.Fatal("unknown key should not validate")
	}
}

func TestStaticValidatorRejectsMalformedSpec(t *testing.T) {
	if _, err := NewStaticAPIKeyValidator("justakey"); err == nil {
		t.Fatal("expected error for malformed entry")
	}
	if _, err := NewStaticAPIKeyValidator("key::query"); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := NewStaticAPIKeyValidator("key:name:"); err == nil {
		t.Fatal("expected error for empty roles")
	}
}

func TestMiddlewareRejectsMissingKey(t *testing.T) {
	validator, _ := NewStaticAPIKeyValidator("key1:analyst:query")
	handler := Middleware(nil, validator)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareAcceptsBearerToken(t *testing.T) {
	validator, _ := NewStaticAPIKeyValidator("key1:analyst:query")
	var identity Identity
	handler := Middleware(nil, validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/query", nil)
	req.Header.Set("Authorization", "Bearer key1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if identity.Name != "analyst" {
		t.Fatalf("identity name = %q", identity.Name)
	}
}
