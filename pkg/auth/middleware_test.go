package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIKeyAuth_ValidKey(t *testing.T) {
	ks := NewKeyStore("admin:sk-abc")
	handler := APIKeyAuth(ks)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := PrincipalFromContext(r.Context()); p != "admin" {
			t.Errorf("expected admin, got %q", p)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/v1/requests", nil)
	req.Header.Set("X-API-Key", "sk-abc")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestAPIKeyAuth_Rejects(t *testing.T) {
	ks := NewKeyStore("admin:sk-abc")
	tests := []struct {
		name   string
		header string
		value  string
	}{
		{"missing key", "", ""},
		{"invalid key", "X-API-Key", "bad-key"},
		{"invalid bearer", "Authorization", "Bearer nope"},
		{"basic auth ignored", "Authorization", "Basic c2stYWJj"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := APIKeyAuth(ks)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called")
			}))
			req := httptest.NewRequest("PATCH", "/v1/requests/BR-001/approve", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rr.Code)
			}
		})
	}
}

func TestAPIKeyAuth_SkipsHealthEndpoints(t *testing.T) {
	ks := NewKeyStore("")
	handler := APIKeyAuth(ks)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest("GET", path, nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected 200 for %s, got %d", path, rr.Code)
		}
	}
}

func TestAPIKeyAuth_BearerToken(t *testing.T) {
	ks := NewKeyStore("admin:sk-abc")
	handler := APIKeyAuth(ks)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := PrincipalFromContext(r.Context()); p != "admin" {
			t.Errorf("expected admin, got %q", p)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/v1/requests", nil)
	req.Header.Set("Authorization", "Bearer sk-abc")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestWithPrincipal(t *testing.T) {
	if p := PrincipalFromContext(context.Background()); p != "" {
		t.Errorf("empty context gave %q", p)
	}
	ctx := WithPrincipal(context.Background(), "owner")
	if p := PrincipalFromContext(ctx); p != "owner" {
		t.Errorf("got %q", p)
	}
}

func TestPresentedKey(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{"x-api-key", map[string]string{"X-API-Key": " sk-abc "}, "sk-abc"},
		{"bearer", map[string]string{"Authorization": "Bearer sk-def"}, "sk-def"},
		{"x-api-key wins", map[string]string{"X-API-Key": "sk-abc", "Authorization": "Bearer sk-def"}, "sk-abc"},
		{"lowercase scheme", map[string]string{"Authorization": "bearer sk-def"}, ""},
		{"none", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/requests", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if got := presentedKey(req); got != tt.want {
				t.Errorf("presentedKey = %q, want %q", got, tt.want)
			}
		})
	}
}
