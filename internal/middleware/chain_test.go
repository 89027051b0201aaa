package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/bookshelf/internal/identity"
	"github.com/hitoshi/bookshelf/internal/model"
)

// buildChain はルーターと同じ順序でミドルウェアを組み立てる。
func buildChain(provider identity.Availability, logger *slog.Logger, final http.Handler) http.Handler {
	h := NewAuthSessionGate(provider, GateConfig{}, nil)(final)
	h = NewLoggingMiddleware(logger)(h)
	h = NewSecurityHeadersMiddleware(true)(h)
	h = NewRecoveryMiddleware()(h)
	return h
}

func TestMiddlewareChain_PanicRecovered_JSON500(t *testing.T) {
	var buf bytes.Buffer
	provider := identity.Unconfigured{}
	chain := buildChain(provider, newTestLogger(&buf), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	chain.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Error != "Internal server error" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestMiddlewareChain_SecurityHeadersOnRedirect(t *testing.T) {
	var buf bytes.Buffer
	provider := identity.Configured{Sessions: &mockResolver{}}
	chain := buildChain(provider, newTestLogger(&buf), http.NotFoundHandler())

	w := httptest.NewRecorder()
	chain.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Referrer-Policy", "Strict-Transport-Security"} {
		if w.Header().Get(h) == "" {
			t.Errorf("missing header %s", h)
		}
	}
}

func TestSecurityHeaders_NoHSTSWithoutTLS(t *testing.T) {
	handler := NewSecurityHeadersMiddleware(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("Strict-Transport-Security = %q, want empty", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestMiddlewareChain_AuthenticatedAPIRequest_PrincipalVisible(t *testing.T) {
	var buf bytes.Buffer
	provider := identity.Configured{Sessions: &mockResolver{
		resolveFn: func(ctx context.Context, s *model.Session) (*identity.Resolution, error) {
			return &identity.Resolution{Principal: &model.Principal{ID: "user-chain"}}, nil
		},
	}}

	var captured string
	chain := buildChain(provider, newTestLogger(&buf), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/delete-account", nil)
	req.AddCookie(sessionCookie(t, "a", "r"))
	w := httptest.NewRecorder()
	chain.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if captured != "user-chain" {
		t.Errorf("userID = %q, want %q", captured, "user-chain")
	}
}
