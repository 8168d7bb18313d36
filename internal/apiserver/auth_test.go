package apiserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	a := NewAuthenticator("secret")
	tok, err := a.IssueToken("learner-1", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := a.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Sub != "learner-1" {
		t.Fatalf("unexpected subject %q", claims.Sub)
	}
}

func TestParseRejectsForeignAndExpiredTokens(t *testing.T) {
	a := NewAuthenticator("secret")
	other := NewAuthenticator("other")
	tok, _ := other.IssueToken("learner-1", time.Hour)
	if _, err := a.Parse(tok); err == nil {
		t.Fatalf("expected signature error")
	}

	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := a.IssueToken("learner-1", time.Hour)
	if _, err := a.Parse(expired); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestMiddlewareStoresSubject(t *testing.T) {
	a := NewAuthenticator("secret")
	tok, _ := a.IssueToken("learner-1", time.Hour)

	var seen string
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SubjectFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "learner-1" {
		t.Fatalf("expected subject on context, got %q", seen)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}
