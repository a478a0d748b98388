package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestService(t *testing.T, passphrase string) *Service {
	t.Helper()
	svc, err := NewService("test-secret", "", time.Hour)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	// hash at minimum cost to keep tests fast
	if passphrase != "" {
		svc.passphraseHash = mustHash(t, passphrase)
	}
	return svc
}

func TestService_IssueAndValidate(t *testing.T) {
	svc := newTestService(t, "")

	token, err := svc.IssueViewToken("viewer-1")
	if err != nil {
		t.Fatalf("IssueViewToken() error = %v", err)
	}
	claims, err := svc.ValidateViewToken(token)
	if err != nil {
		t.Fatalf("ValidateViewToken() error = %v", err)
	}
	if claims.ViewerID != "viewer-1" || claims.Scope != ScopeView {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestService_RejectsForeignAndExpiredTokens(t *testing.T) {
	svc := newTestService(t, "")
	other, _ := NewService("other-secret", "", time.Hour)
	foreign, _ := other.IssueViewToken("v")

	if _, err := svc.ValidateViewToken(foreign); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for foreign signature, got %v", err)
	}

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		ViewerID: "v",
		Scope:    ScopeView,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			Issuer:    issuer,
		},
	})
	signed, _ := expired.SignedString([]byte("test-secret"))
	if _, err := svc.ValidateViewToken(signed); err != ErrTokenExpired {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}

	if _, err := svc.ValidateViewToken("garbage"); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestService_Exchange(t *testing.T) {
	svc := newTestService(t, "open sesame")

	if _, err := svc.Exchange("wrong"); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	resp, err := svc.Exchange("open sesame")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if resp.ExpiresIn != 3600 {
		t.Errorf("expected 3600s expiry, got %d", resp.ExpiresIn)
	}
	if _, err := svc.ValidateViewToken(resp.AccessToken); err != nil {
		t.Errorf("issued token does not validate: %v", err)
	}

	noPass := newTestService(t, "")
	if _, err := noPass.Exchange(""); err != ErrInvalidCredentials {
		t.Errorf("expected exchange disabled without passphrase, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	svc := newTestService(t, "")
	token, _ := svc.IssueViewToken("viewer-9")

	var seen string
	h := Middleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetViewerFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		target string
		header string
		status int
	}{
		{"query token", "/ws?token=" + token, "", http.StatusOK},
		{"bearer header", "/jobs", "Bearer " + token, http.StatusOK},
		{"missing", "/jobs", "", http.StatusUnauthorized},
		{"bad scheme", "/jobs", "Basic abc", http.StatusUnauthorized},
		{"bad token", "/ws?token=nope", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
			if tt.status == http.StatusOK && seen != "viewer-9" {
				t.Errorf("expected viewer in context, got %q", seen)
			}
		})
	}
}

func TestTokenHandler(t *testing.T) {
	svc := newTestService(t, "pw")
	h := TokenHandler(svc)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(`{"passphrase":"pw"}`)))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "accessToken") {
		t.Errorf("expected token response, got %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(`{"passphrase":"no"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}
