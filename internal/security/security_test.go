package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testSecret = []byte("test-secret-please-rotate")

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("u-1", RoleOperator, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ValidateToken(token, testSecret)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != "u-1" || claims.Role != RoleOperator {
		t.Errorf("claims = %+v", claims)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, _ := GenerateToken("u-1", RoleViewer, testSecret, time.Hour)
	if _, err := ValidateToken(token, []byte("other")); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestValidateTokenExpired(t *testing.T) {
	token, _ := GenerateToken("u-1", RoleViewer, testSecret, -time.Minute)
	if _, err := ValidateToken(token, testSecret); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("err = %v, want ErrExpiredToken", err)
	}
}

func TestAuthMiddleware(t *testing.T) {
	var seen *Claims
	handler := AuthMiddleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetClaims(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/api/chat", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d, want 401", rec.Code)
	}

	token, _ := GenerateToken("u-2", RoleAdmin, testSecret, time.Hour)
	req = httptest.NewRequest("POST", "/api/chat", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, want 200", rec.Code)
	}
	if seen == nil || seen.UserID != "u-2" {
		t.Errorf("claims not propagated: %+v", seen)
	}
}

func TestAuthMiddlewareDevMode(t *testing.T) {
	handler := AuthMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest("GET", "/api/tools", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("dev mode should pass through, got %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	handler := AuthMiddleware(testSecret)(RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	token, _ := GenerateToken("u-3", RoleViewer, testSecret, time.Hour)
	req := httptest.NewRequest("POST", "/api/catalog/reload", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("viewer hitting admin route: status = %d, want 403", rec.Code)
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role string
		perm string
		want bool
	}{
		{RoleAdmin, "invoices.write", true},
		{RoleAdmin, "anything.at.all", true},
		{RoleOperator, "invoices.write", true},
		{RoleOperator, "clients.read", true},
		{RoleOperator, "admin.manage", false},
		{RoleViewer, "clients.read", true},
		{RoleViewer, "clients.write", false},
		{RoleViewer, "maps.run", false},
		{"ghost", "clients.read", false},
		{RoleViewer, "", true},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%s, %q) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}
