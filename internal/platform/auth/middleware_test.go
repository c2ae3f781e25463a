package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func runJWT(t *testing.T, header string, cfg JWTConfig) (*Actor, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen *Actor
	handler := func(c echo.Context) error {
		a := ActorFromContext(c.Request().Context())
		seen = &a
		return c.String(http.StatusOK, "ok")
	}
	err := JWTMiddleware(cfg)(handler)(c)
	return seen, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected HTTP %d, got nil error", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runJWT(t, "", JWTConfig{SigningKey: testSigningKey})
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runJWT(t, tt.header, JWTConfig{SigningKey: testSigningKey})
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "0b6f2f8e-55a0-4c39-9d36-3f0b1d7f1c11",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{RolePatient},
	}
	token := createTestToken(t, claims, testSigningKey)

	actor, err := runJWT(t, "Bearer "+token, JWTConfig{SigningKey: testSigningKey})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor == nil {
		t.Fatal("handler was not reached")
	}
	if actor.ID != claims.Subject {
		t.Errorf("expected subject %s, got %s", claims.Subject, actor.ID)
	}
	if !actor.IsPatient() {
		t.Error("expected patient actor")
	}
	if _, err := actor.PatientID(); err != nil {
		t.Errorf("expected parseable patient id: %v", err)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "staff-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		Roles: []string{RoleStaff},
	}
	token := createTestToken(t, claims, testSigningKey)
	_, err := runJWT(t, "Bearer "+token, JWTConfig{SigningKey: testSigningKey})
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	token := createTestToken(t, Claims{Roles: []string{RoleAdmin}}, []byte("another-key"))
	_, err := runJWT(t, "Bearer "+token, JWTConfig{SigningKey: testSigningKey})
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_IssuerMismatch(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "staff-1", Issuer: "https://other"},
		Roles:            []string{RoleStaff},
	}
	token := createTestToken(t, claims, testSigningKey)
	_, err := runJWT(t, "Bearer "+token, JWTConfig{SigningKey: testSigningKey, Issuer: "https://clinic"})
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestDevAuthMiddleware_NoToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var actor Actor
	handler := func(c echo.Context) error {
		actor = ActorFromContext(c.Request().Context())
		return nil
	}
	if err := DevAuthMiddleware()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor.ID != "dev-user" {
		t.Errorf("expected dev-user, got %s", actor.ID)
	}
	if !actor.IsStaff() {
		t.Error("expected admin to count as staff")
	}
}

func TestDevAuthMiddleware_Impersonation(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Dev-User", "7d2c1c1e-8f4f-4b0a-9d1e-0c6b9e7b2a10")
	req.Header.Set("X-Dev-Roles", "patient")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var actor Actor
	handler := func(c echo.Context) error {
		actor = ActorFromContext(c.Request().Context())
		return nil
	}
	if err := DevAuthMiddleware()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !actor.IsPatient() || actor.IsStaff() {
		t.Errorf("expected patient-only actor, got roles %v", actor.Roles)
	}
}
