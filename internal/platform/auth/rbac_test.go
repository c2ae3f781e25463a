package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithRoles(roles ...string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(context.Background(), "u1", roles))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec)
}

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestRequireRole_Allowed(t *testing.T) {
	c := contextWithRoles(RoleStaff)
	if err := RequireRole(RoleStaff)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	c := contextWithRoles(RolePatient)
	err := RequireRole(RoleStaff)(okHandler)(c)
	if err == nil {
		t.Fatal("expected forbidden")
	}
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	c := contextWithRoles(RoleAdmin)
	if err := RequireRole(RoleStaff, RolePatient)(okHandler)(c); err != nil {
		t.Fatalf("admin should pass: %v", err)
	}
}

func TestRequireRole_NoRoles(t *testing.T) {
	c := contextWithRoles()
	if err := RequireRole(RolePatient)(okHandler)(c); err == nil {
		t.Fatal("expected forbidden with no roles")
	}
}

func TestActor_Helpers(t *testing.T) {
	a := Actor{ID: "not-a-uuid", Roles: []string{RolePatient}}
	if _, err := a.PatientID(); err == nil {
		t.Error("expected parse error")
	}
	if (Actor{}).String() != "anonymous" {
		t.Error("expected anonymous for empty actor")
	}
	if !System.IsStaff() {
		t.Error("system actor must act as staff")
	}
}
