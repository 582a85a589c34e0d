package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func contextWithRole(role Role) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithActor(req.Context(), Actor{ID: uuid.New(), Role: role}))
	return e.NewContext(req, httptest.NewRecorder())
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name    string
		role    Role
		allowed []Role
		wantErr bool
	}{
		{"doctor allowed", RoleDoctor, []Role{RoleDoctor}, false},
		{"patient denied", RolePatient, []Role{RoleDoctor}, true},
		{"admin always passes", RoleAdmin, []Role{RoleDoctor}, false},
		{"one of many", RolePatient, []Role{RoleDoctor, RolePatient}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := contextWithRole(tt.role)
			err := RequireRole(tt.allowed...)(func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			})(c)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			if err != nil {
				if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusForbidden {
					t.Errorf("expected 403, got %v", err)
				}
			}
		})
	}
}

func TestRequireRole_NoActor(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	err := RequireRole(RolePatient)(func(c echo.Context) error { return nil })(c)
	if err == nil {
		t.Fatal("expected error without an actor")
	}
}

func TestCurrentActor(t *testing.T) {
	c := contextWithRole(RolePatient)
	actor, err := CurrentActor(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !actor.IsPatient() {
		t.Errorf("expected patient, got %s", actor.Role)
	}

	e := echo.New()
	bare := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if _, err := CurrentActor(bare); err == nil {
		t.Error("expected error without an actor")
	}
}

func TestActorFromContext_Missing(t *testing.T) {
	if _, ok := ActorFromContext(context.Background()); ok {
		t.Error("expected no actor in a bare context")
	}
}

func TestParseRole(t *testing.T) {
	for _, s := range []string{"admin", "doctor", "patient"} {
		if _, err := ParseRole(s); err != nil {
			t.Errorf("ParseRole(%q) unexpected error: %v", s, err)
		}
	}
	for _, s := range []string{"", "system", "physician"} {
		if _, err := ParseRole(s); err == nil {
			t.Errorf("ParseRole(%q) expected error", s)
		}
	}
}

func TestAuthSkipper(t *testing.T) {
	if !IsPublicPath("/health") {
		t.Error("expected /health to be public")
	}
	if IsPublicPath("/api/v1/appointments") {
		t.Error("expected appointments to require auth")
	}
}
