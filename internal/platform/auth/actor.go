package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Role is the coarse permission class of an authenticated caller.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	// RoleSystem is used by scheduled jobs and internal follow-ups, never by tokens.
	RoleSystem Role = "system"
)

var validRoles = map[Role]bool{
	RoleAdmin:   true,
	RoleDoctor:  true,
	RolePatient: true,
}

// ParseRole accepts the roles that may appear in a token.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !validRoles[r] {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Actor identifies who performs an operation.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// SystemActor is the actor used for automatic transitions.
var SystemActor = Actor{ID: uuid.Nil, Role: RoleSystem}

func (a Actor) IsAdmin() bool   { return a.Role == RoleAdmin }
func (a Actor) IsDoctor() bool  { return a.Role == RoleDoctor }
func (a Actor) IsPatient() bool { return a.Role == RolePatient }
func (a Actor) IsSystem() bool  { return a.Role == RoleSystem }

// IsPrivileged reports whether the actor may act on any appointment.
func (a Actor) IsPrivileged() bool { return a.IsAdmin() || a.IsSystem() }

func (a Actor) String() string {
	return fmt.Sprintf("%s:%s", a.Role, a.ID)
}

// WithActor stores the actor in ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, a.ID.String())
	ctx = context.WithValue(ctx, UserRoleKey, a.Role)
	return ctx
}

// ActorFromContext returns the authenticated actor, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	role, ok := ctx.Value(UserRoleKey).(Role)
	if !ok || role == "" {
		return Actor{}, false
	}
	id, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return Actor{}, false
	}
	return Actor{ID: id, Role: role}, true
}
