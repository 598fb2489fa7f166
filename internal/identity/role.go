package identity

import "fmt"

// Role is the closed set of organization roles, ordered from least to most
// privileged: viewer < agent < admin < owner.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleAgent  Role = "agent"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

var roleRank = map[Role]int{
	RoleViewer: 0,
	RoleAgent:  1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// ParseRole validates a raw role string against the closed set.
func ParseRole(raw string) (Role, error) {
	r := Role(raw)
	if _, ok := roleRank[r]; !ok {
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, raw)
	}
	return r, nil
}

// Valid reports whether the role belongs to the closed set.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r sits at or above required in the hierarchy.
// Authorization checks use this ordering, never string equality, except
// where an exact role match is the intended semantic (ownership transfer).
func (r Role) AtLeast(required Role) bool {
	ru, ok := roleRank[r]
	if !ok {
		return false
	}
	rr, ok := roleRank[required]
	if !ok {
		return false
	}
	return ru >= rr
}

// CanInvite reports whether the role may create invitations.
func (r Role) CanInvite() bool {
	return r == RoleOwner || r == RoleAdmin
}

// ParseInvitationRole validates a role offered through an invitation.
// Owner is never invitable; ownership exists only through registration
// or an explicit transfer.
func ParseInvitationRole(raw string) (Role, error) {
	r, err := ParseRole(raw)
	if err != nil {
		return "", err
	}
	if r == RoleOwner {
		return "", fmt.Errorf("%w: role %q is not invitable", ErrValidation, raw)
	}
	return r, nil
}
