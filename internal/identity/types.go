package identity

import (
	"time"

	"deskhive.dev/internal/ids"
)

const defaultDataRetentionDays = 730

// Organization is the tenant root. Slug is nil until assigned and globally
// unique once present.
type Organization struct {
	ID                string
	Name              string
	Slug              *string
	DataRetentionDays int
	RetentionEnabled  bool
	Settings          map[string]string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewOrganization constructs an organization snapshot with retention
// defaults applied.
func NewOrganization(name string, now time.Time) Organization {
	return Organization{
		ID:                ids.New(),
		Name:              name,
		DataRetentionDays: defaultDataRetentionDays,
		RetentionEnabled:  true,
		Settings:          map[string]string{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// User is a principal bound to exactly one organization. Email uniqueness is
// global, not per tenant. A nil PasswordHash means no local-password login.
type User struct {
	ID                     string
	Email                  string
	PasswordHash           *string
	Name                   string
	Role                   Role
	OrganizationID         string
	EmailVerified          *bool
	EmailVerificationToken *string
	LastLoginAt            *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// NewUser constructs a user snapshot. An empty role defaults to agent.
func NewUser(email, name string, role Role, organizationID string, now time.Time) User {
	if role == "" {
		role = RoleAgent
	}
	return User{
		ID:             ids.New(),
		Email:          email,
		Name:           name,
		Role:           role,
		OrganizationID: organizationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (u User) IsOwner() bool { return u.Role == RoleOwner }

func (u User) CanInvite() bool { return u.Role.CanInvite() }

// HasRoleOrHigher applies the viewer < agent < admin < owner total order.
func (u User) HasRoleOrHigher(required Role) bool { return u.Role.AtLeast(required) }

// RefreshToken is a persisted session record, exclusively owned by its user.
// Terminal states (rotated, revoked, expired) are all represented by the
// record vanishing or its expiry passing; a terminal token is never reused.
type RefreshToken struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	IPAddress *string
	UserAgent *string
	CreatedAt time.Time
}

// IsExpired checks expiry at time of use, not at issue time.
func (t RefreshToken) IsExpired(now time.Time) bool { return now.After(t.ExpiresAt) }

func (t RefreshToken) IsValid(now time.Time) bool { return !t.IsExpired(now) }

// Invitation is a time-boxed, single-use offer to join an organization.
// Its state is a pure function of (acceptedAt, expiresAt, now) and is never
// stored redundantly. InvitedBy is provenance only: it nulls out when the
// inviter is deleted and never cascades the invitation's deletion.
type Invitation struct {
	ID             string
	Email          string
	OrganizationID string
	Role           Role
	Token          string
	InvitedBy      *string
	ExpiresAt      time.Time
	AcceptedAt     *time.Time
	CreatedAt      time.Time
}

func (i Invitation) IsAccepted() bool { return i.AcceptedAt != nil }

func (i Invitation) IsExpired(now time.Time) bool { return now.After(i.ExpiresAt) }

func (i Invitation) IsPending(now time.Time) bool {
	return !i.IsAccepted() && !i.IsExpired(now)
}

func (i Invitation) CanBeAccepted(now time.Time) bool { return i.IsPending(now) }
