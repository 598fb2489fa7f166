package identity

import (
	"context"
	"time"
)

// Store describes the persistence operations required by the identity core.
// Implementations back onto a transactional datastore; all "not found"
// outcomes are reported as ErrNotFound, unique-constraint violations as
// ErrConflict.
type Store interface {
	Organizations() OrganizationStore
	Users() UserStore
	RefreshTokens() RefreshTokenStore
	Invitations() InvitationStore
}

// OrganizationUpdate is a partial update; nil fields are left untouched.
type OrganizationUpdate struct {
	Name              *string
	Slug              *string
	DataRetentionDays *int
	RetentionEnabled  *bool
	Settings          map[string]string
}

// OrganizationStore manages tenant roots. Delete cascades to the tenant's
// users and invitations, and through users to their refresh tokens.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	Find(ctx context.Context, id string) (*Organization, error)
	FindBySlug(ctx context.Context, slug string) (*Organization, error)
	Update(ctx context.Context, id string, upd OrganizationUpdate) (*Organization, error)
	Delete(ctx context.Context, id string) error
	SlugExists(ctx context.Context, slug string) (bool, error)
	// FindAvailableSlug probes slug candidates for base; now seeds the
	// exhaustion fallback so callers control the clock.
	FindAvailableSlug(ctx context.Context, base string, now time.Time) (string, error)
}

// UserUpdate is a partial update; nil fields are left untouched.
type UserUpdate struct {
	Name                   *string
	Role                   *Role
	PasswordHash           *string
	EmailVerified          *bool
	EmailVerificationToken *string
	LastLoginAt            *time.Time
}

// UserStore manages principals. Delete cascades to owned refresh tokens.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	ListByOrg(ctx context.Context, orgID string) ([]*User, error)
	Update(ctx context.Context, id string, upd UserUpdate) (*User, error)
	Delete(ctx context.Context, id string) error
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// RefreshTokenStore manages the per-user session set.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	FindByToken(ctx context.Context, token string) (*RefreshToken, error)
	ListByUser(ctx context.Context, userID string) ([]*RefreshToken, error)
	// DeleteByToken reports whether a row was removed. Rotation relies on
	// this: under a double-presentation race exactly one caller sees true.
	DeleteByToken(ctx context.Context, token string) (bool, error)
	DeleteByUser(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	DeleteOldestByUser(ctx context.Context, userID string) error
}

// InvitationStore manages tenant-join offers.
type InvitationStore interface {
	Create(ctx context.Context, inv *Invitation) error
	FindByToken(ctx context.Context, token string) (*Invitation, error)
	// FindByEmailAndOrg only considers unaccepted invitations; it backs the
	// duplicate-pending-invitation conflict check.
	FindByEmailAndOrg(ctx context.Context, email, orgID string) (*Invitation, error)
	ListPendingByOrg(ctx context.Context, orgID string) ([]*Invitation, error)
	// MarkAccepted sets acceptedAt iff it is still unset, reporting whether
	// this call won. Under concurrent accepts exactly one caller sees true.
	MarkAccepted(ctx context.Context, token string, at time.Time) (bool, error)
	// ClearAccepted reopens an invitation whose accept could not complete.
	ClearAccepted(ctx context.Context, token string) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
