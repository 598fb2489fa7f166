package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	defaultAccessTTL     = 15 * time.Minute
	defaultRefreshTTL    = 14 * 24 * time.Hour
	defaultInvitationTTL = 7 * 24 * time.Hour
	defaultSessionCap    = 5
	defaultIssuer        = "deskhive"
)

// Service provides the identity and access operations: tenant registration,
// credential login, refresh-token rotation, invitations and organization
// and user management.
type Service struct {
	store Store
	now   func() time.Time

	secret        []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	invitationTTL time.Duration
	sessionCap    int
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithIssuer overrides the access-token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithAccessTTL configures access-token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures the session (refresh token) lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithInvitationTTL configures how long invitations stay redeemable.
func WithInvitationTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.invitationTTL = ttl
		}
		return nil
	}
}

// WithSessionCap configures the maximum concurrent sessions per user.
func WithSessionCap(n int) ServiceOption {
	return func(s *Service) error {
		if n > 0 {
			s.sessionCap = n
		}
		return nil
	}
}

// NewService constructs a Service. The secret signs HS256 access tokens.
func NewService(store Store, secret string, opts ...ServiceOption) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("identity: auth secret is required")
	}
	svc := &Service{
		store:         store,
		now:           time.Now,
		secret:        []byte(secret),
		issuer:        defaultIssuer,
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		invitationTTL: defaultInvitationTTL,
		sessionCap:    defaultSessionCap,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// RegisterInput bootstraps a tenant: an organization plus its owner.
type RegisterInput struct {
	OrganizationName string
	Name             string
	Email            string
	Password         string
}

// Registration is the result of a successful tenant signup.
type Registration struct {
	Organization *Organization
	User         *User
	Tokens       TokenPair
}

// Register creates the organization (with a resolved unique slug), its owner
// user and the owner's first session.
func (s *Service) Register(ctx context.Context, in RegisterInput, meta SessionMeta) (*Registration, error) {
	orgName := strings.TrimSpace(in.OrganizationName)
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)
	if orgName == "" || name == "" || email == "" {
		return nil, &ValidationError{Violations: []string{"organization name, name and email are required"}}
	}
	password, err := NewPassword(in.Password)
	if err != nil {
		return nil, err
	}

	exists, err := s.store.Users().ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrConflict
	}

	now := s.now().UTC()
	org := NewOrganization(orgName, now)
	if base := GenerateSlug(orgName); base != "" {
		slug, err := s.store.Organizations().FindAvailableSlug(ctx, base, now)
		if err != nil {
			return nil, err
		}
		org.Slug = &slug
	}
	if err := s.store.Organizations().Create(ctx, &org); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password.Value())
	if err != nil {
		return nil, err
	}
	owner := NewUser(email, name, RoleOwner, org.ID, now)
	owner.PasswordHash = &hash
	if err := s.store.Users().Create(ctx, &owner); err != nil {
		// A concurrent registration won the email race; the empty tenant
		// must not linger.
		_ = s.store.Organizations().Delete(ctx, org.ID)
		return nil, err
	}

	tokens, err := s.issueSession(ctx, &owner, meta)
	if err != nil {
		return nil, err
	}
	return &Registration{Organization: &org, User: &owner, Tokens: tokens}, nil
}

// Login authenticates credentials and issues a fresh session. All failure
// modes surface as ErrUnauthorized without further detail.
func (s *Service) Login(ctx context.Context, email, password string, meta SessionMeta) (TokenPair, *User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return TokenPair{}, nil, ErrUnauthorized
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		return TokenPair{}, nil, ErrUnauthorized
	}
	if user.PasswordHash == nil {
		return TokenPair{}, nil, ErrUnauthorized
	}
	if err := VerifyPassword(*user.PasswordHash, password); err != nil {
		return TokenPair{}, nil, ErrUnauthorized
	}

	if NeedsRehash(*user.PasswordHash) {
		if hash, err := HashPassword(password); err == nil {
			if updated, err := s.store.Users().Update(ctx, user.ID, UserUpdate{PasswordHash: &hash}); err == nil {
				user = updated
			}
		}
	}

	now := s.now().UTC()
	if err := s.store.Users().TouchLastLogin(ctx, user.ID, now); err != nil {
		return TokenPair{}, nil, err
	}
	user.LastLoginAt = &now

	tokens, err := s.issueSession(ctx, user, meta)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return tokens, user, nil
}

// Organization returns a tenant by id.
func (s *Service) Organization(ctx context.Context, id string) (*Organization, error) {
	return s.store.Organizations().Find(ctx, id)
}

// OrganizationBySlug returns a tenant by its slug.
func (s *Service) OrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	return s.store.Organizations().FindBySlug(ctx, slug)
}

// UpdateOrganization applies a partial update. Only admins and owners of the
// tenant may update it; a requested slug is normalized before the store's
// unique constraint has the final word.
func (s *Service) UpdateOrganization(ctx context.Context, actor *User, upd OrganizationUpdate) (*Organization, error) {
	if !actor.HasRoleOrHigher(RoleAdmin) {
		return nil, ErrUnauthorized
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, &ValidationError{Violations: []string{"organization name must not be empty"}}
	}
	if upd.DataRetentionDays != nil && *upd.DataRetentionDays <= 0 {
		return nil, &ValidationError{Violations: []string{"data retention days must be positive"}}
	}
	if upd.Slug != nil {
		slug := GenerateSlug(*upd.Slug)
		if slug == "" {
			return nil, &ValidationError{Violations: []string{"slug must contain url-safe characters"}}
		}
		upd.Slug = &slug
	}
	return s.store.Organizations().Update(ctx, actor.OrganizationID, upd)
}

// DeleteOrganization removes the tenant and everything it owns. Owner only.
func (s *Service) DeleteOrganization(ctx context.Context, actor *User) error {
	if actor.Role != RoleOwner {
		return ErrUnauthorized
	}
	return s.store.Organizations().Delete(ctx, actor.OrganizationID)
}

// User returns a principal by id.
func (s *Service) User(ctx context.Context, id string) (*User, error) {
	return s.store.Users().Find(ctx, id)
}

// UsersByOrganization lists the tenant's principals.
func (s *Service) UsersByOrganization(ctx context.Context, orgID string) ([]*User, error) {
	return s.store.Users().ListByOrg(ctx, orgID)
}

// UpdateUser applies a partial update to a user in the actor's tenant.
// Users may edit their own profile; role changes require an admin or owner
// who outranks-or-equals both the target's current role and the new one,
// and only an owner may assign owner (exact-role check by intent).
func (s *Service) UpdateUser(ctx context.Context, actor *User, targetID string, upd UserUpdate) (*User, error) {
	target, err := s.store.Users().Find(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.OrganizationID != actor.OrganizationID {
		return nil, ErrNotFound
	}

	self := actor.ID == target.ID
	if !self && !actor.HasRoleOrHigher(RoleAdmin) {
		return nil, ErrUnauthorized
	}
	if !self && !actor.Role.AtLeast(target.Role) {
		return nil, ErrUnauthorized
	}
	if upd.Role != nil {
		newRole := *upd.Role
		if !newRole.Valid() {
			return nil, &ValidationError{Violations: []string{"unknown role"}}
		}
		if !actor.HasRoleOrHigher(RoleAdmin) || !actor.Role.AtLeast(newRole) {
			return nil, ErrUnauthorized
		}
		if newRole == RoleOwner && actor.Role != RoleOwner {
			return nil, ErrUnauthorized
		}
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, &ValidationError{Violations: []string{"name must not be empty"}}
	}
	return s.store.Users().Update(ctx, targetID, upd)
}

// ChangePassword verifies the current password and stores a new hash.
func (s *Service) ChangePassword(ctx context.Context, actor *User, current, next string) error {
	if actor.PasswordHash == nil {
		return ErrUnauthorized
	}
	if err := VerifyPassword(*actor.PasswordHash, current); err != nil {
		return ErrUnauthorized
	}
	password, err := NewPassword(next)
	if err != nil {
		return err
	}
	hash, err := HashPassword(password.Value())
	if err != nil {
		return err
	}
	_, err = s.store.Users().Update(ctx, actor.ID, UserUpdate{PasswordHash: &hash})
	return err
}

// DeleteUser removes a user from the actor's tenant: self-removal, or an
// admin/owner removing someone they outrank-or-equal. The last owner cannot
// remove themselves out of the tenant; deleting the organization is the way
// to dissolve it.
func (s *Service) DeleteUser(ctx context.Context, actor *User, targetID string) error {
	target, err := s.store.Users().Find(ctx, targetID)
	if err != nil {
		return err
	}
	if target.OrganizationID != actor.OrganizationID {
		return ErrNotFound
	}
	self := actor.ID == target.ID
	if !self {
		if !actor.HasRoleOrHigher(RoleAdmin) || !actor.Role.AtLeast(target.Role) {
			return ErrUnauthorized
		}
	}
	if target.Role == RoleOwner {
		return ErrUnauthorized
	}
	return s.store.Users().Delete(ctx, targetID)
}

// FindAvailableSlug resolves a free slug candidate for a name.
func (s *Service) FindAvailableSlug(ctx context.Context, name string) (string, error) {
	base := GenerateSlug(name)
	if base == "" {
		return "", &ValidationError{Violations: []string{"name yields an empty slug"}}
	}
	return s.store.Organizations().FindAvailableSlug(ctx, base, s.now().UTC())
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
