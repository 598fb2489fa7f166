package identity

import (
	"context"
	"strings"

	"deskhive.dev/internal/ids"
)

// Invite creates a time-boxed offer for email to join the inviter's
// organization with the given role. Only admins and owners may invite, the
// offered role can never be owner, and a second pending invitation for the
// same (email, organization) pair is a conflict.
func (s *Service) Invite(ctx context.Context, inviter *User, email string, role Role) (*Invitation, error) {
	if !inviter.CanInvite() {
		return nil, ErrUnauthorized
	}
	if _, err := ParseInvitationRole(string(role)); err != nil {
		return nil, err
	}
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, &ValidationError{Violations: []string{"a valid invitee email is required"}}
	}

	now := s.now().UTC()
	if existing, err := s.store.Invitations().FindByEmailAndOrg(ctx, email, inviter.OrganizationID); err == nil {
		if existing.IsPending(now) {
			return nil, ErrConflict
		}
	}

	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	invitedBy := inviter.ID
	inv := &Invitation{
		ID:             ids.New(),
		Email:          email,
		OrganizationID: inviter.OrganizationID,
		Role:           role,
		Token:          token,
		InvitedBy:      &invitedBy,
		ExpiresAt:      now.Add(s.invitationTTL),
		CreatedAt:      now,
	}
	if err := s.store.Invitations().Create(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// AcceptInvitationInput materializes the invited user.
type AcceptInvitationInput struct {
	Name     string
	Password string
}

// AcceptInvitation consumes an invitation exactly once and creates the new
// user inside the target organization with the invited role, then opens the
// user's first session. A second accept attempt fails with
// ErrAlreadyAccepted; accepting past expiry fails with ErrInvitationExpired.
func (s *Service) AcceptInvitation(ctx context.Context, token string, in AcceptInvitationInput, meta SessionMeta) (*User, TokenPair, error) {
	if token == "" {
		return nil, TokenPair{}, ErrNotFound
	}
	inv, err := s.store.Invitations().FindByToken(ctx, token)
	if err != nil {
		return nil, TokenPair{}, err
	}
	now := s.now().UTC()
	if inv.IsAccepted() {
		return nil, TokenPair{}, ErrAlreadyAccepted
	}
	if inv.IsExpired(now) {
		return nil, TokenPair{}, ErrInvitationExpired
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, TokenPair{}, &ValidationError{Violations: []string{"name is required"}}
	}
	password, err := NewPassword(in.Password)
	if err != nil {
		return nil, TokenPair{}, err
	}
	exists, err := s.store.Users().ExistsByEmail(ctx, inv.Email)
	if err != nil {
		return nil, TokenPair{}, err
	}
	if exists {
		return nil, TokenPair{}, ErrConflict
	}

	hash, err := HashPassword(password.Value())
	if err != nil {
		return nil, TokenPair{}, err
	}

	// Conditional write: exactly one accept attempt wins under concurrency.
	won, err := s.store.Invitations().MarkAccepted(ctx, token, now)
	if err != nil {
		return nil, TokenPair{}, err
	}
	if !won {
		return nil, TokenPair{}, ErrAlreadyAccepted
	}

	user := NewUser(inv.Email, name, inv.Role, inv.OrganizationID, now)
	user.PasswordHash = &hash
	if err := s.store.Users().Create(ctx, &user); err != nil {
		// Reopen the invitation so a losing email race does not burn it.
		_ = s.store.Invitations().ClearAccepted(ctx, token)
		return nil, TokenPair{}, err
	}

	pair, err := s.issueSession(ctx, &user, meta)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return &user, pair, nil
}

// InvitationByToken resolves an invitation for pre-accept display.
func (s *Service) InvitationByToken(ctx context.Context, token string) (*Invitation, error) {
	return s.store.Invitations().FindByToken(ctx, token)
}

// PendingInvitations lists the organization's open invitations. Admin or
// owner only.
func (s *Service) PendingInvitations(ctx context.Context, actor *User) ([]*Invitation, error) {
	if !actor.HasRoleOrHigher(RoleAdmin) {
		return nil, ErrUnauthorized
	}
	return s.store.Invitations().ListPendingByOrg(ctx, actor.OrganizationID)
}

// RevokeInvitation withdraws an open invitation from the actor's tenant.
func (s *Service) RevokeInvitation(ctx context.Context, actor *User, id string) error {
	if !actor.CanInvite() {
		return ErrUnauthorized
	}
	invs, err := s.store.Invitations().ListPendingByOrg(ctx, actor.OrganizationID)
	if err != nil {
		return err
	}
	for _, inv := range invs {
		if inv.ID == id {
			return s.store.Invitations().Delete(ctx, id)
		}
	}
	return ErrNotFound
}

// SweepInvitations deletes unaccepted invitations past their expiry.
// Idempotent; accepted invitations are never touched.
func (s *Service) SweepInvitations(ctx context.Context) (int64, error) {
	return s.store.Invitations().DeleteExpired(ctx, s.now().UTC())
}
