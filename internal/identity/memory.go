package identity

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with in-process concurrency safety. It mirrors
// the relational semantics the Postgres store gets for free: unique indexes
// on email, slug and token values, cascade deletes from organization to
// users and invitations, from user to refresh tokens, and set-null on an
// invitation's inviter.
type MemoryStore struct {
	mu    sync.RWMutex
	orgs  map[string]*Organization
	users map[string]*User
	toks  map[string]*RefreshToken // keyed by id
	invs  map[string]*Invitation
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:  make(map[string]*Organization),
		users: make(map[string]*User),
		toks:  make(map[string]*RefreshToken),
		invs:  make(map[string]*Invitation),
	}
}

func (m *MemoryStore) Organizations() OrganizationStore { return (*memOrgStore)(m) }
func (m *MemoryStore) Users() UserStore                 { return (*memUserStore)(m) }
func (m *MemoryStore) RefreshTokens() RefreshTokenStore { return (*memTokenStore)(m) }
func (m *MemoryStore) Invitations() InvitationStore     { return (*memInvitationStore)(m) }

// Organization store -------------------------------------------------------

type memOrgStore MemoryStore

func (s *memOrgStore) Create(ctx context.Context, org *Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[org.ID]; ok {
		return ErrConflict
	}
	if org.Slug != nil {
		for _, existing := range s.orgs {
			if existing.Slug != nil && *existing.Slug == *org.Slug {
				return ErrConflict
			}
		}
	}
	cp := cloneOrg(org)
	s.orgs[org.ID] = &cp
	return nil
}

func (s *memOrgStore) Find(ctx context.Context, id string) (*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneOrg(org)
	return &cp, nil
}

func (s *memOrgStore) FindBySlug(ctx context.Context, slug string) (*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, org := range s.orgs {
		if org.Slug != nil && *org.Slug == slug {
			cp := cloneOrg(org)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memOrgStore) Update(ctx context.Context, id string, upd OrganizationUpdate) (*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Slug != nil {
		for oid, existing := range s.orgs {
			if oid != id && existing.Slug != nil && *existing.Slug == *upd.Slug {
				return nil, ErrConflict
			}
		}
		slug := *upd.Slug
		org.Slug = &slug
	}
	if upd.Name != nil {
		org.Name = *upd.Name
	}
	if upd.DataRetentionDays != nil {
		org.DataRetentionDays = *upd.DataRetentionDays
	}
	if upd.RetentionEnabled != nil {
		org.RetentionEnabled = *upd.RetentionEnabled
	}
	if upd.Settings != nil {
		org.Settings = make(map[string]string, len(upd.Settings))
		for k, v := range upd.Settings {
			org.Settings[k] = v
		}
	}
	org.UpdatedAt = time.Now().UTC()
	cp := cloneOrg(org)
	return &cp, nil
}

func (s *memOrgStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[id]; !ok {
		return ErrNotFound
	}
	delete(s.orgs, id)
	for uid, u := range s.users {
		if u.OrganizationID != id {
			continue
		}
		delete(s.users, uid)
		for tid, tok := range s.toks {
			if tok.UserID == uid {
				delete(s.toks, tid)
			}
		}
	}
	for iid, inv := range s.invs {
		if inv.OrganizationID == id {
			delete(s.invs, iid)
		}
	}
	return nil
}

func (s *memOrgStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, org := range s.orgs {
		if org.Slug != nil && *org.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (s *memOrgStore) FindAvailableSlug(ctx context.Context, base string, now time.Time) (string, error) {
	return findAvailableSlug(ctx, base, now, s.SlugExists)
}

// User store ---------------------------------------------------------------

type memUserStore MemoryStore

func (s *memUserStore) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return ErrConflict
	}
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return ErrConflict
		}
	}
	if _, ok := s.orgs[u.OrganizationID]; !ok {
		return ErrNotFound
	}
	cp := cloneUser(u)
	s.users[u.ID] = &cp
	return nil
}

func (s *memUserStore) Find(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneUser(u)
	return &cp, nil
}

func (s *memUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := cloneUser(u)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memUserStore) ListByOrg(ctx context.Context, orgID string) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*User
	for _, u := range s.users {
		if u.OrganizationID == orgID {
			cp := cloneUser(u)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memUserStore) Update(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.PasswordHash != nil {
		hash := *upd.PasswordHash
		u.PasswordHash = &hash
	}
	if upd.EmailVerified != nil {
		v := *upd.EmailVerified
		u.EmailVerified = &v
	}
	if upd.EmailVerificationToken != nil {
		tok := *upd.EmailVerificationToken
		u.EmailVerificationToken = &tok
	}
	if upd.LastLoginAt != nil {
		at := *upd.LastLoginAt
		u.LastLoginAt = &at
	}
	u.UpdatedAt = time.Now().UTC()
	cp := cloneUser(u)
	return &cp, nil
}

func (s *memUserStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.users, id)
	for tid, tok := range s.toks {
		if tok.UserID == id {
			delete(s.toks, tid)
		}
	}
	for _, inv := range s.invs {
		if inv.InvitedBy != nil && *inv.InvitedBy == id {
			inv.InvitedBy = nil
		}
	}
	return nil
}

func (s *memUserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *memUserStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLoginAt = &at
	u.UpdatedAt = at
	return nil
}

// RefreshToken store -------------------------------------------------------

type memTokenStore MemoryStore

func (s *memTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.toks {
		if existing.Token == tok.Token {
			return ErrConflict
		}
	}
	if _, ok := s.users[tok.UserID]; !ok {
		return ErrNotFound
	}
	cp := cloneToken(tok)
	s.toks[tok.ID] = &cp
	return nil
}

func (s *memTokenStore) FindByToken(ctx context.Context, token string) (*RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tok := range s.toks {
		if tok.Token == token {
			cp := cloneToken(tok)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memTokenStore) ListByUser(ctx context.Context, userID string) ([]*RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*RefreshToken
	for _, tok := range s.toks {
		if tok.UserID == userID {
			cp := cloneToken(tok)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memTokenStore) DeleteByToken(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tok := range s.toks {
		if tok.Token == token {
			delete(s.toks, id)
			return true, nil
		}
	}
	return false, nil
}

func (s *memTokenStore) DeleteByUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tok := range s.toks {
		if tok.UserID == userID {
			delete(s.toks, id)
		}
	}
	return nil
}

func (s *memTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, tok := range s.toks {
		if tok.ExpiresAt.Before(now) {
			delete(s.toks, id)
			n++
		}
	}
	return n, nil
}

func (s *memTokenStore) CountByUser(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, tok := range s.toks {
		if tok.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *memTokenStore) DeleteOldestByUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *RefreshToken
	for _, tok := range s.toks {
		if tok.UserID != userID {
			continue
		}
		if oldest == nil || tok.CreatedAt.Before(oldest.CreatedAt) {
			oldest = tok
		}
	}
	if oldest != nil {
		delete(s.toks, oldest.ID)
	}
	return nil
}

// Invitation store ---------------------------------------------------------

type memInvitationStore MemoryStore

func (s *memInvitationStore) Create(ctx context.Context, inv *Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.invs {
		if existing.Token == inv.Token {
			return ErrConflict
		}
	}
	if _, ok := s.orgs[inv.OrganizationID]; !ok {
		return ErrNotFound
	}
	cp := cloneInvitation(inv)
	s.invs[inv.ID] = &cp
	return nil
}

func (s *memInvitationStore) FindByToken(ctx context.Context, token string) (*Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invs {
		if inv.Token == token {
			cp := cloneInvitation(inv)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memInvitationStore) FindByEmailAndOrg(ctx context.Context, email, orgID string) (*Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invs {
		if inv.Email == email && inv.OrganizationID == orgID && inv.AcceptedAt == nil {
			cp := cloneInvitation(inv)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memInvitationStore) ListPendingByOrg(ctx context.Context, orgID string) ([]*Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Invitation
	for _, inv := range s.invs {
		if inv.OrganizationID == orgID && inv.AcceptedAt == nil {
			cp := cloneInvitation(inv)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memInvitationStore) MarkAccepted(ctx context.Context, token string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invs {
		if inv.Token == token {
			if inv.AcceptedAt != nil {
				return false, nil
			}
			accepted := at
			inv.AcceptedAt = &accepted
			return true, nil
		}
	}
	return false, nil
}

func (s *memInvitationStore) ClearAccepted(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invs {
		if inv.Token == token {
			inv.AcceptedAt = nil
			return nil
		}
	}
	return nil
}

func (s *memInvitationStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invs[id]; !ok {
		return ErrNotFound
	}
	delete(s.invs, id)
	return nil
}

func (s *memInvitationStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, inv := range s.invs {
		if inv.AcceptedAt == nil && inv.ExpiresAt.Before(now) {
			delete(s.invs, id)
			n++
		}
	}
	return n, nil
}

// clone helpers return deep copies so callers never share mutable state with
// the store.

func cloneOrg(org *Organization) Organization {
	cp := *org
	if org.Slug != nil {
		slug := *org.Slug
		cp.Slug = &slug
	}
	cp.Settings = make(map[string]string, len(org.Settings))
	for k, v := range org.Settings {
		cp.Settings[k] = v
	}
	return cp
}

func cloneUser(u *User) User {
	cp := *u
	if u.PasswordHash != nil {
		hash := *u.PasswordHash
		cp.PasswordHash = &hash
	}
	if u.EmailVerified != nil {
		v := *u.EmailVerified
		cp.EmailVerified = &v
	}
	if u.EmailVerificationToken != nil {
		tok := *u.EmailVerificationToken
		cp.EmailVerificationToken = &tok
	}
	if u.LastLoginAt != nil {
		at := *u.LastLoginAt
		cp.LastLoginAt = &at
	}
	return cp
}

func cloneToken(tok *RefreshToken) RefreshToken {
	cp := *tok
	if tok.IPAddress != nil {
		ip := *tok.IPAddress
		cp.IPAddress = &ip
	}
	if tok.UserAgent != nil {
		ua := *tok.UserAgent
		cp.UserAgent = &ua
	}
	return cp
}

func cloneInvitation(inv *Invitation) Invitation {
	cp := *inv
	if inv.InvitedBy != nil {
		by := *inv.InvitedBy
		cp.InvitedBy = &by
	}
	if inv.AcceptedAt != nil {
		at := *inv.AcceptedAt
		cp.AcceptedAt = &at
	}
	return cp
}
