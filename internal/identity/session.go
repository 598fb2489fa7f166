package identity

import (
	"context"
	"time"

	"deskhive.dev/internal/ids"
)

// TokenPair carries a signed access token plus the opaque refresh token that
// continues the session.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// SessionMeta records where a session was established from.
type SessionMeta struct {
	IPAddress string
	UserAgent string
}

// issueSession mints an access token and persists a fresh refresh token,
// then enforces the per-user session cap by evicting the oldest records
// (FIFO by creation time, not LRU).
func (s *Service) issueSession(ctx context.Context, user *User, meta SessionMeta) (TokenPair, error) {
	now := s.now().UTC()
	access, accessExp, err := s.signAccessToken(user, now)
	if err != nil {
		return TokenPair{}, err
	}

	raw, err := NewToken()
	if err != nil {
		return TokenPair{}, err
	}
	rec := &RefreshToken{
		ID:        ids.New(),
		UserID:    user.ID,
		Token:     raw,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	if ip := meta.IPAddress; ip != "" {
		rec.IPAddress = &ip
	}
	if ua := meta.UserAgent; ua != "" {
		rec.UserAgent = &ua
	}

	tokens := s.store.RefreshTokens()
	if err := tokens.Create(ctx, rec); err != nil {
		return TokenPair{}, err
	}
	for {
		count, err := tokens.CountByUser(ctx, user.ID)
		if err != nil {
			return TokenPair{}, err
		}
		if count <= s.sessionCap {
			break
		}
		if err := tokens.DeleteOldestByUser(ctx, user.ID); err != nil {
			return TokenPair{}, err
		}
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     raw,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// Refresh validates a presented refresh token, consumes it and issues a new
// pair for the same user. Absent and expired tokens are indistinguishable to
// the caller: both are ErrUnauthorized, so the endpoint cannot be used as an
// existence oracle. The conditional delete makes rotation atomic: when the
// same token is presented twice concurrently, exactly one caller rotates and
// the loser fails as if the token were already invalid.
func (s *Service) Refresh(ctx context.Context, rawToken string, meta SessionMeta) (TokenPair, *User, error) {
	if rawToken == "" {
		return TokenPair{}, nil, ErrUnauthorized
	}
	tokens := s.store.RefreshTokens()
	rec, err := tokens.FindByToken(ctx, rawToken)
	if err != nil {
		return TokenPair{}, nil, ErrUnauthorized
	}
	if rec.IsExpired(s.now().UTC()) {
		return TokenPair{}, nil, ErrUnauthorized
	}

	deleted, err := tokens.DeleteByToken(ctx, rawToken)
	if err != nil {
		return TokenPair{}, nil, err
	}
	if !deleted {
		return TokenPair{}, nil, ErrUnauthorized
	}

	user, err := s.store.Users().Find(ctx, rec.UserID)
	if err != nil {
		return TokenPair{}, nil, ErrUnauthorized
	}
	pair, err := s.issueSession(ctx, user, meta)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// Logout revokes the presented refresh token. Revoking an already-gone
// token is a no-op: logout is idempotent.
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return nil
	}
	_, err := s.store.RefreshTokens().DeleteByToken(ctx, rawToken)
	return err
}

// LogoutEverywhere revokes all of the user's sessions.
func (s *Service) LogoutEverywhere(ctx context.Context, userID string) error {
	return s.store.RefreshTokens().DeleteByUser(ctx, userID)
}

// Sessions lists the user's live session records, oldest first.
func (s *Service) Sessions(ctx context.Context, userID string) ([]*RefreshToken, error) {
	return s.store.RefreshTokens().ListByUser(ctx, userID)
}

// SweepSessions deletes every refresh token past its expiry. Idempotent and
// safe to run concurrently with normal traffic.
func (s *Service) SweepSessions(ctx context.Context) (int64, error) {
	return s.store.RefreshTokens().DeleteExpired(ctx, s.now().UTC())
}
