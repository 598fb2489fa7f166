package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const pgUniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// PGStore implements Store on PostgreSQL. Uniqueness of emails, slugs and
// tokens is enforced by unique indexes; the rotation and accept races are
// settled by conditional writes, so race losers surface as ErrConflict or a
// false "won" result rather than silent duplicates.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Organizations() OrganizationStore { return &pgOrgStore{db: s.db} }
func (s *PGStore) Users() UserStore                 { return &pgUserStore{db: s.db} }
func (s *PGStore) RefreshTokens() RefreshTokenStore { return &pgTokenStore{db: s.db} }
func (s *PGStore) Invitations() InvitationStore     { return &pgInvitationStore{db: s.db} }

// mapPGError converts driver errors into the domain's error kinds.
func mapPGError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrConflict
	}
	return err
}

// Organization store -------------------------------------------------------

type pgOrgStore struct{ db *sql.DB }

const orgColumns = `id, name, slug, data_retention_days, retention_enabled, settings, created_at, updated_at`

func (s *pgOrgStore) Create(ctx context.Context, org *Organization) error {
	settings, err := json.Marshal(org.Settings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into organizations(id, name, slug, data_retention_days, retention_enabled, settings, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		org.ID, org.Name, org.Slug, org.DataRetentionDays, org.RetentionEnabled, settings, org.CreatedAt, org.UpdatedAt,
	)
	return mapPGError(err)
}

func (s *pgOrgStore) Find(ctx context.Context, id string) (*Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+orgColumns+` from organizations where id=$1`, id)
	return scanOrg(row)
}

func (s *pgOrgStore) FindBySlug(ctx context.Context, slug string) (*Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+orgColumns+` from organizations where slug=$1`, slug)
	return scanOrg(row)
}

func (s *pgOrgStore) Update(ctx context.Context, id string, upd OrganizationUpdate) (*Organization, error) {
	set := []string{"updated_at=now()"}
	args := []any{id}
	next := 2
	add := func(col string, v any) {
		set = append(set, fmt.Sprintf("%s=$%d", col, next))
		args = append(args, v)
		next++
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Slug != nil {
		add("slug", *upd.Slug)
	}
	if upd.DataRetentionDays != nil {
		add("data_retention_days", *upd.DataRetentionDays)
	}
	if upd.RetentionEnabled != nil {
		add("retention_enabled", *upd.RetentionEnabled)
	}
	if upd.Settings != nil {
		settings, err := json.Marshal(upd.Settings)
		if err != nil {
			return nil, err
		}
		add("settings", settings)
	}
	row := s.db.QueryRowContext(ctx,
		`update organizations set `+strings.Join(set, ", ")+` where id=$1 returning `+orgColumns,
		args...)
	return scanOrg(row)
}

func (s *pgOrgStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from organizations where id=$1`, id)
	if err != nil {
		return mapPGError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgOrgStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from organizations where slug=$1)`, slug).Scan(&exists)
	return exists, err
}

func (s *pgOrgStore) FindAvailableSlug(ctx context.Context, base string, now time.Time) (string, error) {
	return findAvailableSlug(ctx, base, now, s.SlugExists)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrg(row rowScanner) (*Organization, error) {
	var (
		org      Organization
		settings []byte
	)
	if err := row.Scan(&org.ID, &org.Name, &org.Slug, &org.DataRetentionDays,
		&org.RetentionEnabled, &settings, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return nil, mapPGError(err)
	}
	org.Settings = map[string]string{}
	if len(settings) > 0 {
		_ = json.Unmarshal(settings, &org.Settings)
	}
	return &org, nil
}

// User store ---------------------------------------------------------------

type pgUserStore struct{ db *sql.DB }

const userColumns = `id, email, password_hash, name, role, organization_id, email_verified, email_verification_token, last_login_at, created_at, updated_at`

func (s *pgUserStore) Create(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, password_hash, name, role, organization_id, email_verified, email_verification_token, last_login_at, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		u.ID, u.Email, u.PasswordHash, u.Name, string(u.Role), u.OrganizationID,
		u.EmailVerified, u.EmailVerificationToken, u.LastLoginAt, u.CreatedAt, u.UpdatedAt,
	)
	return mapPGError(err)
}

func (s *pgUserStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *pgUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email)
	return scanUser(row)
}

func (s *pgUserStore) ListByOrg(ctx context.Context, orgID string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users where organization_id=$1 order by created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *pgUserStore) Update(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	set := []string{"updated_at=now()"}
	args := []any{id}
	next := 2
	add := func(col string, v any) {
		set = append(set, fmt.Sprintf("%s=$%d", col, next))
		args = append(args, v)
		next++
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Role != nil {
		add("role", string(*upd.Role))
	}
	if upd.PasswordHash != nil {
		add("password_hash", *upd.PasswordHash)
	}
	if upd.EmailVerified != nil {
		add("email_verified", *upd.EmailVerified)
	}
	if upd.EmailVerificationToken != nil {
		add("email_verification_token", *upd.EmailVerificationToken)
	}
	if upd.LastLoginAt != nil {
		add("last_login_at", *upd.LastLoginAt)
	}
	row := s.db.QueryRowContext(ctx,
		`update users set `+strings.Join(set, ", ")+` where id=$1 returning `+userColumns,
		args...)
	return scanUser(row)
}

func (s *pgUserStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id=$1`, id)
	if err != nil {
		return mapPGError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgUserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from users where email=$1)`, email).Scan(&exists)
	return exists, err
}

func (s *pgUserStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set last_login_at=$2, updated_at=$2 where id=$1`, id, at)
	if err != nil {
		return mapPGError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u    User
		role string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &role,
		&u.OrganizationID, &u.EmailVerified, &u.EmailVerificationToken,
		&u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapPGError(err)
	}
	u.Role = Role(role)
	return &u, nil
}

// RefreshToken store -------------------------------------------------------

type pgTokenStore struct{ db *sql.DB }

const tokenColumns = `id, user_id, token, expires_at, ip_address, user_agent, created_at`

func (s *pgTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, token, expires_at, ip_address, user_agent, created_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		tok.ID, tok.UserID, tok.Token, tok.ExpiresAt, tok.IPAddress, tok.UserAgent, tok.CreatedAt,
	)
	return mapPGError(err)
}

func (s *pgTokenStore) FindByToken(ctx context.Context, token string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+tokenColumns+` from refresh_tokens where token=$1`, token)
	var tok RefreshToken
	if err := row.Scan(&tok.ID, &tok.UserID, &tok.Token, &tok.ExpiresAt,
		&tok.IPAddress, &tok.UserAgent, &tok.CreatedAt); err != nil {
		return nil, mapPGError(err)
	}
	return &tok, nil
}

func (s *pgTokenStore) ListByUser(ctx context.Context, userID string) ([]*RefreshToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+tokenColumns+` from refresh_tokens where user_id=$1 order by created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var toks []*RefreshToken
	for rows.Next() {
		var tok RefreshToken
		if err := rows.Scan(&tok.ID, &tok.UserID, &tok.Token, &tok.ExpiresAt,
			&tok.IPAddress, &tok.UserAgent, &tok.CreatedAt); err != nil {
			return nil, err
		}
		toks = append(toks, &tok)
	}
	return toks, rows.Err()
}

func (s *pgTokenStore) DeleteByToken(ctx context.Context, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where token=$1`, token)
	if err != nil {
		return false, mapPGError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *pgTokenStore) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from refresh_tokens where user_id=$1`, userID)
	return mapPGError(err)
}

func (s *pgTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where expires_at < $1`, now)
	if err != nil {
		return 0, mapPGError(err)
	}
	return res.RowsAffected()
}

func (s *pgTokenStore) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from refresh_tokens where user_id=$1`, userID).Scan(&n)
	return n, err
}

func (s *pgTokenStore) DeleteOldestByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where id = (
			select id from refresh_tokens where user_id=$1 order by created_at asc limit 1
		)`, userID)
	return mapPGError(err)
}

// Invitation store ---------------------------------------------------------

type pgInvitationStore struct{ db *sql.DB }

const invitationColumns = `id, email, organization_id, role, token, invited_by, expires_at, accepted_at, created_at`

func (s *pgInvitationStore) Create(ctx context.Context, inv *Invitation) error {
	_, err := s.db.ExecContext(ctx,
		`insert into invitations(id, email, organization_id, role, token, invited_by, expires_at, accepted_at, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		inv.ID, inv.Email, inv.OrganizationID, string(inv.Role), inv.Token,
		inv.InvitedBy, inv.ExpiresAt, inv.AcceptedAt, inv.CreatedAt,
	)
	return mapPGError(err)
}

func (s *pgInvitationStore) FindByToken(ctx context.Context, token string) (*Invitation, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+invitationColumns+` from invitations where token=$1`, token)
	return scanInvitation(row)
}

func (s *pgInvitationStore) FindByEmailAndOrg(ctx context.Context, email, orgID string) (*Invitation, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+invitationColumns+` from invitations
		 where email=$1 and organization_id=$2 and accepted_at is null limit 1`,
		email, orgID)
	return scanInvitation(row)
}

func (s *pgInvitationStore) ListPendingByOrg(ctx context.Context, orgID string) ([]*Invitation, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+invitationColumns+` from invitations
		 where organization_id=$1 and accepted_at is null order by created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invs []*Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}

func (s *pgInvitationStore) MarkAccepted(ctx context.Context, token string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update invitations set accepted_at=$2 where token=$1 and accepted_at is null`,
		token, at)
	if err != nil {
		return false, mapPGError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *pgInvitationStore) ClearAccepted(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx,
		`update invitations set accepted_at=null where token=$1`, token)
	return mapPGError(err)
}

func (s *pgInvitationStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from invitations where id=$1`, id)
	if err != nil {
		return mapPGError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgInvitationStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from invitations where expires_at < $1 and accepted_at is null`, now)
	if err != nil {
		return 0, mapPGError(err)
	}
	return res.RowsAffected()
}

func scanInvitation(row rowScanner) (*Invitation, error) {
	var (
		inv  Invitation
		role string
	)
	if err := row.Scan(&inv.ID, &inv.Email, &inv.OrganizationID, &role, &inv.Token,
		&inv.InvitedBy, &inv.ExpiresAt, &inv.AcceptedAt, &inv.CreatedAt); err != nil {
		return nil, mapPGError(err)
	}
	inv.Role = Role(role)
	return &inv, nil
}

// Open opens a pooled PostgreSQL handle using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}
