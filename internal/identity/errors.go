package identity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound reports a missing organization, user, token or invitation.
	ErrNotFound = errors.New("identity: not found")
	// ErrUnauthorized covers bad credentials, invalid or expired tokens and
	// insufficient role. Deliberately non-specific: callers must not be able
	// to tell a missing refresh token from an expired one.
	ErrUnauthorized = errors.New("identity: unauthorized")
	// ErrConflict reports a unique-constraint violation (email, slug, token).
	ErrConflict = errors.New("identity: conflict")
	// ErrAlreadyAccepted reports a second accept attempt on an invitation.
	ErrAlreadyAccepted = errors.New("identity: invitation already accepted")
	// ErrValidation reports malformed input or policy violations.
	ErrValidation = errors.New("identity: validation failed")
)

// ErrInvitationExpired is an Unauthorized kind: unlike refresh tokens,
// invitation outcomes are surfaced to end users with a concrete reason.
var ErrInvitationExpired = fmt.Errorf("invitation expired: %w", ErrUnauthorized)

// ValidationError carries the specific rules a password failed.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "identity: validation failed: " + strings.Join(e.Violations, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
