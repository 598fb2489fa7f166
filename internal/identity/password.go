package identity

import (
	"errors"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	passwordMinLength = 8
	// Target bcrypt cost. Hashes produced at a lower cost are flagged by
	// NeedsRehash so logins can upgrade them without a forced reset.
	passwordHashCost = 12
)

// ValidatePassword returns the list of violated strength rules, empty when
// the password satisfies the policy.
func ValidatePassword(password string) []string {
	var violations []string
	if len(password) < passwordMinLength {
		violations = append(violations, "password must be at least 8 characters long")
	}
	var hasUpper, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper {
		violations = append(violations, "password must contain at least one uppercase letter")
	}
	if !hasDigit {
		violations = append(violations, "password must contain at least one number")
	}
	return violations
}

// PasswordIsStrong reports whether the password violates no policy rule.
func PasswordIsStrong(password string) bool {
	return len(ValidatePassword(password)) == 0
}

// Password holds a policy-checked plaintext password. Its textual forms are
// always masked so the value cannot leak through logs or error messages.
type Password struct {
	value string
}

// NewPassword validates the plaintext against the strength policy.
func NewPassword(plaintext string) (Password, error) {
	if violations := ValidatePassword(plaintext); len(violations) > 0 {
		return Password{}, &ValidationError{Violations: violations}
	}
	return Password{value: plaintext}, nil
}

// Value returns the underlying plaintext for hashing or verification.
func (p Password) Value() string { return p.value }

func (p Password) String() string { return "********" }

func (p Password) GoString() string { return "identity.Password(********)" }

// HashPassword hashes a plaintext password with bcrypt at the target cost.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// NeedsRehash reports whether the stored hash was produced below the target
// cost and should be regenerated on the next successful login.
func NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return hashCostFromString(hash) < passwordHashCost
	}
	return cost < passwordHashCost
}

// hashCostFromString extracts the cost field of a modular-crypt formatted
// hash ($2b$12$...) when the bcrypt library cannot parse the full value.
func hashCostFromString(hash string) int {
	parts := strings.Split(hash, "$")
	if len(parts) < 3 {
		return 0
	}
	cost, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0
	}
	return cost
}
