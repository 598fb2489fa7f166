package identity

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxSlugSuffix = 99

var slugStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// GenerateSlug derives a URL-safe identifier from an organization name:
// lowercase, diacritics stripped, everything outside [a-z0-9 -] removed,
// whitespace runs and repeated hyphens collapsed to single hyphens.
func GenerateSlug(name string) string {
	lowered := strings.ToLower(name)
	stripped, _, err := transform.String(slugStripper, lowered)
	if err != nil {
		stripped = lowered
	}

	var b strings.Builder
	for _, r := range stripped {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}

	slug := strings.TrimSpace(b.String())
	slug = strings.Join(strings.Fields(slug), "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	return slug
}

// slugExistsFunc reports whether a slug is already taken.
type slugExistsFunc func(ctx context.Context, slug string) (bool, error)

// findAvailableSlug probes base, then base-2 .. base-99, then falls back to
// a suffix derived from now to guarantee termination. Best effort only: the
// unique constraint at insert time remains the arbiter under races.
func findAvailableSlug(ctx context.Context, base string, now time.Time, exists slugExistsFunc) (string, error) {
	taken, err := exists(ctx, base)
	if err != nil {
		return "", err
	}
	if !taken {
		return base, nil
	}
	for suffix := 2; suffix <= maxSlugSuffix; suffix++ {
		candidate := fmt.Sprintf("%s-%d", base, suffix)
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return fmt.Sprintf("%s-%d", base, now.Unix()), nil
}
