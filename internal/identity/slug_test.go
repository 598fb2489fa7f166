package identity

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestGenerateSlug(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"Acme Corp", "acme-corp"},
		{"Café Déjà Vu!", "cafe-deja-vu"},
		{"  Spaced   Out  ", "spaced-out"},
		{"already-slugged", "already-slugged"},
		{"UPPER CASE 42", "upper-case-42"},
		{"dash--runs---collapse", "dash-runs-collapse"},
		{"日本語", ""},
		{"!!!", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := GenerateSlug(tc.name); got != tc.want {
			t.Fatalf("GenerateSlug(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestFindAvailableSlug(t *testing.T) {
	now := time.Unix(1700000000, 0)

	taken := func(set map[string]bool) slugExistsFunc {
		return func(_ context.Context, slug string) (bool, error) {
			return set[slug], nil
		}
	}

	ctx := context.Background()

	slug, err := findAvailableSlug(ctx, "acme", now, taken(map[string]bool{}))
	if err != nil {
		t.Fatalf("findAvailableSlug: %v", err)
	}
	if slug != "acme" {
		t.Fatalf("free base should be returned as-is, got %q", slug)
	}

	slug, err = findAvailableSlug(ctx, "acme", now, taken(map[string]bool{
		"acme": true, "acme-2": true, "acme-3": true, "acme-4": true, "acme-5": true,
	}))
	if err != nil {
		t.Fatalf("findAvailableSlug: %v", err)
	}
	if slug != "acme-6" {
		t.Fatalf("expected first free suffix acme-6, got %q", slug)
	}
}

func TestFindAvailableSlugExhaustion(t *testing.T) {
	now := time.Unix(1700000000, 0)
	everything := func(_ context.Context, _ string) (bool, error) { return true, nil }

	slug, err := findAvailableSlug(context.Background(), "acme", now, everything)
	if err != nil {
		t.Fatalf("findAvailableSlug: %v", err)
	}
	want := fmt.Sprintf("acme-%d", now.Unix())
	if slug != want {
		t.Fatalf("expected timestamp fallback %q, got %q", want, slug)
	}
}

func TestFindAvailableSlugPropagatesError(t *testing.T) {
	failing := func(_ context.Context, _ string) (bool, error) {
		return false, fmt.Errorf("store down")
	}
	if _, err := findAvailableSlug(context.Background(), "acme", time.Now(), failing); err == nil {
		t.Fatal("store errors must propagate")
	}
}
