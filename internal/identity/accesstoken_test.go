package identity

import (
	"errors"
	"testing"
	"time"
)

func TestAccessTokenRoundtrip(t *testing.T) {
	svc, _ := newTestService(t, WithIssuer("test-issuer"))
	user := &User{ID: "u-1", Email: "a@example.com", Role: RoleAdmin, OrganizationID: "org-1"}

	signed, exp, err := svc.signAccessToken(user, testClock)
	if err != nil {
		t.Fatalf("signAccessToken: %v", err)
	}
	if !exp.Equal(testClock.Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry: %v", exp)
	}

	claims, err := svc.ParseAccessToken(signed)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if claims.Subject != "u-1" || claims.Email != "a@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.OrganizationID != "org-1" || claims.Role != "admin" {
		t.Fatalf("unexpected tenant claims: %+v", claims)
	}
	if claims.Issuer != "test-issuer" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
	if claims.ID == "" {
		t.Fatal("jti must be set")
	}
}

func TestParseAccessTokenFailures(t *testing.T) {
	clock := testClock
	svc, _ := newTestService(t, WithClock(func() time.Time { return clock }))
	user := &User{ID: "u-1", Email: "a@example.com", Role: RoleAgent, OrganizationID: "org-1"}

	signed, _, err := svc.signAccessToken(user, clock)
	if err != nil {
		t.Fatalf("signAccessToken: %v", err)
	}

	if _, err := svc.ParseAccessToken(""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("empty token: %v", err)
	}
	if _, err := svc.ParseAccessToken("not.a.jwt"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("garbage token: %v", err)
	}

	other, _ := newTestService(t, WithIssuer("someone-else"))
	foreign, _, err := other.signAccessToken(user, testClock)
	if err != nil {
		t.Fatalf("signAccessToken: %v", err)
	}
	if _, err := svc.ParseAccessToken(foreign); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong issuer must fail: %v", err)
	}

	clock = clock.Add(time.Hour)
	if _, err := svc.ParseAccessToken(signed); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expired token must fail: %v", err)
	}
}
