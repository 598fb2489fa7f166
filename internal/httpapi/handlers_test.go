package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"deskhive.dev/internal/identity"
)

func newTestAPI(t *testing.T, clock *time.Time) *API {
	t.Helper()
	store := identity.NewMemoryStore()
	svc, err := identity.NewService(store, "test-secret",
		identity.WithClock(func() time.Time { return *clock }),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return New(svc, ReadyProbe{}, "test", Options{
		RateLimitPerSecond: 1000,
		RateLimitBurst:     1000,
	})
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

type sessionEnvelope struct {
	User   userResponse      `json:"user"`
	Tokens tokenPairResponse `json:"tokens"`
}

type registerEnvelope struct {
	Organization organizationResponse `json:"organization"`
	User         userResponse         `json:"user"`
	Tokens       tokenPairResponse    `json:"tokens"`
}

func registerTenant(t *testing.T, h http.Handler, orgName, email string) registerEnvelope {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"organization_name": orgName,
		"name":              "Owner",
		"email":             email,
		"password":          "Secret12",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", rec.Code, rec.Body.String())
	}
	var env registerEnvelope
	decodeBody(t, rec, &env)
	return env
}

func TestRegisterLoginAndOrgRoundtrip(t *testing.T) {
	clock := time.Now().UTC()
	h := newTestAPI(t, &clock).Handler()

	env := registerTenant(t, h, "Acme Corp", "owner@example.com")
	if env.User.Role != "owner" {
		t.Fatalf("unexpected role: %s", env.User.Role)
	}
	if env.Organization.Slug == nil || *env.Organization.Slug != "acme-corp" {
		t.Fatalf("unexpected slug: %v", env.Organization.Slug)
	}
	if env.Tokens.AccessToken == "" || env.Tokens.RefreshToken == "" {
		t.Fatal("registration must open a session")
	}

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "owner@example.com",
		"password": "Secret12",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	var login sessionEnvelope
	decodeBody(t, rec, &login)

	rec = doJSON(t, h, http.MethodGet, "/v1/org", login.Tokens.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get org: %d %s", rec.Code, rec.Body.String())
	}
	var org organizationResponse
	decodeBody(t, rec, &org)
	if org.Name != "Acme Corp" || org.DataRetentionDays != 730 {
		t.Fatalf("unexpected org: %+v", org)
	}

	name := "Acme Inc"
	rec = doJSON(t, h, http.MethodPatch, "/v1/org", login.Tokens.AccessToken, map[string]string{"name": name})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch org: %d %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &org)
	if org.Name != name {
		t.Fatalf("rename not applied: %+v", org)
	}
}

func TestLoginFailureMapsTo401(t *testing.T) {
	clock := time.Now().UTC()
	h := newTestAPI(t, &clock).Handler()
	registerTenant(t, h, "Acme", "owner@example.com")

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "owner@example.com",
		"password": "Wrong123",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["error"] != "unauthorized" {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["request_id"] == nil || body["request_id"] == "" {
		t.Fatal("error body must carry the request id")
	}
}

func TestRegisterValidationMapsTo400WithViolations(t *testing.T) {
	clock := time.Now().UTC()
	h := newTestAPI(t, &clock).Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"organization_name": "Acme",
		"name":              "Owner",
		"email":             "owner@example.com",
		"password":          "weak",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Violations []string `json:"violations"`
	}
	decodeBody(t, rec, &body)
	if len(body.Violations) != 3 {
		t.Fatalf("expected 3 violations, got %v", body.Violations)
	}
}

func TestRegisterDuplicateEmailMapsTo409(t *testing.T) {
	clock := time.Now().UTC()
	h := newTestAPI(t, &clock).Handler()
	registerTenant(t, h, "Acme", "owner@example.com")

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"organization_name": "Other",
		"name":              "Owner",
		"email":             "owner@example.com",
		"password":          "Secret12",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestRefreshRotationOverHTTP(t *testing.T) {
	clock := time.Now().UTC()
	h := newTestAPI(t, &clock).Handler()
	env := registerTenant(t, h, "Acme", "owner@example.com")

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": env.Tokens.RefreshToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", rec.Code, rec.Body.String())
	}
	var rotated sessionEnvelope
	decodeBody(t, rec, &rotated)
	if rotated.Tokens.RefreshToken == env.Tokens.RefreshToken {
		t.Fatal("refresh must rotate the token")
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": env.Tokens.RefreshToken,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed token must 401, got %d", rec.Code)
	}
}

func TestLogoutIsIdempotentOverHTTP(t *testing.T) {
	clock := time.Now().UTC()
	h := newTestAPI(t, &clock).Handler()
	env := registerTenant(t, h, "Acme", "owner@example.com")

	for i := 0; i < 2; i++ {
		rec := doJSON(t, h, http.MethodPost, "/v1/auth/logout", "", map[string]string{
			"refresh_token": env.Tokens.RefreshToken,
		})
		if rec.Code != http.StatusNoContent {
			t.Fatalf("logout attempt %d: %d", i+1, rec.Code)
		}
	}
}

func TestInvitationFlowOverHTTP(t *testing.T) {
	clock := time.Now().UTC()
	h := newTestAPI(t, &clock).Handler()
	env := registerTenant(t, h, "Acme", "owner@example.com")
	owner := env.Tokens.AccessToken

	rec := doJSON(t, h, http.MethodPost, "/v1/invitations", owner, map[string]string{
		"email": "new@example.com",
		"role":  "agent",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("invite: %d %s", rec.Code, rec.Body.String())
	}
	var inv invitationResponse
	decodeBody(t, rec, &inv)
	if inv.Token == "" {
		t.Fatal("creation response must include the token for delivery")
	}

	// Pre-accept display is public and hides the token.
	req := httptest.NewRequest(http.MethodGet, "/v1/invitations/"+inv.Token, nil)
	pub := httptest.NewRecorder()
	h.ServeHTTP(pub, req)
	if pub.Code != http.StatusOK {
		t.Fatalf("public lookup: %d %s", pub.Code, pub.Body.String())
	}
	var display struct {
		Invitation invitationResponse `json:"invitation"`
		Accepted   bool               `json:"accepted"`
		Expired    bool               `json:"expired"`
	}
	if err := json.Unmarshal(pub.Body.Bytes(), &display); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if display.Accepted || display.Expired {
		t.Fatalf("fresh invitation displayed as %+v", display)
	}
	if display.Invitation.Token != "" {
		t.Fatal("public display must not leak the token")
	}

	// Pending listing requires an inviter.
	rec = doJSON(t, h, http.MethodGet, "/v1/invitations", owner, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pending list: %d", rec.Code)
	}
	var listing struct {
		Invitations []invitationResponse `json:"invitations"`
	}
	decodeBody(t, rec, &listing)
	if len(listing.Invitations) != 1 {
		t.Fatalf("expected 1 pending invitation, got %d", len(listing.Invitations))
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/invitations/accept", "", map[string]string{
		"token":    inv.Token,
		"name":     "Newcomer",
		"password": "Secret12",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("accept: %d %s", rec.Code, rec.Body.String())
	}
	var accepted sessionEnvelope
	decodeBody(t, rec, &accepted)
	if accepted.User.Role != "agent" || accepted.User.Email != "new@example.com" {
		t.Fatalf("unexpected accepted user: %+v", accepted.User)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/invitations/accept", "", map[string]string{
		"token":    inv.Token,
		"name":     "Newcomer",
		"password": "Secret12",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second accept must 409, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestExpiredInvitationMapsTo410(t *testing.T) {
	clock := time.Now().UTC()
	h := newTestAPI(t, &clock).Handler()
	env := registerTenant(t, h, "Acme", "owner@example.com")

	rec := doJSON(t, h, http.MethodPost, "/v1/invitations", env.Tokens.AccessToken, map[string]string{
		"email": "late@example.com",
		"role":  "viewer",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("invite: %d", rec.Code)
	}
	var inv invitationResponse
	decodeBody(t, rec, &inv)

	clock = clock.Add(8 * 24 * time.Hour)
	rec = doJSON(t, h, http.MethodPost, "/v1/invitations/accept", "", map[string]string{
		"token":    inv.Token,
		"name":     "Late",
		"password": "Secret12",
	})
	if rec.Code != http.StatusGone {
		t.Fatalf("expired accept must 410, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestRevokeInvitationOverHTTP(t *testing.T) {
	clock := time.Now().UTC()
	h := newTestAPI(t, &clock).Handler()
	env := registerTenant(t, h, "Acme", "owner@example.com")
	owner := env.Tokens.AccessToken

	rec := doJSON(t, h, http.MethodPost, "/v1/invitations", owner, map[string]string{
		"email": "gone@example.com",
		"role":  "agent",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("invite: %d", rec.Code)
	}
	var inv invitationResponse
	decodeBody(t, rec, &inv)

	rec = doJSON(t, h, http.MethodDelete, "/v1/invitations/"+inv.ID, owner, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("revoke: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodDelete, "/v1/invitations/"+inv.ID, owner, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second revoke must 404, got %d", rec.Code)
	}
}

func TestUserManagementOverHTTP(t *testing.T) {
	clock := time.Now().UTC()
	h := newTestAPI(t, &clock).Handler()
	env := registerTenant(t, h, "Acme", "owner@example.com")
	owner := env.Tokens.AccessToken

	// Bring in an agent through an invitation.
	rec := doJSON(t, h, http.MethodPost, "/v1/invitations", owner, map[string]string{
		"email": "agent@example.com",
		"role":  "agent",
	})
	var inv invitationResponse
	decodeBody(t, rec, &inv)
	rec = doJSON(t, h, http.MethodPost, "/v1/invitations/accept", "", map[string]string{
		"token":    inv.Token,
		"name":     "Agent",
		"password": "Secret12",
	})
	var agent sessionEnvelope
	decodeBody(t, rec, &agent)

	rec = doJSON(t, h, http.MethodGet, "/v1/org/users", owner, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list users: %d", rec.Code)
	}
	var users struct {
		Users []userResponse `json:"users"`
	}
	decodeBody(t, rec, &users)
	if len(users.Users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users.Users))
	}

	// Owner promotes the agent.
	rec = doJSON(t, h, http.MethodPatch, "/v1/users/"+agent.User.ID, owner, map[string]string{"role": "admin"})
	if rec.Code != http.StatusOK {
		t.Fatalf("promote: %d %s", rec.Code, rec.Body.String())
	}
	var promoted userResponse
	decodeBody(t, rec, &promoted)
	if promoted.Role != "admin" {
		t.Fatalf("role not applied: %+v", promoted)
	}

	// The agent-turned-admin cannot delete the owner.
	rec = doJSON(t, h, http.MethodDelete, "/v1/users/"+env.User.ID, agent.Tokens.AccessToken, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("deleting an owner must 401, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodDelete, "/v1/users/"+agent.User.ID, owner, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete user: %d", rec.Code)
	}
}

func TestChangePasswordOverHTTP(t *testing.T) {
	clock := time.Now().UTC()
	h := newTestAPI(t, &clock).Handler()
	env := registerTenant(t, h, "Acme", "owner@example.com")

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/password", env.Tokens.AccessToken, map[string]string{
		"current_password": "Secret12",
		"new_password":     "Another1",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("change password: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "owner@example.com",
		"password": "Another1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login with new password: %d", rec.Code)
	}
}

func TestUnknownBodyFieldRejected(t *testing.T) {
	clock := time.Now().UTC()
	h := newTestAPI(t, &clock).Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "a@example.com",
		"password": "Secret12",
		"surprise": "field",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field must 400, got %d", rec.Code)
	}
}

func TestHealthAndInfoEndpoints(t *testing.T) {
	clock := time.Now().UTC()
	h := newTestAPI(t, &clock).Handler()

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: %d", path, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Fatalf("%s content type: %q", path, ct)
		}
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	clock := time.Now().UTC()
	h := newTestAPI(t, &clock).Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
}

func TestDecodeJSONHasNoInnerSizeCap(t *testing.T) {
	// Body size is the MaxBodyBytes middleware's job; the decoder itself
	// must accept whatever the configured limit let through.
	name := strings.Repeat("a", (1<<20)+512)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"`+name+`"}`))

	var dst struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(req, &dst); err != nil {
		t.Fatalf("decodeJSON: %v", err)
	}
	if len(dst.Name) != len(name) {
		t.Fatalf("decoded %d bytes, want %d", len(dst.Name), len(name))
	}
}
