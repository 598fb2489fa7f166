package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"deskhive.dev/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/logout",
	"/v1/invitations/accept",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth authenticates bearer access tokens and attaches the principal to
// the request context. Endpoints reachable before login stay public;
// invitation lookup by token is public as well so invitees can see the offer.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path, r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.svc.ParseAccessToken(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		principal := identity.Principal{
			UserID:         claims.Subject,
			OrganizationID: claims.OrganizationID,
			Email:          claims.Email,
			Role:           identity.Role(claims.Role),
		}
		next.ServeHTTP(w, r.WithContext(identity.ContextWithPrincipal(r.Context(), principal)))
	})
}

// actor resolves the authenticated principal into a fresh user snapshot, so
// role checks see current state rather than what the token was minted with.
func (a *API) actor(r *http.Request) (*identity.User, error) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		return nil, identity.ErrUnauthorized
	}
	user, err := a.svc.User(r.Context(), principal.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, identity.ErrUnauthorized
		}
		return nil, err
	}
	return user, nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path, method string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	// GET /v1/invitations/{token} shows the offer to an unauthenticated
	// invitee; every other invitation route requires auth.
	if method == http.MethodGet && strings.HasPrefix(path, "/v1/invitations/") {
		return true
	}
	return false
}
