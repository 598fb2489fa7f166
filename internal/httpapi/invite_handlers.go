package httpapi

import (
	"net/http"
	"strings"
	"time"

	"deskhive.dev/internal/identity"
	"deskhive.dev/internal/obs"
)

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type acceptInvitationRequest struct {
	Token    string `json:"token"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type invitationResponse struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	OrganizationID string    `json:"organization_id"`
	Role           string    `json:"role"`
	Token          string    `json:"token,omitempty"`
	InvitedBy      *string   `json:"invited_by,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

func toInvitationResponse(inv *identity.Invitation, includeToken bool) invitationResponse {
	resp := invitationResponse{
		ID:             inv.ID,
		Email:          inv.Email,
		OrganizationID: inv.OrganizationID,
		Role:           string(inv.Role),
		InvitedBy:      inv.InvitedBy,
		ExpiresAt:      inv.ExpiresAt,
		CreatedAt:      inv.CreatedAt,
	}
	if includeToken {
		resp.Token = inv.Token
	}
	return resp
}

func (a *API) handleInvitations(w http.ResponseWriter, r *http.Request) {
	actor, err := a.actor(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req inviteRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		inv, err := a.svc.Invite(r.Context(), actor, req.Email, identity.Role(req.Role))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		obs.ObserveInvitation("created")
		// The token is returned once, to the inviter, for delivery.
		writeJSON(w, http.StatusCreated, toInvitationResponse(inv, true))
	case http.MethodGet:
		invs, err := a.svc.PendingInvitations(r.Context(), actor)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		out := make([]invitationResponse, 0, len(invs))
		for _, inv := range invs {
			out = append(out, toInvitationResponse(inv, false))
		}
		writeJSON(w, http.StatusOK, map[string]any{"invitations": out})
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req acceptInvitationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, pair, err := a.svc.AcceptInvitation(r.Context(), req.Token, identity.AcceptInvitationInput{
		Name:     req.Name,
		Password: req.Password,
	}, sessionMeta(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	obs.ObserveInvitation("accepted")
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":   toUserResponse(user),
		"tokens": toTokenPairResponse(pair),
	})
}

// handleInvitation serves GET /v1/invitations/{token} (public pre-accept
// display) and DELETE /v1/invitations/{id} (revocation by an inviter).
func (a *API) handleInvitation(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/invitations/")
	if rest == "" || strings.Contains(rest, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		inv, err := a.svc.InvitationByToken(r.Context(), rest)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		resp := toInvitationResponse(inv, false)
		writeJSON(w, http.StatusOK, map[string]any{
			"invitation": resp,
			"accepted":   inv.IsAccepted(),
			"expired":    inv.IsExpired(time.Now().UTC()),
		})
	case http.MethodDelete:
		actor, err := a.actor(r)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if err := a.svc.RevokeInvitation(r.Context(), actor, rest); err != nil {
			writeDomainError(w, r, err)
			return
		}
		obs.ObserveInvitation("revoked")
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}
