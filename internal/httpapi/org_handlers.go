package httpapi

import (
	"net/http"
	"strings"

	"deskhive.dev/internal/identity"
)

type updateOrgRequest struct {
	Name              *string           `json:"name,omitempty"`
	Slug              *string           `json:"slug,omitempty"`
	DataRetentionDays *int              `json:"data_retention_days,omitempty"`
	RetentionEnabled  *bool             `json:"retention_enabled,omitempty"`
	Settings          map[string]string `json:"settings,omitempty"`
}

func (a *API) handleOrg(w http.ResponseWriter, r *http.Request) {
	actor, err := a.actor(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		org, err := a.svc.Organization(r.Context(), actor.OrganizationID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrganizationResponse(org))
	case http.MethodPatch:
		var req updateOrgRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		org, err := a.svc.UpdateOrganization(r.Context(), actor, identity.OrganizationUpdate{
			Name:              req.Name,
			Slug:              req.Slug,
			DataRetentionDays: req.DataRetentionDays,
			RetentionEnabled:  req.RetentionEnabled,
			Settings:          req.Settings,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrganizationResponse(org))
	case http.MethodDelete:
		if err := a.svc.DeleteOrganization(r.Context(), actor); err != nil {
			writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleOrgUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, err := a.actor(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	users, err := a.svc.UsersByOrganization(r.Context(), actor.OrganizationID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

type updateUserRequest struct {
	Name *string `json:"name,omitempty"`
	Role *string `json:"role,omitempty"`
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	actor, err := a.actor(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, err := a.svc.User(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if user.OrganizationID != actor.OrganizationID {
			writeError(w, r, http.StatusNotFound, "not found")
			return
		}
		writeJSON(w, http.StatusOK, toUserResponse(user))
	case http.MethodPatch:
		var req updateUserRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		upd := identity.UserUpdate{Name: req.Name}
		if req.Role != nil {
			role, err := identity.ParseRole(*req.Role)
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			upd.Role = &role
		}
		user, err := a.svc.UpdateUser(r.Context(), actor, id, upd)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toUserResponse(user))
	case http.MethodDelete:
		if err := a.svc.DeleteUser(r.Context(), actor, id); err != nil {
			writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}
