package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	courierAuth "github.com/MrEthical07/courierAuth"
	"github.com/MrEthical07/courierAuth/middleware"
)

type passkeyRegisterFinishRequest struct {
	Label    string          `json:"label"`
	Response json.RawMessage `json:"response"`
}

type passkeyLoginBeginRequest struct {
	Email string `json:"email"`
}

type passkeyLoginFinishRequest struct {
	Email    string          `json:"email"`
	Remember bool            `json:"remember"`
	Response json.RawMessage `json:"response"`
}

type passkeyResponse struct {
	CredentialID string    `json:"credentialId"`
	DeviceType   string    `json:"deviceType"`
	DeviceLabel  string    `json:"deviceLabel,omitempty"`
	BackedUp     bool      `json:"backedUp"`
	CreatedAt    time.Time `json:"createdAt"`
	LastUsedAt   time.Time `json:"lastUsedAt,omitzero"`
}

func toPasskeyResponse(c courierAuth.PasskeyCredential) passkeyResponse {
	return passkeyResponse{
		CredentialID: c.CredentialID,
		DeviceType:   c.DeviceType,
		DeviceLabel:  c.DeviceLabel,
		BackedUp:     c.BackedUp,
		CreatedAt:    c.CreatedAt,
		LastUsedAt:   c.LastUsedAt,
	}
}

// beginPasskeyRegistration handles POST /{role}/auth/passkeys/register/begin.
func (h *Handler) beginPasskeyRegistration(role courierAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creation, err := h.engine.BeginPasskeyRegistration(r.Context(), role, principalID(r))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, creation)
	}
}

// finishPasskeyRegistration handles POST /{role}/auth/passkeys/register/finish.
// The request origin is checked against the configured relying-party
// origins.
func (h *Handler) finishPasskeyRegistration(role courierAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeJSON[passkeyRegisterFinishRequest](w, r)
		if !ok {
			return
		}
		if len(req.Response) == 0 {
			h.fail(w, r, courierAuth.ErrPasskeyMalformed)
			return
		}
		cred, err := h.engine.FinishPasskeyRegistration(r.Context(), role, principalID(r), req.Response, r.Header.Get("Origin"), req.Label)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusCreated, toPasskeyResponse(*cred))
	}
}

// beginPasskeyLogin handles POST /{role}/auth/passkeys/login/begin.
func (h *Handler) beginPasskeyLogin(role courierAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeJSON[passkeyLoginBeginRequest](w, r)
		if !ok {
			return
		}
		assertion, err := h.engine.BeginPasskeyLogin(r.Context(), role, req.Email)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, assertion)
	}
}

// finishPasskeyLogin handles POST /{role}/auth/passkeys/login/finish.
func (h *Handler) finishPasskeyLogin(role courierAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeJSON[passkeyLoginFinishRequest](w, r)
		if !ok {
			return
		}
		if len(req.Response) == 0 {
			h.failSession(w, r, role, courierAuth.ErrPasskeyMalformed)
			return
		}
		res, err := h.engine.FinishPasskeyLogin(r.Context(), role, req.Email, req.Response, req.Remember)
		if err != nil {
			h.failSession(w, r, role, err)
			return
		}
		h.writeSignIn(w, res)
	}
}

// listPasskeys handles GET /{role}/auth/passkeys.
func (h *Handler) listPasskeys(role courierAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds, err := h.engine.ListPasskeys(r.Context(), role, principalID(r))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out := make([]passkeyResponse, 0, len(creds))
		for _, c := range creds {
			out = append(out, toPasskeyResponse(c))
		}
		middleware.WriteJSON(w, http.StatusOK, out)
	}
}

// removePasskey handles DELETE /{role}/auth/passkeys/{credentialID}.
func (h *Handler) removePasskey(role courierAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remaining, err := h.engine.RemovePasskey(r.Context(), role, principalID(r), chi.URLParam(r, "credentialID"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, struct {
			Remaining int `json:"remaining"`
		}{Remaining: remaining})
	}
}
