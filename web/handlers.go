package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	courierAuth "github.com/MrEthical07/courierAuth"
	"github.com/MrEthical07/courierAuth/cookie"
	"github.com/MrEthical07/courierAuth/middleware"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type signInResponse struct {
	Role                 string `json:"role,omitempty"`
	SecondFactorRequired bool   `json:"secondFactorRequired,omitempty"`
}

type sessionResponse struct {
	DeviceInfo string    `json:"deviceInfo"`
	Location   string    `json:"location,omitempty"`
	IP         string    `json:"ip,omitempty"`
	Status     string    `json:"status"`
	LoggedInAt time.Time `json:"loggedInAt"`
	RotatedAt  time.Time `json:"rotatedAt,omitzero"`
	Live       bool      `json:"live"`
	Current    bool      `json:"current"`
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backupCodes"`
}

// principalID returns the authenticated principal installed by the
// protected route chain.
func principalID(r *http.Request) string {
	if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
		return p.ID
	}
	return ""
}

// signIn handles POST /{role}/auth/sign-in.
func (h *Handler) signIn(role courierAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeJSON[signInRequest](w, r)
		if !ok {
			return
		}
		if req.Email == "" || req.Password == "" {
			h.failSession(w, r, role, courierAuth.ErrInvalidCredentials)
			return
		}
		res, err := h.engine.SignIn(r.Context(), role, req.Email, req.Password, req.Remember)
		if err != nil {
			h.failSession(w, r, role, err)
			return
		}
		h.writeSignIn(w, res)
	}
}

// verifyTOTP handles POST /{role}/auth/2fa/totp.
func (h *Handler) verifyTOTP(role courierAuth.Role) http.HandlerFunc {
	return h.confirmSecondFactor(role, h.engine.VerifyTOTP)
}

// verifyBackupCode handles POST /{role}/auth/2fa/backup-code.
func (h *Handler) verifyBackupCode(role courierAuth.Role) http.HandlerFunc {
	return h.confirmSecondFactor(role, h.engine.VerifyBackupCode)
}

func (h *Handler) confirmSecondFactor(
	role courierAuth.Role,
	verify func(ctx context.Context, role courierAuth.Role, ticket, code string) (*courierAuth.SignInResult, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeJSON[codeRequest](w, r)
		if !ok {
			return
		}
		ticket := h.policy.Read(r, cookie.KindPendingMFA, string(role))
		if ticket == "" {
			h.failSession(w, r, role, courierAuth.ErrMFATicketInvalid)
			return
		}
		res, err := verify(r.Context(), role, ticket, req.Code)
		if err != nil {
			// A malformed or wrong code leaves the ticket usable.
			if isRetryableFactor(err) {
				h.policy.Clear(w, cookie.KindAccess, string(role))
				h.policy.Clear(w, cookie.KindRefresh, string(role))
				h.policy.Clear(w, cookie.KindProtect, string(role))
				h.fail(w, r, err)
				return
			}
			h.failSession(w, r, role, err)
			return
		}
		h.writeSignIn(w, res)
	}
}

func isRetryableFactor(err error) bool {
	return errors.Is(err, courierAuth.ErrTOTPInvalid) ||
		errors.Is(err, courierAuth.ErrTOTPMalformed) ||
		errors.Is(err, courierAuth.ErrBackupCodeInvalid) ||
		errors.Is(err, courierAuth.ErrBackupCodeMalformed)
}

// refresh handles POST /{role}/auth/refresh.
func (h *Handler) refresh(role courierAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := h.policy.Read(r, cookie.KindRefresh, string(role))
		if token == "" {
			h.failSession(w, r, role, courierAuth.ErrUnauthorized)
			return
		}
		res, err := h.engine.Refresh(r.Context(), role, token)
		if err != nil {
			h.failSession(w, r, role, err)
			return
		}
		h.writeSignIn(w, res)
	}
}

// signOut handles POST /{role}/auth/sign-out.
func (h *Handler) signOut(role courierAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		access, _ := middleware.AccessTokenFromContext(r.Context())
		err := h.engine.RemoveASession(r.Context(), role, principalID(r), access)
		h.policy.ClearAll(w, string(role))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// listSessions handles GET /{role}/auth/sessions.
func (h *Handler) listSessions(role courierAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		access, _ := middleware.AccessTokenFromContext(r.Context())
		views, err := h.engine.ListSessions(r.Context(), role, principalID(r), access)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out := make([]sessionResponse, 0, len(views))
		for _, v := range views {
			out = append(out, sessionResponse{
				DeviceInfo: v.DeviceInfo,
				Location:   v.Location,
				IP:         v.IP,
				Status:     string(v.Status),
				LoggedInAt: v.LoggedInAt,
				RotatedAt:  v.RotatedAt,
				Live:       v.Live,
				Current:    v.Current,
			})
		}
		middleware.WriteJSON(w, http.StatusOK, out)
	}
}

// revokeOthers handles POST /{role}/auth/sessions/revoke-others.
func (h *Handler) revokeOthers(role courierAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		access, _ := middleware.AccessTokenFromContext(r.Context())
		removed, err := h.engine.RemoveOtherSessions(r.Context(), role, principalID(r), access)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, struct {
			Removed int64 `json:"removed"`
		}{Removed: removed})
	}
}

// resetSecurity handles POST /{role}/auth/reset-security. Every session ends,
// the caller's included.
func (h *Handler) resetSecurity(role courierAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.engine.ResetSecurity(r.Context(), role, principalID(r)); err != nil {
			h.fail(w, r, err)
			return
		}
		h.policy.ClearAll(w, string(role))
		w.WriteHeader(http.StatusNoContent)
	}
}

// beginTOTPEnrollment handles POST /{role}/auth/2fa/totp/enroll.
func (h *Handler) beginTOTPEnrollment(role courierAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enrollment, err := h.engine.BeginTOTPEnrollment(r.Context(), role, principalID(r))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, struct {
			Secret string `json:"secret"`
			URL    string `json:"url"`
		}{Secret: enrollment.Secret, URL: enrollment.URL})
	}
}

// confirmTOTPEnrollment handles POST /{role}/auth/2fa/totp/confirm.
func (h *Handler) confirmTOTPEnrollment(role courierAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeJSON[codeRequest](w, r)
		if !ok {
			return
		}
		codes, err := h.engine.ConfirmTOTPEnrollment(r.Context(), role, principalID(r), req.Code)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
	}
}

// disableSecondFactor handles POST /{role}/auth/2fa/disable.
func (h *Handler) disableSecondFactor(role courierAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeJSON[codeRequest](w, r)
		if !ok {
			return
		}
		if err := h.engine.DisableSecondFactor(r.Context(), role, principalID(r), req.Code); err != nil {
			h.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// regenerateBackupCodes handles POST /{role}/auth/2fa/backup-codes.
func (h *Handler) regenerateBackupCodes(role courierAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeJSON[codeRequest](w, r)
		if !ok {
			return
		}
		codes, err := h.engine.RegenerateBackupCodes(r.Context(), role, principalID(r), req.Code)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
	}
}
