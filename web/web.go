// Package web mounts the courier authentication HTTP API on a chi router.
//
// Every role registered on the engine gets its own subtree under
// /{role}/auth. Tokens travel in role-scoped cookies issued by the engine's
// cookie policy; responses never carry tokens in the body.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	courierAuth "github.com/MrEthical07/courierAuth"
	"github.com/MrEthical07/courierAuth/cookie"
	"github.com/MrEthical07/courierAuth/middleware"
)

const maxBodySize = 64 << 10

// Handler serves the authentication routes.
type Handler struct {
	engine *courierAuth.Engine
	policy cookie.Policy
	logger *slog.Logger
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the logger used for internal failures.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithCookiePolicy overrides the policy taken from the engine.
func WithCookiePolicy(policy cookie.Policy) Option {
	return func(h *Handler) {
		h.policy = policy
	}
}

// New creates a Handler over engine.
func New(engine *courierAuth.Engine, opts ...Option) *Handler {
	h := &Handler{
		engine: engine,
		policy: engine.CookiePolicy(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Router returns a chi.Router with every role's routes mounted.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.ClientContext)

	for _, role := range h.engine.Roles() {
		r.Route("/"+string(role)+"/auth", func(r chi.Router) {
			h.mountRole(r, role)
		})
	}
	return r
}

func (h *Handler) mountRole(r chi.Router, role courierAuth.Role) {
	r.Post("/sign-in", h.signIn(role))
	r.Post("/2fa/totp", h.verifyTOTP(role))
	r.Post("/2fa/backup-code", h.verifyBackupCode(role))
	r.Post("/refresh", h.refresh(role))
	r.Post("/passkeys/login/begin", h.beginPasskeyLogin(role))
	r.Post("/passkeys/login/finish", h.finishPasskeyLogin(role))

	r.Group(func(r chi.Router) {
		r.Use(middleware.ValidateToken(h.engine, h.policy, role))
		r.Use(middleware.RequireAuth(h.engine))
		r.Use(middleware.RestrictTo(role))
		r.Use(middleware.RequireProtect(h.engine, h.policy))

		r.Post("/sign-out", h.signOut(role))
		r.Get("/sessions", h.listSessions(role))
		r.Post("/sessions/revoke-others", h.revokeOthers(role))
		r.Post("/reset-security", h.resetSecurity(role))

		r.Post("/2fa/totp/enroll", h.beginTOTPEnrollment(role))
		r.Post("/2fa/totp/confirm", h.confirmTOTPEnrollment(role))
		r.Post("/2fa/disable", h.disableSecondFactor(role))
		r.Post("/2fa/backup-codes", h.regenerateBackupCodes(role))

		r.Post("/passkeys/register/begin", h.beginPasskeyRegistration(role))
		r.Post("/passkeys/register/finish", h.finishPasskeyRegistration(role))
		r.Get("/passkeys", h.listPasskeys(role))
		r.Delete("/passkeys/{credentialID}", h.removePasskey(role))
	})
}

// decodeJSON reads a bounded JSON body into T and writes a 400 on failure.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, middleware.ErrorResponse{
			Error: "invalid request body",
			Code:  courierAuth.KindBadRequest.String(),
		})
		return v, false
	}
	return v, true
}

// fail writes err, logging it first when it is not a classified failure.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if courierAuth.KindOf(err) == courierAuth.KindInternal && !errors.Is(err, r.Context().Err()) {
		h.logger.Error("auth request failed", "path", r.URL.Path, "error", err)
	}
	middleware.WriteError(w, err)
}

// failSession is fail for session-establishing routes: the role's cookies
// are cleared first.
func (h *Handler) failSession(w http.ResponseWriter, r *http.Request, role courierAuth.Role, err error) {
	h.policy.ClearAll(w, string(role))
	h.fail(w, r, err)
}

// writeSignIn delivers a session-establishing result as cookies.
func (h *Handler) writeSignIn(w http.ResponseWriter, res *courierAuth.SignInResult) {
	role := string(res.Role)
	if res.SecondFactorRequired {
		h.policy.Clear(w, cookie.KindAccess, role)
		h.policy.Clear(w, cookie.KindRefresh, role)
		h.policy.Clear(w, cookie.KindProtect, role)
		h.policy.Set(w, cookie.KindPendingMFA, role, res.Ticket, false)
		middleware.WriteJSON(w, http.StatusOK, signInResponse{SecondFactorRequired: true})
		return
	}
	h.policy.Set(w, cookie.KindAccess, role, res.Tokens.Access, res.Remember)
	h.policy.Set(w, cookie.KindRefresh, role, res.Tokens.Refresh, res.Remember)
	h.policy.Set(w, cookie.KindProtect, role, res.Tokens.Protect, res.Remember)
	h.policy.Clear(w, cookie.KindPendingMFA, role)
	middleware.WriteJSON(w, http.StatusOK, signInResponse{Role: role})
}
