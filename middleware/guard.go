package middleware

import (
	"context"
	"net"
	"net/http"
	"slices"
	"strings"

	courierAuth "github.com/MrEthical07/courierAuth"
	"github.com/MrEthical07/courierAuth/cookie"
	"github.com/MrEthical07/courierAuth/jwt"
)

// ProtectHeader carries the protect token on state-changing requests.
const ProtectHeader = "X-Protect-Token"

type claimsContextKey struct{}
type accessTokenContextKey struct{}
type principalContextKey struct{}

// ClaimsFromContext returns the access claims installed by [ValidateToken].
func ClaimsFromContext(ctx context.Context) (*jwt.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*jwt.AccessClaims)
	return claims, ok
}

// AccessTokenFromContext returns the raw access token installed by
// [ValidateToken].
func AccessTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(accessTokenContextKey{}).(string)
	return token, ok && token != ""
}

// PrincipalFromContext returns the principal snapshot installed by
// [RequireAuth].
func PrincipalFromContext(ctx context.Context) (*courierAuth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*courierAuth.Principal)
	return p, ok
}

// ClientContext installs the client IP and user agent the engine uses for
// device binding, rate limiting and session records. Mount it before any
// other middleware of this package.
func ClientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := courierAuth.WithClientIP(r.Context(), remoteIP(r.RemoteAddr))
		ctx = courierAuth.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// ValidateToken decodes the role's access cookie (or a bearer token), checks
// signature, expiry and device binding, and stores the claims in the request
// context. It does not consult the session index; see [RequireAuth].
func ValidateToken(engine *courierAuth.Engine, policy cookie.Policy, role courierAuth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, courierAuth.ErrEngineNotReady)
				return
			}

			token := policy.Read(r, cookie.KindAccess, string(role))
			if token == "" {
				var ok bool
				if token, ok = bearerToken(r.Header.Get("Authorization")); !ok {
					WriteError(w, courierAuth.ErrUnauthorized)
					return
				}
			}

			claims, err := engine.ValidateToken(r.Context(), token)
			if err != nil {
				WriteError(w, courierAuth.ErrUnauthorized)
				return
			}
			if claims.Role != string(role) {
				WriteError(w, courierAuth.ErrUnauthorized)
				return
			}
			if engine.DeviceBindingEnabled() && engine.CheckTokenSignature(r.Context(), claims.Binding) {
				WriteError(w, courierAuth.ErrUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			ctx = context.WithValue(ctx, accessTokenContextKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth requires the validated access token to be a live session and
// stores the principal snapshot in the request context.
func RequireAuth(engine *courierAuth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok || engine == nil {
				WriteError(w, courierAuth.ErrUnauthorized)
				return
			}
			token, _ := AccessTokenFromContext(r.Context())

			p, err := engine.CheckSession(r.Context(), claims, token)
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RestrictTo admits only principals of the listed roles.
func RestrictTo(roles ...courierAuth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var role courierAuth.Role
			if p, ok := PrincipalFromContext(r.Context()); ok {
				role = p.Role
			} else if claims, ok := ClaimsFromContext(r.Context()); ok {
				role = courierAuth.Role(claims.Role)
			} else {
				WriteError(w, courierAuth.ErrUnauthorized)
				return
			}
			if !slices.Contains(roles, role) {
				WriteError(w, courierAuth.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireProtect is the double-submit check for state-changing requests:
// the protect token sent in [ProtectHeader] must match the protect cookie
// when one is present and must be linked to the request's access token. Safe
// methods pass through.
func RequireProtect(engine *courierAuth.Engine, policy cookie.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			claims, ok := ClaimsFromContext(r.Context())
			if !ok || engine == nil {
				WriteError(w, courierAuth.ErrUnauthorized)
				return
			}
			access, _ := AccessTokenFromContext(r.Context())

			header := r.Header.Get(ProtectHeader)
			if header == "" {
				WriteError(w, courierAuth.ErrProtectMismatch)
				return
			}
			if c := policy.Read(r, cookie.KindProtect, claims.Role); c != "" && c != header {
				WriteError(w, courierAuth.ErrProtectMismatch)
				return
			}
			if err := engine.VerifyProtect(r.Context(), access, header); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
