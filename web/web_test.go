package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	courierAuth "github.com/MrEthical07/courierAuth"
	"github.com/MrEthical07/courierAuth/account"
	"github.com/MrEthical07/courierAuth/middleware"
	"github.com/MrEthical07/courierAuth/storage/boltdb"
	"github.com/MrEthical07/courierAuth/web"
)

const (
	password  = "parcel-route-42"
	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
)

type harness struct {
	engine  *courierAuth.Engine
	store   *boltdb.Store
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store, err := boltdb.OpenFile(filepath.Join(t.TempDir(), "principals.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := courierAuth.DefaultConfig()
	cfg.MasterKey = []byte("web-test-master-key-0123456789abcdefghij")
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("web-test-hs256-signing-key-0123456789abc")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := courierAuth.New().WithConfig(cfg).WithRedis(rdb).WithLogger(logger)
	for _, role := range []courierAuth.Role{courierAuth.RoleUser, courierAuth.RoleAgent} {
		b.WithPrincipalStore(role, store.Principals(role))
	}
	engine, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return &harness{
		engine:  engine,
		store:   store,
		handler: web.New(engine, web.WithLogger(logger)).Router(),
	}
}

func (h *harness) addPrincipal(t *testing.T, role courierAuth.Role, id, email string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, h.store.Principals(role).Create(context.Background(), &account.Principal{
		ID:           id,
		Email:        email,
		PasswordHash: string(hash),
		Verified:     true,
	}))
}

// browser keeps cookies across requests the way a client would, ignoring
// the Secure attribute.
type browser struct {
	t       *testing.T
	h       *harness
	cookies map[string]string
}

func (h *harness) browser(t *testing.T) *browser {
	return &browser{t: t, h: h, cookies: map[string]string{}}
}

func (b *browser) do(method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	b.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(b.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("User-Agent", userAgent)
	for k, v := range header {
		req.Header[k] = v
	}
	for name, value := range b.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	rec := httptest.NewRecorder()
	b.h.handler.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c.Value
	}
	return rec
}

func (b *browser) protected() http.Header {
	return http.Header{middleware.ProtectHeader: {b.cookies["user_protect_token"]}}
}

func signInBody(email string) map[string]any {
	return map[string]any{"email": email, "password": password}
}

func TestSignInRefreshAndSignOut(t *testing.T) {
	h := newHarness(t)
	h.addPrincipal(t, courierAuth.RoleUser, "u1", "rider@courier.example")
	b := h.browser(t)

	rec := b.do(http.MethodPost, "/user/auth/sign-in", signInBody("rider@courier.example"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), b.cookies["user_access_token"])
	for _, name := range []string{"user_access_token", "user_refresh_token", "user_protect_token"} {
		assert.NotEmpty(t, b.cookies[name], name)
	}

	rec = b.do(http.MethodGet, "/user/auth/sessions", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sessions []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, true, sessions[0]["current"])

	before := b.cookies["user_access_token"]
	rec = b.do(http.MethodPost, "/user/auth/refresh", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEqual(t, before, b.cookies["user_access_token"])

	rec = b.do(http.MethodPost, "/user/auth/sign-out", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "sign-out without protect header")

	rec = b.do(http.MethodPost, "/user/auth/sign-out", nil, b.protected())
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.Empty(t, b.cookies)

	rec = b.do(http.MethodGet, "/user/auth/sessions", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignInFailureClearsCookies(t *testing.T) {
	h := newHarness(t)
	b := h.browser(t)
	b.cookies["user_access_token"] = "stale"

	rec := b.do(http.MethodPost, "/user/auth/sign-in", map[string]any{"email": "ghost@courier.example", "password": "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, b.cookies)

	var body middleware.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body.Code)
}

func TestMalformedBodyRejected(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/user/auth/sign-in", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnregisteredRoleHasNoRoutes(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/admin/auth/sign-in", bytes.NewBufferString("{}"))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSecondFactorOverHTTP(t *testing.T) {
	h := newHarness(t)
	h.addPrincipal(t, courierAuth.RoleUser, "u1", "rider@courier.example")
	ctx := context.Background()
	enrollment, err := h.engine.BeginTOTPEnrollment(ctx, courierAuth.RoleUser, "u1")
	require.NoError(t, err)
	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	_, err = h.engine.ConfirmTOTPEnrollment(ctx, courierAuth.RoleUser, "u1", code)
	require.NoError(t, err)

	b := h.browser(t)
	rec := b.do(http.MethodPost, "/user/auth/sign-in", signInBody("rider@courier.example"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"secondFactorRequired":true`)
	assert.NotEmpty(t, b.cookies["user_mfa_ticket"])
	assert.Empty(t, b.cookies["user_access_token"])

	rec = b.do(http.MethodPost, "/user/auth/2fa/totp", map[string]any{"code": "12ab"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, b.cookies["user_mfa_ticket"], "malformed code keeps the ticket")

	next, err := totp.GenerateCode(enrollment.Secret, time.Now().Add(30*time.Second))
	require.NoError(t, err)
	rec = b.do(http.MethodPost, "/user/auth/2fa/totp", map[string]any{"code": next}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, b.cookies["user_access_token"])
	assert.Empty(t, b.cookies["user_mfa_ticket"])

	rec = b.do(http.MethodGet, "/user/auth/sessions", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecondFactorWithoutTicket(t *testing.T) {
	h := newHarness(t)
	b := h.browser(t)
	rec := b.do(http.MethodPost, "/user/auth/2fa/backup-code", map[string]any{"code": "AAAA-BBBB-CCCC"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCookiesAreRoleScoped(t *testing.T) {
	h := newHarness(t)
	h.addPrincipal(t, courierAuth.RoleAgent, "a1", "agent@courier.example")
	b := h.browser(t)

	rec := b.do(http.MethodPost, "/agent/auth/sign-in", signInBody("agent@courier.example"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	agentAccess := b.cookies["agent_access_token"]
	require.NotEmpty(t, agentAccess)

	rec = b.do(http.MethodGet, "/user/auth/sessions", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = b.do(http.MethodGet, "/user/auth/sessions", nil, http.Header{"Authorization": {"Bearer " + agentAccess}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "agent token on user routes")

	rec = b.do(http.MethodGet, "/agent/auth/sessions", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshRejectionsShareOneResponse(t *testing.T) {
	h := newHarness(t)
	h.addPrincipal(t, courierAuth.RoleUser, "u1", "rider@courier.example")
	b := h.browser(t)

	rec := b.do(http.MethodPost, "/user/auth/sign-in", signInBody("rider@courier.example"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	retired := b.cookies["user_refresh_token"]
	rec = b.do(http.MethodPost, "/user/auth/refresh", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	current := b.cookies["user_refresh_token"]

	firefox := http.Header{"User-Agent": {"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:128.0) Gecko/20100101 Firefox/128.0"}}
	attempts := []struct {
		name    string
		refresh string
		header  http.Header
	}{
		{"retired token", retired, nil},
		{"other browser", current, firefox},
		{"garbage cookie", "garbage", nil},
	}

	var bodies []string
	for _, a := range attempts {
		c := h.browser(t)
		c.cookies["user_refresh_token"] = a.refresh
		rec := c.do(http.MethodPost, "/user/auth/refresh", nil, a.header)
		require.Equal(t, http.StatusUnauthorized, rec.Code, a.name)
		assert.Empty(t, c.cookies, a.name)
		bodies = append(bodies, rec.Body.String())
	}
	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, bodies[0], bodies[2])

	var body middleware.ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(bodies[0]), &body))
	assert.Equal(t, middleware.ErrorResponse{Error: "unauthorized", Code: "unauthorized"}, body)

	rec = b.do(http.MethodPost, "/user/auth/refresh", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "the live lineage survives rejected attempts")
}

func TestForeignRoleCookiesLeaveSessionUsable(t *testing.T) {
	h := newHarness(t)
	h.addPrincipal(t, courierAuth.RoleAgent, "a1", "agent@courier.example")
	b := h.browser(t)

	rec := b.do(http.MethodPost, "/agent/auth/sign-in", signInBody("agent@courier.example"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	c := h.browser(t)
	c.cookies["user_refresh_token"] = b.cookies["agent_refresh_token"]
	rec = c.do(http.MethodPost, "/user/auth/refresh", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = b.do(http.MethodGet, "/agent/auth/sessions", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "access token still live")
	rec = b.do(http.MethodPost, "/agent/auth/refresh", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestForeignRoleTicketIsNotConsumed(t *testing.T) {
	h := newHarness(t)
	h.addPrincipal(t, courierAuth.RoleAgent, "a1", "agent@courier.example")
	ctx := context.Background()
	enrollment, err := h.engine.BeginTOTPEnrollment(ctx, courierAuth.RoleAgent, "a1")
	require.NoError(t, err)
	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	_, err = h.engine.ConfirmTOTPEnrollment(ctx, courierAuth.RoleAgent, "a1", code)
	require.NoError(t, err)

	b := h.browser(t)
	rec := b.do(http.MethodPost, "/agent/auth/sign-in", signInBody("agent@courier.example"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ticket := b.cookies["agent_mfa_ticket"]
	require.NotEmpty(t, ticket)

	next, err := totp.GenerateCode(enrollment.Secret, time.Now().Add(30*time.Second))
	require.NoError(t, err)

	c := h.browser(t)
	c.cookies["user_mfa_ticket"] = ticket
	rec = c.do(http.MethodPost, "/user/auth/2fa/totp", map[string]any{"code": next}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, c.cookies["user_access_token"])

	rec = b.do(http.MethodPost, "/agent/auth/2fa/totp", map[string]any{"code": next}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, b.cookies["agent_access_token"])
}
