package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vlog-serverless/internal/observability"
)

func newTestHandler(t *testing.T) (*Handler, *Service) {
	t.Helper()
	service, _ := newTestService(t)
	return NewHandler(service, observability.NewLogger("test"), false, 7*24*time.Hour), service
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) sessionResponse {
	t.Helper()
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandler_RegisterLoginFlow(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t)

	rec := doJSON(t, h.Register, http.MethodPost, "/auth/register",
		`{"email":"vlogger@example.com","username":"vlogger","password":"correct horse battery","display_name":"Vlogger"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	created := decodeSession(t, rec)
	assert.NotEmpty(t, created.AccessToken)
	assert.NotEmpty(t, created.RefreshToken)
	assert.Equal(t, "vlogger", created.User.Username)

	var refreshCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == refreshCookieName {
			refreshCookie = c
		}
	}
	require.NotNil(t, refreshCookie)
	assert.True(t, refreshCookie.HttpOnly)
	assert.Equal(t, created.RefreshToken, refreshCookie.Value)

	rec = doJSON(t, h.Login, http.MethodPost, "/auth/login",
		`{"email":"vlogger@example.com","password":"correct horse battery"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h.Login, http.MethodPost, "/auth/login",
		`{"email":"vlogger@example.com","password":"nope nope nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_RegisterValidation(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t)

	cases := map[string]string{
		"bad email":      `{"email":"nope","username":"vlogger","password":"correct horse battery"}`,
		"bad username":   `{"email":"a@b.co","username":"x","password":"correct horse battery"}`,
		"short password": `{"email":"a@b.co","username":"vlogger","password":"short"}`,
		"unknown field":  `{"email":"a@b.co","username":"vlogger","password":"correct horse battery","admin":true}`,
	}
	for name, body := range cases {
		rec := doJSON(t, h.Register, http.MethodPost, "/auth/register", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestHandler_RefreshRotatesAndRejectsReplay(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t)

	rec := doJSON(t, h.Register, http.MethodPost, "/auth/register",
		`{"email":"vlogger@example.com","username":"vlogger","password":"correct horse battery"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decodeSession(t, rec)

	rec = doJSON(t, h.Refresh, http.MethodPost, "/auth/refresh",
		`{"refresh_token":"`+first.RefreshToken+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var second Tokens
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// Replaying the first token: the client only ever sees the generic
	// re-login message regardless of what the protocol detected.
	rec = doJSON(t, h.Refresh, http.MethodPost, "/auth/refresh",
		`{"refresh_token":"`+first.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), loginAgainMessage)

	rec = doJSON(t, h.Refresh, http.MethodPost, "/auth/refresh",
		`{"refresh_token":"`+second.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), loginAgainMessage)
}

func TestHandler_RefreshFromCookie(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t)

	rec := doJSON(t, h.Register, http.MethodPost, "/auth/register",
		`{"email":"vlogger@example.com","username":"vlogger","password":"correct horse battery"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeSession(t, rec)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader(`{}`))
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: created.RefreshToken})
	res := httptest.NewRecorder()
	h.Refresh(res, req)

	assert.Equal(t, http.StatusOK, res.Code)
}

func TestHandler_LogoutClearsCookieAndIsIdempotent(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t)

	rec := doJSON(t, h.Register, http.MethodPost, "/auth/register",
		`{"email":"vlogger@example.com","username":"vlogger","password":"correct horse battery"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeSession(t, rec)

	rec = doJSON(t, h.Logout, http.MethodPost, "/auth/logout",
		`{"refresh_token":"`+created.RefreshToken+`"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	var cleared *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == refreshCookieName {
			cleared = c
		}
	}
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)

	rec = doJSON(t, h.Logout, http.MethodPost, "/auth/logout",
		`{"refresh_token":"`+created.RefreshToken+`"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandler_RefreshMissingToken(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t)

	rec := doJSON(t, h.Refresh, http.MethodPost, "/auth/refresh", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
