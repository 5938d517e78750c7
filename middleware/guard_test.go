package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrEthical07/docauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubValidator struct {
	claims *docauth.Claims
	err    error

	gotToken string
	gotRoles []docauth.Role
}

func (s *stubValidator) Validate(_ context.Context, token string, roles ...docauth.Role) (*docauth.Claims, error) {
	s.gotToken = token
	s.gotRoles = roles
	return s.claims, s.err
}

func serve(t *testing.T, h http.Handler, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func TestGuardStoresClaims(t *testing.T) {
	v := &stubValidator{claims: &docauth.Claims{Identity: "a@x.io", Role: docauth.RoleUser}}

	var seen *docauth.Claims
	var seenToken string
	h := Guard(v, docauth.RoleUser)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		seenToken, _ = TokenFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := serve(t, h, "Bearer tok-123")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "a@x.io", seen.Identity)
	assert.Equal(t, "tok-123", seenToken)
	assert.Equal(t, "tok-123", v.gotToken)
	assert.Equal(t, []docauth.Role{docauth.RoleUser}, v.gotRoles)
}

func TestGuardRejectsMissingOrMalformedHeader(t *testing.T) {
	v := &stubValidator{claims: &docauth.Claims{}}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer"} {
		rec := serve(t, Guard(v)(next), header)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
		assert.Equal(t, docauth.ErrUnauthenticated.Error(), errorKind(t, rec))
	}
}

func TestGuardAcceptsLowercaseScheme(t *testing.T) {
	v := &stubValidator{claims: &docauth.Claims{}}
	h := Guard(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := serve(t, h, "bearer abc")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", v.gotToken)
}

func TestGuardMapsValidationErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{docauth.ErrUnauthenticated, http.StatusUnauthorized, docauth.ErrUnauthenticated.Error()},
		{docauth.ErrSessionRevoked, http.StatusUnauthorized, docauth.ErrSessionRevoked.Error()},
		{docauth.ErrForbidden, http.StatusForbidden, docauth.ErrForbidden.Error()},
		{fmt.Errorf("%w: redis down", docauth.ErrUnavailable), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		v := &stubValidator{err: tt.err}
		rec := serve(t, RequireAdmin(v)(http.NotFoundHandler()), "Bearer x")
		assert.Equal(t, tt.status, rec.Code)
		assert.Equal(t, tt.kind, errorKind(t, rec))
		assert.Equal(t, []docauth.Role{docauth.RoleAdmin}, v.gotRoles)
	}
}

func TestGuardNilValidator(t *testing.T) {
	rec := serve(t, Guard(nil)(http.NotFoundHandler()), "Bearer x")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(docauth.ErrRateLimited))
	assert.Equal(t, http.StatusGone, StatusCode(docauth.ErrExpired))
	assert.Equal(t, http.StatusConflict, StatusCode(docauth.ErrConflict))
	assert.Equal(t, http.StatusBadRequest, StatusCode(docauth.ErrInvalidCode))
	assert.Equal(t, http.StatusBadGateway, StatusCode(docauth.ErrDeliveryFailed))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("boom")))
}

func TestClientIP(t *testing.T) {
	var got string
	h := ClientIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = docauth.ClientIPFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:52311"
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "198.51.100.4", got)
}
