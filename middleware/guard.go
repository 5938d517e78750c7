package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/docauth"
)

// Validator is the part of *docauth.Engine the guards need.
type Validator interface {
	Validate(ctx context.Context, token string, roles ...docauth.Role) (*docauth.Claims, error)
}

type claimsContextKey struct{}
type tokenContextKey struct{}

// ClaimsFromContext returns the claims stored by [Guard].
func ClaimsFromContext(ctx context.Context) (*docauth.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*docauth.Claims)
	return claims, ok
}

// TokenFromContext returns the raw bearer token accepted by [Guard], for
// handlers such as logout that pass it back to the engine.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey{}).(string)
	return token, ok
}

// Guard rejects requests without a valid session token. With roles, the
// token's role must be one of them.
func Guard(v Validator, roles ...docauth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				WriteError(w, docauth.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, docauth.ErrUnauthenticated)
				return
			}

			claims, err := v.Validate(r.Context(), token, roles...)
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			ctx = context.WithValue(ctx, tokenContextKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin is Guard for admin-only routes.
func RequireAdmin(v Validator) func(http.Handler) http.Handler {
	return Guard(v, docauth.RoleAdmin)
}

// ClientIP stores the request's remote address in the context. Put it after
// a proxy-aware middleware (such as chi's RealIP) when running behind one.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(docauth.WithClientIP(r.Context(), ip)))
	})
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

// StatusCode maps an engine error kind to an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, docauth.ErrUnauthenticated),
		errors.Is(err, docauth.ErrSessionRevoked),
		errors.Is(err, docauth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, docauth.ErrForbidden),
		errors.Is(err, docauth.ErrAccountDisabled):
		return http.StatusForbidden
	case errors.Is(err, docauth.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, docauth.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, docauth.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, docauth.ErrExpired):
		return http.StatusGone
	case errors.Is(err, docauth.ErrInvalidCode),
		errors.Is(err, docauth.ErrTooManyAttempts),
		errors.Is(err, docauth.ErrMismatch),
		errors.Is(err, docauth.ErrPasswordPolicy),
		errors.Is(err, docauth.ErrInvalidEmail),
		errors.Is(err, docauth.ErrInvalidIdentity):
		return http.StatusBadRequest
	case errors.Is(err, docauth.ErrDeliveryFailed):
		return http.StatusBadGateway
	case errors.Is(err, docauth.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// WriteError writes err as a JSON body with the status from [StatusCode].
// Internal failures are reported as "internal" with no detail.
func WriteError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusCode(err))
	_ = json.NewEncoder(w).Encode(errorBody{Error: docauth.ErrorKind(err)})
}
