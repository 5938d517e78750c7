package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/MrEthical07/docauth"
	"github.com/MrEthical07/docauth/middleware"
)

const maxBodyBytes = 64 << 10

type api struct {
	engine *docauth.Engine
	logger *zap.Logger
}

type sessionResponse struct {
	Token     string    `json:"token"`
	Identity  string    `json:"identity"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

type claimsResponse struct {
	Identity  string    `json:"identity"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// newRouter mounts one route per engine operation. metrics may be nil.
func newRouter(engine *docauth.Engine, logger *zap.Logger, metricsPath string, metrics http.Handler) chi.Router {
	a := &api{engine: engine, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.ClientIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		r.Handle(metricsPath, metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/otp", a.requestOTP)
		r.Post("/otp/verify", a.verifyOTP)
		r.Post("/accounts", a.register)
		r.Post("/sessions", a.login)
		r.Post("/password/reset", a.resetPassword)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(engine))
			r.Get("/session", a.currentSession)
			r.Delete("/session", a.logout)
		})

		r.Route("/admin/accounts/{identity}", func(r chi.Router) {
			r.Use(middleware.RequireAdmin(engine))
			r.Delete("/", a.deleteAccount)
			r.Post("/logout", a.forceLogout)
			r.Post("/disable", a.setActive(false))
			r.Post("/enable", a.setActive(true))
			r.Put("/password", a.adminSetPassword)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "endpoint_not_found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
	})

	return r
}

func (a *api) requestOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.engine.RequestOTP(r.Context(), req.Email); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	token, err := a.engine.VerifyOTP(r.Context(), req.Email, req.Code)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"verification_token": token})
}

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email             string `json:"email"`
		Mobile            string `json:"mobile"`
		Password          string `json:"password"`
		VerificationToken string `json:"verification_token"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	sess, err := a.engine.Register(r.Context(), docauth.RegisterInput{
		Email:             req.Email,
		Mobile:            req.Mobile,
		Password:          req.Password,
		VerificationToken: req.VerificationToken,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
		Password string `json:"password"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	sess, err := a.engine.Login(r.Context(), req.Identity, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (a *api) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email             string `json:"email"`
		Password          string `json:"password"`
		VerificationToken string `json:"verification_token"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.engine.ResetPassword(r.Context(), req.Email, req.Password, req.VerificationToken); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) currentSession(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, claimsResponse{
		Identity:  claims.Identity,
		Role:      string(claims.Role),
		ExpiresAt: claims.ExpiresAt,
	})
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.TokenFromContext(r.Context())
	if err := a.engine.Logout(r.Context(), token); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) forceLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.ForceLogout(r.Context(), chi.URLParam(r, "identity")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.engine.SetActive(r.Context(), chi.URLParam(r, "identity"), active); err != nil {
			middleware.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *api) adminSetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.engine.AdminSetPassword(r.Context(), chi.URLParam(r, "identity"), req.Password); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) deleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.DeleteAccount(r.Context(), chi.URLParam(r, "identity")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a single JSON object. Unknown fields are rejected.
func (a *api) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		a.logger.Debug("rejecting request body", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return false
	}
	return true
}

func toSessionResponse(s *docauth.Session) sessionResponse {
	return sessionResponse{
		Token:     s.Token,
		Identity:  s.Identity,
		Role:      string(s.Role),
		ExpiresAt: s.ExpiresAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// requestLogger logs one line per request. Bodies and headers are never
// logged since they carry passwords, codes and tokens.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("request_id", chimw.GetReqID(r.Context())),
					zap.Int("status", ww.Status()),
					zap.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
