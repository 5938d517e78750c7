package docauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Validate authorizes a session token for a protected request.
//
// The token must parse and verify, its identity must still exist, its session
// version must equal the stored one and its role must match the stored role.
// Admin tokens additionally need an allow-listed identity. When roles is
// non-empty the token's role must be one of them.
//
// Failures map to [ErrUnauthenticated], [ErrSessionRevoked] or [ErrForbidden].
func (e *Engine) Validate(ctx context.Context, token string, roles ...Role) (*Claims, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	claims, err := e.validate(ctx, token, roles)
	switch {
	case err == nil:
		e.metrics.Inc(MetricValidateSuccess)
	case errors.Is(err, ErrUnauthenticated):
		e.metrics.Inc(MetricValidateUnauthenticated)
	case errors.Is(err, ErrSessionRevoked):
		e.metrics.Inc(MetricValidateRevoked)
		e.emitAudit(ctx, AuditSessionRevokedUse, claims.Identity, false, err, versionMeta(claims.SessionVersion))
		return nil, err
	case errors.Is(err, ErrForbidden):
		e.metrics.Inc(MetricValidateForbidden)
		e.emitAudit(ctx, AuditForbiddenAccess, claims.Identity, false, err, nil)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// validate returns the decoded claims alongside ErrSessionRevoked and
// ErrForbidden so the caller can audit them.
func (e *Engine) validate(ctx context.Context, token string, roles []Role) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthenticated
	}

	parsed, err := e.jwtManager.Parse(token)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	role := Role(parsed.Role)
	if !role.Valid() {
		return nil, ErrUnauthenticated
	}

	claims := &Claims{
		Identity:       parsed.Subject,
		Role:           role,
		SessionVersion: parsed.SessionVersion,
		TokenID:        parsed.ID,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time
	}

	cred, err := e.store.FindByIdentity(ctx, claims.Identity)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, e.storeError("validate", claims.Identity, err)
	}
	// Tokens are minted with the canonical identity; a token naming the
	// mobile alias was not issued by this engine.
	if cred.Identity != claims.Identity {
		return nil, ErrUnauthenticated
	}

	if cred.SessionVersion != claims.SessionVersion {
		return claims, ErrSessionRevoked
	}
	if !cred.Active || cred.Role != role {
		return claims, ErrForbidden
	}
	if role == RoleAdmin && !e.isAllowListed(claims.Identity) {
		return claims, ErrForbidden
	}
	if len(roles) > 0 && !containsRole(roles, role) {
		return claims, ErrForbidden
	}

	return claims, nil
}

func containsRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Logout revokes every session of the token's owner, including the one
// presented. A token that is already revoked fails with [ErrSessionRevoked].
func (e *Engine) Logout(ctx context.Context, token string) error {
	claims, err := e.Validate(ctx, token)
	if err != nil {
		return err
	}

	version, err := e.bumpSessionVersion(ctx, "logout", claims.Identity)
	if err != nil {
		return err
	}

	e.metrics.Inc(MetricLogout)
	e.emitAudit(ctx, AuditLogout, claims.Identity, true, nil, versionMeta(version))
	return nil
}

// ForceLogout revokes every session of identity. It is an administrative
// operation; callers are expected to have validated an admin token first.
func (e *Engine) ForceLogout(ctx context.Context, identity string) error {
	if err := e.ready(); err != nil {
		return err
	}

	cred, err := e.findCredential(ctx, "force_logout", identity)
	if err != nil {
		e.emitAudit(ctx, AuditForceLogout, identity, false, err, nil)
		return err
	}

	version, err := e.bumpSessionVersion(ctx, "force_logout", cred.Identity)
	if err != nil {
		return err
	}

	e.logger.Info("sessions revoked", zap.String("identity", cred.Identity), zap.Uint64("session_version", version))
	e.metrics.Inc(MetricForceLogout)
	e.emitAudit(ctx, AuditForceLogout, cred.Identity, true, nil, versionMeta(version))
	return nil
}

// findCredential normalizes identity and loads its credential.
func (e *Engine) findCredential(ctx context.Context, op, identity string) (Credential, error) {
	normalized, err := NormalizeIdentity(identity)
	if err != nil {
		return Credential{}, err
	}

	cred, err := e.store.FindByIdentity(ctx, normalized)
	if err != nil {
		return Credential{}, e.storeError(op, normalized, err)
	}
	return cred, nil
}
