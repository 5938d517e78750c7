package docauth

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"
)

// Register creates a user credential for a verified email and signs the
// caller in. The verification token is spent only after the identity and
// password have been accepted, so a rejected request can be retried with the
// same token.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	var mobile string
	if in.Mobile != "" {
		if mobile, err = NormalizeMobile(in.Mobile); err != nil {
			return nil, err
		}
	}

	hash, err := e.hashPassword("register", email, in.Password)
	if err != nil {
		e.emitAudit(ctx, AuditRegister, email, false, err, nil)
		return nil, err
	}

	for _, key := range []string{email, mobile} {
		if key == "" {
			continue
		}
		if err := e.ensureUnused(ctx, key); err != nil {
			if errors.Is(err, ErrConflict) {
				e.metrics.Inc(MetricRegisterConflict)
			}
			e.emitAudit(ctx, AuditRegister, email, false, err, nil)
			return nil, err
		}
	}

	if err := e.consumeVerification(ctx, "register", in.VerificationToken, email); err != nil {
		e.emitAudit(ctx, AuditRegister, email, false, err, nil)
		return nil, err
	}

	now := e.clock.Now().UTC()
	cred, err := e.store.Create(ctx, Credential{
		Identity:       email,
		Email:          email,
		Mobile:         mobile,
		PasswordHash:   hash,
		Role:           RoleUser,
		SessionVersion: initialSessionVersion,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		err = e.storeError("register", email, err)
		if errors.Is(err, ErrConflict) {
			// Lost a race with a concurrent registration; the token was
			// not the reason for the rejection.
			e.metrics.Inc(MetricRegisterConflict)
			e.restoreVerification(ctx, in.VerificationToken, email)
		}
		e.emitAudit(ctx, AuditRegister, email, false, err, nil)
		return nil, err
	}

	session, err := e.issueSession(cred)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricRegisterSuccess)
	e.emitAudit(ctx, AuditRegister, cred.Identity, true, nil, versionMeta(cred.SessionVersion))
	return session, nil
}

func (e *Engine) ensureUnused(ctx context.Context, identity string) error {
	_, err := e.store.FindByIdentity(ctx, identity)
	switch {
	case err == nil:
		return ErrConflict
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return e.storeError("register", identity, err)
	}
}

// ResetPassword replaces the password of the account registered under email
// and revokes all of its sessions. The caller must sign in again.
func (e *Engine) ResetPassword(ctx context.Context, email, newPassword, verificationToken string) error {
	if err := e.ready(); err != nil {
		return err
	}

	normalized, err := NormalizeEmail(email)
	if err != nil {
		return err
	}

	hash, err := e.hashPassword("reset_password", normalized, newPassword)
	if err != nil {
		e.emitAudit(ctx, AuditPasswordReset, normalized, false, err, nil)
		return err
	}

	cred, err := e.store.FindByIdentity(ctx, normalized)
	if err != nil {
		err = e.storeError("reset_password", normalized, err)
		e.emitAudit(ctx, AuditPasswordReset, normalized, false, err, nil)
		return err
	}

	if err := e.consumeVerification(ctx, "reset_password", verificationToken, normalized); err != nil {
		e.emitAudit(ctx, AuditPasswordReset, cred.Identity, false, err, nil)
		return err
	}

	if err := e.store.UpdatePasswordHash(ctx, cred.Identity, hash); err != nil {
		return e.storeError("reset_password", cred.Identity, err)
	}
	version, err := e.bumpSessionVersion(ctx, "reset_password", cred.Identity)
	if err != nil {
		return err
	}

	if e.loginLimiter != nil {
		if err := e.loginLimiter.Reset(ctx, cred.Identity); err != nil {
			e.logger.Warn("reset login throttle", zap.String("identity", cred.Identity), zap.Error(err))
		}
	}

	e.metrics.Inc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, AuditPasswordReset, cred.Identity, true, nil, versionMeta(version))
	return nil
}

// Login checks identity (an email or mobile number) and password and issues a
// session stamped with the credential's current session version.
//
// Unknown identities and wrong passwords both return
// [ErrInvalidCredentials] after the same amount of hashing work. A disabled
// account is only reported once the password matched.
func (e *Engine) Login(ctx context.Context, identity, plaintext string) (*Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	normalized, err := NormalizeIdentity(identity)
	if err != nil {
		e.passwordHash.VerifyDummy(plaintext)
		return nil, ErrInvalidCredentials
	}
	ip := ClientIPFromContext(ctx)

	if e.loginLimiter != nil {
		if err := mapLimiterError(e.loginLimiter.CheckLogin(ctx, normalized, ip)); err != nil {
			if errors.Is(err, ErrRateLimited) {
				e.metrics.Inc(MetricLoginRateLimited)
				e.emitAudit(ctx, AuditLogin, normalized, false, err, e.throttleMeta(ctx, normalized))
				return nil, err
			}
			return nil, e.internalError("login", err, zap.String("identity", normalized))
		}
	}

	cred, err := e.store.FindByIdentity(ctx, normalized)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, e.storeError("login", normalized, err)
		}
		e.passwordHash.VerifyDummy(plaintext)
		return nil, e.loginFailed(ctx, normalized, ip)
	}

	ok, err := e.passwordHash.Verify(plaintext, cred.PasswordHash)
	if err != nil && passwordPolicyError(err) == nil {
		return nil, e.internalError("login", err, zap.String("identity", cred.Identity))
	}
	if !ok {
		return nil, e.loginFailed(ctx, cred.Identity, ip)
	}

	if !cred.Active {
		e.emitAudit(ctx, AuditLogin, cred.Identity, false, ErrAccountDisabled, nil)
		return nil, ErrAccountDisabled
	}
	if cred.Role == RoleAdmin && !e.isAllowListed(cred.Identity) {
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, AuditLogin, cred.Identity, false, ErrForbidden, nil)
		return nil, ErrForbidden
	}

	e.upgradePasswordHash(ctx, cred, plaintext)

	if e.loginLimiter != nil {
		if err := e.loginLimiter.Reset(ctx, cred.Identity); err != nil {
			e.logger.Warn("reset login throttle", zap.String("identity", cred.Identity), zap.Error(err))
		}
	}

	session, err := e.issueSession(cred)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditLogin, cred.Identity, true, nil, versionMeta(cred.SessionVersion))
	return session, nil
}

func (e *Engine) loginFailed(ctx context.Context, identity, ip string) error {
	e.metrics.Inc(MetricLoginFailure)
	if e.loginLimiter != nil {
		if err := e.loginLimiter.RecordFailure(ctx, identity, ip); err != nil {
			e.logger.Warn("record login failure", zap.String("identity", identity), zap.Error(err))
		}
	}
	e.emitAudit(ctx, AuditLogin, identity, false, ErrInvalidCredentials, nil)
	return ErrInvalidCredentials
}

// throttleMeta records the identity's failure count on a throttled login.
// The IP counter may be the one that tripped; it is not reported.
func (e *Engine) throttleMeta(ctx context.Context, identity string) map[string]string {
	n, err := e.loginLimiter.Failures(ctx, identity)
	if err != nil {
		return nil
	}
	return map[string]string{"failures": strconv.Itoa(n)}
}

// upgradePasswordHash re-hashes with the current argon2 parameters when the
// stored hash is weaker. Failures only cost the upgrade.
func (e *Engine) upgradePasswordHash(ctx context.Context, cred Credential, plaintext string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}

	stale, err := e.passwordHash.NeedsUpgrade(cred.PasswordHash)
	if err != nil || !stale {
		return
	}

	hash, err := e.passwordHash.Hash(plaintext)
	if err != nil {
		return
	}
	if err := e.store.UpdatePasswordHash(ctx, cred.Identity, hash); err != nil {
		e.logger.Warn("password rehash", zap.String("identity", cred.Identity), zap.Error(err))
		return
	}
	e.metrics.Inc(MetricPasswordRehashed)
}
