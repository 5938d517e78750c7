package docauth

import (
	"context"
	"errors"
	"strconv"
)

// SetActive enables or disables an account. Disabling also revokes all of
// its sessions; enabling leaves the session version alone.
func (e *Engine) SetActive(ctx context.Context, identity string, active bool) error {
	if err := e.ready(); err != nil {
		return err
	}

	eventType := AuditAccountActivated
	if !active {
		eventType = AuditAccountDisabled
	}

	cred, err := e.findCredential(ctx, "set_active", identity)
	if err != nil {
		e.emitAudit(ctx, eventType, identity, false, err, nil)
		return err
	}

	if err := e.store.SetActive(ctx, cred.Identity, active); err != nil {
		return e.storeError("set_active", cred.Identity, err)
	}

	if active {
		e.metrics.Inc(MetricAccountEnabled)
		e.emitAudit(ctx, eventType, cred.Identity, true, nil, nil)
		return nil
	}

	version, err := e.bumpSessionVersion(ctx, "set_active", cred.Identity)
	if err != nil {
		return err
	}
	e.metrics.Inc(MetricAccountDisabled)
	e.emitAudit(ctx, eventType, cred.Identity, true, nil, versionMeta(version))
	return nil
}

// AdminSetPassword replaces an account's password without a verification
// token and revokes its sessions.
func (e *Engine) AdminSetPassword(ctx context.Context, identity, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	cred, err := e.findCredential(ctx, "admin_set_password", identity)
	if err != nil {
		e.emitAudit(ctx, AuditAdminPasswordSet, identity, false, err, nil)
		return err
	}

	hash, err := e.hashPassword("admin_set_password", cred.Identity, newPassword)
	if err != nil {
		e.emitAudit(ctx, AuditAdminPasswordSet, cred.Identity, false, err, nil)
		return err
	}
	if err := e.store.UpdatePasswordHash(ctx, cred.Identity, hash); err != nil {
		return e.storeError("admin_set_password", cred.Identity, err)
	}

	version, err := e.bumpSessionVersion(ctx, "admin_set_password", cred.Identity)
	if err != nil {
		return err
	}

	e.metrics.Inc(MetricAdminPasswordSet)
	e.emitAudit(ctx, AuditAdminPasswordSet, cred.Identity, true, nil, versionMeta(version))
	return nil
}

// DeleteAccount removes a credential. Outstanding tokens for it fail with
// [ErrUnauthenticated] from then on.
func (e *Engine) DeleteAccount(ctx context.Context, identity string) error {
	if err := e.ready(); err != nil {
		return err
	}

	cred, err := e.findCredential(ctx, "delete_account", identity)
	if err != nil {
		e.emitAudit(ctx, AuditAccountDeleted, identity, false, err, nil)
		return err
	}

	if err := e.store.Delete(ctx, cred.Identity); err != nil {
		err = e.storeError("delete_account", cred.Identity, err)
		e.emitAudit(ctx, AuditAccountDeleted, cred.Identity, false, err, nil)
		return err
	}

	e.metrics.Inc(MetricAccountDeleted)
	e.emitAudit(ctx, AuditAccountDeleted, cred.Identity, true, nil, nil)
	return nil
}

// ProvisionAdmin creates an admin credential. Only identities on the admin
// allow-list can be provisioned; anything else fails with [ErrForbidden].
func (e *Engine) ProvisionAdmin(ctx context.Context, email, plaintext string) (Credential, error) {
	if err := e.ready(); err != nil {
		return Credential{}, err
	}

	normalized, err := NormalizeEmail(email)
	if err != nil {
		return Credential{}, err
	}
	if !e.isAllowListed(normalized) {
		e.emitAudit(ctx, AuditAdminProvisioned, normalized, false, ErrForbidden, nil)
		return Credential{}, ErrForbidden
	}

	hash, err := e.hashPassword("provision_admin", normalized, plaintext)
	if err != nil {
		return Credential{}, err
	}

	now := e.clock.Now().UTC()
	cred, err := e.store.Create(ctx, Credential{
		Identity:       normalized,
		Email:          normalized,
		PasswordHash:   hash,
		Role:           RoleAdmin,
		SessionVersion: initialSessionVersion,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		err = e.storeError("provision_admin", normalized, err)
		if !errors.Is(err, ErrUnavailable) {
			e.emitAudit(ctx, AuditAdminProvisioned, normalized, false, err, nil)
		}
		return Credential{}, err
	}

	e.metrics.Inc(MetricAdminProvisioned)
	e.emitAudit(ctx, AuditAdminProvisioned, cred.Identity, true, nil, map[string]string{
		"session_version": strconv.FormatUint(cred.SessionVersion, 10),
		"role":            string(cred.Role),
	})
	cred.PasswordHash = ""
	return cred, nil
}
