package docauth

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/MrEthical07/docauth/internal/audit"
	"github.com/MrEthical07/docauth/internal/rate"
	"github.com/MrEthical07/docauth/internal/stores"
	"github.com/MrEthical07/docauth/jwt"
	"github.com/MrEthical07/docauth/password"
	"github.com/samber/oops"
	"go.uber.org/zap"
)

// initialSessionVersion is stamped on freshly created credentials.
const initialSessionVersion uint64 = 1

// Engine runs the credential-verification and session lifecycle. Build it
// with [New] and share it across goroutines.
//
// An Engine holds no per-request state; OTP challenges and verification
// tokens live in the configured ledgers and credentials in the
// [CredentialStore].
type Engine struct {
	config   Config
	store    CredentialStore
	notifier Notifier
	clock    Clock
	random   io.Reader
	logger   *zap.Logger

	otpLedger    stores.OTPLedger
	tokenLedger  stores.VerificationLedger
	loginLimiter *rate.Limiter
	jwtManager   *jwt.Manager
	passwordHash *password.Argon2
	admins       map[string]struct{}

	audit   *audit.Dispatcher
	metrics *Metrics
}

// Close flushes pending audit events. The engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the current counters and histogram buckets.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// IsAdminIdentity reports whether identity is on the admin allow-list.
func (e *Engine) IsAdminIdentity(identity string) bool {
	normalized, err := NormalizeIdentity(identity)
	if err != nil {
		return false
	}
	return e.isAllowListed(normalized)
}

func (e *Engine) isAllowListed(identity string) bool {
	_, ok := e.admins[identity]
	return ok
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.otpLedger == nil || e.tokenLedger == nil || e.jwtManager == nil || e.passwordHash == nil {
		return ErrEngineNotReady
	}
	return nil
}

// internalError logs err once with the operation context and returns it
// wrapped in ErrUnavailable. fields must never carry secrets.
func (e *Engine) internalError(op string, err error, fields ...zap.Field) error {
	wrapped := oops.
		Code("docauth_internal").
		With("operation", op).
		Wrap(err)

	fields = append(fields, zap.String("operation", op), zap.Error(wrapped))
	e.logger.Error("auth backend failure", fields...)

	return fmt.Errorf("%w: %w", ErrUnavailable, wrapped)
}

// storeError passes through the caller-facing kinds a CredentialStore may
// return and treats everything else as an internal failure.
func (e *Engine) storeError(op, identity string, err error) error {
	if isKnown(err) {
		return err
	}
	return e.internalError(op, err, zap.String("identity", identity))
}

func (e *Engine) ledgerError(op, email string, err error) error {
	mapped := mapLedgerError(err)
	if isKnown(mapped) {
		return mapped
	}
	return e.internalError(op, err, zap.String("email", email))
}

func passwordPolicyError(err error) error {
	if errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong) {
		return ErrPasswordPolicy
	}
	return nil
}

// hashPassword applies the password policy and returns the PHC hash.
func (e *Engine) hashPassword(op, identity, plaintext string) (string, error) {
	hash, err := e.passwordHash.Hash(plaintext)
	if err != nil {
		if policyErr := passwordPolicyError(err); policyErr != nil {
			return "", policyErr
		}
		return "", e.internalError(op, err, zap.String("identity", identity))
	}
	return hash, nil
}

func (e *Engine) issueSession(cred Credential) (*Session, error) {
	token, claims, err := e.jwtManager.Issue(cred.Identity, string(cred.Role), cred.SessionVersion)
	if err != nil {
		return nil, e.internalError("issue_session", err, zap.String("identity", cred.Identity))
	}

	return &Session{
		Token:     token,
		Identity:  cred.Identity,
		Role:      cred.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// bumpSessionVersion revokes every outstanding session of identity.
func (e *Engine) bumpSessionVersion(ctx context.Context, op, identity string) (uint64, error) {
	version, err := e.store.IncrementSessionVersion(ctx, identity)
	if err != nil {
		return 0, e.storeError(op, identity, err)
	}
	return version, nil
}
