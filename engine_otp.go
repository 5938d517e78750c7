package docauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/docauth/internal"
	"go.uber.org/zap"
)

// RequestOTP issues a fresh challenge for email and sends the code through
// the notifier. The code is never returned or logged.
//
// A second request inside the cooldown fails with [ErrRateLimited]. When the
// notifier fails the challenge is discarded and [ErrDeliveryFailed] is
// returned.
func (e *Engine) RequestOTP(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}

	normalized, err := NormalizeEmail(email)
	if err != nil {
		return err
	}

	code, err := internal.NewOTP(e.random, e.config.OTP.Digits)
	if err != nil {
		return e.internalError("request_otp", err, zap.String("email", normalized))
	}
	hash := internal.HashOTP(e.config.OTP.HashKey, normalized, code)

	if err := e.otpLedger.Issue(ctx, normalized, hash, e.clock.Now()); err != nil {
		err = e.ledgerError("request_otp", normalized, err)
		if errors.Is(err, ErrRateLimited) {
			e.metrics.Inc(MetricOTPRateLimited)
		}
		e.emitAudit(ctx, AuditOTPRequested, normalized, false, err, nil)
		return err
	}

	if err := e.notifier.Send(ctx, normalized, e.config.OTP.Subject, e.otpBody(code)); err != nil {
		if discardErr := e.otpLedger.Discard(ctx, normalized); discardErr != nil {
			e.logger.Warn("discard undelivered otp", zap.String("email", normalized), zap.Error(discardErr))
		}
		e.logger.Warn("otp delivery failed", zap.String("email", normalized), zap.Error(err))
		e.metrics.Inc(MetricOTPDeliveryFailed)
		e.emitAudit(ctx, AuditOTPRequested, normalized, false, ErrDeliveryFailed, nil)
		return ErrDeliveryFailed
	}

	e.metrics.Inc(MetricOTPIssued)
	e.emitAudit(ctx, AuditOTPRequested, normalized, true, nil, nil)
	return nil
}

func (e *Engine) otpBody(code string) string {
	minutes := int(e.config.OTP.TTL.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, minutes)
}

// VerifyOTP checks code against the live challenge for email. On success the
// challenge is gone and the returned verification token can be spent once on
// [Engine.Register] or [Engine.ResetPassword] for the same email.
func (e *Engine) VerifyOTP(ctx context.Context, email, code string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}

	normalized, err := NormalizeEmail(email)
	if err != nil {
		return "", err
	}

	now := e.clock.Now()
	hash := internal.HashOTP(e.config.OTP.HashKey, normalized, strings.TrimSpace(code))

	if err := e.otpLedger.Verify(ctx, normalized, hash, now); err != nil {
		err = e.ledgerError("verify_otp", normalized, err)
		switch {
		case errors.Is(err, ErrTooManyAttempts):
			e.metrics.Inc(MetricOTPAttemptsExceeded)
		case errors.Is(err, ErrExpired):
			e.metrics.Inc(MetricOTPExpired)
		default:
			e.metrics.Inc(MetricOTPVerifyFailure)
		}
		e.emitAudit(ctx, AuditOTPVerified, normalized, false, err, nil)
		return "", err
	}
	e.metrics.Inc(MetricOTPVerifySuccess)

	token, err := internal.NewVerificationToken(e.random)
	if err != nil {
		return "", e.internalError("verify_otp", err, zap.String("email", normalized))
	}
	if err := e.tokenLedger.Issue(ctx, internal.HashToken(token), normalized, now); err != nil {
		return "", e.ledgerError("verify_otp", normalized, err)
	}

	e.metrics.Inc(MetricVerificationTokenIssued)
	e.emitAudit(ctx, AuditOTPVerified, normalized, true, nil, nil)
	return token, nil
}

// consumeVerification spends token for email. Failures are counted and
// returned as caller-facing kinds.
func (e *Engine) consumeVerification(ctx context.Context, op, token, email string) error {
	err := e.tokenLedger.Consume(ctx, internal.HashToken(strings.TrimSpace(token)), email, e.clock.Now())
	if err != nil {
		err = e.ledgerError(op, email, err)
		if !errors.Is(err, ErrUnavailable) {
			e.metrics.Inc(MetricVerificationTokenRejected)
		}
		return err
	}
	e.metrics.Inc(MetricVerificationTokenConsumed)
	return nil
}

// restoreVerification puts a spent token back after the operation it was
// spent on failed for an unrelated reason. The restored token gets a fresh
// TTL.
func (e *Engine) restoreVerification(ctx context.Context, token, email string) {
	err := e.tokenLedger.Issue(ctx, internal.HashToken(strings.TrimSpace(token)), email, e.clock.Now())
	if err != nil {
		e.logger.Warn("restore verification token", zap.String("email", email), zap.Error(err))
	}
}
