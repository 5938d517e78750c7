package docauth

import (
	"context"
	"io"
	"strconv"

	"github.com/MrEthical07/docauth/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one security-relevant occurrence. It never carries codes,
// tokens or hashes.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = audit.Sink

const (
	AuditOTPRequested      = "otp_requested"
	AuditOTPVerified       = "otp_verified"
	AuditRegister          = "register"
	AuditPasswordReset     = "password_reset"
	AuditLogin             = "login"
	AuditLogout            = "logout"
	AuditForceLogout       = "force_logout"
	AuditAccountActivated  = "account_activated"
	AuditAccountDisabled   = "account_disabled"
	AuditAccountDeleted    = "account_deleted"
	AuditAdminPasswordSet  = "admin_password_set"
	AuditAdminProvisioned  = "admin_provisioned"
	AuditSessionRevokedUse = "session_revoked_use"
	AuditForbiddenAccess   = "forbidden_access"
)

// NewChannelSink returns a sink that buffers events on a channel, mostly
// useful in tests.
func NewChannelSink(buffer int) *audit.ChannelSink { return audit.NewChannelSink(buffer) }

// NewJSONWriterSink writes one JSON event per line to w.
func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink { return audit.NewJSONWriterSink(w) }

// NewZapAuditSink logs events through logger under the "audit" name.
func NewZapAuditSink(logger *zap.Logger) *audit.ZapSink { return audit.NewZapSink(logger) }

func (e *Engine) emitAudit(ctx context.Context, eventType, identity string, success bool, err error, metadata map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	ev := AuditEvent{
		Timestamp: e.clock.Now().UTC(),
		EventType: eventType,
		Identity:  identity,
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		ev.Error = ErrorKind(err)
	}
	e.audit.Emit(ctx, ev)
}

// auditSinkPanicked counts the lost event as dropped.
func (e *Engine) auditSinkPanicked(recovered any) {
	e.metrics.Inc(MetricAuditDropped)
	e.logger.Error("audit sink panicked", zap.Any("recovered", recovered))
}

func versionMeta(v uint64) map[string]string {
	return map[string]string{"session_version": strconv.FormatUint(v, 10)}
}
