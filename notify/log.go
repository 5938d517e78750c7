package notify

import (
	"context"

	"github.com/MrEthical07/docauth"
	"go.uber.org/zap"
)

// LogNotifier logs that a message would have been sent. The body is never
// logged since it carries the OTP code.
type LogNotifier struct {
	logger *zap.Logger
}

var _ docauth.Notifier = (*LogNotifier)(nil)

// NewLogNotifier logs deliveries instead of sending them. Development only.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Send(_ context.Context, recipient, subject, body string) error {
	n.logger.Info("notification suppressed",
		zap.String("recipient", recipient),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)),
	)
	return nil
}
