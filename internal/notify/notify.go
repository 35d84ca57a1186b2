// Package notify abstracts outbound account email. The auth flows only
// need "this token must reach this address"; transport, templates and
// provider retries live behind the interface.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers account-security messages. Implementations must not
// block flows on provider latency longer than the request deadline.
type Notifier interface {
	VerificationEmail(ctx context.Context, email, token string) error
	PasswordResetEmail(ctx context.Context, email, token string) error
}

// LogNotifier writes would-be emails to the service log. It backs dev and
// test environments; the token only appears at debug level.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n *LogNotifier) VerificationEmail(ctx context.Context, email, token string) error {
	n.logger().Info("verification email queued", zap.String("email", email))
	n.logger().Debug("verification token", zap.String("token", token))
	return nil
}

func (n *LogNotifier) PasswordResetEmail(ctx context.Context, email, token string) error {
	n.logger().Info("password reset email queued", zap.String("email", email))
	n.logger().Debug("password reset token", zap.String("token", token))
	return nil
}

func (n *LogNotifier) logger() *zap.Logger {
	if n == nil || n.Logger == nil {
		return zap.NewNop()
	}
	return n.Logger
}
