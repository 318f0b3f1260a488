package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const deliveryTimeout = 15 * time.Second

// Dispatcher fans reset material out to the SMS and email senders. Both
// entry points return immediately; delivery runs on its own goroutine
// with a detached context so an aborted HTTP request cannot cancel an
// in-flight send. Failures are logged, never surfaced.
type Dispatcher struct {
	sms    *SMSSender
	email  *EmailSender
	logger *zap.Logger
}

func NewDispatcher(sms *SMSSender, email *EmailSender, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{sms: sms, email: email, logger: logger}
}

func (d *Dispatcher) SendOTP(ctx context.Context, phone, otp string, expiresIn time.Duration) {
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
		defer cancel()

		if err := d.sms.SendOTP(sendCtx, phone, otp, expiresIn); err != nil {
			d.logger.Error("otp delivery failed",
				zap.String("phone", maskPhone(phone)),
				zap.Error(err),
			)
			return
		}
		d.logger.Info("otp delivered", zap.String("phone", maskPhone(phone)))
	}()
}

func (d *Dispatcher) SendResetLink(ctx context.Context, email, token string, expiresIn time.Duration) {
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
		defer cancel()

		if err := d.email.SendResetLink(sendCtx, email, token, expiresIn); err != nil {
			d.logger.Error("reset link delivery failed",
				zap.String("email", email),
				zap.Error(err),
			)
			return
		}
		d.logger.Info("reset link delivered", zap.String("email", email))
	}()
}
