package notification

import (
	"context"
	"fmt"
	"log/slog"
)

// Message describes an outbound SMS payload.
type Message struct {
	Phone string
	Body  string
}

// VerificationCode builds the SMS body for an OTP dispatch.
func VerificationCode(phone, code string) Message {
	return Message{
		Phone: phone,
		Body:  fmt.Sprintf("Your verification code is %s", code),
	}
}

// Notifier delivers messages to a downstream SMS provider. Delivery is fire
// and forget; no implementation is expected to confirm receipt.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes messages to the
// logger. It stands in for a real SMS gateway in development and tests; the
// verification flow must never depend on its output for correctness.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("sms dispatched", "phone", message.Phone, "body", message.Body)
	return nil
}
