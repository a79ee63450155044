package auth

import (
	"context"
	"log/slog"
	"sync"
)

// Mail is an outgoing message carrying a one-time token.
type Mail struct {
	To      string
	Purpose Purpose
	Token   string
}

// Mailer delivers account emails.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// Outbox keeps every mail in memory and logs it. The emulator never sends
// real email; developers copy tokens from the log.
type Outbox struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Mail
}

// NewOutbox creates an empty outbox.
func NewOutbox(logger *slog.Logger) *Outbox {
	return &Outbox{logger: logger}
}

// Send records m.
func (o *Outbox) Send(_ context.Context, m Mail) error {
	o.mu.Lock()
	o.sent = append(o.sent, m)
	o.mu.Unlock()

	o.logger.Info("mail queued", "to", m.To, "purpose", string(m.Purpose), "token", m.Token)
	return nil
}

// Last returns the newest mail sent to addr for purpose.
func (o *Outbox) Last(addr string, purpose Purpose) (Mail, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.sent) - 1; i >= 0; i-- {
		if m := o.sent[i]; m.To == addr && m.Purpose == purpose {
			return m, true
		}
	}
	return Mail{}, false
}
