// Package notify is the boundary to the transient user-facing message surface (the snackbar).
package notify

import (
	"log/slog"
	"sync"

	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
	"github.com/heybooks/heybooks-sync/internal/i18n"
)

// Duration is how long a message stays visible.
type Duration int

const (
	Short Duration = iota
	Long
)

// Notifier shows a message to the user. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(message string, d Duration)
}

// Func adapts a function to Notifier.
type Func func(message string, d Duration)

// Notify calls f.
func (f Func) Notify(message string, d Duration) { f(message, d) }

// Discard drops every message.
var Discard Notifier = Func(func(string, Duration) {})

// Message is one recorded notification.
type Message struct {
	Text     string
	Duration Duration
}

// Recorder keeps every message it receives. Used by tests and the CLI history.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Notify records the message.
func (r *Recorder) Notify(text string, d Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Text: text, Duration: d})
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Texts returns only the recorded texts.
func (r *Recorder) Texts() []string {
	msgs := r.Messages()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

// Count returns how many recorded messages equal text.
func (r *Recorder) Count(text string) int {
	n := 0
	for _, m := range r.Messages() {
		if m.Text == text {
			n++
		}
	}
	return n
}

// Reporter turns domain errors and message keys into localized notifications.
type Reporter struct {
	notifier Notifier
	printer  *i18n.Printer
	logger   *slog.Logger
}

// NewReporter creates a reporter.
func NewReporter(n Notifier, p *i18n.Printer, logger *slog.Logger) *Reporter {
	if n == nil {
		n = Discard
	}
	return &Reporter{notifier: n, printer: p, logger: logger}
}

// Info shows a localized message for key.
func (r *Reporter) Info(key i18n.Key, args ...any) {
	r.notifier.Notify(r.printer.Sprintf(key, args...), Short)
}

// Error logs err and shows the localized message for its code.
// Nil errors are ignored.
func (r *Reporter) Error(err error) {
	if err == nil {
		return
	}
	code := domainerrors.CodeOf(err)
	r.logger.Warn("operation failed", "code", string(code), "error", err)

	d := Short
	if code == domainerrors.CodeValidation {
		d = Long
	}
	r.notifier.Notify(r.printer.Sprintf(KeyFor(code)), d)
}

// Printer exposes the reporter's printer.
func (r *Reporter) Printer() *i18n.Printer {
	return r.printer
}

// KeyFor maps an error code to the message shown for it.
func KeyFor(code domainerrors.Code) i18n.Key {
	switch code {
	case domainerrors.CodeOffline:
		return i18n.DeviceNotConnected
	case domainerrors.CodeTimedOut:
		return i18n.TimeOut
	case domainerrors.CodeValidation:
		return i18n.FillRequiredFields
	case domainerrors.CodeUnauthenticated:
		return i18n.NotSignedIn
	case domainerrors.CodeEmailNotVerified:
		return i18n.EmailNotVerified
	case domainerrors.CodeInvalidCredentials:
		return i18n.InvalidCredentials
	case domainerrors.CodeAlreadyExists:
		return i18n.AccountAlreadyExists
	case domainerrors.CodeForbidden:
		return i18n.NotAllowed
	case domainerrors.CodeListenFailed:
		return i18n.SyncFailed
	case domainerrors.CodeWriteFailed:
		return i18n.SaveFailed
	case domainerrors.CodeUploadFailed:
		return i18n.UploadFailed
	case domainerrors.CodeDeleteFailed:
		return i18n.DeleteFailed
	default:
		return i18n.ErrorOccurred
	}
}
