// Package mail builds and sends account emails.
package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ernie/play4096/internal/logging"
	"github.com/ernie/play4096/internal/metrics"
)

// Message kinds
const (
	KindVerification  = "verification"
	KindPasswordReset = "password_reset"
)

var ErrIncomplete = errors.New("email requires a recipient, subject and body")

// Message is a plain-text email
type Message struct {
	To      string
	Subject string
	Body    string
	Kind    string
}

func (m Message) validate() error {
	if m.To == "" || m.Subject == "" || m.Body == "" {
		return ErrIncomplete
	}
	return nil
}

// Mailer delivers messages
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// VerificationMessage carries an email verification code
func VerificationMessage(email, code string) Message {
	return Message{
		To:      email,
		Subject: "Email Verification Code",
		Body:    fmt.Sprintf("Your Email Verification code for Play4096 is: %s", code),
		Kind:    KindVerification,
	}
}

// PasswordResetMessage carries a password reset code
func PasswordResetMessage(email, code string) Message {
	return Message{
		To:      email,
		Subject: "Password Reset",
		Body:    fmt.Sprintf("Your reset code is %s", code),
		Kind:    KindPasswordReset,
	}
}

// LogMailer writes messages to the log instead of delivering them
type LogMailer struct {
	log        *logrus.Entry
	metrics    *metrics.Metrics
	production bool
}

// NewLogMailer creates a mailer that logs at info level. In production
// the body, which carries the code, is never logged.
func NewLogMailer(log *logrus.Entry, m *metrics.Metrics, production bool) *LogMailer {
	return &LogMailer{log: log.WithField("component", "mail"), metrics: m, production: production}
}

// Send logs the message. Outside production the body is included so
// codes can be read off the log.
func (l *LogMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	entry := l.log
	if id, ok := logging.FromContext(ctx).Data["request_id"]; ok {
		entry = entry.WithField("request_id", id)
	}
	fields := logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
		"kind":    msg.Kind,
	}
	if !l.production {
		fields["body"] = msg.Body
	}
	entry.WithFields(fields).Info("Email queued")
	l.metrics.EmailSent(msg.Kind)
	return nil
}

// Recorder keeps sent messages in memory
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

// Send records the message, or returns Err when set
func (r *Recorder) Send(_ context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, msg)
	return nil
}

// Sent returns a copy of the recorded messages
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

// Last returns the most recent message and whether there was one
func (r *Recorder) Last() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return Message{}, false
	}
	return r.sent[len(r.sent)-1], true
}
