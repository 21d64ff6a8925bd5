// Package mail delivers verification messages to certificate requesters.
package mail

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"sync"

	"github.com/awnumar/memguard"
	mailyak "github.com/domodwyer/mailyak/v3"
)

// Mailer sends a plaintext message to a single recipient. Delivery is
// fire-and-forget beyond the returned error: there is no retry and no
// delivery tracking.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTP delivers mail through an authenticated SMTP endpoint. The account
// password stays sealed in a memguard enclave and is only opened for the
// duration of one send.
type SMTP struct {
	host     string
	port     int
	from     string
	username string
	password *memguard.Enclave
}

var _ Mailer = (*SMTP)(nil)

// NewSMTP returns a mailer for the given SMTP endpoint. from is the
// RFC 5322 From header value (display name permitted).
func NewSMTP(host string, port int, from, username string, password *memguard.Enclave) *SMTP {
	return &SMTP{
		host:     host,
		port:     port,
		from:     from,
		username: username,
		password: password,
	}
}

func (m *SMTP) Send(ctx context.Context, to, subject, body string) error {
	password, err := m.password.Open()
	if err != nil {
		return fmt.Errorf("opening SMTP password: %w", err)
	}
	defer password.Destroy()

	my := mailyak.New(
		net.JoinHostPort(m.host, strconv.Itoa(m.port)),
		smtp.PlainAuth("", m.username, password.String(), m.host),
	)
	my.From(m.from)
	my.To(to)
	my.Subject(subject)
	my.Plain().Set(body)

	if err := my.Send(); err != nil {
		return fmt.Errorf("sending mail to %s: %w", to, err)
	}
	return nil
}

// Console writes messages to an io.Writer instead of delivering them.
// It exists for local development without an SMTP account; the verification
// code ends up on the operator's console rather than in a mailbox.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

var _ Mailer = (*Console)(nil)

// NewConsole returns a Console mailer writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Send(_ context.Context, to, subject, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "To: %s\nSubject: %s\n\n%s\n", to, subject, body)
	return err
}
