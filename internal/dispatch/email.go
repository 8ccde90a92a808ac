package dispatch

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// EmailDispatcher relays campaign email through an SMTP smarthost. The
// smarthost owns DKIM signing and bounce handling.
type EmailDispatcher struct {
	addr     string
	username string
	password string
	timeout  time.Duration
	logger   *slog.Logger
}

func NewEmailDispatcher(addr, username, password string, timeout time.Duration, logger *slog.Logger) *EmailDispatcher {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &EmailDispatcher{
		addr:     addr,
		username: username,
		password: password,
		timeout:  timeout,
		logger:   logger.With("component", "dispatch.email"),
	}
}

// Send delivers one message to the smarthost. The connection is dialed
// directly so the deadline covers the whole SMTP conversation.
func (d *EmailDispatcher) Send(ctx context.Context, msg *Message) error {
	deadline := time.Now().Add(d.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	host, _, splitErr := net.SplitHostPort(d.addr)
	if splitErr != nil {
		host = d.addr
	}

	dialer := &net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return fmt.Errorf("connect to smarthost %s: %w", d.addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	c, err := smtp.NewClientStartTLS(conn, &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return fmt.Errorf("negotiate STARTTLS with %s: %w", d.addr, err)
	}
	defer c.Close()

	if d.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", d.username, d.password)); err != nil {
			return fmt.Errorf("authenticate to smarthost %s: %w", host, err)
		}
	}

	data := buildMessage(msg)
	if err := c.SendMail(msg.FromEmail, []string{msg.To.Address}, strings.NewReader(data)); err != nil {
		return fmt.Errorf("send to %s: %w", msg.To.Address, err)
	}

	d.logger.Debug("email dispatched", "to", msg.To.Address)
	return c.Quit()
}

// buildMessage assembles the RFC 5322 message. When both bodies are present
// it emits multipart/alternative with text first.
func buildMessage(msg *Message) string {
	var b strings.Builder

	b.WriteString("From: " + formatFrom(msg.FromEmail, msg.FromName) + "\r\n")
	b.WriteString("To: " + msg.To.Address + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	if msg.ReplyTo != "" {
		b.WriteString("Reply-To: " + msg.ReplyTo + "\r\n")
	}
	b.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")

	if msg.HTMLBody == "" {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		b.WriteString("\r\n")
		b.WriteString(msg.Body)
		return b.String()
	}

	const boundary = "campaignd-alt"
	b.WriteString("Content-Type: multipart/alternative; boundary=" + boundary + "\r\n")
	b.WriteString("\r\n")
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(msg.HTMLBody)
	b.WriteString("\r\n--" + boundary + "--\r\n")
	return b.String()
}

func formatFrom(email, name string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", name), email)
}
