package transport

import (
	"context"
	"fmt"
	"mime/quotedprintable"
	gosmtp "net/smtp"
	"strings"

	"github.com/jaytaylor/html2text"

	"github.com/alpharace/mailqueue/internal/models"
)

// SMTPConfig captures connection and auth options for an SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTP delivers email through a plain SMTP relay, sending a
// multipart/alternative body with a text part derived from the HTML.
type SMTP struct {
	cfg SMTPConfig
}

func NewSMTP(cfg SMTPConfig) *SMTP {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTP{cfg: cfg}
}

func (s *SMTP) Send(ctx context.Context, to, subject, html string) (*Result, error) {
	msg, err := buildMessage(s.cfg.From, to, subject, html)
	if err != nil {
		return nil, &Error{Provider: "smtp", Reason: fmt.Sprintf("build message: %v", err)}
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth gosmtp.Auth
	if s.cfg.Username != "" {
		auth = gosmtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	done := make(chan error, 1)
	go func() {
		done <- gosmtp.SendMail(addr, auth, s.cfg.From, []string{to}, msg)
	}()

	select {
	case <-ctx.Done():
		return nil, &Error{Provider: "smtp", Reason: ctx.Err().Error()}
	case err := <-done:
		if err != nil {
			return nil, &Error{Provider: "smtp", Reason: err.Error()}
		}
	}

	return &Result{ProviderID: models.NewID("smtp")}, nil
}

func buildMessage(from, to, subject, html string) ([]byte, error) {
	plain, err := html2text.FromString(html, html2text.Options{TextOnly: true})
	if err != nil {
		plain = ""
	}

	const boundary = "mailqueue-alt"

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n", boundary)
	b.WriteString("\r\n")

	writePart := func(contentType, body string) error {
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		fmt.Fprintf(&b, "Content-Type: %s; charset=utf-8\r\n", contentType)
		b.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		w := quotedprintable.NewWriter(&b)
		if _, err := w.Write([]byte(body)); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		b.WriteString("\r\n")
		return nil
	}

	if plain != "" {
		if err := writePart("text/plain", plain); err != nil {
			return nil, err
		}
	}
	if err := writePart("text/html", html); err != nil {
		return nil, err
	}
	fmt.Fprintf(&b, "--%s--\r\n", boundary)

	return []byte(b.String()), nil
}
