// Package mail sends account lifecycle email over SMTP.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gomail "github.com/wneessen/go-mail"
)

// Config describes the SMTP relay and the links embedded in messages.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// ClientURL is the web app origin verification and reset links point at.
	ClientURL string
}

// SMTPSender sends verification and reset mail. Send failures propagate:
// a registration whose verification mail cannot be delivered must fail.
type SMTPSender struct {
	client    *gomail.Client
	from      string
	clientURL string
}

// New builds an SMTPSender.
func New(cfg Config) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("mail: empty SMTP host")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("mail: empty sender address")
	}
	if strings.TrimSpace(cfg.ClientURL) == "" {
		return nil, errors.New("mail: empty client URL")
	}

	opts := []gomail.Option{gomail.WithPort(cfg.Port)}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("mail: %w", err)
	}

	return &SMTPSender{
		client:    client,
		from:      cfg.From,
		clientURL: strings.TrimRight(cfg.ClientURL, "/"),
	}, nil
}

// SendVerification mails the one-time verification link. rawToken is the
// plain opaque token; it appears only in this message.
func (s *SMTPSender) SendVerification(ctx context.Context, to, fullName, rawToken string) error {
	link := s.clientURL + "/verify-email/" + rawToken
	body := fmt.Sprintf(verificationBody, fullName, link, link)
	return s.send(ctx, to, "Verify your email address", body)
}

// SendPasswordReset mails the one-time reset link.
func (s *SMTPSender) SendPasswordReset(ctx context.Context, to, fullName, rawToken string) error {
	link := s.clientURL + "/reset-password/" + rawToken
	body := fmt.Sprintf(resetBody, fullName, link, link)
	return s.send(ctx, to, "Reset your password", body)
}

func (s *SMTPSender) send(ctx context.Context, to, subject, htmlBody string) error {
	msg := gomail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("mail: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("mail: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlBody)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mail: %w", err)
	}
	return nil
}

const verificationBody = `<p>Hi %s,</p>
<p>Confirm your email address to activate your account. The link expires in 30 minutes.</p>
<p><a href="%s">Verify email</a></p>
<p>If the button does not work, open this link:<br>%s</p>`

const resetBody = `<p>Hi %s,</p>
<p>We received a request to reset your password. The link expires in 30 minutes.
If you did not ask for this, you can ignore this message.</p>
<p><a href="%s">Reset password</a></p>
<p>If the button does not work, open this link:<br>%s</p>`
