// Package mailer 投递注册验证码邮件。
package mailer

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"roomchat/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wneessen/go-mail"
)

const subject = "Your verification code"

// Body 返回纯文本与 HTML 两种正文。
func Body(code string, ttl time.Duration) (plain, htmlBody string) {
	mins := int(ttl.Round(time.Minute) / time.Minute)
	validity := fmt.Sprintf("%d seconds", int(ttl/time.Second))
	if mins >= 1 && ttl%time.Minute == 0 {
		validity = fmt.Sprintf("%d minute(s)", mins)
	}
	plain = fmt.Sprintf("Your verification code is %s.\nIt is valid for %s and can be used once.\n", code, validity)
	var b strings.Builder
	b.WriteString("<p>Your verification code is</p>")
	fmt.Fprintf(&b, "<h2 style=\"letter-spacing:4px\">%s</h2>", html.EscapeString(code))
	fmt.Fprintf(&b, "<p>It is valid for %s and can be used once.</p>", validity)
	return plain, b.String()
}

// SMTPTransport 通过 SMTP 同步发送验证码。
type SMTPTransport struct {
	host     string
	port     int
	user     string
	password string
	from     string
	ttl      time.Duration
}

func NewSMTPTransport(cfg config.Config) *SMTPTransport {
	return &SMTPTransport{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		user:     cfg.SMTPUser,
		password: cfg.SMTPPassword,
		from:     cfg.MailFrom,
		ttl:      time.Duration(cfg.OTPTTLSeconds) * time.Second,
	}
}

func (t *SMTPTransport) message(to, code string) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(t.from); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	m.Subject(subject)
	plain, htmlBody := Body(code, t.ttl)
	m.SetBodyString(mail.TypeTextPlain, plain)
	m.AddAlternativeString(mail.TypeTextHTML, htmlBody)
	return m, nil
}

func (t *SMTPTransport) client() (*mail.Client, error) {
	opts := []mail.Option{mail.WithPort(t.port), mail.WithTLSPolicy(mail.TLSMandatory)}
	if t.user != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.user),
			mail.WithPassword(t.password),
		)
	}
	return mail.NewClient(t.host, opts...)
}

func (t *SMTPTransport) Send(ctx context.Context, to, code string) error {
	m, err := t.message(to, code)
	if err != nil {
		return err
	}
	c, err := t.client()
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	log.Info().Str("to", to).Msg("otp email sent")
	return nil
}

// LogTransport 只把验证码写进日志，供本地开发使用。
type LogTransport struct {
	logger zerolog.Logger
}

func NewLogTransport(logger zerolog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(ctx context.Context, to, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.logger.Info().Str("to", to).Str("code", code).Msg("otp email (log transport)")
	return nil
}

// Transport 是 mailer 对外提供的发送接口。
type Transport interface {
	Send(ctx context.Context, to, code string) error
}

// New 按 MailProvider 选择实现。
func New(cfg config.Config) (Transport, error) {
	switch cfg.MailProvider {
	case "smtp":
		return NewSMTPTransport(cfg), nil
	case "log", "":
		return NewLogTransport(log.Logger), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.MailProvider)
	}
}
