package smtp

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"coursejobs/internal/worker"
)

type sendMailFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Config configures the SMTP mailer.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Domain   string // used in Message-ID headers
}

// Mailer sends transactional email over SMTP.
type Mailer struct {
	cfg      Config
	sendMail sendMailFunc
	now      func() time.Time
}

func NewMailer(cfg Config) (*Mailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Domain == "" {
		if _, domain, ok := strings.Cut(cfg.From, "@"); ok {
			cfg.Domain = domain
		} else {
			cfg.Domain = "localhost"
		}
	}
	return &Mailer{cfg: cfg, sendMail: smtp.SendMail, now: time.Now}, nil
}

// Send renders msg and hands it to the SMTP server. net/smtp takes no
// context, so ctx is only checked before dialing.
func (m *Mailer) Send(ctx context.Context, msg worker.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := m.build(msg)
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if strings.TrimSpace(m.cfg.Username) != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	if err := m.sendMail(addr, auth, m.cfg.From, []string{msg.To.Email}, raw); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (m *Mailer) build(msg worker.Message) ([]byte, error) {
	body, err := renderBody(msg)
	if err != nil {
		return nil, err
	}
	to := msg.To.Email
	if msg.To.Name != "" {
		to = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", msg.To.Name), msg.To.Email)
	}

	var b bytes.Buffer
	b.WriteString("From: " + m.cfg.From + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	if msg.ID != "" {
		// Stable across retries of one job.
		b.WriteString(fmt.Sprintf("Message-ID: <%s@%s>\r\n", msg.ID, m.cfg.Domain))
	}
	b.WriteString("Date: " + m.now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.Bytes(), nil
}

var templates = template.Must(template.New("mail").Option("missingkey=zero").Parse(`
{{define "welcome"}}Hi {{or .name "there"}},

Welcome to the platform. Your account is ready.
{{end}}
{{define "enrollment-confirmation"}}Hi {{or .name "there"}},

You are now enrolled in course {{.courseId}}. Enrollment reference: {{.enrollmentId}}.
{{end}}
{{define "payment-failed"}}Hi {{or .name "there"}},

We could not collect your latest subscription payment. Please update your payment method to keep your school online.
{{end}}
{{define "subscription-canceled"}}Hi {{or .name "there"}},

Your subscription has been canceled. You can resubscribe at any time from your dashboard.
{{end}}
`))

func renderBody(msg worker.Message) (string, error) {
	if templates.Lookup(msg.Template) == nil {
		return "", fmt.Errorf("unknown email template %q", msg.Template)
	}
	var b bytes.Buffer
	if err := templates.ExecuteTemplate(&b, msg.Template, msg.Data); err != nil {
		return "", fmt.Errorf("render %s: %w", msg.Template, err)
	}
	return strings.TrimLeft(b.String(), "\n"), nil
}

// LogMailer logs messages instead of sending them. Used when no SMTP host is configured.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(log *zap.Logger) *LogMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(_ context.Context, msg worker.Message) error {
	body, err := renderBody(msg)
	if err != nil {
		return err
	}
	m.log.Info("email not sent, smtp disabled",
		zap.String("message_id", msg.ID),
		zap.String("to", msg.To.Email),
		zap.String("template", msg.Template),
		zap.String("subject", msg.Subject),
		zap.Int("body_bytes", len(body)))
	return nil
}
