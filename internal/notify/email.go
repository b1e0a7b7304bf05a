package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNoAddress       = errors.New("user has no email address")
	ErrUnknownTemplate = errors.New("unknown email template")
)

// Directory resolves a user's contact address.
type Directory interface {
	EmailFor(ctx context.Context, userID uuid.UUID) (string, error)
}

type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) EmailFor(ctx context.Context, userID uuid.UUID) (string, error) {
	var email *string
	err := d.pool.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: user %s not found", ErrNoAddress, userID)
		}
		return "", fmt.Errorf("lookup email: %w", err)
	}
	if email == nil || strings.TrimSpace(*email) == "" {
		return "", fmt.Errorf("%w: user %s", ErrNoAddress, userID)
	}
	return *email, nil
}

type Mailer interface {
	Send(to, subject, body string) error
}

// SMTPMailer sends email via unauthenticated SMTP (Mailpit-compatible).
type SMTPMailer struct {
	addr string
	from string
}

func NewSMTPMailer(host, port, from string) *SMTPMailer {
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@clinic.local"
	}
	return &SMTPMailer{
		addr: fmt.Sprintf("%s:%s", strings.TrimSpace(host), strings.TrimSpace(port)),
		from: from,
	}
}

func (m *SMTPMailer) Send(to, subject, body string) error {
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		m.from, to, subject, body,
	)
	return smtp.SendMail(m.addr, nil, m.from, []string{to}, []byte(msg))
}

type emailTemplate struct {
	subject *template.Template
	body    *template.Template
}

// EmailSink renders the intent's template and mails it to the user. Intents
// without an Email part are ignored.
type EmailSink struct {
	dir       Directory
	mailer    Mailer
	templates map[string]emailTemplate
}

func NewEmailSink(dir Directory, mailer Mailer) *EmailSink {
	s := &EmailSink{dir: dir, mailer: mailer, templates: make(map[string]emailTemplate)}
	for key, t := range defaultTemplates {
		s.templates[key] = emailTemplate{
			subject: template.Must(template.New(key + ".subject").Parse(t[0])),
			body:    template.Must(template.New(key + ".body").Parse(t[1])),
		}
	}
	return s
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Deliver(ctx context.Context, in Intent) error {
	if in.Email == nil {
		return nil
	}

	tmpl, ok := s.templates[in.Email.TemplateKey]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTemplate, in.Email.TemplateKey)
	}

	to, err := s.dir.EmailFor(ctx, in.UserID)
	if err != nil {
		return err
	}

	data := map[string]any{
		"Title":     in.Title,
		"Content":   in.Content,
		"ActionURL": in.ActionURL,
	}
	for k, v := range in.Email.Context {
		data[k] = v
	}

	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return fmt.Errorf("render subject: %w", err)
	}
	if err := tmpl.body.Execute(&body, data); err != nil {
		return fmt.Errorf("render body: %w", err)
	}

	return s.mailer.Send(to, strings.TrimSpace(subject.String()), body.String())
}

// subject, body
var defaultTemplates = map[string][2]string{
	"appointment_booked": {
		"Your appointment on {{.appointment_date}} is booked",
		"{{.Content}}\n{{if .meeting_link}}Meeting link: {{.meeting_link}}\n{{end}}Details: {{.ActionURL}}\n",
	},
	"appointment_confirmed": {
		"Appointment confirmed for {{.appointment_date}}",
		"{{.Content}}\nDetails: {{.ActionURL}}\n",
	},
	"appointment_late_check_in": {
		"You checked in late",
		"{{.Content}}\n",
	},
	"appointment_completed": {
		"Thank you for visiting",
		"{{.Content}}\nDetails: {{.ActionURL}}\n",
	},
	"appointment_no_show": {
		"Missed appointment on {{.appointment_date}}",
		"{{.Content}}\n",
	},
	"appointment_cancelled": {
		"Appointment on {{.appointment_date}} cancelled",
		"{{.Content}}\n",
	},
	"appointment_reminder": {
		"Reminder: appointment on {{.appointment_date}}",
		"{{.Content}}\n{{if .meeting_link}}Meeting link: {{.meeting_link}}\n{{end}}Details: {{.ActionURL}}\n",
	},
}
