package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/config"
	"github.com/Togather-Foundation/eventbook/internal/metrics"
	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templateFS embed.FS

// Service renders and sends transactional email through Resend.
type Service struct {
	config       config.EmailConfig
	templates    *template.Template
	resendClient *resend.Client
	logger       zerolog.Logger
	now          func() time.Time
}

type messageData struct {
	Subject string
	Name    string
	Link    string
	Year    int
}

// BookingStatusData describes a booking status change for the participant.
type BookingStatusData struct {
	Name       string
	Reference  string
	EventTitle string
	Location   string
	StartsAt   time.Time
	Status     string
	Reason     string
	Link       string
}

// NewService creates an email service. When email is disabled messages are
// logged and dropped.
func NewService(cfg config.EmailConfig, logger zerolog.Logger) (*Service, error) {
	if cfg.Enabled {
		if err := validateEmailAddress(cfg.From); err != nil {
			return nil, fmt.Errorf("invalid sender email in config: %w", err)
		}
	}

	templates, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}

	svc := &Service{
		config:    cfg,
		templates: templates,
		logger:    logger.With().Str("component", "email").Logger(),
		now:       time.Now,
	}
	if cfg.Enabled {
		svc.resendClient = resend.NewClient(cfg.ResendAPIKey)
	}
	return svc, nil
}

func (s *Service) SendVerification(ctx context.Context, to, name, link string) error {
	return s.sendLink(ctx, "verify_email.html", "Confirm your email address", to, name, link)
}

func (s *Service) SendPasswordReset(ctx context.Context, to, name, link string) error {
	return s.sendLink(ctx, "reset_password.html", "Reset your password", to, name, link)
}

func (s *Service) sendLink(ctx context.Context, templateName, subject, to, name, link string) error {
	if err := validateEmailAddress(to); err != nil {
		return fmt.Errorf("invalid recipient email: %w", err)
	}
	if err := validateLinkURL(link); err != nil {
		return fmt.Errorf("invalid link: %w", err)
	}
	body, err := s.renderTemplate(templateName, messageData{
		Subject: subject,
		Name:    displayName(name, to),
		Link:    link,
		Year:    s.now().Year(),
	})
	if err != nil {
		return err
	}
	return s.deliver(ctx, templateName, to, subject, body)
}

// SendBookingStatus tells a participant their booking changed status.
func (s *Service) SendBookingStatus(ctx context.Context, to string, data BookingStatusData) error {
	if err := validateEmailAddress(to); err != nil {
		return fmt.Errorf("invalid recipient email: %w", err)
	}
	if data.Link != "" {
		if err := validateLinkURL(data.Link); err != nil {
			return fmt.Errorf("invalid link: %w", err)
		}
	}
	subject := fmt.Sprintf("Booking %s: %s", data.Status, data.EventTitle)
	body, err := s.renderTemplate("booking_status.html", struct {
		BookingStatusData
		Subject  string
		StartsAt string
		Year     int
	}{
		BookingStatusData: BookingStatusData{
			Name:       displayName(data.Name, to),
			Reference:  data.Reference,
			EventTitle: data.EventTitle,
			Location:   data.Location,
			Status:     data.Status,
			Reason:     data.Reason,
			Link:       data.Link,
		},
		Subject:  subject,
		StartsAt: data.StartsAt.UTC().Format("Mon 2 Jan 2006 15:04 MST"),
		Year:     s.now().Year(),
	})
	if err != nil {
		return err
	}
	return s.deliver(ctx, "booking_status.html", to, subject, body)
}

func (s *Service) deliver(ctx context.Context, templateName, to, subject, body string) error {
	label := strings.TrimSuffix(templateName, ".html")
	if !s.config.Enabled {
		metrics.EmailsSent.WithLabelValues(label, "skipped").Inc()
		s.logger.Info().
			Str("to", to).
			Str("template", label).
			Msg("email service disabled, skipping email")
		return nil
	}
	if err := s.sendViaResend(ctx, label, to, subject, body); err != nil {
		metrics.EmailsSent.WithLabelValues(label, "error").Inc()
		return err
	}
	metrics.EmailsSent.WithLabelValues(label, "sent").Inc()
	return nil
}

// renderTemplate renders an email template with the given data
func (s *Service) renderTemplate(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

func displayName(name, email string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return email
}

// validateEmailAddress validates an email address for format and header injection attempts
func validateEmailAddress(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	if strings.ContainsAny(addr.Address, "\r\n") {
		return fmt.Errorf("invalid email address: contains newline characters")
	}
	return nil
}

// validateLinkURL rejects anything but absolute http(s) URLs so templates
// never carry javascript: or data: links.
func validateLinkURL(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (must be http or https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
