package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/resend/resend-go/v2"
)

// ErrRateLimited is returned when Resend refuses a message for exceeding the
// account's send rate. Queued emails are retried with backoff.
var ErrRateLimited = errors.New("email rate limit exceeded")

// sendViaResend posts one message. The template label travels as a Resend tag
// so the dashboard can split verification, reset and booking mail.
func (s *Service) sendViaResend(ctx context.Context, label, to, subject, htmlBody string) error {
	if s.resendClient == nil {
		return fmt.Errorf("resend client not initialized")
	}

	sent, err := s.resendClient.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.config.From,
		To:      []string{to},
		Subject: subject,
		Html:    htmlBody,
		Tags:    []resend.Tag{{Name: "template", Value: label}},
	})

	var limited *resend.RateLimitError
	switch {
	case errors.As(err, &limited):
		s.logger.Warn().
			Str("template", label).
			Str("remaining", limited.Remaining).
			Str("reset", limited.Reset).
			Msg("resend rate limit hit")
		return fmt.Errorf("%w: retry after %ss", ErrRateLimited, limited.Reset)
	case err != nil:
		return fmt.Errorf("send %s email: %w", label, err)
	}

	s.logger.Debug().
		Str("email_id", sent.Id).
		Str("template", label).
		Msg("email accepted by resend")
	return nil
}
