package service

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"time"

	"github.com/wra13107/digital-memorial-landing/internal/domain/model"
)

const (
	MailKindVerification  = "verification"
	MailKindPasswordReset = "password_reset"
)

// MailQueue accepts outbound mail for asynchronous delivery.
type MailQueue interface {
	Enqueue(ctx context.Context, job model.MailJob) error
}

// LogMailQueue writes mail to the log instead of delivering it. Used when no
// Redis queue is configured.
type LogMailQueue struct {
	Logger *slog.Logger
}

func (q LogMailQueue) Enqueue(_ context.Context, job model.MailJob) error {
	logger := q.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail queue disabled, dropping message",
		"to", job.To, "kind", job.Kind, "subject", job.Subject)
	return nil
}

func validFor(ttl time.Duration) string {
	switch {
	case ttl >= time.Hour && ttl%time.Hour == 0:
		if ttl == time.Hour {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", int(ttl/time.Hour))
	case ttl >= time.Minute:
		return fmt.Sprintf("%d minutes", int(ttl/time.Minute))
	}
	return ttl.String()
}

func tokenLink(baseURL, path, rawToken string) string {
	return baseURL + path + "?token=" + url.QueryEscape(rawToken)
}

func verificationMail(u *model.User, link string, ttl time.Duration) model.MailJob {
	name := u.FirstName
	if name == "" {
		name = "there"
	}
	return model.MailJob{
		To:      u.EmailAddress(),
		Kind:    MailKindVerification,
		Subject: "Confirm your email address",
		Text: fmt.Sprintf("Hello %s,\n\nPlease confirm your email address by opening the link below:\n%s\n\n"+
			"The link is valid for %s. If you did not create an account, ignore this message.\n", name, link, validFor(ttl)),
		HTML: fmt.Sprintf(`<p>Hello %s,</p><p>Please confirm your email address:</p>`+
			`<p><a href="%s">Confirm email</a></p><p>The link is valid for %s.</p>`,
			html.EscapeString(name), html.EscapeString(link), validFor(ttl)),
	}
}

func passwordResetMail(u *model.User, link string, ttl time.Duration) model.MailJob {
	name := u.FirstName
	if name == "" {
		name = "there"
	}
	return model.MailJob{
		To:      u.EmailAddress(),
		Kind:    MailKindPasswordReset,
		Subject: "Reset your password",
		Text: fmt.Sprintf("Hello %s,\n\nA password reset was requested for your account. Open the link below to choose a new password:\n%s\n\n"+
			"The link is valid for %s and can be used once. If you did not request a reset, ignore this message.\n", name, link, validFor(ttl)),
		HTML: fmt.Sprintf(`<p>Hello %s,</p><p>A password reset was requested for your account.</p>`+
			`<p><a href="%s">Choose a new password</a></p><p>The link is valid for %s and can be used once.</p>`,
			html.EscapeString(name), html.EscapeString(link), validFor(ttl)),
	}
}
