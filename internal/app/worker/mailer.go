package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wra13107/digital-memorial-landing/internal/domain/model"
)

// ErrPermanent marks a delivery the notification API rejected outright;
// retrying the same job will not help.
var ErrPermanent = errors.New("mail rejected by notification API")

// Mailer delivers one message.
type Mailer interface {
	Send(ctx context.Context, job model.MailJob) error
}

// NotificationMailer posts mail to the notification service's send-email endpoint.
type NotificationMailer struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewNotificationMailer targets {baseURL}/notification/send-email. client may
// be nil.
func NewNotificationMailer(baseURL, apiKey string, client *http.Client) *NotificationMailer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &NotificationMailer{
		endpoint: strings.TrimRight(baseURL, "/") + "/notification/send-email",
		apiKey:   apiKey,
		client:   client,
	}
}

type sendEmailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

func (m *NotificationMailer) Send(ctx context.Context, job model.MailJob) error {
	body := sendEmailRequest{
		To:      job.To,
		Subject: job.Subject,
		HTML:    job.HTML,
		Text:    job.Text,
	}
	if body.HTML == "" {
		body.HTML = "<pre>" + html.EscapeString(job.Text) + "</pre>"
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrPermanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to notification API: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrPermanent, resp.StatusCode)
	default:
		return fmt.Errorf("notification API returned status %d", resp.StatusCode)
	}
}

// LogMailer only logs the envelope. Used when MAIL_API_URL is not configured.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) Send(_ context.Context, job model.MailJob) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail delivery disabled, dropping message",
		"job_id", job.ID, "to", job.To, "kind", job.Kind, "subject", job.Subject)
	return nil
}
