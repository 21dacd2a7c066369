package model

import "time"

// MailJob is one outbound email waiting in the mail queue.
type MailJob struct {
	ID         string    `json:"id"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	Text       string    `json:"text"`
	HTML       string    `json:"html,omitempty"`
	Kind       string    `json:"kind"` // verification | password_reset | welcome
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts,omitempty"` // failed deliveries so far
}
