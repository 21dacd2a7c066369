package service

import (
	"html"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/wra13107/digital-memorial-landing/internal/common"
	"github.com/wra13107/digital-memorial-landing/internal/common/security"
	"github.com/wra13107/digital-memorial-landing/internal/domain/model"
)

const (
	MinPasswordLength = 8
	maxNameLength     = 100
	dateLayout        = "2006-01-02"

	// Decoding entities can expose new markup; passes repeat until stable.
	maxCleanPasses = 4
)

// Free-text profile fields are stored as plain text.
var textPolicy = bluemonday.StrictPolicy()

func validateEmail(raw string) (string, error) {
	email := model.NormalizeEmail(raw)
	if email == "" {
		return "", &common.ValidationError{Field: "email", Message: "is required"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", &common.ValidationError{Field: "email", Message: "is not a valid email address"}
	}
	return email, nil
}

func validatePassword(field, password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return &common.ValidationError{Field: field, Message: "must be at least 8 characters"}
	}
	if len(password) > security.MaxPasswordBytes {
		return &common.ValidationError{Field: field, Message: "must be at most 72 bytes"}
	}
	return nil
}

// cleanText reduces user supplied text to plain text. ok is false when angle
// brackets survive sanitizing.
func cleanText(s string) (text string, ok bool) {
	text = s
	for i := 0; i < maxCleanPasses; i++ {
		next := html.UnescapeString(textPolicy.Sanitize(text))
		if next == text {
			break
		}
		text = next
	}
	text = strings.TrimSpace(text)
	return text, !strings.ContainsAny(text, "<>")
}

func validateName(field, raw string, required bool) (string, error) {
	name, ok := cleanText(raw)
	if !ok {
		return "", &common.ValidationError{Field: field, Message: "must not contain markup"}
	}
	if name == "" && required {
		return "", &common.ValidationError{Field: field, Message: "is required"}
	}
	if len([]rune(name)) > maxNameLength {
		return "", &common.ValidationError{Field: field, Message: "is too long"}
	}
	return name, nil
}

func validateUsername(raw string) (*string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	username := model.NormalizeUsername(raw)
	if username == "" {
		return nil, &common.ValidationError{Field: "username", Message: "must contain letters or digits"}
	}
	if len(username) > maxNameLength {
		return nil, &common.ValidationError{Field: "username", Message: "is too long"}
	}
	return &username, nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339. Empty input yields nil.
func parseDate(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{dateLayout, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, &common.ValidationError{Field: field, Message: "must be a date in YYYY-MM-DD format"}
}

func validateLifeDates(birth, death *time.Time) error {
	if birth != nil && death != nil && death.Before(*birth) {
		return &common.ValidationError{Field: "deathDate", Message: "must not be before birthDate"}
	}
	return nil
}
