package model

import (
	"strings"
	"time"

	"github.com/gosimple/slug"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// DefaultRole is assigned to every account at creation time.
const DefaultRole = RoleUser

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// ParseRole accepts only members of the closed role set.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

const (
	LoginMethodLocal = "local"
)

type User struct {
	ID           int64   `json:"id"`
	Email        *string `json:"email"`
	Username     *string `json:"username,omitempty"`
	PasswordHash *string `json:"-"` // Not exposed
	LoginMethod  string  `json:"loginMethod"`
	Role         Role    `json:"role"`

	Name       string     `json:"name"`
	FirstName  string     `json:"firstName"`
	LastName   string     `json:"lastName"`
	Patronymic *string    `json:"patronymic,omitempty"`
	BirthDate  *time.Time `json:"birthDate,omitempty"`
	DeathDate  *time.Time `json:"deathDate,omitempty"`

	EmailVerified           bool       `json:"emailVerified"`
	EmailVerificationToken  *string    `json:"-"`
	EmailVerificationExpiry *time.Time `json:"-"`
	PasswordResetToken      *string    `json:"-"`
	PasswordResetExpiry     *time.Time `json:"-"`

	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	LastSignedIn time.Time `json:"lastSignedIn"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// EmailAddress returns the email or "" when the account has none.
func (u *User) EmailAddress() string {
	if u == nil || u.Email == nil {
		return ""
	}
	return *u.Email
}

// NewLocalUser holds the fields of a password-based signup.
type NewLocalUser struct {
	Email        string
	Username     *string
	PasswordHash string
	FirstName    string
	LastName     string
	Patronymic   *string
	BirthDate    *time.Time
	DeathDate    *time.Time
	Role         Role
}

// UserUpdate is a partial update; nil fields are left untouched.
type UserUpdate struct {
	Name       *string
	Email      *string
	Username   *string
	Role       *Role
	FirstName  *string
	LastName   *string
	Patronymic *string
	BirthDate  *time.Time
	DeathDate  *time.Time

	// ClearBirthDate and ClearDeathDate set the date to NULL. They win over
	// BirthDate/DeathDate.
	ClearBirthDate bool
	ClearDeathDate bool
}

func (u UserUpdate) Empty() bool {
	return u.Name == nil && u.Email == nil && u.Username == nil && u.Role == nil &&
		u.FirstName == nil && u.LastName == nil && u.Patronymic == nil &&
		u.BirthDate == nil && u.DeathDate == nil && !u.ClearBirthDate && !u.ClearDeathDate
}

// DisplayName is the "First Last" form stored in Name.
func DisplayName(firstName, lastName string) string {
	return strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))
}

// NormalizeUsername folds a username to its stored form: lower case ASCII
// with dashes, Cyrillic transliterated.
func NormalizeUsername(username string) string {
	return slug.Make(strings.TrimSpace(username))
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
