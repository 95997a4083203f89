package account

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider records which identity source most recently established or
// touched an account. It is not an exclusive membership: an account can
// hold both a password and an OAuth link.
type Provider string

const (
	ProviderCredentials Provider = "credentials"
	ProviderOAuth       Provider = "oauth"
)

// Account is the durable identity record keyed by normalized email.
type Account struct {
	ID                uuid.UUID `json:"id"                  db:"id"`
	Email             string    `json:"email"               db:"email"`
	Name              string    `json:"name"                db:"name"`
	PasswordHash      string    `json:"-"                   db:"password_hash"`
	AvatarURL         string    `json:"avatar_url"          db:"avatar_url"`
	Provider          Provider  `json:"provider"            db:"provider"`
	ProviderSubjectID string    `json:"provider_subject_id" db:"provider_subject_id"`
	EmailVerified     bool      `json:"email_verified"      db:"email_verified"`
	NeedsPasswordSetup bool     `json:"needs_password_setup" db:"needs_password_setup"`
	CreatedAt         time.Time `json:"created_at"          db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"          db:"updated_at"`
}

// HasPassword reports whether the account can authenticate with credentials.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// NormalizeEmail lower-cases and trims an email address. Every lookup and
// write keys on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
