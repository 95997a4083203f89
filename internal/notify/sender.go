// Package notify delivers transactional email to account holders, such as
// the reminder sent to fresh OAuth accounts that still need a password.
package notify

import (
	"context"
	"fmt"
)

// Sender delivers transactional email.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// PasswordSetupReminder builds the message sent to a newly created OAuth
// account that has not yet chosen a password.
func PasswordSetupReminder(name, setupURL string) (subject, body string) {
	if name == "" {
		name = "there"
	}
	subject = "Finish setting up your account"
	body = fmt.Sprintf(
		"Hi %s,\n\n"+
			"Your account was created through a third-party sign-in and does not\n"+
			"have a password yet. Set one to enable email sign-in:\n\n%s\n\n"+
			"If you did not create this account, you can ignore this message.\n",
		name, setupURL,
	)
	return subject, body
}
