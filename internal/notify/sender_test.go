package notify

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestPasswordSetupReminder(t *testing.T) {
	subject, body := PasswordSetupReminder("Alice", "http://front.test/setup-password")
	if subject == "" {
		t.Fatal("expected a subject")
	}
	if !strings.Contains(body, "Alice") {
		t.Fatal("body missing recipient name")
	}
	if !strings.Contains(body, "http://front.test/setup-password") {
		t.Fatal("body missing setup URL")
	}

	// A blank name still produces a sensible greeting.
	_, body = PasswordSetupReminder("", "http://front.test/setup-password")
	if strings.Contains(body, "Hi ,") {
		t.Fatal("blank name not substituted")
	}
}

func TestNoopSender(t *testing.T) {
	s := NewNoopSender(zap.NewNop())
	if err := s.Send(context.Background(), "a@example.com", "subject", "body"); err != nil {
		t.Fatalf("Send: %v", err)
	}
}
