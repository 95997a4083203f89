package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// stubService is a minimal in-process stand-in for the auth API. One
// account, credential sign-in only, token == account email.
type stubService struct {
	mu       sync.Mutex
	email    string
	password string
	needs    bool
}

func (s *stubService) setNeeds(v bool) {
	s.mu.Lock()
	s.needs = v
	s.mu.Unlock()
}

func (s *stubService) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/register", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		var req struct{ Name, Email, Password string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		if strings.EqualFold(req.Email, s.email) {
			writeJSON(w, http.StatusConflict, map[string]any{"error": "email already registered"})
			return
		}
		s.email, s.password = strings.ToLower(req.Email), req.Password
		writeJSON(w, http.StatusCreated, map[string]any{
			"account": map[string]any{"email": s.email, "name": req.Name},
			"token":   s.email,
		})
	})

	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		var req struct{ Email, Password string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !strings.EqualFold(req.Email, s.email) || req.Password != s.password {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"account": map[string]any{"email": s.email},
			"token":   s.email,
		})
	})

	mux.HandleFunc("POST /api/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"message": "ok"})
	})

	mux.HandleFunc("POST /api/v1/auth/password", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if bearer(r) != s.email || s.email == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid session"})
			return
		}
		var req struct{ Password string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.password = req.Password
		s.needs = false
		writeJSON(w, http.StatusOK, map[string]any{"account": map[string]any{"email": s.email}})
	})

	mux.HandleFunc("POST /api/v1/auth/check-email", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		var req struct{ Email string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, http.StatusOK, map[string]any{"available": !strings.EqualFold(req.Email, s.email)})
	})

	mux.HandleFunc("GET /api/v1/session", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if bearer(r) != s.email || s.email == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid session"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated":        true,
			"account":              map[string]any{"email": s.email},
			"needs_password_setup": s.needs,
		})
	})

	return mux
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, svc *stubService) *Client {
	t.Helper()
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestRegisterStoresToken(t *testing.T) {
	c := newTestClient(t, &stubService{})
	ctx := context.Background()

	res, err := c.Register(ctx, "Alice", "alice@example.com", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.Token == "" || c.Token() != res.Token {
		t.Fatal("token not stored on client")
	}

	if _, err := c.Register(ctx, "Imposter", "alice@example.com", "other12345"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLoginErrorMapping(t *testing.T) {
	c := newTestClient(t, &stubService{email: "alice@example.com", password: "password123"})
	ctx := context.Background()

	if _, err := c.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if c.Token() != "" {
		t.Fatal("failed login must not leave a token")
	}

	if _, err := c.Login(ctx, "alice@example.com", "password123"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if c.Token() == "" {
		t.Fatal("token not stored after login")
	}
}

func TestSessionSignedOutIsNotAnError(t *testing.T) {
	c := newTestClient(t, &stubService{email: "alice@example.com", password: "password123"})

	state, err := c.Session(context.Background())
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if state.Authenticated {
		t.Fatal("expected signed-out state without a token")
	}
}

func TestLogoutClearsToken(t *testing.T) {
	c := newTestClient(t, &stubService{email: "alice@example.com", password: "password123"})
	ctx := context.Background()

	if _, err := c.Login(ctx, "alice@example.com", "password123"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := c.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if c.Token() != "" {
		t.Fatal("token survived logout")
	}
}

func TestSetPasswordUnauthenticated(t *testing.T) {
	c := newTestClient(t, &stubService{email: "alice@example.com", password: "password123"})
	if err := c.SetPassword(context.Background(), "newpassword1"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestCheckEmail(t *testing.T) {
	c := newTestClient(t, &stubService{email: "alice@example.com", password: "password123"})
	ctx := context.Background()

	avail, err := c.CheckEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("CheckEmail: %v", err)
	}
	if avail {
		t.Fatal("registered email reported available")
	}

	avail, err = c.CheckEmail(ctx, "free@example.com")
	if err != nil {
		t.Fatalf("CheckEmail: %v", err)
	}
	if !avail {
		t.Fatal("free email reported unavailable")
	}
}

func TestOAuthStartURL(t *testing.T) {
	c := New("http://tollgate.test")
	if got := c.OAuthStartURL("google"); got != "http://tollgate.test/api/v1/auth/oauth/google" {
		t.Fatalf("unexpected URL %q", got)
	}
}
