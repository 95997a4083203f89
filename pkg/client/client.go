// Package client provides the tollgate Go SDK: a thin HTTP client for the
// authentication API plus a periodically refreshing session cache for
// front-ends that want session state without a round trip on every render.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrUnauthenticated is returned when the service rejects the current
// token or no token is set.
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrEmailTaken is returned by Register when the email is already in use.
var ErrEmailTaken = errors.New("email already registered")

// ErrInvalidCredentials is returned by Login on a rejected email/password pair.
var ErrInvalidCredentials = errors.New("invalid credentials")

// SessionState is the service's view of the current session.
type SessionState struct {
	Authenticated      bool         `json:"authenticated"`
	Account            *SessionUser `json:"account,omitempty"`
	NeedsPasswordSetup bool         `json:"needs_password_setup"`
}

// SessionUser is the identity carried by an authenticated session.
type SessionUser struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// Account mirrors the service's account representation.
type Account struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	Name               string    `json:"name"`
	AvatarURL          string    `json:"avatar_url"`
	Provider           string    `json:"provider"`
	ProviderSubjectID  string    `json:"provider_subject_id"`
	EmailVerified      bool      `json:"email_verified"`
	NeedsPasswordSetup bool      `json:"needs_password_setup"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	Account *Account `json:"account"`
	Token   string   `json:"token"`
}

// Client is the tollgate SDK entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// token state — guarded by mu
	mu    sync.Mutex
	token string
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken seeds the client with an existing session token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a Client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the current session token, or "" when signed out.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// SetToken replaces the session token, e.g. after an OAuth callback
// delivered one through the browser fragment.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Register creates a credential account and stores the returned token.
func (c *Client) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	var res AuthResult
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/register",
		map[string]string{"name": name, "email": email, "password": password}, &res)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	c.SetToken(res.Token)
	return &res, nil
}

// Login authenticates with email/password and stores the returned token.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	var res AuthResult
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": email, "password": password}, &res)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	c.SetToken(res.Token)
	return &res, nil
}

// Logout tells the service goodbye and discards the local token. Session
// tokens are stateless, so the discard is what actually ends the session.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil)
	c.SetToken("")
	return err
}

// SetPassword sets the signed-in account's password, clearing its
// provisioning flag server-side.
func (c *Client) SetPassword(ctx context.Context, password string) error {
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/password",
		map[string]string{"password": password}, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		return ErrUnauthenticated
	}
	return err
}

// Session fetches the current session with its re-derived provisioning
// state. An unauthenticated or expired token yields a signed-out state,
// not an error.
func (c *Client) Session(ctx context.Context) (*SessionState, error) {
	var state SessionState
	err := c.do(ctx, http.MethodGet, "/api/v1/session", nil, &state)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return &SessionState{}, nil
		}
		return nil, err
	}
	return &state, nil
}

// CheckEmail reports whether a registration may proceed with the email.
func (c *Client) CheckEmail(ctx context.Context, email string) (available bool, err error) {
	var res struct {
		Available bool `json:"available"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/check-email",
		map[string]string{"email": email}, &res); err != nil {
		return false, err
	}
	return res.Available, nil
}

// OAuthStartURL returns the URL a browser should visit to begin the OAuth
// flow with the given provider.
func (c *Client) OAuthStartURL(provider string) string {
	return c.baseURL + "/api/v1/auth/oauth/" + provider
}

// APIError is a non-2xx response from the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tollgate: %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiRes struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &apiRes)
		return &APIError{Status: resp.StatusCode, Message: apiRes.Error}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
