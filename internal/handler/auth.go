// Package handler exposes the authentication service over HTTP. Handlers
// are thin: they translate requests into reconciler and session-authority
// calls and map typed failures onto status codes without leaking whether
// an email is registered.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tollgate-io/tollgate/internal/account"
	"github.com/tollgate-io/tollgate/internal/audit"
	"github.com/tollgate-io/tollgate/internal/credential"
	"github.com/tollgate-io/tollgate/internal/reconcile"
	"github.com/tollgate-io/tollgate/internal/session"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// OAuthProviderConfig holds OAuth client credentials for a single provider.
type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// reconcilerSvc is the interface expected by AuthHandler, satisfied by
// *reconcile.Reconciler.
type reconcilerSvc interface {
	Authenticate(ctx context.Context, email, plaintext string) (*account.Account, error)
	Register(ctx context.Context, name, email, plaintext string) (*account.Account, error)
	ReconcileOAuth(ctx context.Context, assertion reconcile.OAuthAssertion) (*account.Account, error)
	SetPassword(ctx context.Context, accountID uuid.UUID, plaintext string) (*account.Account, error)
}

// emailLookup is the read-only store slice used by the check-email endpoint.
type emailLookup interface {
	FindByEmail(ctx context.Context, email string) (*account.Account, error)
}

// AuthHandler handles authentication and session routes.
type AuthHandler struct {
	reconciler  reconcilerSvc
	authority   *session.Authority
	emails      emailLookup
	oauthCfgs   map[string]*oauth2.Config
	frontendURL string // where the OAuth callback sends the browser
	setupURL    string // password-setup page surfaced by the provisioning gate
	auditLog    audit.Log
	logger      *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
// oauthProviders may be nil or empty to disable OAuth routes.
func NewAuthHandler(
	reconciler reconcilerSvc,
	authority *session.Authority,
	emails emailLookup,
	oauthProviders map[string]OAuthProviderConfig,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		reconciler:  reconciler,
		authority:   authority,
		emails:      emails,
		oauthCfgs:   buildOAuthConfigs(oauthProviders),
		frontendURL: "http://localhost:3000",
		logger:      logger,
	}
}

// SetFrontendURL sets the base URL of the frontend for OAuth callback redirects.
func (h *AuthHandler) SetFrontendURL(url string) {
	h.frontendURL = url
}

// SetSetupURL sets the password-setup page URL returned by the provisioning gate.
func (h *AuthHandler) SetSetupURL(url string) {
	h.setupURL = url
}

// SetAuditLog configures an optional audit log for account lifecycle events.
func (h *AuthHandler) SetAuditLog(l audit.Log) {
	h.auditLog = l
}

// auditEvent appends to the audit log. Best-effort: a failed append is
// logged but never fails the request.
func (h *AuthHandler) auditEvent(c *gin.Context, accountID, event, detail string, payload any) {
	if h.auditLog == nil {
		return
	}
	if _, err := h.auditLog.Append(c.Request.Context(), accountID, event, detail, payload); err != nil {
		h.logger.Warn("append audit entry", zap.String("event", event), zap.Error(err))
	}
}

// buildOAuthConfigs converts the raw provider config map into oauth2.Config instances.
func buildOAuthConfigs(providers map[string]OAuthProviderConfig) map[string]*oauth2.Config {
	cfgs := make(map[string]*oauth2.Config)
	for name, p := range providers {
		if p.ClientID == "" || p.ClientSecret == "" {
			continue
		}
		var endpoint oauth2.Endpoint
		var scopes []string
		switch name {
		case "google":
			endpoint = google.Endpoint
			scopes = []string{"openid", "email", "profile"}
		case "github":
			endpoint = github.Endpoint
			scopes = []string{"user:email"}
		default:
			continue
		}
		cfgs[name] = &oauth2.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  p.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		}
	}
	return cfgs
}

// Register mounts all auth and session routes on the provided router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	auth := rg.Group("/auth")
	{
		auth.POST("/register", h.RegisterAccount)
		auth.POST("/login", h.Login)
		auth.POST("/logout", h.Logout)
		auth.POST("/check-email", h.CheckEmail)
		auth.POST("/password", session.RequireSession(h.authority), h.SetPassword)
		auth.GET("/oauth/:provider", h.OAuthRedirect)
		auth.GET("/oauth/:provider/callback", h.OAuthCallback)
	}

	rg.GET("/session", session.RequireSession(h.authority), h.Session)
	rg.GET("/audit/root", h.AuditRoot)

	// Example protected resource: requires a session AND a completed
	// provisioning state.
	rg.GET("/me",
		session.RequireSession(h.authority),
		session.GatePasswordSetup(h.setupURL),
		h.Me,
	)
}

// ─── Request types ───────────────────────────────────────────────────────────

type registerRequest struct {
	Name     string `json:"name"     binding:"required"`
	Email    string `json:"email"    binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email"    binding:"required"`
	Password string `json:"password" binding:"required"`
}

type setPasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

type checkEmailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ─── Handlers ────────────────────────────────────────────────────────────────

// RegisterAccount handles POST /auth/register — creates a credential account
// and signs the caller in immediately.
func (h *AuthHandler) RegisterAccount(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := h.reconciler.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		case errors.Is(err, credential.ErrWeakPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, reconcile.ErrStoreUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		default:
			h.logger.Error("register", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		}
		return
	}

	tok, err := h.authority.Issue(a)
	if err != nil {
		h.logger.Error("issue token after register", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	RecordSignIn("credentials", true)
	h.auditEvent(c, a.ID.String(), audit.EventRegistered, "", gin.H{"email": a.Email})
	c.JSON(http.StatusCreated, gin.H{"account": a, "token": tok})
}

// Login handles POST /auth/login — authenticates with email/password.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := h.reconciler.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, reconcile.ErrStoreUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
			return
		}
		// Unknown email, password-less account, and wrong password all
		// surface identically.
		RecordSignIn("credentials", false)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	tok, err := h.authority.Issue(a)
	if err != nil {
		h.logger.Error("issue token after login", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	RecordSignIn("credentials", true)
	h.auditEvent(c, a.ID.String(), audit.EventSignedIn, "credentials", nil)
	c.JSON(http.StatusOK, gin.H{"account": a, "token": tok})
}

// Logout handles POST /auth/logout.
// Session tokens are stateless, so revocation is client-side: the client
// discards the token. The endpoint exists to give clients a clean logout call.
func (h *AuthHandler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "logged out — discard your token client-side",
	})
}

// CheckEmail handles POST /auth/check-email — reports only whether a
// registration may proceed with the given email. Provisioning details for
// arbitrary emails are never returned.
func (h *AuthHandler) CheckEmail(c *gin.Context) {
	var req checkEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	_, err := h.emails.FindByEmail(c.Request.Context(), req.Email)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"available": false})
	case errors.Is(err, account.ErrNotFound):
		c.JSON(http.StatusOK, gin.H{"available": true})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	}
}

// SetPassword handles POST /auth/password — sets the authenticated
// account's password and clears its provisioning flag. Deliberately not
// gated on needing setup: repeating the operation is harmless.
func (h *AuthHandler) SetPassword(c *gin.Context) {
	sess := session.FromCtx(c)
	if sess == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session required"})
		return
	}

	var req setPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := h.reconciler.SetPassword(c.Request.Context(), sess.AccountID, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, credential.ErrWeakPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, reconcile.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		case errors.Is(err, reconcile.ErrStoreUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		default:
			h.logger.Error("set password", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set password"})
		}
		return
	}

	RecordPasswordSetup()
	h.auditEvent(c, a.ID.String(), audit.EventPasswordSetup, "", nil)
	c.JSON(http.StatusOK, gin.H{"account": a})
}

// Session handles GET /session — returns the enriched session with its
// freshly re-derived provisioning state.
func (h *AuthHandler) Session(c *gin.Context) {
	sess := session.FromCtx(c)
	if sess == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session required"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"account": gin.H{
			"id":         sess.AccountID,
			"email":      sess.Email,
			"name":       sess.Name,
			"avatar_url": sess.AvatarURL,
		},
		"needs_password_setup": session.RequiresPasswordSetup(sess),
	})
}

// Me handles GET /me — an example gated resource returning the full account.
func (h *AuthHandler) Me(c *gin.Context) {
	sess := session.FromCtx(c)
	if sess == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session required"})
		return
	}

	a, err := h.emails.FindByEmail(c.Request.Context(), sess.Email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": a})
}

// OAuthRedirect handles GET /auth/oauth/:provider — redirects to the OAuth provider.
func (h *AuthHandler) OAuthRedirect(c *gin.Context) {
	provider := c.Param("provider")
	cfg, ok := h.oauthCfgs[provider]
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fmt.Sprintf("OAuth provider %q not configured", provider)})
		return
	}

	state, err := h.authority.Codec().SignOAuthState(provider)
	if err != nil {
		h.logger.Error("generate oauth state", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate OAuth state"})
		return
	}

	url := cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
	c.Redirect(http.StatusFound, url)
}

// OAuthCallback handles GET /auth/oauth/:provider/callback.
func (h *AuthHandler) OAuthCallback(c *gin.Context) {
	provider := c.Param("provider")
	cfg, ok := h.oauthCfgs[provider]
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fmt.Sprintf("OAuth provider %q not configured", provider)})
		return
	}

	// Validate state to prevent CSRF
	stateParam := c.Query("state")
	gotProvider, err := h.authority.Codec().VerifyOAuthState(stateParam)
	if err != nil || gotProvider != provider {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid OAuth state"})
		return
	}

	code := c.Query("code")
	if code == "" {
		errMsg := c.Query("error_description")
		if errMsg == "" {
			errMsg = c.Query("error")
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "OAuth authorization failed: " + errMsg})
		return
	}

	oauthToken, err := cfg.Exchange(c.Request.Context(), code)
	if err != nil {
		h.logger.Error("oauth code exchange", zap.String("provider", provider), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "OAuth code exchange failed"})
		return
	}

	assertion, err := fetchOAuthUserInfo(c.Request.Context(), provider, oauthToken.AccessToken)
	if err != nil {
		h.logger.Error("fetch oauth user info", zap.String("provider", provider), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch user info from provider"})
		return
	}

	a, err := h.reconciler.ReconcileOAuth(c.Request.Context(), assertion)
	if err != nil {
		RecordSignIn("oauth", false)
		h.logger.Error("reconcile oauth sign-in", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process OAuth login"})
		return
	}

	tok, err := h.authority.Issue(a)
	if err != nil {
		h.logger.Error("issue token after oauth", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	// Redirect the browser to the frontend callback page with the token in
	// the URL fragment (#). Fragments are never sent to the server, so the
	// token stays client-side only.
	RecordSignIn("oauth", true)
	h.auditEvent(c, a.ID.String(), audit.EventOAuthSignIn, provider, nil)
	c.Redirect(http.StatusFound, h.frontendURL+"/oauth/callback#token="+tok)
}

// AuditRoot handles GET /audit/root — publishes the audit chain tip so
// external observers can detect history rewrites between polls.
func (h *AuthHandler) AuditRoot(c *gin.Context) {
	if h.auditLog == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit log not enabled"})
		return
	}

	root, err := h.auditLog.Root(c.Request.Context())
	if err != nil {
		h.logger.Error("read audit root", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log unavailable"})
		return
	}
	n, err := h.auditLog.Len(c.Request.Context())
	if err != nil {
		h.logger.Error("read audit length", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"root": root, "length": n})
}

// ─── OAuth user-info helpers ──────────────────────────────────────────────────

// fetchOAuthUserInfo calls the provider's user-info API and returns the
// identity assertion used for reconciliation.
func fetchOAuthUserInfo(ctx context.Context, provider, accessToken string) (reconcile.OAuthAssertion, error) {
	switch provider {
	case "google":
		return fetchGoogleUserInfo(ctx, accessToken)
	case "github":
		return fetchGitHubUserInfo(ctx, accessToken)
	default:
		return reconcile.OAuthAssertion{}, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func fetchGoogleUserInfo(ctx context.Context, accessToken string) (reconcile.OAuthAssertion, error) {
	body, err := oauthAPIGet(ctx, "https://www.googleapis.com/oauth2/v2/userinfo", accessToken)
	if err != nil {
		return reconcile.OAuthAssertion{}, err
	}

	var info struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return reconcile.OAuthAssertion{}, fmt.Errorf("parse google user info: %w", err)
	}
	if info.Email == "" {
		return reconcile.OAuthAssertion{}, fmt.Errorf("google user info missing email")
	}

	return reconcile.OAuthAssertion{
		Email:       info.Email,
		DisplayName: info.Name,
		AvatarURL:   info.Picture,
		SubjectID:   info.ID,
	}, nil
}

func fetchGitHubUserInfo(ctx context.Context, accessToken string) (reconcile.OAuthAssertion, error) {
	body, err := oauthAPIGet(ctx, "https://api.github.com/user", accessToken)
	if err != nil {
		return reconcile.OAuthAssertion{}, err
	}

	var info struct {
		ID        int    `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return reconcile.OAuthAssertion{}, fmt.Errorf("parse github user info: %w", err)
	}

	// GitHub may not return a public email; fall back to /user/emails.
	if info.Email == "" {
		info.Email, err = fetchGitHubPrimaryEmail(ctx, accessToken)
		if err != nil || info.Email == "" {
			return reconcile.OAuthAssertion{}, fmt.Errorf("github account has no usable email")
		}
	}

	displayName := info.Name
	if displayName == "" {
		displayName = info.Login
	}

	return reconcile.OAuthAssertion{
		Email:       info.Email,
		DisplayName: displayName,
		AvatarURL:   info.AvatarURL,
		SubjectID:   fmt.Sprintf("%d", info.ID),
	}, nil
}

func fetchGitHubPrimaryEmail(ctx context.Context, accessToken string) (string, error) {
	body, err := oauthAPIGet(ctx, "https://api.github.com/user/emails", accessToken)
	if err != nil {
		return "", err
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal(body, &emails); err != nil {
		return "", fmt.Errorf("parse github emails: %w", err)
	}

	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}
	return "", fmt.Errorf("no verified email on github account")
}

func oauthAPIGet(ctx context.Context, url, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}
