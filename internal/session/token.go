// Package session implements the session authority: it mints signed
// session tokens at sign-in and re-derives their authoritative fields
// from current stored state on every subsequent request.
package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the JWT claims for a tollgate session token. The
// needs_password_setup value is a snapshot taken at issuance and is never
// trusted for access decisions; Authority.Authorize re-derives it.
type Claims struct {
	jwt.RegisteredClaims
	AccountID          string `json:"account_id"`
	Email              string `json:"email"`
	Name               string `json:"name"`
	AvatarURL          string `json:"avatar_url,omitempty"`
	NeedsPasswordSetup bool   `json:"needs_password_setup"`
	Type               string `json:"type"` // "session" or "oauth-state"
}

// TokenCodec signs and verifies session JWTs with a process-wide HMAC secret.
type TokenCodec struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenCodec creates a TokenCodec.
//
//	issuerURL — the "iss" claim value; matches the service base URL.
//	ttl       — token lifetime (default: 24 hours).
func NewTokenCodec(secret []byte, issuerURL string, ttl time.Duration) *TokenCodec {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &TokenCodec{secret: secret, issuer: issuerURL, ttl: ttl}
}

// Sign creates a signed session token carrying the given claims snapshot.
func (c *TokenCodec) Sign(accountID, email, name, avatarURL string, needsPasswordSetup bool) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			ID:        uuid.New().String(),
		},
		AccountID:          accountID,
		Email:              email,
		Name:               name,
		AvatarURL:          avatarURL,
		NeedsPasswordSetup: needsPasswordSetup,
		Type:               "session",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token, returning its claims.
func (c *TokenCodec) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		c.keyFunc,
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify session token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token claims")
	}
	if claims.Type != "session" {
		return nil, fmt.Errorf("not a session token")
	}
	return claims, nil
}

// SignOAuthState creates a short-lived JWT used as the OAuth state
// parameter. The provider name is embedded so the callback can verify it.
func (c *TokenCodec) SignOAuthState(provider string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   "oauth-state",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
			ID:        uuid.New().String(),
		},
		Name: provider,
		Type: "oauth-state",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign oauth state: %w", err)
	}
	return signed, nil
}

// VerifyOAuthState validates an OAuth state JWT and returns the embedded provider.
func (c *TokenCodec) VerifyOAuthState(tokenStr string) (provider string, err error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		c.keyFunc,
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("invalid oauth state: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Type != "oauth-state" {
		return "", fmt.Errorf("not an oauth state token")
	}
	return claims.Name, nil
}

func (c *TokenCodec) keyFunc(tok *jwt.Token) (any, error) {
	if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
	}
	return c.secret, nil
}
