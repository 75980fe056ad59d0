package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSigningKey = errors.New("portal validator: signing key required")
	ErrMissingIssuer     = errors.New("portal validator: issuer required")
	ErrMissingCookieName = errors.New("portal validator: cookie name required")
	ErrMissingToken      = errors.New("portal validator: token required")
	ErrInvalidToken      = errors.New("portal validator: invalid token")
	ErrExpiredToken      = errors.New("portal validator: token expired")
	ErrMissingSubject    = errors.New("portal validator: subject required")
)

// PortalClaims mirrors the JWT payload emitted by the portal's login flow.
// The engine only needs the opaque owner identity; the rest is display
// metadata.
type PortalClaims struct {
	UserID          string `json:"user_id"`
	UserEmail       string `json:"user_email"`
	UserDisplayName string `json:"user_display_name"`
	jwt.RegisteredClaims
}

// PortalValidatorConfig describes how to validate portal-issued JWTs.
type PortalValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	Clock         func() time.Time
}

// PortalValidator validates HS256 JWTs issued by the surrounding portal.
// Host-only endpoints trust its verdict for the owner identity.
type PortalValidator struct {
	signingSecret []byte
	issuer        string
	cookieName    string
	clock         func() time.Time
}

// NewPortalValidator constructs a validator with the provided configuration.
func NewPortalValidator(cfg PortalValidatorConfig) (*PortalValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingCookieName
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &PortalValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		cookieName:    cookieName,
		clock:         clock,
	}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (v *PortalValidator) CookieName() string {
	return v.cookieName
}

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (v *PortalValidator) ValidateToken(tokenString string) (PortalClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return PortalClaims{}, ErrMissingToken
	}

	claims := &PortalClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidToken, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return PortalClaims{}, ErrExpiredToken
		}
		return PortalClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return PortalClaims{}, ErrInvalidToken
	}
	if claims.Issuer != v.issuer {
		return PortalClaims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return PortalClaims{}, ErrMissingSubject
	}
	return *claims, nil
}

// ValidateRequest accepts the token from the Authorization bearer header or,
// failing that, the configured portal cookie.
func (v *PortalValidator) ValidateRequest(r *http.Request) (PortalClaims, error) {
	if r == nil {
		return PortalClaims{}, ErrMissingToken
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return v.ValidateToken(strings.TrimPrefix(header, "Bearer "))
	}
	cookie, err := r.Cookie(v.cookieName)
	if err != nil || cookie == nil {
		return PortalClaims{}, ErrMissingToken
	}
	return v.ValidateToken(cookie.Value)
}
