package auth

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidPhone is returned for numbers that are not 9-15 digits with an optional leading +.
	ErrInvalidPhone = errors.New("auth: invalid phone number")
	// ErrNoToken means the user never logged in or logged out.
	ErrNoToken = errors.New("auth: not logged in")
)

var phonePattern = regexp.MustCompile(`^\+?\d{9,15}$`)

// NormalizePhone trims and validates a phone number.
func NormalizePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if !phonePattern.MatchString(phone) {
		return "", ErrInvalidPhone
	}
	return phone, nil
}

// Credentials is the read-only token captured at startup and threaded into the API client
// and the live connection opener. It is never mutated after construction.
type Credentials struct {
	token string
}

// NewCredentials wraps a bearer token. Empty means anonymous.
func NewCredentials(token string) Credentials {
	return Credentials{token: strings.TrimSpace(token)}
}

// Token implements clients.TokenSource.
func (c Credentials) Token() string {
	return c.token
}

// Present reports whether a token is attached.
func (c Credentials) Present() bool {
	return c.token != ""
}

// Claims is the subset of token claims the client cares about.
type Claims struct {
	UserID    int64
	Phone     string
	ExpiresAt time.Time
}

// Expired reports whether the token expiry has passed. Tokens without exp never expire.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// InspectToken decodes claims without verifying the signature. The backend stays the
// authority; this only lets the client warn about an expired login before calling it.
func InspectToken(token string) (Claims, error) {
	if strings.TrimSpace(token) == "" {
		return Claims{}, ErrNoToken
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return Claims{}, err
	}
	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, errors.New("auth: unexpected claims type")
	}

	var claims Claims
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if id, ok := mapClaims["user_id"].(float64); ok {
		claims.UserID = int64(id)
	}
	if phone, ok := mapClaims["phone"].(string); ok {
		claims.Phone = phone
	}
	return claims, nil
}
