package auth

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// defaultTokenTTL applies when access_token_ttl is unset.
const defaultTokenTTL = 15 * time.Minute

var signingMethod = jwt.SigningMethodHS256

// Claims is the payload of an obsrelay access token.
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`

	// SessionID groups the tokens and tickets of one login.
	SessionID string `json:"sid"`
}

// GenerateAccessToken signs an HS256 token for subject, valid for
// ttlMinutes (15 when not positive). Tokens are stateless: there is no
// revocation list, so keep the TTL short.
func GenerateAccessToken(subject string, role Role, secret string, ttlMinutes int) (string, error) {
	ttl := defaultTokenTTL
	if ttlMinutes > 0 {
		ttl = time.Duration(ttlMinutes) * time.Minute
	}

	issued := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
		},
		Role:      role,
		SessionID: uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies tokenString against secret. Any failure, including
// an expired token, a foreign algorithm, an empty subject or an unknown
// role, wraps ErrTokenInvalid.
func ParseToken(tokenString, secret string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
	)
	switch {
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	case claims.Subject == "":
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	case !claims.Role.Valid():
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}
	return &claims, nil
}

// CheckPassword compares in constant time. An empty configured password
// never matches.
func CheckPassword(configured, supplied string) error {
	if configured == "" || subtle.ConstantTimeCompare([]byte(configured), []byte(supplied)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
