package gateway

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized rejects a connection whose bearer token does not verify.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the verified caller behind a connection.
type Identity struct {
	UserID   string
	DeviceID string
}

// LimitKey is the join limiter bucket for this caller.
func (i Identity) LimitKey() string {
	if i.DeviceID != "" {
		return "device:" + i.DeviceID
	}
	return "user:" + i.UserID
}

type voiceClaims struct {
	jwt.RegisteredClaims
	DeviceID string `json:"device_id,omitempty"`
}

// AuthConfig holds HS256 verification settings.
type AuthConfig struct {
	Secret   string
	Issuer   string
	Audience string
	Now      func() time.Time
}

// Authenticator verifies gateway bearer tokens.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

func NewAuthenticator(cfg AuthConfig) *Authenticator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Authenticator{
		secret:   []byte(strings.TrimSpace(cfg.Secret)),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		now:      cfg.Now,
	}
}

// Verify checks signature, issuer, audience, and expiry, and requires a subject.
func (a *Authenticator) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, fmt.Errorf("%w: token is required", ErrUnauthorized)
	}
	if len(a.secret) == 0 {
		return Identity{}, fmt.Errorf("%w: token verification is not configured", ErrUnauthorized)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	var claims voiceClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, mapJWTError(err)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Identity{}, fmt.Errorf("%w: token subject is required", ErrUnauthorized)
	}
	return Identity{UserID: subject, DeviceID: strings.TrimSpace(claims.DeviceID)}, nil
}

// Issue signs a token for id valid for ttl. Used by operators and tests.
func (a *Authenticator) Issue(id Identity, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("token signing is not configured")
	}
	now := a.now()
	claims := voiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		DeviceID: id.DeviceID,
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: token is expired", ErrUnauthorized)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: token signature is invalid", ErrUnauthorized)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: token issuer mismatch", ErrUnauthorized)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: token audience mismatch", ErrUnauthorized)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: token alg is invalid", ErrUnauthorized)
	default:
		return fmt.Errorf("%w: token is invalid", ErrUnauthorized)
	}
}
