package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures HMAC-signed operator tokens.
type JWTConfig struct {
	// Issuer is the expected iss claim.
	Issuer string `yaml:"issuer"`

	// SigningKey is the HMAC key.
	SigningKey string `yaml:"signing_key"`
}

// Claims are the claims carried by operator tokens.
type Claims struct {
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates and issues HMAC JWTs.
type JWTAuthenticator struct {
	issuer string
	key    []byte
	now    func() time.Time
}

// NewJWTAuthenticator creates a JWT authenticator.
func NewJWTAuthenticator(cfg JWTConfig) (*JWTAuthenticator, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("jwt issuer is required")
	}
	if len(cfg.SigningKey) < 32 {
		return nil, errors.New("jwt signing key must be at least 32 bytes")
	}
	return &JWTAuthenticator{issuer: cfg.Issuer, key: []byte(cfg.SigningKey), now: time.Now}, nil
}

// Issue signs a token for subject with roles, valid for ttl.
func (a *JWTAuthenticator) Issue(subject, name string, roles []string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Name:  name,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Authenticate validates the JWT token and returns user info.
func (a *JWTAuthenticator) Authenticate(ctx context.Context) (*UserInfo, error) {
	token := GetToken(ctx)
	if token == "" {
		return nil, ErrNoCredentials
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.key, nil
	},
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidCredentials
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidCredentials)
	}

	return &UserInfo{
		UserID:   claims.Subject,
		Name:     claims.Name,
		Roles:    claims.Roles,
		AuthType: "jwt",
	}, nil
}

// Verify interface compliance.
var _ Authenticator = (*JWTAuthenticator)(nil)
