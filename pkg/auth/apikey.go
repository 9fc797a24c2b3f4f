package auth

import (
	"context"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// APIKey represents an API key entry. Exactly one of Key or KeyHash is set;
// KeyHash holds a bcrypt hash of the key.
type APIKey struct {
	Key     string   `yaml:"key"`
	KeyHash string   `yaml:"key_hash"`
	Name    string   `yaml:"name"`
	Roles   []string `yaml:"roles"`
}

// APIKeyAuthenticator authenticates using static API keys.
type APIKeyAuthenticator struct {
	keys []APIKey
}

// NewAPIKeyAuthenticator creates a new API key authenticator.
func NewAPIKeyAuthenticator(keys []APIKey) (*APIKeyAuthenticator, error) {
	for i, k := range keys {
		if k.Name == "" {
			return nil, fmt.Errorf("api key %d: name is required", i)
		}
		if (k.Key == "") == (k.KeyHash == "") {
			return nil, fmt.Errorf("api key %q: set exactly one of key or key_hash", k.Name)
		}
	}
	return &APIKeyAuthenticator{keys: append([]APIKey(nil), keys...)}, nil
}

// Authenticate validates the API key and returns user info.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context) (*UserInfo, error) {
	token := GetToken(ctx)
	if token == "" {
		return nil, ErrNoCredentials
	}

	for i := range a.keys {
		if a.match(&a.keys[i], token) {
			k := a.keys[i]
			return &UserInfo{
				UserID:   "apikey:" + k.Name,
				Name:     k.Name,
				Roles:    k.Roles,
				AuthType: "apikey",
			}, nil
		}
	}
	return nil, ErrInvalidCredentials
}

func (*APIKeyAuthenticator) match(k *APIKey, token string) bool {
	if k.KeyHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(token)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(k.Key), []byte(token)) == 1
}

// HashKey returns the bcrypt hash to store as key_hash.
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing api key: %w", err)
	}
	return string(h), nil
}

// Verify interface compliance.
var _ Authenticator = (*APIKeyAuthenticator)(nil)
