package auth

import (
	"context"
	"errors"
)

// ChainedAuthenticator tries multiple authenticators in order.
type ChainedAuthenticator struct {
	authenticators []Authenticator
}

// NewChainedAuthenticator creates a new chained authenticator.
func NewChainedAuthenticator(authenticators ...Authenticator) *ChainedAuthenticator {
	return &ChainedAuthenticator{authenticators: authenticators}
}

// Authenticate returns the first successful result. Without any
// authenticator every call fails.
func (c *ChainedAuthenticator) Authenticate(ctx context.Context) (*UserInfo, error) {
	if GetToken(ctx) == "" {
		return nil, ErrNoCredentials
	}

	var errs []error
	for _, a := range c.authenticators {
		u, err := a.Authenticate(ctx)
		if err == nil && u != nil {
			return u, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil, ErrInvalidCredentials
	}
	return nil, errors.Join(errs...)
}

// Verify interface compliance.
var _ Authenticator = (*ChainedAuthenticator)(nil)
