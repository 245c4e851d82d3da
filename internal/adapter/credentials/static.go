// Package credentials implements ports.CredentialStore: the opaque
// credential-to-identity lookup the auth proxy (C14) needs. Grounded on
// adapter/security's validator shape (config-built, immutable lookup
// table, no mutable internal state) rather than the discovery package's
// reload-under-lock registries, since credentials here never hot-reload
// independently of the rest of the config.
package credentials

import (
	"context"

	"github.com/gantry-proxy/gantry/internal/config"
	"github.com/gantry-proxy/gantry/internal/core/domain"
)

type credentialKey struct {
	method     domain.AuthMethod
	credential string
}

// Static is a ports.CredentialStore backed by a fixed, config-supplied
// table of method+credential -> identity entries.
type Static struct {
	users map[credentialKey]*domain.AuthUser
}

// NewStatic builds a Static store from the operator's configured
// credential list.
func NewStatic(entries []config.CredentialConfig) *Static {
	users := make(map[credentialKey]*domain.AuthUser, len(entries))
	for _, e := range entries {
		key := credentialKey{method: domain.AuthMethod(e.Method), credential: e.Credential}
		users[key] = &domain.AuthUser{ID: e.UserID, Roles: e.Roles}
	}
	return &Static{users: users}
}

// Lookup resolves credential under method to the identity configured for
// it, or ok=false if no entry matches.
func (s *Static) Lookup(ctx context.Context, method domain.AuthMethod, credential string) (*domain.AuthUser, bool, error) {
	user, ok := s.users[credentialKey{method: method, credential: credential}]
	return user, ok, nil
}
