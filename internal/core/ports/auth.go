package ports

import (
	"context"

	"github.com/gantry-proxy/gantry/internal/core/domain"
)

// CredentialStore performs the opaque credential-to-identity lookup the
// auth proxy (C14) needs. Gantry never validates token formats itself -
// a Bearer value, a Basic password, or an API key are all just opaque
// strings handed to Lookup, which returns the resolved user or ok=false
// if the credential doesn't resolve.
type CredentialStore interface {
	Lookup(ctx context.Context, method domain.AuthMethod, credential string) (*domain.AuthUser, bool, error)
}
