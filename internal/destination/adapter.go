package destination

import (
	"context"

	"github.com/edvin/spoolvault/internal/model"
)

// Config is the fully resolved configuration handed to an adapter call:
// the row from backup_destinations plus the decrypted credential.
type Config struct {
	UserID      string
	Destination string
	FolderPath  string
	Settings    model.DestinationSettings
	Credentials *model.Credentials
	// PersistCredentials, when set, is invoked after a provider rotates the
	// stored token mid-call so the refreshed credential survives the process.
	PersistCredentials func(ctx context.Context, creds *model.Credentials) error
}

// RemoteRef identifies an uploaded archive at its destination.
type RemoteRef struct {
	Destination string `json:"destination"`
	// Key is adapter-specific: an object key, a WebDAV path, a provider
	// file ID, or a local filename.
	Key string `json:"key"`
}

// Adapter is the uniform transfer contract over one transport/auth model.
// Implementations translate provider failures into model.Error kinds:
// AuthExpired, QuotaExceeded, NetworkError, ConfigInvalid.
type Adapter interface {
	Name() string
	Test(ctx context.Context, cfg Config) error
	Upload(ctx context.Context, cfg Config, filename string, data []byte) (RemoteRef, error)
	Download(ctx context.Context, cfg Config, ref RemoteRef) ([]byte, error)
	Delete(ctx context.Context, cfg Config, ref RemoteRef) error
}

// OAuthAdapter is implemented by destinations configured through the
// authorization-code redirect flow.
type OAuthAdapter interface {
	Adapter
	// AuthorizationURL builds the provider consent URL carrying the given
	// opaque state value.
	AuthorizationURL(state string) string
	// ExchangeCode swaps a redirect code for a long-lived credential.
	ExchangeCode(ctx context.Context, code string) (*model.Credentials, error)
}

// Registry maps destination identifiers to adapters.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// For returns the adapter for a destination, or a ConfigInvalid error for
// destinations this deployment does not serve.
func (r *Registry) For(dest string) (Adapter, error) {
	a, ok := r.adapters[dest]
	if !ok {
		return nil, model.E(model.KindConfigInvalid, "unsupported destination "+dest)
	}
	return a, nil
}

// OAuthFor returns the adapter for dest if it uses the OAuth flow.
func (r *Registry) OAuthFor(dest string) (OAuthAdapter, error) {
	a, err := r.For(dest)
	if err != nil {
		return nil, err
	}
	oa, ok := a.(OAuthAdapter)
	if !ok {
		return nil, model.E(model.KindConfigInvalid, dest+" is not an OAuth destination")
	}
	return oa, nil
}
