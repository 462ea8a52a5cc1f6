package gcp

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/costinm/gkekube"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CloudPlatformScope is the scope requested for access tokens. The same token
// is used for the GKE API and embedded in the kube config.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Credentials holds an access token for a service account and refreshes it
// on demand.
//
// It implements oauth2.TokenSource, so the GKE client and the kube config
// share the same token. The gRPC client may call Token from its own
// goroutines.
type Credentials struct {
	// ProjectID is read from the key file.
	ProjectID string

	// Email of the service account, if present in the key file. Used for logs.
	Email string

	// source makes the call to the identity provider.
	source oauth2.TokenSource

	mu        sync.Mutex
	token     *oauth2.Token
	refreshes int
}

// NewCredentials wraps a token source. The first ValidToken call will refresh.
func NewCredentials(projectID string, source oauth2.TokenSource) *Credentials {
	return &Credentials{ProjectID: projectID, source: source}
}

// LoadCredentials reads a service account key file. The key is not used
// until the first ValidToken call.
//
// Errors are in the gkekube.ErrCredentials category.
func LoadCredentials(ctx context.Context, path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, gkekube.Wrap(gkekube.ErrCredentials, err, "reading key file")
	}

	// CredentialsFromJSON can also parse user credentials - but a project is
	// required to locate the cluster.
	creds, err := google.CredentialsFromJSON(ctx, data, CloudPlatformScope)
	if err != nil {
		return nil, gkekube.Wrapf(gkekube.ErrCredentials, err, "parsing key file %s", path)
	}
	if creds.ProjectID == "" {
		return nil, gkekube.Errorf(gkekube.ErrCredentials, "key file %s has no project_id", path)
	}

	c := NewCredentials(creds.ProjectID, creds.TokenSource)
	if jwtc, err := google.JWTConfigFromJSON(data); err == nil {
		c.Email = jwtc.Email
	}
	slog.Debug("Loaded credentials", "file", path, "project", c.ProjectID, "email", c.Email)
	return c, nil
}

// ValidToken returns the current access token. If it is missing, expired or
// about to expire, the token is refreshed first - one call to the identity
// provider - and the stored token and expiry are replaced.
//
// Refresh failures are returned in the gkekube.ErrCredentials category and
// are not retried.
func (c *Credentials) ValidToken(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.Valid() {
		return c.token, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, gkekube.Wrap(gkekube.ErrCredentials, err, "refreshing token")
	}

	t, err := c.source.Token()
	c.refreshes++
	if err != nil {
		return nil, gkekube.Wrapf(gkekube.ErrCredentials, err, "refreshing token for %s", c.ProjectID)
	}
	c.token = t
	slog.Debug("Refreshed access token", "project", c.ProjectID, "expiry", t.Expiry)
	return t, nil
}

// Token implements oauth2.TokenSource.
func (c *Credentials) Token() (*oauth2.Token, error) {
	return c.ValidToken(context.Background())
}

// Refreshes returns the number of calls made to the identity provider.
func (c *Credentials) Refreshes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshes
}

// bearerCredentials sends the access token as gRPC per-RPC metadata
// without requiring TLS. The oauth credentials in grpc refuse plaintext
// connections, which emulators use.
type bearerCredentials struct {
	creds *Credentials
}

func (b *bearerCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	t, err := b.creds.ValidToken(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"authorization": t.Type() + " " + t.AccessToken}, nil
}

func (b *bearerCredentials) RequireTransportSecurity() bool {
	return false
}
