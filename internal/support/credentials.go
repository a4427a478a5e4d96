package support

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tbourn/go-case-sync/internal/cache"
)

// TokenExchangeSource resolves credential references by calling a token
// exchange endpoint: the long-lived reference goes in, a short-lived scoped
// token comes out. This is the assume-role pattern expressed over HTTP.
type TokenExchangeSource struct {
	// URL is the token exchange endpoint.
	URL string
	// SessionName identifies this service in exchange requests.
	SessionName string
	// HTTP is the underlying client; a zero value uses http.DefaultClient.
	HTTP *http.Client
}

// Resolve implements CredentialSource.
func (s *TokenExchangeSource) Resolve(ctx context.Context, credentialRef string) (Credential, error) {
	if strings.TrimSpace(credentialRef) == "" {
		return Credential{}, ErrNoCredential
	}

	payload, err := json.Marshal(map[string]string{
		"credentialRef": credentialRef,
		"sessionName":   s.SessionName,
	})
	if err != nil {
		return Credential{}, &RemoteError{Op: "assume", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return Credential{}, &RemoteError{Op: "assume", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Credential{}, &RemoteError{Op: "assume", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Credential{}, &RemoteError{Op: "assume", Code: resp.StatusCode, Err: err}
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
		return Credential{}, fmt.Errorf("%w: ref %q rejected", ErrNoCredential, credentialRef)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Credential{}, &RemoteError{Op: "assume", Code: resp.StatusCode, Err: fmt.Errorf("%s", truncateBody(raw))}
	}

	var body struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expiresIn"` // seconds
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return Credential{}, &RemoteError{Op: "assume", Code: resp.StatusCode, Err: err}
	}
	if body.Token == "" {
		return Credential{}, fmt.Errorf("%w: empty token for ref %q", ErrNoCredential, credentialRef)
	}
	return Credential{
		Token:     body.Token,
		ExpiresAt: time.Now().UTC().Add(time.Duration(body.ExpiresIn) * time.Second),
	}, nil
}

// CachedCredentialSource memoizes another source's resolutions in a bounded
// TTL cache so a warm process avoids redundant token exchanges. The cache is
// best effort: a miss, eviction, or expired hit just falls through to the
// wrapped source.
type CachedCredentialSource struct {
	Source CredentialSource
	Cache  *cache.TTL[Credential]

	// Now is the clock used to discard tokens about to expire. Overridable in
	// tests; defaults to time.Now.
	Now func() time.Time
}

// NewCachedCredentialSource wraps source with a cache sized for a single
// warm process. Entries live at most ttl, and tokens within a minute of
// their own expiry are treated as misses.
func NewCachedCredentialSource(source CredentialSource, ttl time.Duration) *CachedCredentialSource {
	return &CachedCredentialSource{
		Source: source,
		Cache:  cache.NewTTL[Credential](ttl, 64),
		Now:    time.Now,
	}
}

// Resolve implements CredentialSource.
func (s *CachedCredentialSource) Resolve(ctx context.Context, credentialRef string) (Credential, error) {
	if cred, ok := s.Cache.Get(credentialRef); ok {
		if cred.ExpiresAt.IsZero() || s.Now().Before(cred.ExpiresAt.Add(-time.Minute)) {
			return cred, nil
		}
	}
	cred, err := s.Source.Resolve(ctx, credentialRef)
	if err != nil {
		return Credential{}, err
	}
	s.Cache.Set(credentialRef, cred)
	return cred, nil
}
