package relay

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// TokenSource supplies bearer tokens for the upstream connection. The token
// never leaves the server side of the proxy.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// adcTokenSource mints bearer tokens from Application Default Credentials,
// the same credential chain the gcloud tooling configures. Tokens are cached
// and refreshed by the underlying oauth2 source.
type adcTokenSource struct {
	mu sync.Mutex
	ts oauth2.TokenSource
}

// NewADCTokenSource returns a TokenSource backed by Application Default
// Credentials.
func NewADCTokenSource() TokenSource {
	return &adcTokenSource{}
}

func (s *adcTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ts == nil {
		ts, err := google.DefaultTokenSource(ctx, cloudPlatformScope)
		if err != nil {
			return "", fmt.Errorf("load default credentials: %w", err)
		}
		s.ts = ts
	}

	tok, err := s.ts.Token()
	if err != nil {
		return "", fmt.Errorf("refresh access token: %w", err)
	}
	return tok.AccessToken, nil
}

// staticTokenSource returns a fixed token. Used in tests and when the client
// handshake carries its own bearer token.
type staticTokenSource string

func (s staticTokenSource) Token(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("empty bearer token")
	}
	return string(s), nil
}
