// Package credentials holds the durable anchor of a dashboard session: the
// access token that survives process restarts.
package credentials

import (
	"context"
	"crypto/sha256"
	"errors"
	"net/url"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/oauth2"
)

// Sentinel errors
var (
	// ErrNoToken is returned when no token is persisted for the profile.
	ErrNoToken = errors.New("no token stored")

	// ErrInvalidToken is returned when trying to persist an empty token.
	ErrInvalidToken = errors.New("token is empty")
)

// DefaultProfile is used when no server URL is available to derive a profile name.
const DefaultProfile = "default"

// Store is the get/set/clear capability the session core persists tokens through.
type Store interface {
	// Get returns the persisted token or ErrNoToken.
	Get(ctx context.Context) (*oauth2.Token, error)
	// Set replaces the persisted token.
	Set(ctx context.Context, tok *oauth2.Token) error
	// Clear removes the persisted token. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// AccessToken returns the persisted access token string, or "" when none is stored.
func AccessToken(ctx context.Context, s Store) (string, error) {
	tok, err := s.Get(ctx)
	if err != nil {
		if errors.Is(err, ErrNoToken) {
			return "", nil
		}
		return "", err
	}
	return tok.AccessToken, nil
}

// Fingerprint returns a short, non-reversible identifier for a token, safe for logs.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(token))
	fp := base58.Encode(hash[:])
	if len(fp) > 12 {
		fp = fp[:12]
	}
	return fp
}

// ProfileName derives the storage entry name from the backend URL, so tokens
// for different servers never overwrite each other.
func ProfileName(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return DefaultProfile
	}
	return strings.NewReplacer(":", "_", "/", "_").Replace(strings.ToLower(u.Host))
}

func validate(tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return ErrInvalidToken
	}
	return nil
}

func clone(tok *oauth2.Token) *oauth2.Token {
	return &oauth2.Token{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		Expiry:      tok.Expiry,
	}
}
