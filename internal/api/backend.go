package api

import (
	"context"

	"github.com/electra-analytics/electra/internal/models"
	"golang.org/x/oauth2"
)

// Backend is the Session Backend as seen by the session manager: login and
// logout on the plain client, profile reads through the authenticated one.
type Backend struct {
	Auth *AuthClient
	API  *Client
}

// NewBackend composes auth and api.
func NewBackend(auth *AuthClient, api *Client) *Backend {
	return &Backend{Auth: auth, API: api}
}

func (b *Backend) Login(ctx context.Context, username, password string) (*oauth2.Token, error) {
	return b.Auth.Login(ctx, username, password)
}

func (b *Backend) Logout(ctx context.Context, tok *oauth2.Token) error {
	return b.Auth.Logout(ctx, tok)
}

func (b *Backend) CurrentUser(ctx context.Context) (*models.User, error) {
	return b.API.CurrentUser(ctx)
}
