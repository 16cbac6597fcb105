// Package api is the client of the Session Backend: the /auth endpoints the
// session core drives and the dashboard reads served behind them.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/electra-analytics/electra/internal/client"
	"github.com/electra-analytics/electra/internal/credentials"
	"github.com/electra-analytics/electra/internal/models"
	"github.com/electra-analytics/electra/internal/transport"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// AuthClient calls the login, refresh and logout endpoints on a plain HTTP
// client. The refresh credential travels as a cookie in the client's jar.
type AuthClient struct {
	http   *http.Client
	config client.Config
}

var _ transport.Refresher = (*AuthClient)(nil)

// NewAuthClient creates an AuthClient keeping cookies in jar.
func NewAuthClient(config client.Config, jar http.CookieJar) *AuthClient {
	return &AuthClient{
		http:   client.NewHTTPClient(config, jar),
		config: config,
	}
}

// NewAuthClientWithHTTP creates an AuthClient on an existing client, which must
// not use the authenticated transport.
func NewAuthClientWithHTTP(config client.Config, httpClient *http.Client) *AuthClient {
	return &AuthClient{http: httpClient, config: config}
}

// Login exchanges a username and password for an access token.
// Rejected credentials are reported as a ValidationError.
func (c *AuthClient) Login(ctx context.Context, username, password string) (*oauth2.Token, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint("/v1/auth/login"), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportFailure(req, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity:
		return nil, &ValidationError{StatusCode: resp.StatusCode, Message: readDetail(resp.Body)}
	default:
		return nil, newStatusError(resp)
	}

	return decodeToken(resp)
}

// Refresh implements transport.Refresher using the refresh cookie.
func (c *AuthClient) Refresh(ctx context.Context) (*oauth2.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint("/v1/auth/refresh"), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportFailure(req, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError(resp)
	}

	return decodeToken(resp)
}

// Logout tells the backend to revoke the refresh credential. Any response is accepted.
func (c *AuthClient) Logout(ctx context.Context, tok *oauth2.Token) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint("/v1/auth/logout"), http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create logout request: %w", err)
	}
	if tok != nil && tok.AccessToken != "" {
		tok.SetAuthHeader(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportFailure(req, err)
	}
	defer resp.Body.Close()

	log.Debug().Int("status", resp.StatusCode).Msg("logout acknowledged")
	return nil
}

func decodeToken(resp *http.Response) (*oauth2.Token, error) {
	var body models.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return nil, errors.New("token response has no access_token")
	}

	tok := &oauth2.Token{
		AccessToken: body.AccessToken,
		TokenType:   body.TokenType,
	}
	if exp, ok := credentials.Expiry(body.AccessToken); ok {
		tok.Expiry = exp
	}
	return tok, nil
}
