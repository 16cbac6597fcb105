package models

// TokenResponse is the body returned by POST /auth/login and POST /auth/refresh.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
}
