// Package oauth refreshes provider access tokens ahead of expiry.
package oauth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const quickBooksTokenURL = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"

// Tokens are refreshed this far before their recorded expiry.
const refreshBuffer = 5 * time.Minute

// NeedsRefresh reports whether a stored token should be refreshed at now.
// Without a refresh token a refresh is impossible. A missing access token,
// missing expiry, or an expiry that does not parse forces a refresh.
func NeedsRefresh(accessToken, refreshToken, expiresAt string, now time.Time) bool {
	if refreshToken == "" {
		return false
	}
	if accessToken == "" || expiresAt == "" {
		return true
	}
	expiry, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return true
	}
	return !expiry.Add(-refreshBuffer).After(now)
}

// Token is the outcome of a refresh. RefreshToken always carries a usable
// value: the provider's rotated token when one was issued, the original
// otherwise.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    string
	Scope        string
	TokenType    string
}

// Refresher exchanges refresh tokens at a provider's token endpoint.
type Refresher struct {
	conf *oauth2.Config

	// HTTPClient overrides the transport, nil uses the default.
	HTTPClient *http.Client
}

func NewRefresher(clientID, clientSecret, tokenURL string, authStyle oauth2.AuthStyle) *Refresher {
	return &Refresher{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: authStyle,
			},
		},
	}
}

// NewGoogleRefresher targets Google's token endpoint. Google expects the
// client credentials in the form body.
func NewGoogleRefresher(clientID, clientSecret string) *Refresher {
	return NewRefresher(clientID, clientSecret, google.Endpoint.TokenURL, oauth2.AuthStyleInParams)
}

// NewQuickBooksRefresher targets Intuit's bearer token endpoint. Intuit
// expects the client credentials as HTTP basic auth.
func NewQuickBooksRefresher(clientID, clientSecret string) *Refresher {
	return NewRefresher(clientID, clientSecret, quickBooksTokenURL, oauth2.AuthStyleInHeader)
}

func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	if r.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.HTTPClient)
	}
	source := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	refreshed, err := source.Token()
	if err != nil {
		return Token{}, fmt.Errorf("refresh access token: %w", err)
	}

	token := Token{
		AccessToken:  refreshed.AccessToken,
		RefreshToken: refreshToken,
		TokenType:    refreshed.TokenType,
	}
	if refreshed.RefreshToken != "" {
		token.RefreshToken = refreshed.RefreshToken
	}
	if !refreshed.Expiry.IsZero() {
		token.ExpiresAt = refreshed.Expiry.UTC().Format(time.RFC3339)
	}
	if scope, ok := refreshed.Extra("scope").(string); ok {
		token.Scope = scope
	}
	return token, nil
}
