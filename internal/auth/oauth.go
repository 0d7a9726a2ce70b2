package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/sakif/incubator/internal/model"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// GoogleUser is the subset of the OpenID Connect userinfo response we use.
// https://developers.google.com/identity/openid-connect/openid-connect#obtaininguserprofileinformation
type GoogleUser struct {
	Sub           string `json:"sub"` // stable account ID, never reused
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Profile converts the userinfo payload into a provider-neutral profile.
func (u *GoogleUser) Profile() model.OAuthProfile {
	return model.OAuthProfile{
		Subject: u.Sub,
		Email:   u.Email,
		Name:    u.Name,
		Photo:   u.Picture,
	}
}

// GoogleProvider wraps golang.org/x/oauth2 for Google's Authorization Code flow.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. We redirect the browser to Google with our client ID, scopes and a
//     random state value (also stored in a cookie).
//  2. The user consents on Google.
//  3. Google redirects back to the callback URL with a short-lived code and
//     the same state.
//  4. We exchange the code for an access token, server to server, using the
//     client secret. The token never reaches the browser.
//  5. We call the userinfo endpoint with that token.
//
// The provider only produces a profile. Deciding which User it maps to is
// the service's job.
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

// NewGoogleProvider creates a GoogleProvider.
//
// callbackURL must exactly match an "Authorized redirect URI" of the OAuth
// client in the Google Cloud console, e.g.
// "http://localhost:8080/auth/google/callback".
func NewGoogleProvider(clientID, clientSecret, callbackURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
	}
}

// AuthURL returns the Google consent URL for the given state.
//
// STATE PARAMETER:
// The callback must present the same state we put in the cookie before the
// redirect, otherwise an attacker could make the victim's browser complete
// a sign-in into the attacker's account (login CSRF).
func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for the signed-in user's profile.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (model.OAuthProfile, error) {
	if code == "" {
		return model.OAuthProfile{}, errors.New("auth: missing OAuth code")
	}

	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return model.OAuthProfile{}, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	// Client adds "Authorization: Bearer <access token>" to every request.
	client := p.config.Client(ctx, oauthToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return model.OAuthProfile{}, fmt.Errorf("auth: building userinfo request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return model.OAuthProfile{}, fmt.Errorf("auth: calling Google userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.OAuthProfile{}, fmt.Errorf("auth: Google userinfo returned status %d", resp.StatusCode)
	}

	var gu GoogleUser
	if err := json.NewDecoder(resp.Body).Decode(&gu); err != nil {
		return model.OAuthProfile{}, fmt.Errorf("auth: decoding Google userinfo: %w", err)
	}
	if gu.Sub == "" {
		return model.OAuthProfile{}, errors.New("auth: Google returned a profile without a subject")
	}
	// An unverified address must not be used to link onto an existing account.
	if !gu.EmailVerified {
		gu.Email = ""
	}

	return gu.Profile(), nil
}
