package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeGoogle serves a token endpoint and a userinfo endpoint.
func fakeGoogle(t *testing.T, userinfo map[string]any, userinfoStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if r.ParseForm() != nil || r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"access-123","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(userinfoStatus)
		json.NewEncoder(w).Encode(userinfo)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestGoogleProvider(srv *httptest.Server) *GoogleProvider {
	p := NewGoogleProvider("client-id", "client-secret", "http://localhost:8080/auth/google/callback")
	p.config.Endpoint = oauth2.Endpoint{
		AuthURL:   srv.URL + "/auth",
		TokenURL:  srv.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	p.userInfoURL = srv.URL + "/userinfo"
	return p
}

func TestGoogleProvider_AuthURL(t *testing.T) {
	p := NewGoogleProvider("client-id", "client-secret", "http://localhost:8080/auth/google/callback")

	u, err := url.Parse(p.AuthURL("state-xyz"))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "accounts.google.com", u.Host)
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "state-xyz", q.Get("state"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
	assert.Equal(t, "http://localhost:8080/auth/google/callback", q.Get("redirect_uri"))
}

func TestGoogleProvider_Exchange(t *testing.T) {
	srv := fakeGoogle(t, map[string]any{
		"sub":            "1098765",
		"email":          "asha@example.com",
		"email_verified": true,
		"name":           "Asha",
		"picture":        "https://lh3.googleusercontent.com/a/photo",
	}, http.StatusOK)
	p := newTestGoogleProvider(srv)

	profile, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "1098765", profile.Subject)
	assert.Equal(t, "asha@example.com", profile.Email)
	assert.Equal(t, "Asha", profile.Name)
	assert.Equal(t, "https://lh3.googleusercontent.com/a/photo", profile.Photo)
}

func TestGoogleProvider_UnverifiedEmailDropped(t *testing.T) {
	srv := fakeGoogle(t, map[string]any{
		"sub":            "1098765",
		"email":          "asha@example.com",
		"email_verified": false,
	}, http.StatusOK)

	profile, err := newTestGoogleProvider(srv).Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Empty(t, profile.Email)
	assert.Equal(t, "1098765", profile.Subject)
}

func TestGoogleProvider_ExchangeFailures(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		userinfo map[string]any
		status   int
	}{
		{"empty code", "", map[string]any{"sub": "1"}, http.StatusOK},
		{"rejected code", "bad-code", map[string]any{"sub": "1"}, http.StatusOK},
		{"userinfo error", "good-code", map[string]any{}, http.StatusInternalServerError},
		{"no subject", "good-code", map[string]any{"email": "a@example.com"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeGoogle(t, tt.userinfo, tt.status)
			_, err := newTestGoogleProvider(srv).Exchange(context.Background(), tt.code)
			assert.Error(t, err)
		})
	}
}
