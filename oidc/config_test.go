// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()
	testCA := TestGenerateCA(t, []string{"localhost"})
	const (
		issuer   = "https://localhost:5000"
		clientID = "metis-spa"
		redirect = "https://localhost:5001/signin-oidc"
	)
	tests := []struct {
		name        string
		issuer      string
		clientID    string
		redirectURL string
		opts        []Option
		wantIsErr   error
		check       func(*assert.Assertions, *Config)
	}{
		{
			name:        "defaults",
			issuer:      issuer,
			clientID:    clientID,
			redirectURL: redirect,
			check: func(assert *assert.Assertions, c *Config) {
				assert.Equal([]Alg{RS256}, c.SupportedSigningAlgs)
				assert.Equal(redirect, c.SilentRedirectURL)
				assert.Empty(c.ClientSecret)
				assert.Nil(c.ProviderConfig)
				assert.Equal([]string{"openid"}, c.scopes())
			},
		},
		{
			name:        "all-options",
			issuer:      issuer,
			clientID:    clientID,
			redirectURL: redirect,
			opts: []Option{
				WithClientSecret("shh"),
				WithProviderCA(testCA),
				WithScopes("openid", "profile", "metis.api"),
				WithAudiences("metis"),
				WithSupportedSigningAlgs(ES256, RS256),
				WithSilentRedirectURL("https://localhost:5001/silent-renew.html"),
				WithPostLogoutRedirectURL("https://localhost:5001/"),
				WithProviderConfig(&ProviderConfig{
					AuthURL:  issuer + "/connect/authorize",
					TokenURL: issuer + "/connect/token",
					JWKSURL:  issuer + "/.well-known/openid-configuration/jwks",
				}),
			},
			check: func(assert *assert.Assertions, c *Config) {
				assert.Equal(ClientSecret("shh"), c.ClientSecret)
				assert.Equal(testCA, c.ProviderCA)
				assert.Equal([]string{"openid", "profile", "metis.api"}, c.scopes())
				assert.Equal([]string{"metis"}, c.Audiences)
				assert.Equal([]Alg{ES256, RS256}, c.SupportedSigningAlgs)
				assert.Equal("https://localhost:5001/silent-renew.html", c.SilentRedirectURL)
				assert.Equal("https://localhost:5001/", c.PostLogoutRedirectURL)
				assert.Equal(issuer+"/connect/token", c.ProviderConfig.TokenURL)
			},
		},
		{
			name:        "empty-client-id",
			issuer:      issuer,
			redirectURL: redirect,
			wantIsErr:   ErrInvalidParameter,
		},
		{
			name:      "empty-redirect",
			issuer:    issuer,
			clientID:  clientID,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:        "empty-issuer",
			clientID:    clientID,
			redirectURL: redirect,
			wantIsErr:   ErrInvalidParameter,
		},
		{
			name:        "bad-issuer-scheme",
			issuer:      "ftp://localhost:5000",
			clientID:    clientID,
			redirectURL: redirect,
			wantIsErr:   ErrInvalidIssuer,
		},
		{
			name:        "unsupported-alg",
			issuer:      issuer,
			clientID:    clientID,
			redirectURL: redirect,
			opts:        []Option{WithSupportedSigningAlgs(Alg("HS256"))},
			wantIsErr:   ErrUnsupportedAlg,
		},
		{
			name:        "bad-ca",
			issuer:      issuer,
			clientID:    clientID,
			redirectURL: redirect,
			opts:        []Option{WithProviderCA("not a pem")},
			wantIsErr:   ErrInvalidCACert,
		},
		{
			name:        "incomplete-provider-config",
			issuer:      issuer,
			clientID:    clientID,
			redirectURL: redirect,
			opts:        []Option{WithProviderConfig(&ProviderConfig{AuthURL: issuer + "/connect/authorize"})},
			wantIsErr:   ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := NewConfig(tt.issuer, tt.clientID, tt.redirectURL, tt.opts...)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				assert.Nil(got)
				return
			}
			require.NoError(err)
			tt.check(assert, got)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	var c *Config
	err := c.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNilParameter)
}

func TestConfig_Now(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c, err := NewConfig("https://localhost:5000", "metis-spa", "https://localhost:5001/signin-oidc", WithNow(func() time.Time { return fixed }))
	require.NoError(err)
	assert.Equal(fixed, c.Now())

	c.NowFunc = nil
	assert.WithinDuration(time.Now(), c.Now(), time.Second)
}

func TestConfig_HTTPClient(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, err := NewConfig("https://localhost:5000", "metis-spa", "https://localhost:5001/signin-oidc", WithProviderCA(TestGenerateCA(t, []string{"127.0.0.1"})))
	require.NoError(err)
	client, err := c.HTTPClient()
	require.NoError(err)
	assert.NotNil(client.Transport)

	c.ProviderCA = "not a pem"
	_, err = c.HTTPClient()
	assert.ErrorIs(err, ErrInvalidCACert)
}

func TestParseScopes(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal([]string{"openid", "profile"}, ParseScopes(" openid  profile "))
	assert.Empty(ParseScopes(""))
}
