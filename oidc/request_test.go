// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestNewRequest(t *testing.T) {
	t.Parallel()
	now := time.Now()
	nowFn := func() time.Time { return now }
	verifier, err := NewCodeVerifier()
	require.NoError(t, err)

	tests := []struct {
		name        string
		expireIn    time.Duration
		redirectURL string
		opts        []Option
		wantIsErr   error
		check       func(*assert.Assertions, *Req)
	}{
		{
			name:        "defaults",
			expireIn:    time.Minute,
			redirectURL: "https://localhost:5001/signin-oidc",
			opts:        []Option{WithNow(nowFn)},
			check: func(assert *assert.Assertions, r *Req) {
				assert.True(strings.HasPrefix(r.State(), "st_"))
				assert.True(strings.HasPrefix(r.Nonce(), "n_"))
				assert.Equal(now.Add(time.Minute), r.ExpiresAt())
				assert.Nil(r.Scopes())
				assert.Nil(r.PKCEVerifier())
				assert.Nil(r.Prompts())
				assert.Nil(r.UILocales())
				assert.Nil(r.Audiences())
			},
		},
		{
			name:        "all-options",
			expireIn:    time.Minute,
			redirectURL: "https://localhost:5001/silent-renew",
			opts: []Option{
				WithState("handed-over-state"),
				WithNonce("persisted-nonce"),
				WithPKCE(verifier),
				WithScopes("profile", "metis.api"),
				WithAudiences("metis"),
				WithPrompts(None),
				WithUILocales(language.German, language.English),
			},
			check: func(assert *assert.Assertions, r *Req) {
				assert.Equal("handed-over-state", r.State())
				assert.Equal("persisted-nonce", r.Nonce())
				assert.Equal(verifier.Verifier(), r.PKCEVerifier().Verifier())
				assert.Equal([]string{"openid", "profile", "metis.api"}, r.Scopes())
				assert.Equal([]string{"metis"}, r.Audiences())
				assert.Equal([]Prompt{None}, r.Prompts())
				assert.Equal([]language.Tag{language.German, language.English}, r.UILocales())
				assert.Equal("https://localhost:5001/silent-renew", r.RedirectURL())
			},
		},
		{
			name:      "empty-redirect",
			expireIn:  time.Minute,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:        "zero-expiry",
			redirectURL: "https://localhost:5001/signin-oidc",
			wantIsErr:   ErrInvalidParameter,
		},
		{
			name:        "state-equals-nonce",
			expireIn:    time.Minute,
			redirectURL: "https://localhost:5001/signin-oidc",
			opts:        []Option{WithState("same"), WithNonce("same")},
			wantIsErr:   ErrInvalidParameter,
		},
		{
			name:        "none-with-other-prompts",
			expireIn:    time.Minute,
			redirectURL: "https://localhost:5001/signin-oidc",
			opts:        []Option{WithPrompts(None, Login)},
			wantIsErr:   ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := NewRequest(tt.expireIn, tt.redirectURL, tt.opts...)
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

func TestReq_IsExpired(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	now := time.Now()
	current := now
	r, err := NewRequest(time.Minute, "https://localhost:5001/signin-oidc", WithNow(func() time.Time { return current }))
	require.NoError(err)
	assert.False(r.IsExpired())

	current = now.Add(time.Minute - RequestExpirySkew/2)
	assert.True(r.IsExpired())
}

func TestReq_CopiesAreIndependent(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	r, err := NewRequest(time.Minute, "https://localhost:5001/signin-oidc", WithScopes("profile"), WithAudiences("metis"))
	require.NoError(err)

	scopes := r.Scopes()
	scopes[0] = "changed"
	auds := r.Audiences()
	auds[0] = "changed"
	assert.Equal([]string{"openid", "profile"}, r.Scopes())
	assert.Equal([]string{"metis"}, r.Audiences())
}
