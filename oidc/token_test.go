// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"gopkg.in/square/go-jose.v2/jwt"
)

func TestRedactedTypes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		value interface {
			fmt.Stringer
			json.Marshaler
		}
		want string
	}{
		{name: "access-token", value: AccessToken("super secret"), want: RedactedAccessToken},
		{name: "refresh-token", value: RefreshToken("super secret"), want: RedactedRefreshToken},
		{name: "id-token", value: IDToken("super secret"), want: RedactedIDToken},
		{name: "client-secret", value: ClientSecret("super secret"), want: RedactedClientSecret},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			assert.Equal(tt.want, tt.value.String())
			assert.Equal(tt.want, fmt.Sprintf("%s", tt.value))
			got, err := json.Marshal(tt.value)
			require.NoError(err)
			assert.Equal(fmt.Sprintf("%q", tt.want), string(got))
		})
	}
}

func TestIDToken_Claims(t *testing.T) {
	t.Parallel()
	_, priv := TestGenerateKeys(t)
	raw := TestSignJWT(t, priv, jwt.Claims{Subject: "alice", Issuer: "https://metis.example"}, map[string]interface{}{"name": "Alice"})

	tests := []struct {
		name      string
		tk        IDToken
		claims    interface{}
		wantIsErr error
		wantErr   bool
	}{
		{name: "valid", tk: IDToken(raw), claims: &map[string]interface{}{}},
		{name: "empty", tk: "", claims: &map[string]interface{}{}, wantIsErr: ErrInvalidParameter},
		{name: "nil-claims", tk: IDToken(raw), wantIsErr: ErrNilParameter},
		{name: "not-a-jwt", tk: IDToken("not.a.jwt"), claims: &map[string]interface{}{}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			err := tt.tk.Claims(tt.claims)
			switch {
			case tt.wantIsErr != nil:
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				return
			case tt.wantErr:
				require.Error(err)
				return
			}
			require.NoError(err)
			got := *(tt.claims.(*map[string]interface{}))
			assert.Equal("alice", got["sub"])
			assert.Equal("Alice", got["name"])
		})
	}
}

func TestNewToken(t *testing.T) {
	t.Parallel()
	now := time.Now()
	expiry := now.Add(time.Hour)
	underlying := (&oauth2.Token{
		AccessToken:  "at",
		RefreshToken: "rt",
		TokenType:    "Bearer",
		Expiry:       expiry,
	}).WithExtra(map[string]interface{}{"scope": "openid profile api"})

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tk, err := NewToken("id", underlying, WithNow(func() time.Time { return now }))
		require.NoError(err)
		assert.Equal(IDToken("id"), tk.IDToken())
		assert.Equal(AccessToken("at"), tk.AccessToken())
		assert.Equal(RefreshToken("rt"), tk.RefreshToken())
		assert.Equal("Bearer", tk.TokenType())
		assert.Equal(expiry, tk.Expiry())
		assert.Equal([]string{"openid", "profile", "api"}, tk.Scopes())
		assert.True(tk.Valid())
		assert.False(tk.IsExpired())
		assert.NotNil(tk.StaticTokenSource())
	})
	t.Run("missing-id-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tk, err := NewToken("", underlying)
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidParameter)
		assert.Nil(tk)
	})
	t.Run("nil-underlying", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tk, err := NewToken("id", nil)
		require.NoError(err)
		assert.Empty(tk.AccessToken())
		assert.Empty(tk.RefreshToken())
		assert.Empty(tk.TokenType())
		assert.Nil(tk.Scopes())
		assert.True(tk.Expiry().IsZero())
		assert.True(tk.IsExpired())
		assert.False(tk.Valid())
		assert.Nil(tk.StaticTokenSource())
	})
	t.Run("refreshed-without-id-token", func(t *testing.T) {
		assert := assert.New(t)
		tk := newRefreshedToken("", underlying)
		assert.Empty(tk.IDToken())
		assert.Equal(AccessToken("at"), tk.AccessToken())
	})
}

func TestTk_IsExpired(t *testing.T) {
	t.Parallel()
	now := time.Now()
	tests := []struct {
		name   string
		expiry time.Time
		at     string
		want   bool
		valid  bool
	}{
		{name: "future", expiry: now.Add(time.Minute), at: "at", want: false, valid: true},
		{name: "within-skew", expiry: now.Add(TokenExpirySkew / 2), at: "at", want: true},
		{name: "past", expiry: now.Add(-time.Minute), at: "at", want: true},
		{name: "no-expiry", at: "at", want: false, valid: true},
		{name: "no-access-token", expiry: now.Add(time.Minute), want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			tk, err := NewToken("id", &oauth2.Token{AccessToken: tt.at, Expiry: tt.expiry}, WithNow(func() time.Time { return now }))
			require.NoError(err)
			assert.Equal(tt.want, tk.IsExpired())
			assert.Equal(tt.valid, tk.Valid())
		})
	}
}
