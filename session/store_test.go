// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"testing"
	"time"

	"github.com/metis/ssoclient/oidc"
	"github.com/metis/ssoclient/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		kv        storage.Store
		authority string
		clientID  string
		wantKey   string
		wantIsErr error
	}{
		{name: "valid", kv: storage.NewMemory(), authority: "https://idp.example", clientID: "spa", wantKey: "oidc.user:https://idp.example:spa"},
		{name: "nil-storage", authority: "https://idp.example", clientID: "spa", wantIsErr: ErrNilParameter},
		{name: "empty-authority", kv: storage.NewMemory(), clientID: "spa", wantIsErr: ErrInvalidParameter},
		{name: "empty-client-id", kv: storage.NewMemory(), authority: "https://idp.example", wantIsErr: ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			s, err := NewStore(tt.kv, tt.authority, tt.clientID)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				return
			}
			require.NoError(err)
			assert.Equal(tt.wantKey, s.UserKey())
		})
	}
}

func testStore(t *testing.T) (*Store, storage.Store) {
	t.Helper()
	kv := storage.NewMemory()
	s, err := NewStore(kv, "https://idp.example", "spa")
	require.NoError(t, err)
	return s, kv
}

func TestStore_User(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	s, kv := testStore(t)

	u, err := s.User(ctx)
	require.NoError(err)
	assert.Nil(u)

	err = s.SetUser(ctx, nil)
	assert.ErrorIs(err, ErrNilParameter)

	want := &Session{
		Profile:      map[string]interface{}{"sub": "alice", "name": "Alice"},
		AccessToken:  "at",
		RefreshToken: "rt",
		IDToken:      "idt",
		TokenType:    "Bearer",
		ExpiresAt:    time.Unix(1900000000, 0),
		Scopes:       []string{"openid", "profile"},
	}
	require.NoError(s.SetUser(ctx, want))

	// the raw tokens are persisted, not their redacted form
	raw, ok, err := kv.Get(ctx, s.UserKey())
	require.NoError(err)
	require.True(ok)
	assert.Contains(raw, `"access_token":"at"`)
	assert.Contains(raw, `"scope":"openid profile"`)

	got, err := s.User(ctx)
	require.NoError(err)
	assert.Equal(want, got)

	require.NoError(s.RemoveUser(ctx))
	got, err = s.User(ctx)
	require.NoError(err)
	assert.Nil(got)
}

func TestStore_requests(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("take", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, _ := testStore(t)
		v, err := oidc.NewCodeVerifier()
		require.NoError(err)
		req, err := oidc.NewRequest(time.Minute, "https://app.example/cb", oidc.WithPKCE(v))
		require.NoError(err)
		require.NoError(s.SetRequest(ctx, req))

		state, verifier, err := s.Transient(ctx)
		require.NoError(err)
		assert.Equal(req.State(), state)
		assert.Equal(v.Verifier(), verifier)

		rec, err := s.takeRequest(ctx, req.State())
		require.NoError(err)
		got, err := rec.request(time.Now)
		require.NoError(err)
		assert.Equal(req.State(), got.State())
		assert.Equal(req.Nonce(), got.Nonce())
		assert.Equal(req.RedirectURL(), got.RedirectURL())
		assert.Equal(v.Challenge(), got.PKCEVerifier().Challenge())

		_, err = s.takeRequest(ctx, req.State())
		assert.ErrorIs(err, ErrNotFound)
		_, err = s.takeRequest(ctx, "")
		assert.ErrorIs(err, ErrInvalidParameter)
		assert.ErrorIs(s.SetRequest(ctx, nil), ErrNilParameter)
	})
	t.Run("expired", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, _ := testStore(t)
		req, err := oidc.NewRequest(time.Minute, "https://app.example/cb")
		require.NoError(err)
		require.NoError(s.SetRequest(ctx, req))

		rec, err := s.takeRequest(ctx, req.State())
		require.NoError(err)
		later := func() time.Time { return time.Now().Add(time.Hour) }
		_, err = rec.request(later)
		assert.ErrorIs(err, oidc.ErrExpiredRequest)
	})
	t.Run("remove-stale", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, kv := testStore(t)
		fresh, err := oidc.NewRequest(time.Hour, "https://app.example/cb")
		require.NoError(err)
		stale, err := oidc.NewRequest(time.Minute, "https://app.example/cb")
		require.NoError(err)
		require.NoError(s.SetRequest(ctx, fresh))
		require.NoError(s.SetRequest(ctx, stale))
		require.NoError(kv.Set(ctx, requestKeyPrefix+"garbage", "{"))

		removed, err := s.RemoveStaleRequests(ctx, time.Now().Add(10*time.Minute))
		require.NoError(err)
		assert.Equal(2, removed)

		keys, err := s.Keys(ctx)
		require.NoError(err)
		assert.Equal([]string{requestKeyPrefix + fresh.State()}, keys)
	})
}

func TestStore_PurgeTransient(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	s, _ := testStore(t)

	require.NoError(s.SetTransient(ctx, "abc", ""))
	state, verifier, err := s.Transient(ctx)
	require.NoError(err)
	assert.Equal("abc", state)
	assert.Empty(verifier)

	require.NoError(s.SetTransient(ctx, "", "verifier"))
	require.NoError(s.PurgeTransient(ctx))
	state, verifier, err = s.Transient(ctx)
	require.NoError(err)
	assert.Empty(state)
	assert.Empty(verifier)

	// purging twice is fine
	require.NoError(s.PurgeTransient(ctx))
}
