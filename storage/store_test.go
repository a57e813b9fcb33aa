// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStores returns every Store implementation available to the test. The
// Redis store is only included when SSO_TEST_REDIS_ADDR names a server.
func testStores(t *testing.T) map[string]Store {
	t.Helper()
	logger := hclog.New(&hclog.LoggerOptions{Level: hclog.Error})
	f, err := NewFile(filepath.Join(t.TempDir(), "state", "session.json"), WithLogger(logger))
	require.NoError(t, err)
	stores := map[string]Store{
		"memory": NewMemory(),
		"file":   f,
	}
	if addr := os.Getenv("SSO_TEST_REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { _ = client.Close() })
		r, err := NewRedis(client, WithKeyPrefix("ssoclient-test:"+t.Name()+":"), WithLogger(logger))
		require.NoError(t, err)
		stores["redis"] = r
	}
	return stores
}

func TestStore_Contract(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, s := range testStores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)

			_, ok, err := s.Get(ctx, "missing")
			require.NoError(err)
			assert.False(ok)

			require.NoError(s.Set(ctx, "oidc.request.st_1", `{"state":"st_1"}`))
			require.NoError(s.Set(ctx, "oidc.request.st_2", `{"state":"st_2"}`))
			require.NoError(s.Set(ctx, "oauth_state", "st_1"))

			got, ok, err := s.Get(ctx, "oauth_state")
			require.NoError(err)
			assert.True(ok)
			assert.Equal("st_1", got)

			require.NoError(s.Set(ctx, "oauth_state", "st_2"))
			got, _, err = s.Get(ctx, "oauth_state")
			require.NoError(err)
			assert.Equal("st_2", got)

			keys, err := s.Keys(ctx, "oidc.request.")
			require.NoError(err)
			sort.Strings(keys)
			assert.Equal([]string{"oidc.request.st_1", "oidc.request.st_2"}, keys)

			require.NoError(s.Remove(ctx, "oidc.request.st_1"))
			require.NoError(s.Remove(ctx, "oidc.request.st_1"))
			_, ok, err = s.Get(ctx, "oidc.request.st_1")
			require.NoError(err)
			assert.False(ok)

			assert.ErrorIs(s.Set(ctx, "", "v"), ErrInvalidParameter)

			for _, k := range []string{"oidc.request.st_2", "oauth_state"} {
				require.NoError(s.Remove(ctx, k))
			}
		})
	}
}

func TestFile_Persistence(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	f, err := NewFile(path)
	require.NoError(err)
	require.NoError(f.Set(ctx, "oidc.user:https://localhost:5000:metis", `{"sub":"alice"}`))

	info, err := os.Stat(path)
	require.NoError(err)
	assert.Equal(os.FileMode(0o600), info.Mode().Perm())
	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(err)
	assert.Equal(os.FileMode(0o700), dirInfo.Mode().Perm())

	reopened, err := NewFile(path)
	require.NoError(err)
	got, ok, err := reopened.Get(ctx, "oidc.user:https://localhost:5000:metis")
	require.NoError(err)
	assert.True(ok)
	assert.Equal(`{"sub":"alice"}`, got)
	assert.Equal(path, reopened.Path())
}

func TestNewFile(t *testing.T) {
	t.Parallel()
	t.Run("empty-path", func(t *testing.T) {
		_, err := NewFile("")
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
	t.Run("corrupt", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
		_, err := NewFile(path)
		require.Error(t, err)
	})
	t.Run("empty-file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.json")
		require.NoError(t, os.WriteFile(path, nil, 0o600))
		f, err := NewFile(path)
		require.NoError(t, err)
		keys, err := f.Keys(context.Background(), "")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestNewRedis(t *testing.T) {
	t.Parallel()
	_, err := NewRedis(nil)
	assert.ErrorIs(t, err, ErrNilParameter)
}

func Test_escapeGlob(t *testing.T) {
	t.Parallel()
	assert.Equal(t, `oidc.user:\*\?\[x\]`, escapeGlob("oidc.user:*?[x]"))
}
