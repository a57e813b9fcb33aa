// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/metis/ssoclient/oidc"
	"github.com/metis/ssoclient/sso"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	tp      *oidc.TestProvider
	cfgPath string
	opened  chan string
}

// freeAddr returns a local address nothing listens on.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	require := require.New(t)
	dir := t.TempDir()
	tp := oidc.StartTestProvider(t)
	caFile := filepath.Join(dir, "ca.pem")
	require.NoError(os.WriteFile(caFile, []byte(tp.CACert()), 0o600))

	// the backend asks the provider whether it honors the token
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tp.ValidAccessToken(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = fmt.Fprintf(w, `{"path":%q,"method":%q}`, r.URL.Path, r.Method)
	}))
	t.Cleanup(api.Close)

	cfg := fmt.Sprintf(`
authority: %s
client_id: %s
redirect_uri: http://%s/signin-oidc
provider_ca_file: %s
signing_algs: [ES256]
monitor_session: false
api_base_url: %s
log_level: error
storage:
  kind: file
  path: %s
`, tp.Addr(), tp.ClientID(), freeAddr(t), caFile, api.URL, filepath.Join(dir, "session.json"))
	cfgPath := filepath.Join(dir, "ssoclient.yaml")
	require.NoError(os.WriteFile(cfgPath, []byte(cfg), 0o600))
	return &testEnv{tp: tp, cfgPath: cfgPath, opened: make(chan string, 8)}
}

func (e *testEnv) app() *app {
	return &app{open: func(_ context.Context, u string) error {
		e.opened <- u
		return nil
	}}
}

// run executes one invocation of the command and returns its stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := execute(context.Background(), e.app(), append([]string{"--config", e.cfgPath}, args...), &stdout, &stderr)
	return stdout.String(), err
}

// browse plays the user's browser for the next opened URL.
func (e *testEnv) browse(t *testing.T) {
	t.Helper()
	select {
	case u := <-e.opened:
		loc, err := e.tp.Authorize(context.Background(), u)
		require.NoError(t, err)
		resp, err := http.Get(loc.String())
		require.NoError(t, err)
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	case <-time.After(10 * time.Second):
		t.Fatal("nothing was opened in the browser")
	}
}

func (e *testEnv) status(t *testing.T) status {
	t.Helper()
	out, err := e.run(t, "status")
	require.NoError(t, err)
	var st status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	return st
}

func TestCommands(t *testing.T) {
	e := newTestEnv(t)

	t.Run("signed-out", func(t *testing.T) {
		assert := assert.New(t)
		st := e.status(t)
		assert.False(st.Authenticated)
		assert.Equal("unauthenticated", st.State)
		assert.Empty(st.Subject)

		_, err := e.run(t, "token")
		assert.ErrorIs(err, errNotSignedIn)
	})

	t.Run("login", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		type result struct {
			out string
			err error
		}
		done := make(chan result, 1)
		go func() {
			out, err := e.run(t, "login", "--timeout", "30s")
			done <- result{out, err}
		}()
		e.browse(t)
		res := <-done
		require.NoError(res.err)
		assert.Contains(res.out, "Signed in as Alice Doe (alice@metis.example)")

		st := e.status(t)
		assert.True(st.Authenticated)
		assert.Equal("alice@metis.example", st.Subject)
		assert.True(st.CanRefresh)
		assert.Contains(st.Scopes, "offline_access")
		require.NotNil(st.ExpiresAt)
		assert.True(st.ExpiresAt.After(time.Now()))

		out, err := e.run(t, "login")
		require.NoError(err)
		assert.Contains(out, "Already signed in as")
	})

	t.Run("token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		out, err := e.run(t, "token")
		require.NoError(err)
		assert.True(e.tp.ValidAccessToken(strings.TrimSpace(out)))

		renewed, err := e.run(t, "token", "--renew")
		require.NoError(err)
		assert.NotEqual(out, renewed)
		assert.True(e.tp.ValidAccessToken(strings.TrimSpace(renewed)))
	})

	t.Run("call", func(t *testing.T) {
		tests := []struct {
			name string
			args []string
			want string
		}{
			{name: "shorthand", args: []string{"call", "protected"}, want: `{"path":"/api/metis/protected","method":"GET"}`},
			{name: "path", args: []string{"call", "api/things"}, want: `{"path":"/api/things","method":"GET"}`},
			{name: "method", args: []string{"call", "-X", "post", "-d", `{"a":1}`, "/api/things"}, want: `{"path":"/api/things","method":"POST"}`},
		}
		for _, tt := range tests {
			tt := tt
			t.Run(tt.name, func(t *testing.T) {
				out, err := e.run(t, tt.args...)
				require.NoError(t, err)
				assert.JSONEq(t, tt.want, out)
			})
		}
	})

	t.Run("call-renews", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		refreshes := e.tp.Calls().Refresh
		e.tp.RevokeAccessTokens()
		out, err := e.run(t, "call", "shared")
		require.NoError(err)
		assert.JSONEq(`{"path":"/api/metis/shared","method":"GET"}`, out)
		assert.Equal(refreshes+1, e.tp.Calls().Refresh)
	})

	t.Run("logout", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		out, err := e.run(t, "logout")
		require.NoError(err)
		assert.Contains(out, "Signed out")
		select {
		case u := <-e.opened:
			assert.True(strings.HasPrefix(u, e.tp.Addr()), u)
		default:
			t.Fatal("the end session page was not opened")
		}
		assert.False(e.status(t).Authenticated)
	})
}

func TestCommands_configErrors(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ssoclient.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("client_id: metis\nstorage:\n  kind: tape\n"), 0o600))

	var stdout, stderr bytes.Buffer
	err := execute(context.Background(), &app{}, []string{"--config", cfgPath, "status"}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(err.Error(), "authority is required")
	assert.Contains(err.Error(), `storage.kind "tape"`)

	err = execute(context.Background(), &app{}, []string{"--config", filepath.Join(dir, "missing.yaml"), "status"}, &stdout, &stderr)
	assert.ErrorIs(err, os.ErrNotExist)

	err = execute(context.Background(), &app{}, []string{"call"}, &stdout, &stderr)
	assert.Error(err)
}

func TestServe(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	e := newTestEnv(t)
	a := e.app()
	cmd := &cobra.Command{}
	cmd.SetErr(io.Discard)
	a.configPath = e.cfgPath
	require.NoError(a.setup(cmd, nil))
	t.Cleanup(func() { _ = a.teardown() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, ln, nil) }()
	base := "http://" + ln.Addr().String()

	scrape := func() string {
		resp, err := http.Get(base + MetricsPath)
		if err != nil {
			return ""
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return string(b)
	}
	require.Eventually(func() bool {
		return strings.Contains(scrape(), `ssoclient_initializations_total{flow="none",outcome="success"} 1`)
	}, 10*time.Second, 20*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+SSOPath, http.Header{"Origin": {sso.DefaultAllowedOrigin}})
	require.NoError(err)
	defer conn.Close()
	require.NoError(conn.WriteJSON(sso.Message{Type: sso.TypeInitiated}))
	require.Eventually(func() bool {
		return strings.Contains(scrape(), `ssoclient_sso_messages_total{direction="inbound",outcome="accepted",type="SSO_INITIATED"} 1`)
	}, 10*time.Second, 20*time.Millisecond)
	assert.Contains(scrape(), "go_goroutines")

	cancel()
	select {
	case err := <-done:
		assert.NoError(err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}
