// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/metis/ssoclient/oidc"
	"github.com/metis/ssoclient/session"
	"github.com/metis/ssoclient/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testTokens struct {
	mu       sync.Mutex
	token    oidc.AccessToken
	renewed  oidc.AccessToken
	renewErr error
	release  chan struct{}
	renews   int
}

func (s *testTokens) AccessToken(context.Context) (oidc.AccessToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

func (s *testTokens) SilentRenew(ctx context.Context) (*session.Session, error) {
	s.mu.Lock()
	s.renews++
	release := s.release
	s.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.renewErr != nil {
		return nil, s.renewErr
	}
	if s.renewed == "" {
		return nil, nil
	}
	s.token = s.renewed
	return &session.Session{AccessToken: s.renewed}, nil
}

func (s *testTokens) Renews() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renews
}

type testNavigator struct {
	mu        sync.Mutex
	navigated []string
}

func (n *testNavigator) Navigate(_ context.Context, u string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.navigated = append(n.navigated, u)
	return nil
}

func (n *testNavigator) Navigations() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.navigated...)
}

type testRecorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *testRecorder) ObserveReplay(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, outcome)
}

func (r *testRecorder) Seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

// testAPI is a backend which only honors the accepted bearer tokens.
type testAPI struct {
	mu       sync.Mutex
	accepted map[string]bool
	requests []*http.Request
	bodies   []string
}

func newTestAPI(t *testing.T, accepted ...string) (*testAPI, *httptest.Server) {
	t.Helper()
	a := &testAPI{accepted: map[string]bool{}}
	for _, at := range accepted {
		a.accepted[at] = true
	}
	srv := httptest.NewServer(a)
	t.Cleanup(srv.Close)
	return a, srv
}

func (a *testAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	a.mu.Lock()
	a.requests = append(a.requests, r.Clone(context.Background()))
	a.bodies = append(a.bodies, string(b))
	a.mu.Unlock()

	if r.URL.Path == PublicDataPath {
		_, _ = w.Write([]byte(`{"message":"public"}`))
		return
	}
	if r.URL.Path == "/api/broken" {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
		return
	}
	at := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	a.mu.Lock()
	ok := a.accepted[at]
	a.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `","method":"` + r.Method + `"}`))
}

func (a *testAPI) Requests() []*http.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*http.Request(nil), a.requests...)
}

func (a *testAPI) Bodies() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.bodies...)
}

func TestNew(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		baseURL string
		tokens  TokenSource
		wantErr error
	}{
		{name: "valid", baseURL: "http://localhost:7161", tokens: &testTokens{}},
		{name: "nil-tokens", baseURL: "http://localhost:7161", wantErr: ErrNilParameter},
		{name: "not-http", baseURL: "ftp://localhost", tokens: &testTokens{}, wantErr: ErrInvalidParameter},
		{name: "unparsable", baseURL: "http://[::1", tokens: &testTokens{}, wantErr: ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			c, err := New(tt.baseURL, tt.tokens)
			if tt.wantErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantErr)
				return
			}
			require.NoError(err)
			assert.NotNil(c.client)
			assert.Equal(DefaultLoginPath, c.loginPath)
		})
	}
}

func TestClient_bearer(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	api, srv := newTestAPI(t, "at-1")
	c, err := New(srv.URL, &testTokens{token: "at-1"}, WithHeaders(http.Header{"X-Client": {"ssoclient"}}))
	require.NoError(err)

	got, err := c.ProtectedData(ctx)
	require.NoError(err)
	assert.JSONEq(`{"path":"/api/metis/protected","method":"GET"}`, string(got))

	reqs := api.Requests()
	require.Len(reqs, 1)
	assert.Equal("Bearer at-1", reqs[0].Header.Get("Authorization"))
	assert.Equal("application/json", reqs[0].Header.Get("Content-Type"))
	assert.Equal("ssoclient", reqs[0].Header.Get("X-Client"))
}

func TestClient_unauthenticated(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	api, srv := newTestAPI(t)
	tokens := &testTokens{}
	c, err := New(srv.URL, tokens)
	require.NoError(err)

	got, err := c.PublicData(ctx)
	require.NoError(err)
	assert.JSONEq(`{"message":"public"}`, string(got))
	reqs := api.Requests()
	require.Len(reqs, 1)
	assert.Empty(reqs[0].Header.Get("Authorization"))
	assert.Zero(tokens.Renews())
}

func TestClient_verbs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	api, srv := newTestAPI(t, "at-1")
	c, err := New(srv.URL+"/ignored/", &testTokens{token: "at-1"})
	require.NoError(t, err)

	type item struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name     string
		call     func() (*Response, error)
		method   string
		wantBody string
	}{
		{name: "get", call: func() (*Response, error) { return c.Get(ctx, "/api/items") }, method: http.MethodGet},
		{name: "post-struct", call: func() (*Response, error) { return c.Post(ctx, "/api/items", item{Name: "a"}) }, method: http.MethodPost, wantBody: `{"name":"a"}`},
		{name: "put-raw", call: func() (*Response, error) { return c.Put(ctx, "/api/items/1", json.RawMessage(`{"name":"b"}`)) }, method: http.MethodPut, wantBody: `{"name":"b"}`},
		{name: "delete", call: func() (*Response, error) { return c.Delete(ctx, "/api/items/1") }, method: http.MethodDelete},
	}
	for i, tt := range tests {
		assert, require := assert.New(t), require.New(t)
		resp, err := tt.call()
		require.NoError(err, tt.name)
		assert.Equal(http.StatusOK, resp.StatusCode, tt.name)
		var got struct{ Path, Method string }
		require.NoError(resp.JSON(&got), tt.name)
		assert.Equal(tt.method, got.Method, tt.name)
		assert.True(strings.HasPrefix(got.Path, "/api/items"), tt.name)
		assert.Equal(tt.wantBody, api.Bodies()[i], tt.name)
	}

	_, err = c.Post(ctx, "/api/items", func() {})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestClient_errorStatus(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	_, srv := newTestAPI(t)
	tokens := &testTokens{}
	c, err := New(srv.URL, tokens)
	require.NoError(err)

	resp, err := c.Get(context.Background(), "/api/broken")
	require.Error(err)
	assert.ErrorIs(err, ErrUnexpectedStatus)
	var se *StatusError
	require.True(errors.As(err, &se))
	assert.Equal(http.StatusInternalServerError, se.StatusCode)
	assert.JSONEq(`{"error":"boom"}`, string(resp.Body))
	assert.Zero(tokens.Renews())
}

func TestClient_renewAndReplay(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	api, srv := newTestAPI(t, "at-2")
	tokens := &testTokens{token: "at-1", renewed: "at-2"}
	nav := &testNavigator{}
	rec := &testRecorder{}
	c, err := New(srv.URL, tokens, WithNavigator(nav), WithRecorder(rec))
	require.NoError(err)

	resp, err := c.Post(ctx, "/api/items", map[string]string{"name": "a"})
	require.NoError(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal(1, tokens.Renews())
	assert.Empty(nav.Navigations())
	assert.Equal([]string{OutcomeReplayed}, rec.Seen())

	reqs := api.Requests()
	require.Len(reqs, 2)
	assert.Equal("Bearer at-1", reqs[0].Header.Get("Authorization"))
	assert.Equal("Bearer at-2", reqs[1].Header.Get("Authorization"))
	// the replay carries the same body
	assert.Equal(api.Bodies()[0], api.Bodies()[1])
}

func TestClient_renewFailure(t *testing.T) {
	t.Parallel()
	loginStarted := fmt.Errorf("%w: %w", session.ErrLoginStarted, session.ErrSilentRenewFailed)
	tests := []struct {
		name      string
		tokens    *testTokens
		navigator bool
		wantNav   []string
		wantErr   error
	}{
		{name: "renew-error", tokens: &testTokens{token: "at-1", renewErr: session.ErrSilentRenewFailed}, navigator: true, wantNav: []string{"/signin"}, wantErr: session.ErrSilentRenewFailed},
		{name: "no-session", tokens: &testTokens{}, navigator: true, wantNav: []string{"/signin"}},
		{name: "no-navigator", tokens: &testTokens{token: "at-1", renewErr: session.ErrSilentRenewFailed}, wantErr: session.ErrSilentRenewFailed},
		{name: "login-already-started", tokens: &testTokens{token: "at-1", renewErr: loginStarted}, navigator: true, wantErr: session.ErrLoginStarted},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			api, srv := newTestAPI(t, "at-2")
			nav := &testNavigator{}
			rec := &testRecorder{}
			opts := []Option{WithRecorder(rec), WithLoginPath("/signin")}
			if tt.navigator {
				opts = append(opts, WithNavigator(nav))
			}
			c, err := New(srv.URL, tt.tokens, opts...)
			require.NoError(err)

			_, err = c.ProtectedData(context.Background())
			require.Error(err)
			assert.ErrorIs(err, ErrUnauthorized)
			if tt.wantErr != nil {
				assert.ErrorIs(err, tt.wantErr)
			}
			assert.Equal(1, tt.tokens.Renews())
			assert.Len(api.Requests(), 1)
			assert.Equal([]string{OutcomeRenewFailed}, rec.Seen())
			assert.Equal(tt.wantNav, nav.Navigations())
		})
	}
}

func TestClient_replayUnauthorized(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	// the renewed token isn't honored either
	api, srv := newTestAPI(t)
	tokens := &testTokens{token: "at-1", renewed: "at-2"}
	nav := &testNavigator{}
	rec := &testRecorder{}
	c, err := New(srv.URL, tokens, WithNavigator(nav), WithRecorder(rec))
	require.NoError(err)

	resp, err := c.Get(context.Background(), ProtectedDataPath)
	require.Error(err)
	assert.ErrorIs(err, ErrUnauthorized)
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(1, tokens.Renews())
	assert.Len(api.Requests(), 2)
	// no second renewal, straight to login
	assert.Equal([]string{DefaultLoginPath}, nav.Navigations())
	assert.Equal([]string{OutcomeUnauthorized}, rec.Seen())
}

func TestClient_coalescedRenewals(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	api, srv := newTestAPI(t, "at-2")
	tokens := &testTokens{token: "at-1", renewed: "at-2", release: make(chan struct{})}
	c, err := New(srv.URL, tokens)
	require.NoError(err)

	const n = 5
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.SharedData(ctx)
			errs <- err
		}()
	}
	// every request is rejected before the renewal completes
	require.Eventually(func() bool { return len(api.Requests()) == n }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	close(tokens.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(err)
	}
	assert.Equal(1, tokens.Renews())
	assert.Len(api.Requests(), 2*n)
}

func TestClient_renewOutlivesFirstCaller(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	api, srv := newTestAPI(t, "at-2")
	tokens := &testTokens{token: "at-1", renewed: "at-2", release: make(chan struct{})}
	nav := &testNavigator{}
	c, err := New(srv.URL, tokens, WithNavigator(nav))
	require.NoError(err)

	// the first caller starts the renewal
	first, cancel := context.WithCancel(context.Background())
	defer cancel()
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.SharedData(first)
		firstErr <- err
	}()
	require.Eventually(func() bool { return tokens.Renews() == 1 }, 5*time.Second, 5*time.Millisecond)

	secondErr := make(chan error, 1)
	go func() {
		_, err := c.SharedData(context.Background())
		secondErr <- err
	}()
	require.Eventually(func() bool { return len(api.Requests()) == 2 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		require.Error(err)
		assert.ErrorIs(err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("canceled caller kept waiting")
	}

	close(tokens.release)
	select {
	case err := <-secondErr:
		assert.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiting caller never finished")
	}
	assert.Equal(1, tokens.Renews())
	assert.Empty(nav.Navigations())
}

type testWindow struct {
	mu        sync.Mutex
	url       *url.URL
	navigated []string
}

func (w *testWindow) URL() *url.URL {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := *w.url
	return &cp
}

func (w *testWindow) ReplaceURL(raw string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ref, err := url.Parse(raw); err == nil {
		w.url = w.url.ResolveReference(ref)
	}
}

func (w *testWindow) Navigate(_ context.Context, raw string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.navigated = append(w.navigated, raw)
	return nil
}

func (w *testWindow) Navigations() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.navigated...)
}

func testManager(t *testing.T, p *oidc.Provider, kv storage.Store, rawURL string) (*session.Manager, *testWindow) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	w := &testWindow{url: u}
	m, err := session.NewManager(p, kv, w,
		session.WithLogger(hclog.New(&hclog.LoggerOptions{Level: hclog.Error})),
		session.WithMonitorSession(false, 0),
		session.WithAutomaticSilentRenew(false),
	)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, w
}

func TestClient_withManager(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	p := oidc.TestProviderFor(t, tp, "https://localhost:5001/signin-oidc", oidc.WithScopes("profile", "offline_access"))
	kv := storage.NewMemory()

	login, lw := testManager(t, p, kv, "https://localhost:5001/login")
	require.NoError(login.Login(ctx))
	require.Len(lw.Navigations(), 1)
	loc, err := tp.Authorize(ctx, lw.Navigations()[0])
	require.NoError(err)
	m, w := testManager(t, p, kv, loc.String())
	flow, err := m.Initialize(ctx)
	require.NoError(err)
	require.Equal(session.FlowCallback, flow)

	// the backend asks the provider whether it honors the token
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !tp.ValidAccessToken(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")) {
			rw.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = rw.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, m, WithNavigator(w))
	require.NoError(err)

	got, err := c.ProtectedData(ctx)
	require.NoError(err)
	assert.JSONEq(`{"ok":true}`, string(got))
	assert.Zero(tp.Calls().Refresh)

	// access_tokens revoked at the provider are renewed with the refresh_token
	before, _ := m.AccessToken(ctx)
	tp.RevokeAccessTokens()
	got, err = c.ProtectedData(ctx)
	require.NoError(err)
	assert.JSONEq(`{"ok":true}`, string(got))
	assert.Equal(1, tp.Calls().Refresh)
	after, _ := m.AccessToken(ctx)
	assert.NotEqual(before, after)
}

func TestClient_withManager_loginOnce(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	p := oidc.TestProviderFor(t, tp, "https://localhost:5001/signin-oidc", oidc.WithScopes("profile", "offline_access"))
	kv := storage.NewMemory()

	login, lw := testManager(t, p, kv, "https://localhost:5001/login")
	require.NoError(login.Login(ctx))
	require.Len(lw.Navigations(), 1)
	loc, err := tp.Authorize(ctx, lw.Navigations()[0])
	require.NoError(err)
	m, w := testManager(t, p, kv, loc.String())
	_, err = m.Initialize(ctx)
	require.NoError(err)
	require.True(m.IsAuthenticated())

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, m, WithNavigator(w))
	require.NoError(err)

	// renewal fails with a session current, so the manager starts the login
	tp.RevokeTokens()
	_, err = c.ProtectedData(ctx)
	require.Error(err)
	assert.ErrorIs(err, ErrUnauthorized)
	assert.ErrorIs(err, session.ErrLoginStarted)
	nav := w.Navigations()
	require.Len(nav, 1)
	assert.True(strings.HasPrefix(nav[0], tp.Addr()+"/authorize?"), nav[0])
}
